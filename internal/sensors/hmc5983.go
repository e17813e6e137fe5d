// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"encoding/binary"
	"errors"
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

// HMC5983DefaultAddr is the fixed I2C address of the HMC5983.
const HMC5983DefaultAddr = 0x1E

const (
	hmcRegConfigA = 0x00
	hmcRegConfigB = 0x01
	hmcRegMode    = 0x02
	hmcRegDataX   = 0x03
	hmcRegID      = 0x0A

	// temperature compensation, 8-sample averaging, 75 Hz output
	hmcConfigA = 0x80 | 3<<5 | 6<<2
	// gain code 1: ±1.3 Ga, enough for the earth field
	hmcGainCode       = 1
	hmcModeContinuous = 0x00

	hmcOverflow = -4096
)

// LSB per gauss for each gain code; 1 Ga = 100 µT.
var hmcLSBPerGauss = [8]float64{1370, 1090, 820, 660, 440, 390, 330, 230}

// ErrMagOverflow is returned when an axis saturates.
var ErrMagOverflow = errors.New("magnetometer overflow")

// HMC5983 is a three-axis magnetometer on I2C.
type HMC5983 struct {
	dev      *i2c.Dev
	lsbPerUT float64
}

// NewHMC5983 checks the chip id and starts continuous measurement.
func NewHMC5983(bus i2c.Bus, addr uint16) (*HMC5983, error) {
	if addr == 0 {
		addr = HMC5983DefaultAddr
	}
	d := &i2c.Dev{Bus: bus, Addr: addr}

	id := make([]byte, 3)
	if err := d.Tx([]byte{hmcRegID}, id); err != nil {
		return nil, fmt.Errorf("magnetometer id: %w", err)
	}
	if string(id) != "H43" {
		return nil, fmt.Errorf("magnetometer id %q at %#x is not an HMC5983", id, addr)
	}

	for _, w := range [][]byte{
		{hmcRegConfigA, hmcConfigA},
		{hmcRegConfigB, hmcGainCode << 5},
		{hmcRegMode, hmcModeContinuous},
	} {
		if err := d.Tx(w, nil); err != nil {
			return nil, fmt.Errorf("magnetometer register %#x: %w", w[0], err)
		}
	}
	return &HMC5983{dev: d, lsbPerUT: hmcLSBPerGauss[hmcGainCode] / 100}, nil
}

// Sense returns the field in µT.
func (h *HMC5983) Sense() (x, y, z float64, err error) {
	var buf [6]byte
	if err := h.dev.Tx([]byte{hmcRegDataX}, buf[:]); err != nil {
		return 0, 0, 0, fmt.Errorf("magnetometer read: %w", err)
	}
	// register order is X, Z, Y
	rx := int16(binary.BigEndian.Uint16(buf[0:2]))
	rz := int16(binary.BigEndian.Uint16(buf[2:4]))
	ry := int16(binary.BigEndian.Uint16(buf[4:6]))
	if rx == hmcOverflow || ry == hmcOverflow || rz == hmcOverflow {
		return 0, 0, 0, ErrMagOverflow
	}
	return float64(rx) / h.lsbPerUT, float64(ry) / h.lsbPerUT, float64(rz) / h.lsbPerUT, nil
}
