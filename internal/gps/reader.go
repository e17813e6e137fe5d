// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
	"github.com/mdobak/go-xerrors"
)

// OpenSerial opens the GPS serial port with the usual 8N1 NMEA settings.
func OpenSerial(portName string, baudRate int) (io.ReadWriteCloser, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	})
	if err != nil {
		return nil, xerrors.New(err)
	}
	return port, nil
}

// Reader turns an NMEA sentence stream into fixes.
// RMC sentences emit a fix; GGA sentences only refresh altitude and satellites.
type Reader struct {
	logger  *slog.Logger
	current Fix
	now     func() time.Time
}

// NewReader creates a Reader.
func NewReader(logger *slog.Logger) *Reader {
	return &Reader{logger: logger.With("component", "gps"), now: time.Now}
}

// Run reads r line by line until EOF, read error or ctx cancellation and calls
// onFix for every valid RMC fix.
func (g *Reader) Run(ctx context.Context, r io.Reader, onFix func(Fix)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if fix, ok := g.Feed(scanner.Text()); ok {
			onFix(fix)
		}
	}
	if err := scanner.Err(); err != nil {
		return xerrors.New(err)
	}
	return nil
}

// Feed parses one sentence. It returns a fix when the sentence completes a valid one.
func (g *Reader) Feed(line string) (Fix, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Fix{}, false
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		// noisy GPS or partial sentences
		g.logger.Debug("nmea parse error", slog.String("line", line), slog.Any("error", err))
		return Fix{}, false
	}

	switch sentence.DataType() {
	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		if m.FixQuality != nmea.Invalid {
			g.current.AltitudeM = m.Altitude
			g.current.HasAlt = true
			g.current.Satellites = m.NumSatellites
		}
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		g.current.Time = g.now()
		g.current.Position = Coordinate{Lat: m.Latitude, Lon: m.Longitude}
		g.current.SpeedMps = m.Speed * knotsToMps
		g.current.CourseDeg = m.Course
		g.current.Valid = m.Validity == nmea.ValidRMC
		if g.current.Valid {
			return g.current, true
		}
	}
	return Fix{}, false
}
