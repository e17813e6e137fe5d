package sensors

import (
	"errors"
	"math"
	"testing"

	"periph.io/x/conn/v3/i2c/i2ctest"
)

func hmcInitOps() []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: HMC5983DefaultAddr, W: []byte{hmcRegID}, R: []byte("H43")},
		{Addr: HMC5983DefaultAddr, W: []byte{hmcRegConfigA, hmcConfigA}},
		{Addr: HMC5983DefaultAddr, W: []byte{hmcRegConfigB, 0x20}},
		{Addr: HMC5983DefaultAddr, W: []byte{hmcRegMode, 0x00}},
	}
}

func TestHMC5983Sense(t *testing.T) {
	ops := append(hmcInitOps(),
		// X=1090, Z=-545, Y=218 at 1090 LSB/Ga
		i2ctest.IO{Addr: HMC5983DefaultAddr, W: []byte{hmcRegDataX}, R: []byte{0x04, 0x42, 0xFD, 0xDF, 0x00, 0xDA}},
	)
	bus := &i2ctest.Playback{Ops: ops, DontPanic: true}

	mag, err := NewHMC5983(bus, 0)
	if err != nil {
		t.Fatalf("NewHMC5983: %v", err)
	}
	x, y, z, err := mag.Sense()
	if err != nil {
		t.Fatalf("Sense: %v", err)
	}
	for _, c := range []struct {
		name      string
		got, want float64
	}{{"x", x, 100}, {"y", y, 20}, {"z", z, -50}} {
		if math.Abs(c.got-c.want) > 1e-9 {
			t.Errorf("%s = %v µT, want %v", c.name, c.got, c.want)
		}
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("unconsumed bus ops: %v", err)
	}
}

func TestHMC5983Overflow(t *testing.T) {
	ops := append(hmcInitOps(),
		i2ctest.IO{Addr: HMC5983DefaultAddr, W: []byte{hmcRegDataX}, R: []byte{0xF0, 0x00, 0x00, 0x00, 0x00, 0x00}},
	)
	mag, err := NewHMC5983(&i2ctest.Playback{Ops: ops, DontPanic: true}, HMC5983DefaultAddr)
	if err != nil {
		t.Fatalf("NewHMC5983: %v", err)
	}
	if _, _, _, err := mag.Sense(); !errors.Is(err, ErrMagOverflow) {
		t.Fatalf("Sense err = %v, want ErrMagOverflow", err)
	}
}

func TestHMC5983WrongID(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops:       []i2ctest.IO{{Addr: HMC5983DefaultAddr, W: []byte{hmcRegID}, R: []byte("XYZ")}},
		DontPanic: true,
	}
	if _, err := NewHMC5983(bus, 0); err == nil {
		t.Fatal("expected an error for a foreign chip id")
	}
}
