// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/relabs-tech/competition_recorder/internal/imu"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"
)

// Options selects the on-device sensors.
type Options struct {
	IMUSPIDevice string
	IMUCSPin     string
	AccelRange   byte   // 0..3
	GyroRange    byte   // 0..3
	BMPSPIDevice string // empty: no barometer, altitude reads as imu.NoAltitude
	MagI2CBus    string // empty: no magnetometer, mag axes read as zero
	MagI2CAddr   uint16
}

type imuSource struct {
	logger *slog.Logger
	imu    *mpu9250.MPU9250
	bmp    *bmxx80.Dev
	mag    *HMC5983

	accelLSBPerG  float64
	gyroLSBPerDeg float64
}

// NewIMUSource initializes the MPU9250 over SPI (and the BMP280 if configured)
// and returns a motion source for the sampling loop.
func NewIMUSource(logger *slog.Logger, opts Options) (imu.MotionSource, error) {
	logger = logger.With("component", "sensors")

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	cs := gpioreg.ByName(opts.IMUCSPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU: CS pin %q not found", opts.IMUCSPin)
	}

	tr, err := mpu9250.NewSpiTransport(opts.IMUSPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU: SPI transport (%s): %w", opts.IMUSPIDevice, err)
	}

	dev, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("IMU: device creation: %w", err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("IMU: initialization: %w", err)
	}

	if err := dev.SetAccelRange(opts.AccelRange); err != nil {
		return nil, fmt.Errorf("IMU: set accel range: %w", err)
	}
	if err := dev.SetGyroRange(opts.GyroRange); err != nil {
		return nil, fmt.Errorf("IMU: set gyro range: %w", err)
	}
	logger.Info("IMU ranges configured",
		slog.Int("accel_g", []int{2, 4, 8, 16}[opts.AccelRange]),
		slog.Int("gyro_dps", []int{250, 500, 1000, 2000}[opts.GyroRange]))

	if err := dev.Calibrate(); err != nil {
		logger.Warn("IMU calibration failed", slog.Any("error", err))
	}

	src := &imuSource{
		logger:        logger,
		imu:           dev,
		accelLSBPerG:  accelLSBPerG(opts.AccelRange),
		gyroLSBPerDeg: gyroLSBPerDeg(opts.GyroRange),
	}

	if opts.BMPSPIDevice != "" {
		src.bmp = openBMP(logger, opts.BMPSPIDevice)
	}
	if opts.MagI2CBus != "" {
		src.mag = openMag(logger, opts.MagI2CBus, opts.MagI2CAddr)
	}
	return src, nil
}

func openBMP(logger *slog.Logger, name string) *bmxx80.Dev {
	bus, err := spireg.Open(name)
	if err != nil {
		logger.Warn("BMP SPI open failed, altitude disabled", slog.Any("error", err))
		return nil
	}
	dev, err := bmxx80.NewSPI(bus, &bmxx80.DefaultOpts)
	if err != nil {
		logger.Warn("BMP init failed, altitude disabled", slog.Any("error", err))
		return nil
	}
	return dev
}

func openMag(logger *slog.Logger, name string, addr uint16) *HMC5983 {
	bus, err := i2creg.Open(name)
	if err != nil {
		logger.Warn("magnetometer I2C open failed, mag axes disabled", slog.Any("error", err))
		return nil
	}
	mag, err := NewHMC5983(bus, addr)
	if err != nil {
		bus.Close()
		logger.Warn("magnetometer init failed, mag axes disabled", slog.Any("error", err))
		return nil
	}
	logger.Info("magnetometer ready", slog.String("bus", name))
	return mag
}

// ReadMotion reads accelerometer and gyroscope, plus the magnetometer and
// altitude when those sensors are present. Without a magnetometer the mag
// axes read as zero.
func (s *imuSource) ReadMotion() (imu.Motion, error) {
	var raw [6]int16
	reads := []func() (int16, error){
		s.imu.GetAccelerationX, s.imu.GetAccelerationY, s.imu.GetAccelerationZ,
		s.imu.GetRotationX, s.imu.GetRotationY, s.imu.GetRotationZ,
	}
	for i, read := range reads {
		v, err := read()
		if err != nil {
			return imu.Motion{}, fmt.Errorf("IMU axis %d: %w", i, err)
		}
		raw[i] = v
	}

	m := imu.Motion{
		AccX:     float64(raw[0]) / s.accelLSBPerG,
		AccY:     float64(raw[1]) / s.accelLSBPerG,
		AccZ:     float64(raw[2]) / s.accelLSBPerG,
		GyroX:    float64(raw[3]) / s.gyroLSBPerDeg,
		GyroY:    float64(raw[4]) / s.gyroLSBPerDeg,
		GyroZ:    float64(raw[5]) / s.gyroLSBPerDeg,
		Altitude: imu.NoAltitude,
	}

	if s.mag != nil {
		if x, y, z, err := s.mag.Sense(); err != nil {
			s.logger.Debug("magnetometer sense failed", slog.Any("error", err))
		} else {
			m.MagX, m.MagY, m.MagZ = x, y, z
		}
	}

	if s.bmp != nil {
		var e physic.Env
		if err := s.bmp.Sense(&e); err != nil {
			s.logger.Debug("BMP sense failed", slog.Any("error", err))
		} else {
			m.Altitude = PressureAltitude(float64(e.Pressure) / float64(physic.Pascal))
		}
	}
	return m, nil
}

func accelLSBPerG(rng byte) float64 { return 16384.0 / float64(int(1)<<rng) }

func gyroLSBPerDeg(rng byte) float64 { return 131.0 / float64(int(1)<<rng) }

// PressureAltitude converts static pressure in Pa to altitude in meters using
// the international barometric formula against standard sea-level pressure.
func PressureAltitude(pressurePa float64) float64 {
	if pressurePa <= 0 {
		return imu.NoAltitude
	}
	return 44330.0 * (1 - math.Pow(pressurePa/101325.0, 1/5.255))
}
