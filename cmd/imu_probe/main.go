// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/competition_recorder/internal/app"
	"github.com/relabs-tech/competition_recorder/internal/config"
	"github.com/relabs-tech/competition_recorder/internal/imu"
	"github.com/relabs-tech/competition_recorder/internal/sensors"
)

// imu_probe prints on-device motion readings (needs root for SPI access).
// Without IMU_SPI_DEVICE it prints the mock source.
func main() {
	configPath := flag.String("config", "recorder_config.txt", "path to the KEY=VALUE config file")
	interval := flag.Duration("interval", 200*time.Millisecond, "print interval")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	var src imu.MotionSource
	if cfg.IMUSPIDevice == "" {
		logger.Warn("IMU_SPI_DEVICE not set, using mock motion source")
		src = sensors.NewMockSource()
	} else {
		src, err = sensors.NewIMUSource(logger, sensors.Options{
			IMUSPIDevice: cfg.IMUSPIDevice,
			IMUCSPin:     cfg.IMUCSPin,
			AccelRange:   cfg.IMUAccelRange,
			GyroRange:    cfg.IMUGyroRange,
			BMPSPIDevice: cfg.BMPSPIDevice,
			MagI2CBus:    cfg.MagI2CBus,
			MagI2CAddr:   cfg.MagI2CAddr,
		})
		if err != nil {
			logger.Error("IMU init failed", slog.Any("error", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunMotionConsole(ctx, src, *interval, os.Stdout); err != nil {
		logger.Error("motion read error", slog.Any("error", err))
		os.Exit(1)
	}
}
