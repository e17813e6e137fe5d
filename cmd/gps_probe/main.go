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

	"github.com/relabs-tech/competition_recorder/internal/app"
	"github.com/relabs-tech/competition_recorder/internal/config"
	"github.com/relabs-tech/competition_recorder/internal/gps"
)

// gps_probe prints GPS fixes and the distance to the configured zones, to
// check the receiver and the geofence before a competition.
func main() {
	configPath := flag.String("config", "recorder_config.txt", "path to the KEY=VALUE config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.GPSSerialPort == "" {
		logger.Error("GPS_SERIAL_PORT is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port, err := gps.OpenSerial(cfg.GPSSerialPort, cfg.GPSBaudRate)
	if err != nil {
		logger.Error("GPS serial open error", slog.Any("error", err))
		os.Exit(1)
	}
	context.AfterFunc(ctx, func() { port.Close() })
	logger.Info("GPS serial port opened", slog.String("port", cfg.GPSSerialPort), slog.Int("baud", cfg.GPSBaudRate))

	var start, end *gps.Zone
	if cfg.StartLat != 0 || cfg.StartLon != 0 {
		start = &gps.Zone{Center: gps.Coordinate{Lat: cfg.StartLat, Lon: cfg.StartLon}, RadiusMeters: cfg.StartRadiusM}
	}
	if cfg.EndLat != 0 || cfg.EndLon != 0 {
		end = &gps.Zone{Center: gps.Coordinate{Lat: cfg.EndLat, Lon: cfg.EndLon}, RadiusMeters: cfg.EndRadiusM}
	}

	if err := app.RunGPSProbe(ctx, logger, port, start, end, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Error("GPS read error", slog.Any("error", err))
		os.Exit(1)
	}
}
