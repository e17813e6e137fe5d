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
)

func main() {
	configPath := flag.String("config", "recorder_config.txt", "path to the KEY=VALUE config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.MQTTBroker == "" {
		logger.Error("MQTT_BROKER is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsole(ctx, cfg, logger, os.Stdout); err != nil {
		logger.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}
