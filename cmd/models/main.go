// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/competition_recorder/internal/config"
	"github.com/relabs-tech/competition_recorder/internal/model"
)

// models fetches the catalog and installs or updates the selected models
// without starting the recorder.
func main() {
	configPath := flag.String("config", "recorder_config.txt", "path to the KEY=VALUE config file")
	list := flag.Bool("list", false, "only list installed models")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager, err := model.NewManager(logger, cfg.ModelsDir, model.WithWorkers(cfg.InstallWorkers))
	if err != nil {
		logger.Error("model manager", slog.Any("error", err))
		os.Exit(1)
	}
	if *list {
		printRecords(manager)
		return
	}

	if cfg.CatalogURL == "" {
		logger.Error("CATALOG_URL is required")
		os.Exit(1)
	}
	descs, err := model.NewCatalog(cfg.CatalogURL, cfg.CatalogToken, nil).Fetch(ctx)
	if err != nil {
		logger.Error("catalog fetch failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := manager.SaveCatalog(descs); err != nil {
		logger.Warn("catalog cache write failed", slog.Any("error", err))
	}

	selected, missing := model.Select(descs, cfg.SelectedModels)
	for _, id := range missing {
		logger.Warn("selected model not in catalog", slog.String("model", id))
	}
	report := manager.Update(ctx, selected)
	printRecords(manager)

	if err := report.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "%d of %d models failed: %v\n", len(report.Failed), len(selected), err)
		os.Exit(1)
	}
}

func printRecords(manager *model.Manager) {
	for _, r := range manager.Records() {
		fmt.Printf("%-24s %-12s %s\n", r.ModelID, r.InstalledVersion, r.InstalledChecksum)
	}
}
