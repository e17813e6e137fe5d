// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package app wires the recorder packages into runnable processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/competition_recorder/internal/config"
	"github.com/relabs-tech/competition_recorder/internal/device"
	"github.com/relabs-tech/competition_recorder/internal/fusion"
	"github.com/relabs-tech/competition_recorder/internal/gps"
	"github.com/relabs-tech/competition_recorder/internal/imu"
	"github.com/relabs-tech/competition_recorder/internal/intake"
	"github.com/relabs-tech/competition_recorder/internal/model"
	"github.com/relabs-tech/competition_recorder/internal/results"
	"github.com/relabs-tech/competition_recorder/internal/scheduler"
	"github.com/relabs-tech/competition_recorder/internal/sensors"
	"github.com/relabs-tech/competition_recorder/internal/session"
	"github.com/relabs-tech/competition_recorder/internal/telemetry"
)

const (
	staticDir       = "web"
	shutdownTimeout = 5 * time.Second
)

// RunRecorder runs the recorder until ctx is cancelled. A recording still in
// progress at that point is stopped and saved.
func RunRecorder(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting competition recorder")

	store, err := results.Open(cfg.ResultsDB)
	if err != nil {
		return err
	}
	defer store.Close()

	manager, err := model.NewManager(logger, cfg.ModelsDir, model.WithWorkers(cfg.InstallWorkers))
	if err != nil {
		return fmt.Errorf("model manager: %w", err)
	}
	runtimes := prepareModels(ctx, logger, cfg, manager)

	// --- MQTT: paired devices and status telemetry ---
	var client mqtt.Client
	if cfg.MQTTBroker != "" {
		opts := mqtt.NewClientOptions().
			AddBroker(cfg.MQTTBroker).
			SetClientID(cfg.MQTTClientID).
			SetAutoReconnect(true).
			SetConnectRetry(true)
		client = mqtt.NewClient(opts)
		// with connect retry the token only completes once connected
		if token := client.Connect(); token.WaitTimeout(5*time.Second) && token.Error() != nil {
			return fmt.Errorf("MQTT connect: %w", token.Error())
		}
		defer client.Disconnect(250)
		logger.Info("MQTT client started", slog.String("broker", cfg.MQTTBroker))
	} else {
		logger.Warn("MQTT_BROKER not set, paired devices and telemetry disabled")
	}

	sched := scheduler.New(logger)
	builder := fusion.NewRingBuilder(sched.Submit)

	registry := device.NewRegistry(logger, device.RetryPolicy{
		Interval:    time.Duration(cfg.DeviceRetryIntervalMS) * time.Millisecond,
		MaxAttempts: cfg.DeviceRetryMaxAttempts,
	})
	if client != nil {
		for _, slot := range cfg.DeviceSlots {
			d := device.NewMQTTDevice(logger, client, cfg.DeviceTopicPrefix, slot, builder)
			if err := registry.Register(slot, d); err != nil {
				return err
			}
		}
	}

	source := motionSource(logger, cfg)
	sampler := intake.New(logger, source, builder, intake.Options{
		Interval: time.Duration(cfg.SampleIntervalMS) * time.Millisecond,
		Audio:    cfg.AudioEnabled,
	})

	ctrl := session.NewController(logger, session.Deps{
		Permissions: session.StaticPermissions{Location: cfg.LocationAuthorized, Mic: cfg.MicrophoneAuthorized},
		Sampler:     sampler,
		Devices:     registry,
		Scheduler:   sched,
		Results:     store,
	})

	web := NewWebServer(logger, ctrl, manager, store, staticDir)
	ctrl.Observe(web.Broadcast)
	var publisher *telemetry.Publisher
	if client != nil {
		publisher = telemetry.NewPublisher(logger, client, cfg.TopicSessionStatus)
		ctrl.Observe(publisher.Update)
	}

	if err := ctrl.SelectModels(runtimes); err != nil {
		return err
	}
	if start, end, ok := zonesFromConfig(cfg); ok {
		if err := ctrl.Arm(ctx, start, end); err != nil {
			return err
		}
	}

	// The scheduler outlives the request context so the final stop can
	// still collect its totals.
	schedCtx, cancelSched := context.WithCancel(context.Background())
	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(schedCtx) }()
	defer func() {
		cancelSched()
		<-schedDone
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return web.Serve(gctx, fmt.Sprintf(":%d", cfg.WebServerPort))
	})
	if publisher != nil {
		g.Go(func() error { return publisher.Run(gctx) })
	}
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case d := <-sampler.Elapsed():
				ctrl.OnElapsed(gctx, d)
			}
		}
	})
	if cfg.GPSSerialPort != "" {
		g.Go(func() error {
			runGPS(gctx, logger, cfg, sampler, ctrl)
			return nil
		})
	} else {
		logger.Warn("GPS_SERIAL_PORT not set, geofence stop disabled")
	}

	err = g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if stopErr := ctrl.StopWithReason(stopCtx, session.StopShutdown); stopErr != nil {
		logger.Error("final stop failed", slog.Any("error", stopErr))
	}
	if in := sampler.Stats(); in.Ticks > 0 {
		logger.Info("sampling totals",
			slog.Uint64("ticks", in.Ticks),
			slog.Uint64("overruns", in.Overruns),
			slog.Uint64("read_failures", in.ReadFailures))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// prepareModels fetches the catalog (or falls back to the cached one),
// installs the selected models and returns their runtimes.
func prepareModels(ctx context.Context, logger *slog.Logger, cfg *config.Config, manager *model.Manager) []*model.Runtime {
	descs, err := fetchCatalog(ctx, logger, cfg, manager)
	if err != nil {
		logger.Error("no model catalog, recording without models", slog.Any("error", err))
		return nil
	}

	selected, missing := model.Select(descs, cfg.SelectedModels)
	for _, id := range missing {
		logger.Warn("selected model not in catalog", slog.String("model", id))
	}

	report := manager.Update(ctx, selected)
	logger.Info("models updated",
		slog.Int("installed", len(report.Installed)),
		slog.Int("failed", len(report.Failed)))

	runtimes := make([]*model.Runtime, 0, len(selected))
	for _, d := range selected {
		rt := manager.Runtime(d)
		if !rt.Ready() {
			logger.Warn("model not loaded", slog.String("model", d.ID), slog.Any("error", rt.LoadErr()))
		}
		runtimes = append(runtimes, rt)
	}
	return runtimes
}

func fetchCatalog(ctx context.Context, logger *slog.Logger, cfg *config.Config, manager *model.Manager) ([]model.Descriptor, error) {
	if cfg.CatalogURL == "" {
		return manager.CachedCatalog()
	}
	descs, err := model.NewCatalog(cfg.CatalogURL, cfg.CatalogToken, nil).Fetch(ctx)
	if err != nil {
		logger.Warn("catalog fetch failed, using cached catalog", slog.Any("error", err))
		return manager.CachedCatalog()
	}
	if err := manager.SaveCatalog(descs); err != nil {
		logger.Warn("catalog cache write failed", slog.Any("error", err))
	}
	return descs, nil
}

func motionSource(logger *slog.Logger, cfg *config.Config) imu.MotionSource {
	if cfg.IMUSPIDevice == "" {
		logger.Warn("IMU_SPI_DEVICE not set, using mock motion source")
		return sensors.NewMockSource()
	}
	src, err := sensors.NewIMUSource(logger, sensors.Options{
		IMUSPIDevice: cfg.IMUSPIDevice,
		IMUCSPin:     cfg.IMUCSPin,
		AccelRange:   cfg.IMUAccelRange,
		GyroRange:    cfg.IMUGyroRange,
		BMPSPIDevice: cfg.BMPSPIDevice,
		MagI2CBus:    cfg.MagI2CBus,
		MagI2CAddr:   cfg.MagI2CAddr,
	})
	if err != nil {
		// phone samples read as missing; device-only models keep working
		logger.Error("IMU init failed, phone samples unavailable", slog.Any("error", err))
		return nil
	}
	return src
}

func zonesFromConfig(cfg *config.Config) (start, end gps.Zone, ok bool) {
	if cfg.StartLat == 0 && cfg.StartLon == 0 && cfg.EndLat == 0 && cfg.EndLon == 0 {
		return start, end, false
	}
	start = gps.Zone{Center: gps.Coordinate{Lat: cfg.StartLat, Lon: cfg.StartLon}, RadiusMeters: cfg.StartRadiusM}
	end = gps.Zone{Center: gps.Coordinate{Lat: cfg.EndLat, Lon: cfg.EndLon}, RadiusMeters: cfg.EndRadiusM}
	return start, end, true
}

// runGPS feeds fixes to the sampler and the geofence until ctx is
// cancelled, reopening the port after read errors.
func runGPS(ctx context.Context, logger *slog.Logger, cfg *config.Config, sampler *intake.Intake, ctrl *session.Controller) {
	logger = logger.With("component", "gps", slog.String("port", cfg.GPSSerialPort))
	reader := gps.NewReader(logger)
	onFix := func(f gps.Fix) {
		sampler.SetFix(f)
		ctrl.OnLocation(ctx, f.Position)
	}

	for ctx.Err() == nil {
		port, err := gps.OpenSerial(cfg.GPSSerialPort, cfg.GPSBaudRate)
		if err != nil {
			logger.Error("GPS serial open error", slog.Any("error", err))
		} else {
			logger.Info("GPS serial port opened", slog.Int("baud", cfg.GPSBaudRate))
			// closing the port unblocks a pending read on shutdown
			stop := context.AfterFunc(ctx, func() { port.Close() })
			if err := reader.Run(ctx, port, onFix); err != nil && ctx.Err() == nil {
				logger.Warn("GPS read error", slog.Any("error", err))
			}
			if stop() {
				port.Close()
			}
		}

		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
	}
}
