// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/competition_recorder/internal/config"
	"github.com/relabs-tech/competition_recorder/internal/imu"
)

// device_sim plays a paired sensor device: it publishes synthetic samples
// on the slot topic the recorder subscribes to.
func main() {
	configPath := flag.String("config", "recorder_config.txt", "path to the KEY=VALUE config file")
	slot := flag.Int("slot", 0, "device slot (0-4)")
	interval := flag.Duration("interval", 50*time.Millisecond, "publish interval")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.MQTTBroker == "" || *slot < 0 || *slot >= imu.MaxDevices {
		logger.Error("MQTT_BROKER and a slot 0-4 are required")
		os.Exit(1)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(fmt.Sprintf("%s-sim-%d", cfg.MQTTClientID, *slot))
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Error("MQTT connect error", slog.Any("error", token.Error()))
		os.Exit(1)
	}
	defer client.Disconnect(250)

	topic := fmt.Sprintf("%s/%d", cfg.DeviceTopicPrefix, *slot)
	logger.Info("publishing simulated device samples", slog.String("topic", topic))

	start := time.Now()
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for t := range ticker.C {
		el := t.Sub(start).Seconds()
		s := imu.DeviceSample{
			AccX:  0.3 * math.Sin(el*4),
			AccY:  0.2 * math.Cos(el*3),
			AccZ:  1,
			GyroX: 40 * math.Sin(el*2),
			GyroY: 10 * math.Cos(el),
			GyroZ: 5,
		}
		payload, err := json.Marshal(s)
		if err != nil {
			logger.Error("json marshal error", slog.Any("error", err))
			continue
		}
		if token := client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
			logger.Warn("MQTT publish error", slog.Any("error", token.Error()))
		}
	}
}
