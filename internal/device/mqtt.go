// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package device

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/competition_recorder/internal/fusion"
	"github.com/relabs-tech/competition_recorder/internal/imu"
)

const tokenTimeout = 5 * time.Second

// Client is the part of mqtt.Client a device needs.
type Client interface {
	IsConnected() bool
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// MQTTDevice is a paired device that publishes JSON samples on
// <prefix>/<slot>.
type MQTTDevice struct {
	client Client
	slot   int
	topic  string
	sink   fusion.DeviceSink
	logger *slog.Logger

	received atomic.Uint64
	rejected atomic.Uint64
}

// NewMQTTDevice creates the device of slot. Decoded samples go to sink.
func NewMQTTDevice(logger *slog.Logger, client Client, prefix string, slot int, sink fusion.DeviceSink) *MQTTDevice {
	topic := fmt.Sprintf("%s/%d", prefix, slot)
	return &MQTTDevice{
		client: client,
		slot:   slot,
		topic:  topic,
		sink:   sink,
		logger: logger.With("component", "device", slog.Int("slot", slot), slog.String("topic", topic)),
	}
}

// Topic is the topic the device publishes on.
func (d *MQTTDevice) Topic() string { return d.topic }

// Connect reports whether the broker link is up.
func (d *MQTTDevice) Connect() bool {
	return d.client.IsConnected()
}

// StartCollection subscribes to the device topic.
func (d *MQTTDevice) StartCollection() error {
	if !d.client.IsConnected() {
		return ErrNotConnected
	}
	token := d.client.Subscribe(d.topic, 0, d.onMessage)
	if !token.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("subscribe %s: timed out", d.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", d.topic, err)
	}
	return nil
}

// StopCollection unsubscribes from the device topic.
func (d *MQTTDevice) StopCollection() {
	token := d.client.Unsubscribe(d.topic)
	if !token.WaitTimeout(tokenTimeout) {
		d.logger.Warn("unsubscribe timed out")
		return
	}
	if err := token.Error(); err != nil {
		d.logger.Warn("unsubscribe failed", slog.Any("error", err))
	}
}

func (d *MQTTDevice) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var s imu.DeviceSample
	if err := json.Unmarshal(msg.Payload(), &s); err != nil {
		if d.rejected.Add(1) == 1 {
			d.logger.Warn("device sample unmarshal error", slog.Any("error", err))
		}
		return
	}
	d.received.Add(1)
	d.sink.PushDeviceSample(d.slot, &s)
}

// Counts returns the number of samples forwarded and rejected.
func (d *MQTTDevice) Counts() (received, rejected uint64) {
	return d.received.Load(), d.rejected.Load()
}
