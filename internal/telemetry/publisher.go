// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry publishes the live session status over MQTT.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/competition_recorder/internal/session"
)

const publishTimeout = 2 * time.Second

// Client is the part of mqtt.Client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher sends each status update as a retained JSON message. Updates
// are buffered in a single slot: a newer status replaces one not yet sent.
type Publisher struct {
	logger *slog.Logger
	client Client
	topic  string

	mu      sync.Mutex
	pending *session.Status
	wake    chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewPublisher creates a publisher for topic.
func NewPublisher(logger *slog.Logger, client Client, topic string) *Publisher {
	return &Publisher{
		logger: logger.With("component", "telemetry", slog.String("topic", topic)),
		client: client,
		topic:  topic,
		wake:   make(chan struct{}, 1),
	}
}

// Update queues st for publishing. It never blocks.
func (p *Publisher) Update(st session.Status) {
	p.mu.Lock()
	if p.pending != nil {
		p.dropped.Add(1)
	}
	p.pending = &st
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run publishes queued updates until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.wake:
		}

		p.mu.Lock()
		st := p.pending
		p.pending = nil
		p.mu.Unlock()
		if st == nil {
			continue
		}

		payload, err := json.Marshal(st)
		if err != nil {
			p.logger.Error("status marshal error", slog.Any("error", err))
			continue
		}
		token := p.client.Publish(p.topic, 0, true, payload)
		if !token.WaitTimeout(publishTimeout) {
			p.logger.Warn("status publish timed out")
			continue
		}
		if err := token.Error(); err != nil {
			p.logger.Warn("MQTT publish error", slog.Any("error", err))
			continue
		}
		p.published.Add(1)
	}
}

// Counts returns the number of statuses published and superseded.
func (p *Publisher) Counts() (published, dropped uint64) {
	return p.published.Load(), p.dropped.Load()
}
