// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/competition_recorder/internal/config"
	"github.com/relabs-tech/competition_recorder/internal/gps"
	"github.com/relabs-tech/competition_recorder/internal/imu"
	"github.com/relabs-tech/competition_recorder/internal/session"
)

// RunConsole prints the recorder's MQTT traffic, session status and paired
// device samples, until ctx is cancelled.
func RunConsole(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	logger = logger.With("component", "console")
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID + "-console")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	logger.Info("connected to MQTT broker", slog.String("broker", cfg.MQTTBroker))

	p := &printer{logger: logger, out: out}
	subs := map[string]mqtt.MessageHandler{
		cfg.TopicSessionStatus:       p.onStatus,
		cfg.DeviceTopicPrefix + "/+": p.onDevice,
	}
	for topic, handler := range subs {
		token := client.Subscribe(topic, 0, handler)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		logger.Info("subscribed", slog.String("topic", topic))
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// printer formats messages one line each. paho runs handlers concurrently.
type printer struct {
	logger *slog.Logger
	mu     sync.Mutex
	out    io.Writer
}

func (p *printer) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

func (p *printer) onStatus(_ mqtt.Client, msg mqtt.Message) {
	var st session.Status
	if err := json.Unmarshal(msg.Payload(), &st); err != nil {
		p.logger.Warn("status unmarshal error", slog.Any("error", err))
		return
	}
	p.println(formatStatus(st))
}

func (p *printer) onDevice(_ mqtt.Client, msg mqtt.Message) {
	var s imu.DeviceSample
	if err := json.Unmarshal(msg.Payload(), &s); err != nil {
		p.logger.Warn("device sample unmarshal error", slog.String("topic", msg.Topic()), slog.Any("error", err))
		return
	}
	slot := msg.Topic()[strings.LastIndex(msg.Topic(), "/")+1:]
	p.println(fmt.Sprintf("[DEV-%s] ax=%6.3f ay=%6.3f az=%6.3f  gx=%7.2f gy=%7.2f gz=%7.2f",
		slot, s.AccX, s.AccY, s.AccZ, s.GyroX, s.GyroY, s.GyroZ))
}

func formatStatus(st session.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[SESS] state=%-9s elapsed=%7.1fs events=%-4d comp=%6.2fs",
		st.State, st.ElapsedSeconds, st.PredictedEventCount, st.CompensationSeconds)
	if st.State == session.StateArmed {
		fmt.Fprintf(&b, " may_start=%t", st.MayStart)
	}
	for _, m := range st.Models {
		fmt.Fprintf(&b, " %s=%d/%d", m.ID, m.Events, m.Triggers)
	}
	return b.String()
}

// RunMotionConsole prints a motion reading every interval.
func RunMotionConsole(ctx context.Context, src imu.MotionSource, interval time.Duration, out io.Writer) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		m, err := src.ReadMotion()
		if err != nil {
			return err
		}
		alt := "n/a"
		if m.Altitude != imu.NoAltitude {
			alt = fmt.Sprintf("%.1fm", m.Altitude)
		}
		fmt.Fprintf(out,
			"ACC=%6.3f %6.3f %6.3f g  GYRO=%7.2f %7.2f %7.2f °/s  MAG=%6.1f %6.1f %6.1f µT  ALT=%s\n",
			m.AccX, m.AccY, m.AccZ, m.GyroX, m.GyroY, m.GyroZ, m.MagX, m.MagY, m.MagZ, alt)
	}
}

// RunGPSProbe prints every fix read from r with its distance to the start
// and end zones, if set.
func RunGPSProbe(ctx context.Context, logger *slog.Logger, r io.Reader, start, end *gps.Zone, out io.Writer) error {
	return gps.NewReader(logger).Run(ctx, r, func(f gps.Fix) {
		fmt.Fprintf(out, "[GPS ] %s lat=%.6f lon=%.6f speed=%.1fm/s course=%.1f° sats=%d",
			f.Time.Format(time.TimeOnly), f.Position.Lat, f.Position.Lon, f.SpeedMps, f.CourseDeg, f.Satellites)
		for _, z := range []struct {
			name string
			zone *gps.Zone
		}{{"start", start}, {"end", end}} {
			if z.zone == nil {
				continue
			}
			fmt.Fprintf(out, " %s=%.0fm", z.name, gps.DistanceMeters(f.Position, z.zone.Center))
			if z.zone.Contains(f.Position) {
				fmt.Fprint(out, "(in)")
			}
		}
		fmt.Fprintln(out)
	})
}
