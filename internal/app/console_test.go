package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/relabs-tech/competition_recorder/internal/gps"
	"github.com/relabs-tech/competition_recorder/internal/imu"
	"github.com/relabs-tech/competition_recorder/internal/scheduler"
	"github.com/relabs-tech/competition_recorder/internal/sensors"
	"github.com/relabs-tech/competition_recorder/internal/session"
)

type consoleMessage struct {
	topic   string
	payload []byte
}

func (m consoleMessage) Duplicate() bool   { return false }
func (m consoleMessage) Qos() byte         { return 0 }
func (m consoleMessage) Retained() bool    { return false }
func (m consoleMessage) Topic() string     { return m.topic }
func (m consoleMessage) MessageID() uint16 { return 0 }
func (m consoleMessage) Payload() []byte   { return m.payload }
func (m consoleMessage) Ack()              {}

func nmeaSentence(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X", body, sum)
}

func TestConsolePrintsStatusAndDevices(t *testing.T) {
	var out bytes.Buffer
	p := &printer{logger: slog.New(slog.NewTextHandler(io.Discard, nil)), out: &out}

	st := session.Status{
		State:               session.StateRecording,
		ElapsedSeconds:      12.5,
		PredictedEventCount: 2,
		Models:              []scheduler.ModelTotals{{ID: "jump", Events: 2, Triggers: 9}},
	}
	payload, _ := json.Marshal(st)
	p.onStatus(nil, consoleMessage{topic: "recorder/session", payload: payload})

	sample, _ := json.Marshal(imu.DeviceSample{AccX: 0.5, GyroZ: 12})
	p.onDevice(nil, consoleMessage{topic: "recorder/devices/3", payload: sample})
	p.onDevice(nil, consoleMessage{topic: "recorder/devices/1", payload: []byte("{")})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("output:\n%s", out.String())
	}
	if !strings.Contains(lines[0], "state=recording") || !strings.Contains(lines[0], "jump=2/9") {
		t.Fatalf("status line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "[DEV-3]") || !strings.Contains(lines[1], "ax= 0.500") {
		t.Fatalf("device line = %q", lines[1])
	}
}

func TestFormatStatusShowsMayStartWhenArmed(t *testing.T) {
	line := formatStatus(session.Status{State: session.StateArmed, MayStart: true})
	if !strings.Contains(line, "may_start=true") {
		t.Fatalf("line = %q", line)
	}
	if strings.Contains(formatStatus(session.Status{}), "may_start") {
		t.Fatalf("idle status should not show may_start")
	}
}

func TestMotionConsole(t *testing.T) {
	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := RunMotionConsole(ctx, sensors.NewMockSource(), 10*time.Millisecond, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "ALT=n/a") {
		t.Fatalf("output:\n%s", out.String())
	}
}

func TestGPSProbeReportsZoneDistance(t *testing.T) {
	stream := strings.Join([]string{
		nmeaSentence("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"),
	}, "\n")
	here := gps.Coordinate{Lat: 48.1173, Lon: 11.516667}
	start := gps.Zone{Center: here, RadiusMeters: 50}
	end := gps.Zone{Center: gps.Offset(here, 1000, 90), RadiusMeters: 50}

	var out bytes.Buffer
	if err := RunGPSProbe(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)),
		strings.NewReader(stream), &start, &end, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	line := out.String()
	if !strings.Contains(line, "start=0m(in)") || !strings.Contains(line, "end=1000m") || strings.Contains(line, "end=1000m(in)") {
		t.Fatalf("line = %q", line)
	}
}
