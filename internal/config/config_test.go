package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recorder_config.txt")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "# empty\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SampleIntervalMS != 50 {
		t.Fatalf("expected 50ms default interval, got %d", cfg.SampleIntervalMS)
	}
	if cfg.InstallWorkers != 4 {
		t.Fatalf("expected 4 install workers, got %d", cfg.InstallWorkers)
	}
	if cfg.DeviceRetryIntervalMS != 1000 {
		t.Fatalf("expected 1s device retry, got %d", cfg.DeviceRetryIntervalMS)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"MQTT_BROKER=tcp://localhost:1883",
		"SAMPLE_INTERVAL_MS=20",
		"SELECTED_MODELS=jump, spin ,",
		"DEVICE_SLOTS=3,0",
		"END_RADIUS_M=75.5",
		"LOCATION_AUTHORIZED=true",
		"IMU_ACCEL_RANGE=2",
		"MAG_I2C_BUS=1",
		"MAG_I2C_ADDR=0x1f",
		"LOG_LEVEL=debug",
		"CATALOG_URL=https://api.example.com/",
	}, "\n"))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SampleIntervalMS != 20 {
		t.Fatalf("interval = %d", cfg.SampleIntervalMS)
	}
	if len(cfg.SelectedModels) != 2 || cfg.SelectedModels[1] != "spin" {
		t.Fatalf("selected models = %v", cfg.SelectedModels)
	}
	if len(cfg.DeviceSlots) != 2 || cfg.DeviceSlots[0] != 0 || cfg.DeviceSlots[1] != 3 {
		t.Fatalf("device slots = %v", cfg.DeviceSlots)
	}
	if cfg.EndRadiusM != 75.5 {
		t.Fatalf("end radius = %v", cfg.EndRadiusM)
	}
	if !cfg.LocationAuthorized {
		t.Fatalf("expected location authorized")
	}
	if cfg.IMUAccelRange != 2 {
		t.Fatalf("accel range = %d", cfg.IMUAccelRange)
	}
	if cfg.MagI2CBus != "1" || cfg.MagI2CAddr != 0x1F {
		t.Fatalf("magnetometer = %q %#x", cfg.MagI2CBus, cfg.MagI2CAddr)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("log level = %v", cfg.LogLevel)
	}
	if cfg.CatalogURL != "https://api.example.com" {
		t.Fatalf("catalog url = %q", cfg.CatalogURL)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, "NOT_A_KEY=1\n"))
	if err == nil || !strings.Contains(err.Error(), "NOT_A_KEY") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadRejectsOutOfRange(t *testing.T) {
	if _, err := Load(writeConfig(t, "IMU_GYRO_RANGE=4\n")); err == nil {
		t.Fatalf("expected range error")
	}
	if _, err := Load(writeConfig(t, "DEVICE_SLOTS=5\n")); err == nil {
		t.Fatalf("expected slot error")
	}
	if _, err := Load(writeConfig(t, "MAG_I2C_ADDR=0x80\n")); err == nil {
		t.Fatalf("expected 7-bit address error")
	}
}

func TestValidateRequiresBrokerForDevices(t *testing.T) {
	_, err := FromValues(map[string]string{"DEVICE_SLOTS": "1"})
	if err == nil {
		t.Fatalf("expected MQTT_BROKER requirement")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
