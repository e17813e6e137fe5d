// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker         string
	MQTTClientID       string
	TopicSessionStatus string
	DeviceTopicPrefix  string // paired devices publish on <prefix>/<slot>

	// Phone IMU hardware
	IMUSPIDevice string
	IMUCSPin     string
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte

	// Barometer (altitude); empty disables it
	BMPSPIDevice string

	// HMC5983 magnetometer; empty bus disables it
	MagI2CBus  string
	MagI2CAddr uint16

	// GPS
	GPSSerialPort string
	GPSBaudRate   int

	// Timing
	SampleIntervalMS int

	// Models
	ModelsDir      string
	CatalogURL     string
	CatalogToken   string
	InstallWorkers int
	SelectedModels []string

	// Paired devices
	DeviceSlots            []int
	DeviceRetryIntervalMS  int
	DeviceRetryMaxAttempts int // 0 = retry until stopped

	// Geofence
	StartLat     float64
	StartLon     float64
	StartRadiusM float64
	EndLat       float64
	EndLon       float64
	EndRadiusM   float64

	// Permissions
	LocationAuthorized   bool
	MicrophoneAuthorized bool
	AudioEnabled         bool

	// Outputs
	ResultsDB     string
	WebServerPort int
	LogLevel      slog.Level
}

// Default returns a Config with every optional value filled in.
func Default() *Config {
	return &Config{
		MQTTClientID:          "competition-recorder",
		TopicSessionStatus:    "recorder/session",
		DeviceTopicPrefix:     "recorder/devices",
		MagI2CAddr:            0x1E,
		GPSBaudRate:           9600,
		SampleIntervalMS:      50,
		ModelsDir:             "./models",
		InstallWorkers:        4,
		DeviceRetryIntervalMS: 1000,
		StartRadiusM:          50,
		EndRadiusM:            50,
		ResultsDB:             "./results.db",
		WebServerPort:         8080,
		LogLevel:              slog.LevelInfo,
	}
}

// Load reads the KEY=VALUE configuration file and returns a Config.
func Load(configPath string) (*Config, error) {
	values, err := godotenv.Read(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return FromValues(values)
}

// FromValues applies KEY=VALUE pairs on top of Default and validates the result.
func FromValues(values map[string]string) (*Config, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cfg := Default()
	for _, key := range keys {
		if err := cfg.setValue(key, strings.TrimSpace(values[key])); err != nil {
			return nil, fmt.Errorf("config key %s: %w", key, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "TOPIC_SESSION_STATUS":
		c.TopicSessionStatus = value
	case "DEVICE_TOPIC_PREFIX":
		c.DeviceTopicPrefix = strings.TrimSuffix(value, "/")

	// Phone IMU hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_RANGE":
		c.IMUAccelRange, err = parseRange(value, 3, "0=±2g, 1=±4g, 2=±8g, 3=±16g")
	case "IMU_GYRO_RANGE":
		c.IMUGyroRange, err = parseRange(value, 3, "0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s")
	case "BMP_SPI_DEVICE":
		c.BMPSPIDevice = value
	case "MAG_I2C_BUS":
		c.MagI2CBus = value
	case "MAG_I2C_ADDR":
		var addr uint64
		addr, err = strconv.ParseUint(value, 0, 7)
		c.MagI2CAddr = uint16(addr)

	// GPS
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		c.GPSBaudRate, err = strconv.Atoi(value)

	// Timing
	case "SAMPLE_INTERVAL_MS":
		c.SampleIntervalMS, err = strconv.Atoi(value)

	// Models
	case "MODELS_DIR":
		c.ModelsDir = value
	case "CATALOG_URL":
		c.CatalogURL = strings.TrimSuffix(value, "/")
	case "CATALOG_TOKEN":
		c.CatalogToken = value
	case "INSTALL_WORKERS":
		c.InstallWorkers, err = strconv.Atoi(value)
	case "SELECTED_MODELS":
		c.SelectedModels = splitList(value)

	// Paired devices
	case "DEVICE_SLOTS":
		c.DeviceSlots, err = parseSlots(value)
	case "DEVICE_RETRY_INTERVAL_MS":
		c.DeviceRetryIntervalMS, err = strconv.Atoi(value)
	case "DEVICE_RETRY_MAX_ATTEMPTS":
		c.DeviceRetryMaxAttempts, err = strconv.Atoi(value)

	// Geofence
	case "START_LAT":
		c.StartLat, err = strconv.ParseFloat(value, 64)
	case "START_LON":
		c.StartLon, err = strconv.ParseFloat(value, 64)
	case "START_RADIUS_M":
		c.StartRadiusM, err = strconv.ParseFloat(value, 64)
	case "END_LAT":
		c.EndLat, err = strconv.ParseFloat(value, 64)
	case "END_LON":
		c.EndLon, err = strconv.ParseFloat(value, 64)
	case "END_RADIUS_M":
		c.EndRadiusM, err = strconv.ParseFloat(value, 64)

	// Permissions
	case "LOCATION_AUTHORIZED":
		c.LocationAuthorized, err = strconv.ParseBool(value)
	case "MICROPHONE_AUTHORIZED":
		c.MicrophoneAuthorized, err = strconv.ParseBool(value)
	case "AUDIO_ENABLED":
		c.AudioEnabled, err = strconv.ParseBool(value)

	// Outputs
	case "RESULTS_DB":
		c.ResultsDB = value
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = strconv.Atoi(value)
	case "LOG_LEVEL":
		err = c.LogLevel.UnmarshalText([]byte(value))

	default:
		return fmt.Errorf("unknown config key")
	}
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", value, err)
	}
	return nil
}

// validate checks that required fields are set and values are usable.
func (c *Config) validate() error {
	if c.SampleIntervalMS <= 0 {
		return fmt.Errorf("SAMPLE_INTERVAL_MS must be positive, got %d", c.SampleIntervalMS)
	}
	if c.ModelsDir == "" {
		return fmt.Errorf("MODELS_DIR is required")
	}
	if c.InstallWorkers <= 0 {
		return fmt.Errorf("INSTALL_WORKERS must be positive, got %d", c.InstallWorkers)
	}
	if c.DeviceRetryIntervalMS <= 0 {
		return fmt.Errorf("DEVICE_RETRY_INTERVAL_MS must be positive, got %d", c.DeviceRetryIntervalMS)
	}
	if c.DeviceRetryMaxAttempts < 0 {
		return fmt.Errorf("DEVICE_RETRY_MAX_ATTEMPTS must not be negative")
	}
	if len(c.DeviceSlots) > 0 && c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required when DEVICE_SLOTS is set")
	}
	if c.StartRadiusM <= 0 || c.EndRadiusM <= 0 {
		return fmt.Errorf("START_RADIUS_M and END_RADIUS_M must be positive")
	}
	if c.IMUSPIDevice != "" && c.IMUCSPin == "" {
		return fmt.Errorf("IMU_CS_PIN is required with IMU_SPI_DEVICE")
	}
	return nil
}

func parseRange(value string, max int, help string) (byte, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > max {
		return 0, fmt.Errorf("must be 0-%d (%s), got %d", max, help, v)
	}
	return byte(v), nil
}

func parseSlots(value string) ([]int, error) {
	var slots []int
	seen := map[int]bool{}
	for _, part := range splitList(value) {
		slot, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		if slot < 0 || slot > 4 {
			return nil, fmt.Errorf("device slot must be 0-4, got %d", slot)
		}
		if seen[slot] {
			return nil, fmt.Errorf("device slot %d listed twice", slot)
		}
		seen[slot] = true
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	return slots, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
