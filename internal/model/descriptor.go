// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package model

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/relabs-tech/competition_recorder/internal/imu"
)

// OutputKind is the type of value a model produces.
type OutputKind int

const (
	OutputBool OutputKind = iota + 1
	OutputInt
)

func (k OutputKind) String() string {
	switch k {
	case OutputBool:
		return "bool"
	case OutputInt:
		return "int"
	default:
		return fmt.Sprintf("OutputKind(%d)", int(k))
	}
}

// MarshalText encodes the kind as "bool" or "int".
func (k OutputKind) MarshalText() ([]byte, error) {
	if k != OutputBool && k != OutputInt {
		return nil, fmt.Errorf("invalid output kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText accepts "bool" or "int", case-insensitive.
func (k *OutputKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "bool":
		*k = OutputBool
	case "int":
		*k = OutputInt
	default:
		return fmt.Errorf("unknown output kind %q", text)
	}
	return nil
}

// Descriptor describes one inference model offered by the catalog.
// It is immutable for a given version.
type Descriptor struct {
	ID                     string     `json:"id"`
	Version                string     `json:"version"`
	DownloadURL            string     `json:"downloadUrl"`
	ChecksumSHA256         string     `json:"checksumSha256"`
	DisplayName            string     `json:"displayName"`
	InputWindowSamples     int        `json:"inputWindowSamples"`
	InitialIntervalSamples int        `json:"initialIntervalSamples"`
	AdaptiveInterval       bool       `json:"adaptiveInterval"`
	SensorLocationMask     uint8      `json:"sensorLocationMask"`
	IsPhoneOnly            bool       `json:"isPhoneOnly"`
	OutputKind             OutputKind `json:"outputKind"`
	// Compensation is the number of seconds credited per positive result.
	Compensation float64 `json:"compensation,omitempty"`
}

// Sources returns the sensor sources feeding the model's input window.
func (d Descriptor) Sources() imu.SensorSet {
	if d.IsPhoneOnly {
		return imu.SetOf(imu.Phone)
	}
	return imu.SetFromMask(d.SensorLocationMask)
}

// InputWidth is the feature vector length the model expects.
func (d Descriptor) InputWidth() int {
	return d.InputWindowSamples * d.Sources().FeatureWidth()
}

// Validate checks the descriptor invariants.
func (d Descriptor) Validate() error {
	switch {
	case d.ID == "" || filepath.Base(d.ID) != d.ID || strings.HasPrefix(d.ID, "."):
		return fmt.Errorf("model %q: invalid id", d.ID)
	case d.Version == "":
		return fmt.Errorf("model %s: missing version", d.ID)
	case d.DownloadURL == "":
		return fmt.Errorf("model %s: missing download url", d.ID)
	case d.InputWindowSamples <= 0:
		return fmt.Errorf("model %s: input window must be positive", d.ID)
	case d.InitialIntervalSamples <= 0:
		return fmt.Errorf("model %s: initial interval must be positive", d.ID)
	case d.OutputKind != OutputBool && d.OutputKind != OutputInt:
		return fmt.Errorf("model %s: invalid output kind", d.ID)
	case imu.SetFromMask(d.SensorLocationMask).IsEmpty():
		return fmt.Errorf("model %s: empty sensor location mask", d.ID)
	case d.IsPhoneOnly && d.SensorLocationMask != 0b000001:
		return fmt.Errorf("model %s: phone-only model must use mask 0b000001, got %#b", d.ID, d.SensorLocationMask)
	}
	if sum, err := hex.DecodeString(d.ChecksumSHA256); err != nil || len(sum) != 32 {
		return fmt.Errorf("model %s: checksum is not a SHA-256 hex digest", d.ID)
	}
	return nil
}

// LocalRecord is the cache index entry for one installed model.
type LocalRecord struct {
	ModelID           string `json:"-"`
	InstalledVersion  string `json:"version"`
	InstalledChecksum string `json:"checksum"`
}
