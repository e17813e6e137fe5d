package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func bundleBytes(t *testing.T, b linearBundle) []byte {
	t.Helper()
	if b.Format == "" {
		b.Format = linearFormat
	}
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal bundle: %v", err)
	}
	return data
}

func phoneDescriptor(id, version, url string, artifact []byte) Descriptor {
	return Descriptor{
		ID:                     id,
		Version:                version,
		DownloadURL:            url,
		ChecksumSHA256:         checksum(artifact),
		DisplayName:            id,
		InputWindowSamples:     2,
		InitialIntervalSamples: 1,
		SensorLocationMask:     0b000001,
		IsPhoneOnly:            true,
		OutputKind:             OutputBool,
	}
}
