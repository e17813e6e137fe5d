// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// IndexFile is the name of the local cache index inside the models directory.
const IndexFile = "metadata.json"

// loadIndex reads the whole index. A missing file is an empty index.
func loadIndex(dir string) (map[string]LocalRecord, error) {
	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]LocalRecord{}, nil
	}
	if err != nil {
		return nil, err
	}

	raw := map[string]LocalRecord{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode %s: %w", IndexFile, err)
		}
	}
	for id, rec := range raw {
		rec.ModelID = id
		raw[id] = rec
	}
	return raw, nil
}

// saveIndex rewrites the whole index through a temp file and rename.
func saveIndex(dir string, index map[string]LocalRecord) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, IndexFile), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
