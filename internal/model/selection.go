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

// CatalogCacheFile holds the last fetched catalog so a session can start
// without the network.
const CatalogCacheFile = "catalog.json"

// SaveCatalog replaces the cached catalog.
func (m *Manager) SaveCatalog(descs []Descriptor) error {
	data, err := json.MarshalIndent(descs, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(m.dir, CatalogCacheFile), data)
}

// CachedCatalog returns the cached catalog. A missing or unreadable cache
// is ErrCatalogUnavailable.
func (m *Manager) CachedCatalog() ([]Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, CatalogCacheFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: no cached catalog", ErrCatalogUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	var descs []Descriptor
	if err := json.Unmarshal(data, &descs); err != nil {
		return nil, fmt.Errorf("%w: cached catalog: %v", ErrCatalogUnavailable, err)
	}
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("%w: cached catalog: %v", ErrCatalogUnavailable, err)
		}
	}
	return descs, nil
}

// Select returns the descriptors named by ids, in ids order, and the ids
// the catalog does not contain. No ids selects the whole catalog.
func Select(descs []Descriptor, ids []string) (selected []Descriptor, missing []string) {
	if len(ids) == 0 {
		return append([]Descriptor(nil), descs...), nil
	}
	byID := make(map[string]Descriptor, len(descs))
	for _, d := range descs {
		byID[d.ID] = d
	}
	for _, id := range ids {
		d, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		selected = append(selected, d)
	}
	return selected, missing
}
