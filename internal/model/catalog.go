// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package model

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Catalog fetches the model descriptors available to the account.
type Catalog struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewCatalog creates a catalog client for baseURL. A nil client uses a 30s timeout client.
func NewCatalog(baseURL, token string, client *http.Client) *Catalog {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Catalog{baseURL: baseURL, token: token, client: client}
}

// Fetch returns the whole catalog. Any failure, including a single invalid
// descriptor, is reported as ErrCatalogUnavailable and nothing is returned.
func (c *Catalog) Fetch(ctx context.Context) ([]Descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user/models", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrCatalogUnavailable, resp.StatusCode)
	}

	var descs []Descriptor
	if err := json.NewDecoder(resp.Body).Decode(&descs); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrCatalogUnavailable, err)
	}
	seen := make(map[string]bool, len(descs))
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("%w: duplicate model id %s", ErrCatalogUnavailable, d.ID)
		}
		seen[d.ID] = true
	}
	return descs, nil
}
