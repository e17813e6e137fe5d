// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package model

import "github.com/mdobak/go-xerrors"

var (
	// ErrCatalogUnavailable is returned when the catalog cannot be fetched or decoded.
	ErrCatalogUnavailable = xerrors.Message("model catalog unavailable")
	// ErrDownloadFailed is returned when an artifact download fails.
	ErrDownloadFailed = xerrors.Message("model download failed")
	// ErrChecksumMismatch is returned when a downloaded artifact does not match its descriptor.
	ErrChecksumMismatch = xerrors.Message("model checksum mismatch")
	// ErrModelLoadFailed is returned when a cached artifact cannot be opened.
	ErrModelLoadFailed = xerrors.Message("model load failed")
)
