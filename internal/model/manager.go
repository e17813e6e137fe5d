// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mdobak/go-xerrors"
	"golang.org/x/sync/errgroup"
)

// DefaultInstallWorkers is the parallel install cap.
const DefaultInstallWorkers = 4

// Opener compiles the artifact at path.
type Opener func(path string) (Predictor, error)

// Manager owns the local artifact cache and its index.
type Manager struct {
	dir     string
	logger  *slog.Logger
	client  *http.Client
	workers int
	open    Opener

	mu    sync.Mutex // guards index and the index file
	index map[string]LocalRecord

	idLocksMu sync.Mutex
	idLocks   map[string]*sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for artifact downloads.
func WithHTTPClient(c *http.Client) Option { return func(m *Manager) { m.client = c } }

// WithWorkers sets the parallel install cap.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithOpener replaces the artifact compiler.
func WithOpener(open Opener) Option { return func(m *Manager) { m.open = open } }

// NewManager creates the models directory if needed and reads the index.
func NewManager(logger *slog.Logger, dir string, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.New(err)
	}
	index, err := loadIndex(dir)
	if err != nil {
		return nil, xerrors.New(err)
	}

	m := &Manager{
		dir:     dir,
		logger:  logger.With("component", "models"),
		client:  &http.Client{Timeout: 2 * time.Minute},
		workers: DefaultInstallWorkers,
		open:    OpenLinear,
		index:   index,
		idLocks: map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger.Info("model cache ready", slog.String("dir", dir), slog.Int("installed", len(index)))
	return m, nil
}

// ArtifactPath is where the artifact of id lives.
func (m *Manager) ArtifactPath(id string) string {
	return filepath.Join(m.dir, id+"."+BundleExt)
}

// Record returns the index entry for id.
func (m *Manager) Record(id string) (LocalRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.index[id]
	return rec, ok
}

// Records returns a copy of the index sorted by model id.
func (m *Manager) Records() []LocalRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LocalRecord, 0, len(m.index))
	for _, rec := range m.index {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// EnsureInstalled makes the cache hold d's version. When the cached version
// differs or is missing it downloads the artifact and replaces the cached
// copy only if the SHA-256 matches the descriptor.
func (m *Manager) EnsureInstalled(ctx context.Context, d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	lock := m.idLock(d.ID)
	lock.Lock()
	defer lock.Unlock()

	if rec, ok := m.Record(d.ID); ok && rec.InstalledVersion == d.Version {
		if _, err := os.Stat(m.ArtifactPath(d.ID)); err == nil {
			return nil
		}
		m.logger.Warn("indexed artifact missing, reinstalling", slog.String("model", d.ID))
	}

	tmpPath, sum, err := m.download(ctx, d)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath) // no-op after a successful rename

	if !strings.EqualFold(sum, d.ChecksumSHA256) {
		return fmt.Errorf("%w: model %s version %s: got %s, want %s", ErrChecksumMismatch, d.ID, d.Version, sum, d.ChecksumSHA256)
	}

	if err := os.Rename(tmpPath, m.ArtifactPath(d.ID)); err != nil {
		return xerrors.New(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	next := make(map[string]LocalRecord, len(m.index)+1)
	for id, rec := range m.index {
		next[id] = rec
	}
	next[d.ID] = LocalRecord{ModelID: d.ID, InstalledVersion: d.Version, InstalledChecksum: strings.ToLower(sum)}
	if err := saveIndex(m.dir, next); err != nil {
		return xerrors.New(err)
	}
	m.index = next

	m.logger.Info("model installed", slog.String("model", d.ID), slog.String("version", d.Version))
	return nil
}

// download streams the artifact into a temp file in the models directory and
// returns its path and hex SHA-256.
func (m *Manager) download(ctx context.Context, d Descriptor) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.DownloadURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: model %s: %v", ErrDownloadFailed, d.ID, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: model %s: %v", ErrDownloadFailed, d.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", "", fmt.Errorf("%w: model %s: status %d", ErrDownloadFailed, d.ID, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(m.dir, d.ID+".*.download")
	if err != nil {
		return "", "", xerrors.New(err)
	}
	h := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(tmp, h), resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp.Name())
		return "", "", fmt.Errorf("%w: model %s: %v", ErrDownloadFailed, d.ID, errors.Join(copyErr, closeErr))
	}
	return tmp.Name(), hex.EncodeToString(h.Sum(nil)), nil
}

func (m *Manager) idLock(id string) *sync.Mutex {
	m.idLocksMu.Lock()
	defer m.idLocksMu.Unlock()
	l, ok := m.idLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.idLocks[id] = l
	}
	return l
}

// LoadCompiled opens the cached artifact of id.
func (m *Manager) LoadCompiled(id string) (Predictor, error) {
	path := m.ArtifactPath(id)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: not installed", ErrModelLoadFailed, id)
	}
	p, err := m.open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelLoadFailed, id, err)
	}
	return p, nil
}

// Runtime loads d for a session. A load failure is logged and yields a
// runtime that never predicts.
func (m *Manager) Runtime(d Descriptor) *Runtime {
	p, err := m.LoadCompiled(d.ID)
	if err != nil {
		m.logger.Error("model unavailable for this session", slog.String("model", d.ID), slog.Any("error", xerrors.New(err)))
	}
	return NewRuntime(d, p, err)
}

// Report is the outcome of an Update.
type Report struct {
	Installed []string
	Failed    map[string]error
}

// Err joins the failures, or returns nil.
func (r Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, r.Failed[id])
	}
	return errors.Join(errs...)
}

// Update installs every descriptor with bounded parallelism. Each model
// succeeds or fails on its own; failures are collected in the report.
func (m *Manager) Update(ctx context.Context, descs []Descriptor) Report {
	var (
		mu     sync.Mutex
		report = Report{Failed: map[string]error{}}
		g      errgroup.Group
	)
	g.SetLimit(m.workers)

	for _, d := range descs {
		d := d
		g.Go(func() error {
			err := m.EnsureInstalled(ctx, d)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[d.ID] = err
				m.logger.Error("model install failed", slog.String("model", d.ID), slog.Any("error", err))
				return nil
			}
			report.Installed = append(report.Installed, d.ID)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Installed)
	return report
}
