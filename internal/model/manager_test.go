package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// artifactServer serves /<name> from a mutable map.
type artifactServer struct {
	mu       sync.Mutex
	files    map[string][]byte
	requests atomic.Int32
	delay    time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (s *artifactServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		cur := s.maxInFlight.Load()
		if n <= cur || s.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	data, ok := s.files[strings.TrimPrefix(r.URL.Path, "/")]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(data)
}

func (s *artifactServer) put(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = data
}

func newArtifactServer(t *testing.T) (*artifactServer, *httptest.Server) {
	t.Helper()
	as := &artifactServer{files: map[string][]byte{}}
	srv := httptest.NewServer(as)
	t.Cleanup(srv.Close)
	return as, srv
}

func TestEnsureInstalledPersistsIndex(t *testing.T) {
	as, srv := newArtifactServer(t)
	artifact := bundleBytes(t, linearBundle{Output: OutputBool, Weights: make([]float32, 18)})
	as.put("jump-v1", artifact)

	dir := t.TempDir()
	m, err := NewManager(discardLogger(), dir)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	d := phoneDescriptor("jump", "1", srv.URL+"/jump-v1", artifact)
	d.ChecksumSHA256 = strings.ToUpper(d.ChecksumSHA256)

	if err := m.EnsureInstalled(context.Background(), d); err != nil {
		t.Fatalf("install: %v", err)
	}
	got, err := os.ReadFile(m.ArtifactPath("jump"))
	if err != nil || string(got) != string(artifact) {
		t.Fatalf("artifact not written: %v", err)
	}

	// same version: no second download
	if err := m.EnsureInstalled(context.Background(), d); err != nil {
		t.Fatalf("reinstall: %v", err)
	}
	if n := as.requests.Load(); n != 1 {
		t.Fatalf("expected 1 download, got %d", n)
	}

	reopened, err := NewManager(discardLogger(), dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rec, ok := reopened.Record("jump")
	if !ok || rec.InstalledVersion != "1" || rec.InstalledChecksum != checksum(artifact) {
		t.Fatalf("index not persisted: %+v %v", rec, ok)
	}
}

func TestEnsureInstalledChecksumMismatchKeepsPrevious(t *testing.T) {
	as, srv := newArtifactServer(t)
	good := bundleBytes(t, linearBundle{Output: OutputBool, Weights: make([]float32, 18)})
	as.put("jump-v1", good)

	m, err := NewManager(discardLogger(), t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.EnsureInstalled(context.Background(), phoneDescriptor("jump", "1", srv.URL+"/jump-v1", good)); err != nil {
		t.Fatalf("install v1: %v", err)
	}
	before, _ := m.Record("jump")

	v2 := bundleBytes(t, linearBundle{Output: OutputBool, Weights: make([]float32, 18), Bias: 1})
	corrupted := append([]byte(nil), v2...)
	corrupted[len(corrupted)/2] ^= 0xFF
	as.put("jump-v2", corrupted)

	err = m.EnsureInstalled(context.Background(), phoneDescriptor("jump", "2", srv.URL+"/jump-v2", v2))
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}

	after, _ := m.Record("jump")
	if after != before {
		t.Fatalf("record changed: %+v -> %+v", before, after)
	}
	got, _ := os.ReadFile(m.ArtifactPath("jump"))
	if string(got) != string(good) {
		t.Fatalf("previous artifact was replaced")
	}
	entries, _ := os.ReadDir(m.dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".download") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestEnsureInstalledDownloadFailure(t *testing.T) {
	_, srv := newArtifactServer(t)
	m, err := NewManager(discardLogger(), t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	err = m.EnsureInstalled(context.Background(), phoneDescriptor("spin", "1", srv.URL+"/missing", []byte("x")))
	if !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("expected download failure, got %v", err)
	}
	if _, ok := m.Record("spin"); ok {
		t.Fatalf("failed install must not create a record")
	}
}

func TestConcurrentInstallsAreIndependent(t *testing.T) {
	as, srv := newArtifactServer(t)
	as.delay = 20 * time.Millisecond
	good := bundleBytes(t, linearBundle{Output: OutputBool, Weights: make([]float32, 18)})
	bad := []byte("not the advertised artifact")
	as.put("good", good)
	as.put("bad", bad)

	m, err := NewManager(discardLogger(), t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	var wg sync.WaitGroup
	var goodErr, badErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		goodErr = m.EnsureInstalled(context.Background(), phoneDescriptor("good", "1", srv.URL+"/good", good))
	}()
	go func() {
		defer wg.Done()
		badErr = m.EnsureInstalled(context.Background(), phoneDescriptor("bad", "1", srv.URL+"/bad", good))
	}()
	wg.Wait()

	if goodErr != nil {
		t.Fatalf("good install failed: %v", goodErr)
	}
	if !errors.Is(badErr, ErrChecksumMismatch) {
		t.Fatalf("expected mismatch for bad model, got %v", badErr)
	}
	if rec, ok := m.Record("good"); !ok || rec.InstalledVersion != "1" {
		t.Fatalf("good record not updated: %+v", rec)
	}
	if _, ok := m.Record("bad"); ok {
		t.Fatalf("bad model must not be recorded")
	}
}

func TestUpdateBoundedAndAggregated(t *testing.T) {
	as, srv := newArtifactServer(t)
	as.delay = 30 * time.Millisecond
	artifact := bundleBytes(t, linearBundle{Output: OutputBool, Weights: make([]float32, 18)})

	var descs []Descriptor
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("m%d", i)
		if i%3 != 0 {
			as.put(name, artifact)
		}
		descs = append(descs, phoneDescriptor(name, "1", srv.URL+"/"+name, artifact))
	}

	m, err := NewManager(discardLogger(), t.TempDir(), WithWorkers(2))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	report := m.Update(context.Background(), descs)

	if len(report.Installed) != 4 {
		t.Fatalf("installed = %v", report.Installed)
	}
	if len(report.Failed) != 2 || report.Failed["m0"] == nil || report.Failed["m3"] == nil {
		t.Fatalf("failed = %v", report.Failed)
	}
	if !errors.Is(report.Err(), ErrDownloadFailed) {
		t.Fatalf("aggregate error should carry download failures: %v", report.Err())
	}
	if max := as.maxInFlight.Load(); max > 2 {
		t.Fatalf("parallelism exceeded: %d", max)
	}
	if len(m.Records()) != 4 {
		t.Fatalf("records = %v", m.Records())
	}
}

func TestLoadCompiled(t *testing.T) {
	as, srv := newArtifactServer(t)
	artifact := bundleBytes(t, linearBundle{Output: OutputBool, Weights: []float32{1, 1}, Bias: -1})
	as.put("tiny", artifact)

	m, err := NewManager(discardLogger(), t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m.LoadCompiled("tiny"); !errors.Is(err, ErrModelLoadFailed) {
		t.Fatalf("expected load failure before install, got %v", err)
	}

	d := phoneDescriptor("tiny", "1", srv.URL+"/tiny", artifact)
	if err := m.EnsureInstalled(context.Background(), d); err != nil {
		t.Fatalf("install: %v", err)
	}
	p, err := m.LoadCompiled("tiny")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	out, err := p.Predict(context.Background(), []float32{5, 5})
	if err != nil || !out.Bool {
		t.Fatalf("predict = %v, %v", out, err)
	}

	if err := os.WriteFile(m.ArtifactPath("tiny"), []byte("{"), 0o644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	rt := m.Runtime(d)
	if rt.Ready() || !errors.Is(rt.LoadErr(), ErrModelLoadFailed) {
		t.Fatalf("expected unready runtime, got %v", rt.LoadErr())
	}
}
