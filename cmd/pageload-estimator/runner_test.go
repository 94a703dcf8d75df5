package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ritzau/pageload-estimator/pkg/artifacts"
	"github.com/ritzau/pageload-estimator/pkg/fixture"
	"github.com/ritzau/pageload-estimator/pkg/metrics"
	"github.com/ritzau/pageload-estimator/pkg/simulator"
	"github.com/ritzau/pageload-estimator/pkg/watcher"
)

// recordingSink records what the runner reports
type recordingSink struct {
	mu           sync.Mutex
	steps        int
	completedIDs []string
	failedPaths  []string
	removedIDs   []string
}

func (s *recordingSink) started(path string, step, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps++
}

func (s *recordingSink) completed(report *artifacts.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completedIDs = append(s.completedIDs, report.TraceID)
}

func (s *recordingSink) failed(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedPaths = append(s.failedPaths, path)
}

func (s *recordingSink) removed(traceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removedIDs = append(s.removedIDs, traceID)
}

func newTestRunner() (*runner, *recordingSink) {
	rec := &recordingSink{}
	p := artifacts.NewProvider(fixture.FileLoader{}, metrics.NewEstimator(simulator.DefaultOptions()))
	return &runner{provider: p, sink: rec}, rec
}

func TestEstimateAll(t *testing.T) {
	broken := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(broken, []byte(`{"id": "broken"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	files := []string{filepath.Join("testdata", "landing.yaml"), broken}

	r, rec := newTestRunner()
	failed := r.estimateAll(context.Background(), files)

	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	if rec.steps != 2 {
		t.Errorf("started = %d, want 2", rec.steps)
	}
	if len(rec.completedIDs) != 1 || rec.completedIDs[0] != "landing" {
		t.Errorf("completed = %v, want [landing]", rec.completedIDs)
	}
	if len(rec.failedPaths) != 1 || rec.failedPaths[0] != broken {
		t.Errorf("failed = %v, want [%s]", rec.failedPaths, broken)
	}
}

func TestHandleChanges(t *testing.T) {
	dir := t.TempDir()
	raw, err := os.ReadFile(filepath.Join("testdata", "landing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "landing.yaml")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	r, rec := newTestRunner()
	if failed := r.estimateAll(context.Background(), []string{path}); failed != 0 {
		t.Fatalf("estimateAll() failed = %d", failed)
	}

	handleChanges(context.Background(), r, watcher.AnalyzeChanges(
		watcher.ChangeEvent{Type: watcher.ChangeTypeModified, Paths: []string{path}},
	))
	if len(rec.completedIDs) != 2 {
		t.Errorf("completed = %v, want two estimates", rec.completedIDs)
	}

	handleChanges(context.Background(), r, watcher.AnalyzeChanges(
		watcher.ChangeEvent{Type: watcher.ChangeTypeRemoved, Paths: []string{path}},
	))
	if len(rec.removedIDs) != 1 || rec.removedIDs[0] != "landing" {
		t.Errorf("removed = %v, want [landing]", rec.removedIDs)
	}
}

func TestFirstError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	release := make(chan struct{})
	wg.Add(2)
	first := func() error {
		defer wg.Done()
		return errors.New("port in use")
	}
	second := func() error {
		defer wg.Done()
		<-release
		return errors.New("watch failed")
	}

	if err := firstError(ctx, first, second); err == nil || err.Error() != "port in use" {
		t.Errorf("firstError() = %v, want port in use", err)
	}

	// The task that finishes after the caller returned must not block
	close(release)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Second task blocked sending its result")
	}
}

func TestFirstErrorReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	block := make(chan struct{})
	defer close(block)

	cancel()
	err := firstError(ctx, func() error {
		<-block
		return nil
	})
	if err != nil {
		t.Errorf("firstError() after cancel = %v, want nil", err)
	}
}
