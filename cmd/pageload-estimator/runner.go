package main

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ritzau/pageload-estimator/pkg/artifacts"
	"github.com/ritzau/pageload-estimator/pkg/logging"
)

// sink receives estimation progress
type sink interface {
	started(path string, step, total int)
	completed(report *artifacts.Report)
	failed(path string, err error)
	removed(traceID string)
}

// runner estimates fixture files through a shared provider
type runner struct {
	provider *artifacts.Provider
	sink     sink
}

// estimateAll estimates files concurrently and reports each result in file order.
// It returns the number of fixtures that failed.
func (r *runner) estimateAll(ctx context.Context, files []string) int {
	reports := make([]*artifacts.Report, len(files))
	errs := make([]error, len(files))
	var step atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range files {
		g.Go(func() error {
			if gctx.Err() != nil {
				errs[i] = gctx.Err()
				return nil
			}
			r.sink.started(path, int(step.Add(1)), len(files))
			reports[i], errs[i] = r.estimate(gctx, path)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, path := range files {
		if errs[i] != nil {
			failed++
			r.sink.failed(path, errs[i])
			continue
		}
		r.sink.completed(reports[i])
	}
	return failed
}

// estimate opens path and computes its report
func (r *runner) estimate(ctx context.Context, path string) (*artifacts.Report, error) {
	data, err := r.provider.Open(path)
	if err != nil {
		return nil, err
	}
	return artifacts.Estimate(ctx, r.provider, data)
}

// reestimate drops cached artifacts for path before estimating it again
func (r *runner) reestimate(ctx context.Context, path string) {
	if id, ok := r.provider.TraceForPath(path); ok {
		r.provider.Invalidate(id)
	}
	r.sink.started(path, 1, 1)
	report, err := r.estimate(ctx, path)
	if err != nil {
		r.sink.failed(path, err)
		return
	}
	r.sink.completed(report)
}

// forget drops a fixture that no longer exists
func (r *runner) forget(path string) {
	id, ok := r.provider.TraceForPath(path)
	if !ok {
		logging.Debug("removed file was never estimated", "path", path)
		return
	}
	r.provider.Remove(id)
	r.sink.removed(id)
}
