// Package artifacts serves the estimator's collaborator artifacts from fixture files and
// memoizes every artifact and metric per trace.
package artifacts

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ritzau/pageload-estimator/pkg/fixture"
	"github.com/ritzau/pageload-estimator/pkg/graph"
	"github.com/ritzau/pageload-estimator/pkg/logging"
	"github.com/ritzau/pageload-estimator/pkg/metrics"
	"github.com/ritzau/pageload-estimator/pkg/model"
)

// Provider implements metrics.Artifacts over fixtures.
// Concurrent requests for the same artifact share one computation.
type Provider struct {
	loader    fixture.Loader
	estimator *metrics.Estimator

	group singleflight.Group

	mu         sync.Mutex
	paths      map[string]string // trace id -> fixture path
	cache      map[string]any    // "<trace id>/<artifact>" -> value
	generation map[string]int    // bumped by Invalidate
}

// NewProvider creates a provider that loads fixtures with loader and computes metrics with estimator
func NewProvider(loader fixture.Loader, estimator *metrics.Estimator) *Provider {
	return &Provider{
		loader:     loader,
		estimator:  estimator,
		paths:      make(map[string]string),
		cache:      make(map[string]any),
		generation: make(map[string]int),
	}
}

// Estimator returns the estimator used for metric requests
func (p *Provider) Estimator() *metrics.Estimator {
	return p.estimator
}

// Open loads the fixture at path and returns the metric input that refers to it
func (p *Provider) Open(path string) (metrics.Data, error) {
	f, err := p.loader.Load(path)
	if err != nil {
		return metrics.Data{}, err
	}

	p.mu.Lock()
	if old, ok := p.paths[f.ID]; ok && old != path {
		p.mu.Unlock()
		return metrics.Data{}, fmt.Errorf("trace id %q is used by both %s and %s", f.ID, old, path)
	}
	// An edited file may have changed its id
	for id, candidate := range p.paths {
		if candidate == path && id != f.ID {
			delete(p.paths, id)
		}
	}
	p.paths[f.ID] = path
	p.cache[cacheKey(f.ID, "fixture")] = f
	p.mu.Unlock()

	return metrics.Data{Trace: f.Trace(), DevtoolsLog: f.DevtoolsLog()}, nil
}

// TraceIDs returns the ids of every opened trace
func (p *Provider) TraceIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.paths))
	for id := range p.paths {
		ids = append(ids, id)
	}
	return ids
}

// TraceForPath returns the id of the trace opened from path
func (p *Provider) TraceForPath(path string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, candidate := range p.paths {
		if candidate == path {
			return id, true
		}
	}
	return "", false
}

// Invalidate drops every memoized artifact of a trace. Computations already in flight
// finish but their results are not cached.
func (p *Provider) Invalidate(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.generation[id]++
	prefix := id + "/"
	for key := range p.cache {
		if strings.HasPrefix(key, prefix) {
			delete(p.cache, key)
			p.group.Forget(key)
		}
	}
	logging.Debug("invalidated trace artifacts", "trace", id)
}

// Remove forgets a trace whose fixture no longer exists
func (p *Provider) Remove(id string) {
	p.Invalidate(id)
	p.mu.Lock()
	delete(p.paths, id)
	p.mu.Unlock()
}

func cacheKey(id, artifact string) string {
	return id + "/" + artifact
}

// memoize returns the cached value for key or computes it once
func (p *Provider) memoize(id, artifact string, compute func() (any, error)) (any, error) {
	key := cacheKey(id, artifact)

	p.mu.Lock()
	if v, ok := p.cache[key]; ok {
		p.mu.Unlock()
		return v, nil
	}
	gen := p.generation[id]
	p.mu.Unlock()

	v, err, _ := p.group.Do(key, func() (any, error) {
		p.mu.Lock()
		if v, ok := p.cache[key]; ok {
			p.mu.Unlock()
			return v, nil
		}
		p.mu.Unlock()

		v, err := compute()
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		if p.generation[id] == gen {
			p.cache[key] = v
		}
		p.mu.Unlock()
		return v, nil
	})
	return v, err
}

func (p *Provider) fixture(id, source string) (*fixture.Fixture, error) {
	if id == "" {
		return nil, fmt.Errorf("trace without id")
	}
	v, err := p.memoize(id, "fixture", func() (any, error) {
		p.mu.Lock()
		path, ok := p.paths[id]
		p.mu.Unlock()
		if !ok {
			path = source
		}
		if path == "" {
			return nil, fmt.Errorf("no fixture registered for trace %q", id)
		}

		f, err := p.loader.Load(path)
		if err != nil {
			return nil, err
		}
		if f.ID != id {
			return nil, fmt.Errorf("fixture %s has id %q, want %q", path, f.ID, id)
		}
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*fixture.Fixture), nil
}

// RequestPageDependencyGraph builds the dependency graph of a trace once and caches it
func (p *Provider) RequestPageDependencyGraph(ctx context.Context, data metrics.Data) (*graph.DependencyGraph, error) {
	if data.Trace == nil {
		return nil, fmt.Errorf("page dependency graph requires a trace")
	}
	v, err := p.memoize(data.Trace.ID, "graph", func() (any, error) {
		f, err := p.fixture(data.Trace.ID, data.Trace.Source)
		if err != nil {
			return nil, err
		}
		g, err := f.Graph()
		if err != nil {
			return nil, err
		}
		logging.DebugContext(ctx, "built page dependency graph",
			"trace", data.Trace.ID,
			"nodes", g.Len(),
			"edges", g.EdgeCount(),
		)
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*graph.DependencyGraph), nil
}

// RequestTraceOfTab returns the key moments recorded with a trace
func (p *Provider) RequestTraceOfTab(ctx context.Context, trace *model.Trace) (*model.TraceOfTab, error) {
	if trace == nil {
		return nil, fmt.Errorf("trace of tab requires a trace")
	}
	f, err := p.fixture(trace.ID, trace.Source)
	if err != nil {
		return nil, err
	}
	return f.TraceOfTab(), nil
}

// RequestNetworkAnalysis returns the per-origin round trip and server response times of a log
func (p *Provider) RequestNetworkAnalysis(ctx context.Context, log *model.DevtoolsLog) (*model.NetworkAnalysis, error) {
	if log == nil {
		return nil, fmt.Errorf("network analysis requires a devtools log")
	}
	f, err := p.fixture(log.ID, log.Source)
	if err != nil {
		return nil, err
	}
	return f.NetworkAnalysis(), nil
}

// RequestFirstContentfulPaint returns the memoized first contentful paint
func (p *Provider) RequestFirstContentfulPaint(ctx context.Context, data metrics.Data) (*metrics.MetricResult, error) {
	return p.RequestMetric(ctx, metrics.MetricFirstContentfulPaint, data)
}

// RequestFirstMeaningfulPaint returns the memoized first meaningful paint
func (p *Provider) RequestFirstMeaningfulPaint(ctx context.Context, data metrics.Data) (*metrics.MetricResult, error) {
	return p.RequestMetric(ctx, metrics.MetricFirstMeaningfulPaint, data)
}

// RequestConsistentlyInteractive returns the memoized time to interactive
func (p *Provider) RequestConsistentlyInteractive(ctx context.Context, data metrics.Data) (*metrics.MetricResult, error) {
	return p.RequestMetric(ctx, metrics.MetricConsistentlyInteractive, data)
}

// RequestMetric returns the memoized result of a metric
func (p *Provider) RequestMetric(ctx context.Context, metric string, data metrics.Data) (*metrics.MetricResult, error) {
	if data.Trace == nil {
		return nil, fmt.Errorf("%s requires a trace", metric)
	}
	v, err := p.memoize(data.Trace.ID, metric, func() (any, error) {
		return p.estimator.Compute(ctx, metric, data, p)
	})
	if err != nil {
		return nil, err
	}
	return v.(*metrics.MetricResult), nil
}
