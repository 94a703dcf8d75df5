package artifacts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ritzau/pageload-estimator/pkg/fixture"
	"github.com/ritzau/pageload-estimator/pkg/metrics"
	"github.com/ritzau/pageload-estimator/pkg/model"
	"github.com/ritzau/pageload-estimator/pkg/simulator"
)

const blogFixture = `{
  "id": "blog",
  "timestamps": {"firstContentfulPaint": 800, "firstMeaningfulPaint": 1200},
  "network": {
    "additionalRttByOrigin": {"https://blog.example.com": 10},
    "serverResponseTimeByOrigin": {"https://blog.example.com": 60}
  },
  "root": "document",
  "nodes": [
    {"id": "document", "type": "network", "startTime": 0, "endTime": 500,
     "url": "https://blog.example.com/", "resourceType": "Document", "priority": "VeryHigh", "transferSize": 12000},
    {"id": "style", "type": "network", "startTime": 510, "endTime": 700, "dependencies": ["document"],
     "url": "https://blog.example.com/site.css", "resourceType": "Stylesheet", "priority": "VeryHigh", "transferSize": 6000},
    {"id": "script", "type": "network", "startTime": 510, "endTime": 760, "dependencies": ["document"],
     "url": "https://blog.example.com/site.js", "resourceType": "Script", "priority": "High", "transferSize": 30000},
    {"id": "eval", "type": "cpu", "startTime": 760, "endTime": 790, "dependencies": ["script"],
     "events": [{"name": "EvaluateScript", "url": "https://blog.example.com/site.js"}]},
    {"id": "layout", "type": "cpu", "startTime": 1100, "endTime": 1180, "dependencies": ["style", "eval"],
     "events": [{"name": "Layout"}]}
  ]
}`

// fakeLoader serves fixtures from memory and counts loads
type fakeLoader struct {
	mu      sync.Mutex
	files   map[string]string
	loads   int
	loadErr error
}

func (l *fakeLoader) Load(path string) (*fixture.Fixture, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	if l.loadErr != nil {
		return nil, l.loadErr
	}
	raw, ok := l.files[path]
	if !ok {
		return nil, fmt.Errorf("no such fixture %s", path)
	}
	f, err := fixture.Parse([]byte(raw), ".json")
	if err != nil {
		return nil, err
	}
	f.Path = path
	return f, nil
}

func (l *fakeLoader) loadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

func newTestProvider(t *testing.T) (*Provider, *fakeLoader, metrics.Data) {
	t.Helper()
	loader := &fakeLoader{files: map[string]string{"fixtures/blog.json": blogFixture}}
	p := NewProvider(loader, metrics.NewEstimator(simulator.DefaultOptions()))
	data, err := p.Open("fixtures/blog.json")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return p, loader, data
}

func TestOpen(t *testing.T) {
	p, loader, data := newTestProvider(t)

	if data.Trace.ID != "blog" || data.Trace.Source != "fixtures/blog.json" {
		t.Errorf("Trace = %+v", data.Trace)
	}
	if id, ok := p.TraceForPath("fixtures/blog.json"); !ok || id != "blog" {
		t.Errorf("TraceForPath() = %q, %v", id, ok)
	}
	if ids := p.TraceIDs(); len(ids) != 1 || ids[0] != "blog" {
		t.Errorf("TraceIDs() = %v", ids)
	}

	ctx := context.Background()
	if _, err := p.RequestTraceOfTab(ctx, data.Trace); err != nil {
		t.Fatalf("RequestTraceOfTab() error = %v", err)
	}
	if _, err := p.RequestNetworkAnalysis(ctx, data.DevtoolsLog); err != nil {
		t.Fatalf("RequestNetworkAnalysis() error = %v", err)
	}
	if loader.loadCount() != 1 {
		t.Errorf("Fixture loaded %d times, want 1", loader.loadCount())
	}
}

func TestRequestArtifacts(t *testing.T) {
	p, _, data := newTestProvider(t)
	ctx := context.Background()

	traceOfTab, err := p.RequestTraceOfTab(ctx, data.Trace)
	if err != nil {
		t.Fatalf("RequestTraceOfTab() error = %v", err)
	}
	if traceOfTab.Timestamps.FirstMeaningfulPaint != 1200 {
		t.Errorf("FirstMeaningfulPaint = %v, want 1200", traceOfTab.Timestamps.FirstMeaningfulPaint)
	}

	analysis, err := p.RequestNetworkAnalysis(ctx, data.DevtoolsLog)
	if err != nil {
		t.Fatalf("RequestNetworkAnalysis() error = %v", err)
	}
	if analysis.ServerResponseTimeByOrigin["https://blog.example.com"] != 60 {
		t.Errorf("ServerResponseTimeByOrigin = %v", analysis.ServerResponseTimeByOrigin)
	}

	g1, err := p.RequestPageDependencyGraph(ctx, data)
	if err != nil {
		t.Fatalf("RequestPageDependencyGraph() error = %v", err)
	}
	g2, _ := p.RequestPageDependencyGraph(ctx, data)
	if g1 != g2 {
		t.Error("Page graph was not memoized")
	}
	if g1.Len() != 5 {
		t.Errorf("Graph has %d nodes, want 5", g1.Len())
	}
}

func TestRequestMetricMemoized(t *testing.T) {
	p, _, data := newTestProvider(t)
	ctx := context.Background()

	const workers = 8
	results := make([]*metrics.MetricResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := p.RequestConsistentlyInteractive(ctx, data)
			if err != nil {
				t.Errorf("RequestConsistentlyInteractive() error = %v", err)
				return
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatalf("Concurrent requests returned different results")
		}
	}

	fmp, err := p.RequestFirstMeaningfulPaint(ctx, data)
	if err != nil {
		t.Fatalf("RequestFirstMeaningfulPaint() error = %v", err)
	}
	again, _ := p.RequestFirstMeaningfulPaint(ctx, data)
	if fmp != again {
		t.Error("FMP result was not memoized")
	}
}

func TestInvalidate(t *testing.T) {
	p, loader, data := newTestProvider(t)
	ctx := context.Background()

	before, err := p.RequestFirstContentfulPaint(ctx, data)
	if err != nil {
		t.Fatalf("RequestFirstContentfulPaint() error = %v", err)
	}

	p.Invalidate("blog")

	after, err := p.RequestFirstContentfulPaint(ctx, data)
	if err != nil {
		t.Fatalf("RequestFirstContentfulPaint() error = %v", err)
	}
	if before == after {
		t.Error("Invalidate kept the memoized result")
	}
	if before.Timing != after.Timing {
		t.Errorf("Timing changed without a fixture change: %v then %v", before.Timing, after.Timing)
	}
	if loader.loadCount() != 2 {
		t.Errorf("Fixture loaded %d times, want 2", loader.loadCount())
	}
}

func TestRemove(t *testing.T) {
	p, _, _ := newTestProvider(t)

	p.Remove("blog")

	if ids := p.TraceIDs(); len(ids) != 0 {
		t.Errorf("TraceIDs() = %v after Remove", ids)
	}
	if _, ok := p.TraceForPath("fixtures/blog.json"); ok {
		t.Error("TraceForPath() still resolves a removed trace")
	}
}

func TestUnknownTrace(t *testing.T) {
	p, _, _ := newTestProvider(t)
	_, err := p.RequestTraceOfTab(context.Background(), &model.Trace{ID: "missing"})
	if err == nil {
		t.Error("Expected error for a trace without fixture")
	}
}

func TestLoaderErrorsReachEstimator(t *testing.T) {
	p, loader, data := newTestProvider(t)
	p.Invalidate("blog")
	loader.mu.Lock()
	loader.loadErr = errors.New("disk on fire")
	loader.mu.Unlock()

	_, err := p.RequestFirstContentfulPaint(context.Background(), data)
	if !errors.Is(err, metrics.ErrCollaborator) {
		t.Errorf("error = %v, want collaborator error", err)
	}
}

func TestEstimate(t *testing.T) {
	p, _, data := newTestProvider(t)

	report, err := Estimate(context.Background(), p, data)
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}

	if report.TraceID != "blog" || report.RunID == "" {
		t.Errorf("Report ids = %q/%q", report.TraceID, report.RunID)
	}
	if len(report.Metrics) != len(metrics.Metrics()) {
		t.Fatalf("Report has %d metrics, want %d", len(report.Metrics), len(metrics.Metrics()))
	}
	for i, name := range metrics.Metrics() {
		if report.Metrics[i].Metric != name {
			t.Errorf("Metrics[%d] = %s, want %s", i, report.Metrics[i].Metric, name)
		}
		if report.Results[name] == nil {
			t.Errorf("Missing full result for %s", name)
		}
	}

	fcp, _ := report.Metric(metrics.MetricFirstContentfulPaint)
	fmp, _ := report.Metric(metrics.MetricFirstMeaningfulPaint)
	tti, _ := report.Metric(metrics.MetricConsistentlyInteractive)
	if fmp.Timing < fcp.Timing || tti.Timing < fmp.Timing {
		t.Errorf("Timings out of order: FCP %v FMP %v TTI %v", fcp.Timing, fmp.Timing, tti.Timing)
	}
	if _, ok := report.Metric("SpeedIndex"); ok {
		t.Error("Metric() found an unknown metric")
	}
}
