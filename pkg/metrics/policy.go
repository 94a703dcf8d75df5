package metrics

import (
	"fmt"

	"github.com/ritzau/pageload-estimator/pkg/graph"
	"github.com/ritzau/pageload-estimator/pkg/model"
	"github.com/ritzau/pageload-estimator/pkg/simulator"
)

// Metric names, in pipeline order
const (
	MetricFirstContentfulPaint    = "FirstContentfulPaint"
	MetricFirstMeaningfulPaint    = "FirstMeaningfulPaint"
	MetricConsistentlyInteractive = "ConsistentlyInteractive"
)

// Metrics returns every metric name in the order they depend on each other
func Metrics() []string {
	return []string{
		MetricFirstContentfulPaint,
		MetricFirstMeaningfulPaint,
		MetricConsistentlyInteractive,
	}
}

// Coefficients blend the optimistic and pessimistic estimates into one timing.
// They come from offline regression against real measurements.
type Coefficients struct {
	Intercept   float64 `json:"intercept"`
	Optimistic  float64 `json:"optimistic"`
	Pessimistic float64 `json:"pessimistic"`
}

// Blend returns intercept + optimistic*o + pessimistic*p
func (c Coefficients) Blend(optimistic, pessimistic float64) float64 {
	return c.Intercept + c.Optimistic*optimistic + c.Pessimistic*pessimistic
}

// Extras carries inputs a policy needs beyond the graph and trace
type Extras struct {
	// Optimistic is set by the orchestrator when adjusting the optimistic estimate
	Optimistic bool

	// FMPResult is the completed first meaningful paint, required by ConsistentlyInteractive
	FMPResult *MetricResult
}

// Policy defines how one metric prunes the page graph, blends, and adjusts its estimates
type Policy interface {
	Name() string
	Coefficients() (Coefficients, error)
	OptimisticGraph(g *graph.DependencyGraph, traceOfTab *model.TraceOfTab, extras Extras) (*graph.DependencyGraph, error)
	PessimisticGraph(g *graph.DependencyGraph, traceOfTab *model.TraceOfTab, extras Extras) (*graph.DependencyGraph, error)
	AdjustEstimate(result *simulator.Result, extras Extras) (float64, error)
}

// basePolicy supplies the default estimate adjustment. Embedders must provide the rest.
type basePolicy struct {
	name string
}

func (p basePolicy) Name() string {
	return p.name
}

func (p basePolicy) Coefficients() (Coefficients, error) {
	return Coefficients{}, &ConfigurationError{Policy: p.name, Method: "Coefficients"}
}

func (p basePolicy) OptimisticGraph(*graph.DependencyGraph, *model.TraceOfTab, Extras) (*graph.DependencyGraph, error) {
	return nil, &ConfigurationError{Policy: p.name, Method: "OptimisticGraph"}
}

func (p basePolicy) PessimisticGraph(*graph.DependencyGraph, *model.TraceOfTab, Extras) (*graph.DependencyGraph, error) {
	return nil, &ConfigurationError{Policy: p.name, Method: "PessimisticGraph"}
}

// AdjustEstimate returns the simulated time unchanged
func (p basePolicy) AdjustEstimate(result *simulator.Result, _ Extras) (float64, error) {
	return result.TimeInMs, nil
}

// PolicyFor returns the policy registered under a metric name
func PolicyFor(name string) (Policy, error) {
	switch name {
	case MetricFirstContentfulPaint:
		return NewFirstContentfulPaint(), nil
	case MetricFirstMeaningfulPaint:
		return NewFirstMeaningfulPaint(), nil
	case MetricConsistentlyInteractive:
		return NewConsistentlyInteractive(), nil
	default:
		return nil, fmt.Errorf("unknown metric %q", name)
	}
}

// ScriptURLs returns the URLs of Script requests in g that satisfy condition.
// A nil condition accepts every script.
func ScriptURLs(g *graph.DependencyGraph, condition func(*graph.Node) bool) map[string]struct{} {
	urls := make(map[string]struct{})
	g.Traverse(func(n *graph.Node) {
		if !n.HasResourceType(graph.ResourceScript) {
			return
		}
		if condition != nil && !condition(n) {
			return
		}
		urls[n.Request.URL] = struct{}{}
	})
	return urls
}

// paintGraph prunes g to the work that had to finish before a paint at threshold.
// The optimistic variant ignores script-initiated requests; includeLayout also keeps
// CPU tasks that performed layout.
func paintGraph(g *graph.DependencyGraph, threshold float64, optimistic, includeLayout bool) *graph.DependencyGraph {
	blocking := func(n *graph.Node) bool {
		if !n.HasRenderBlockingPriority() {
			return false
		}
		return !optimistic || !n.IsScriptInitiated()
	}

	scripts := ScriptURLs(g, func(n *graph.Node) bool {
		return n.EndTime <= threshold && blocking(n)
	})

	return g.CloneWithRelationships(func(n *graph.Node) bool {
		if n.EndTime > threshold {
			return false
		}
		if n.IsCPU() {
			return (includeLayout && n.DidPerformLayout()) || n.IsEvaluateScriptFor(scripts)
		}
		return blocking(n)
	})
}

func requireTraceOfTab(policy, method string, traceOfTab *model.TraceOfTab) error {
	if traceOfTab == nil {
		return &ConfigurationError{Policy: policy, Method: method, Reason: "trace of tab is required"}
	}
	return nil
}
