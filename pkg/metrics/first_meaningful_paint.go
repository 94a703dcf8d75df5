package metrics

import (
	"github.com/ritzau/pageload-estimator/pkg/graph"
	"github.com/ritzau/pageload-estimator/pkg/model"
)

// FirstMeaningfulPaint estimates when the primary content is painted.
// The orchestrator keeps its timing at or after first contentful paint.
type FirstMeaningfulPaint struct {
	basePolicy
}

// NewFirstMeaningfulPaint creates the first meaningful paint policy
func NewFirstMeaningfulPaint() *FirstMeaningfulPaint {
	return &FirstMeaningfulPaint{basePolicy{name: MetricFirstMeaningfulPaint}}
}

// Coefficients returns the blend fitted for first meaningful paint
func (p *FirstMeaningfulPaint) Coefficients() (Coefficients, error) {
	return Coefficients{Intercept: 1532, Optimistic: -0.3, Pessimistic: 1.33}, nil
}

func (p *FirstMeaningfulPaint) OptimisticGraph(g *graph.DependencyGraph, traceOfTab *model.TraceOfTab, _ Extras) (*graph.DependencyGraph, error) {
	if err := requireTraceOfTab(p.name, "OptimisticGraph", traceOfTab); err != nil {
		return nil, err
	}
	return paintGraph(g, traceOfTab.Timestamps.FirstMeaningfulPaint, true, false), nil
}

// PessimisticGraph keeps every CPU task that performed layout before FMP as well
func (p *FirstMeaningfulPaint) PessimisticGraph(g *graph.DependencyGraph, traceOfTab *model.TraceOfTab, _ Extras) (*graph.DependencyGraph, error) {
	if err := requireTraceOfTab(p.name, "PessimisticGraph", traceOfTab); err != nil {
		return nil, err
	}
	return paintGraph(g, traceOfTab.Timestamps.FirstMeaningfulPaint, false, true), nil
}
