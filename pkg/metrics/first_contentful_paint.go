package metrics

import (
	"github.com/ritzau/pageload-estimator/pkg/graph"
	"github.com/ritzau/pageload-estimator/pkg/model"
)

// FirstContentfulPaint estimates when the first text or image is painted
type FirstContentfulPaint struct {
	basePolicy
}

// NewFirstContentfulPaint creates the first contentful paint policy
func NewFirstContentfulPaint() *FirstContentfulPaint {
	return &FirstContentfulPaint{basePolicy{name: MetricFirstContentfulPaint}}
}

// Coefficients returns the blend fitted for first contentful paint
func (p *FirstContentfulPaint) Coefficients() (Coefficients, error) {
	return Coefficients{Intercept: 1440, Optimistic: -1.75, Pessimistic: 2.73}, nil
}

// OptimisticGraph keeps render-blocking requests the parser found before FCP and the
// evaluation of those scripts
func (p *FirstContentfulPaint) OptimisticGraph(g *graph.DependencyGraph, traceOfTab *model.TraceOfTab, _ Extras) (*graph.DependencyGraph, error) {
	if err := requireTraceOfTab(p.name, "OptimisticGraph", traceOfTab); err != nil {
		return nil, err
	}
	return paintGraph(g, traceOfTab.Timestamps.FirstContentfulPaint, true, false), nil
}

// PessimisticGraph also keeps script-initiated render-blocking requests
func (p *FirstContentfulPaint) PessimisticGraph(g *graph.DependencyGraph, traceOfTab *model.TraceOfTab, _ Extras) (*graph.DependencyGraph, error) {
	if err := requireTraceOfTab(p.name, "PessimisticGraph", traceOfTab); err != nil {
		return nil, err
	}
	return paintGraph(g, traceOfTab.Timestamps.FirstContentfulPaint, false, false), nil
}
