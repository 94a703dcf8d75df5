package metrics

import (
	"math"

	"github.com/ritzau/pageload-estimator/pkg/graph"
	"github.com/ritzau/pageload-estimator/pkg/model"
	"github.com/ritzau/pageload-estimator/pkg/simulator"
)

const (
	// CriticalLongTaskThreshold is the shortest CPU task, in ms, that can become a long task on mobile
	CriticalLongTaskThreshold = 20.0

	// DefaultLongTaskThreshold is the simulated duration, in ms, above which a task blocks interactivity
	DefaultLongTaskThreshold = 50.0
)

// ConsistentlyInteractive estimates time to interactive: when the main thread has been
// quiet after the last long task. The orchestrator keeps it at or after first meaningful paint.
type ConsistentlyInteractive struct {
	basePolicy
}

// NewConsistentlyInteractive creates the time to interactive policy
func NewConsistentlyInteractive() *ConsistentlyInteractive {
	return &ConsistentlyInteractive{basePolicy{name: MetricConsistentlyInteractive}}
}

// Coefficients weights the optimistic estimate above the pessimistic one
func (p *ConsistentlyInteractive) Coefficients() (Coefficients, error) {
	return Coefficients{Intercept: 1582, Optimistic: 0.97, Pessimistic: 0.49}, nil
}

// OptimisticGraph keeps potential long tasks, scripts, and high priority non-image requests
func (p *ConsistentlyInteractive) OptimisticGraph(g *graph.DependencyGraph, _ *model.TraceOfTab, _ Extras) (*graph.DependencyGraph, error) {
	return g.CloneWithRelationships(func(n *graph.Node) bool {
		if n.IsCPU() {
			return n.Task.Duration > CriticalLongTaskThreshold
		}
		if n.HasResourceType(graph.ResourceImage) {
			return false
		}
		priority := n.Request.Priority
		return n.HasResourceType(graph.ResourceScript) ||
			priority == graph.PriorityHigh ||
			priority == graph.PriorityVeryHigh
	}), nil
}

// PessimisticGraph is the whole page graph
func (p *ConsistentlyInteractive) PessimisticGraph(g *graph.DependencyGraph, _ *model.TraceOfTab, _ Extras) (*graph.DependencyGraph, error) {
	return g, nil
}

// AdjustEstimate returns the end of the last long task, but never earlier than the
// matching first meaningful paint estimate
func (p *ConsistentlyInteractive) AdjustEstimate(result *simulator.Result, extras Extras) (float64, error) {
	fmp := extras.FMPResult
	if fmp == nil || fmp.OptimisticEstimate == nil || fmp.PessimisticEstimate == nil {
		return 0, &ConfigurationError{
			Policy: p.name,
			Method: "AdjustEstimate",
			Reason: "first meaningful paint result is required",
		}
	}

	floor := fmp.PessimisticEstimate.TimeInMs
	if extras.Optimistic {
		floor = fmp.OptimisticEstimate.TimeInMs
	}

	return math.Max(LastLongTaskEndTime(result.NodeTiming, DefaultLongTaskThreshold), floor), nil
}

// LastLongTaskEndTime returns the latest simulated end of a CPU task that ran longer than
// threshold ms, or 0 if there is none
func LastLongTaskEndTime(nodeTiming map[*graph.Node]simulator.Timing, threshold float64) float64 {
	last := 0.0
	for node, timing := range nodeTiming {
		if !node.IsCPU() || timing.Duration() <= threshold {
			continue
		}
		last = math.Max(last, timing.EndTime)
	}
	return last
}
