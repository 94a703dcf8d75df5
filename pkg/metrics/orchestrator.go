package metrics

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ritzau/pageload-estimator/pkg/graph"
	"github.com/ritzau/pageload-estimator/pkg/logging"
	"github.com/ritzau/pageload-estimator/pkg/model"
	"github.com/ritzau/pageload-estimator/pkg/simulator"
)

// Data identifies the captured page load a metric is computed for
type Data struct {
	Trace       *model.Trace
	DevtoolsLog *model.DevtoolsLog
}

// Artifacts provides the inputs the estimator does not compute itself.
// Implementations may memoize; RequestFirst* calls normally route back into an Estimator.
type Artifacts interface {
	RequestPageDependencyGraph(ctx context.Context, data Data) (*graph.DependencyGraph, error)
	RequestTraceOfTab(ctx context.Context, trace *model.Trace) (*model.TraceOfTab, error)
	RequestNetworkAnalysis(ctx context.Context, log *model.DevtoolsLog) (*model.NetworkAnalysis, error)
	RequestFirstContentfulPaint(ctx context.Context, data Data) (*MetricResult, error)
	RequestFirstMeaningfulPaint(ctx context.Context, data Data) (*MetricResult, error)
}

// MetricResult is the outcome of one metric computation.
// The estimates hold the adjusted times; their node timings are the raw simulation output.
type MetricResult struct {
	Metric              string
	Timing              float64
	OptimisticEstimate  *simulator.Result
	PessimisticEstimate *simulator.Result
	OptimisticGraph     *graph.DependencyGraph
	PessimisticGraph    *graph.DependencyGraph
}

// Estimator computes metrics with a fixed set of simulation defaults.
// It holds no per-trace state and is safe for concurrent use.
type Estimator struct {
	options simulator.Options
}

// NewEstimator creates an estimator; per-origin maps in defaults are replaced by network analysis
func NewEstimator(defaults simulator.Options) *Estimator {
	return &Estimator{options: defaults.WithDefaults()}
}

// Options returns the simulation defaults
func (e *Estimator) Options() simulator.Options {
	return e.options
}

// Compute runs the named metric
func (e *Estimator) Compute(ctx context.Context, metric string, data Data, artifacts Artifacts) (*MetricResult, error) {
	switch metric {
	case MetricFirstContentfulPaint:
		return e.FirstContentfulPaint(ctx, data, artifacts)
	case MetricFirstMeaningfulPaint:
		return e.FirstMeaningfulPaint(ctx, data, artifacts)
	case MetricConsistentlyInteractive:
		return e.ConsistentlyInteractive(ctx, data, artifacts)
	default:
		return nil, fmt.Errorf("unknown metric %q", metric)
	}
}

// FirstContentfulPaint estimates first contentful paint
func (e *Estimator) FirstContentfulPaint(ctx context.Context, data Data, artifacts Artifacts) (*MetricResult, error) {
	return e.ComputeMetricWithGraphs(ctx, NewFirstContentfulPaint(), data, artifacts, Extras{})
}

// FirstMeaningfulPaint estimates first meaningful paint, never earlier than first contentful paint
func (e *Estimator) FirstMeaningfulPaint(ctx context.Context, data Data, artifacts Artifacts) (*MetricResult, error) {
	fcp, err := artifacts.RequestFirstContentfulPaint(ctx, data)
	if err != nil {
		return nil, err
	}

	result, err := e.ComputeMetricWithGraphs(ctx, NewFirstMeaningfulPaint(), data, artifacts, Extras{})
	if err != nil {
		return nil, err
	}
	result.Timing = math.Max(result.Timing, fcp.Timing)
	return result, nil
}

// ConsistentlyInteractive estimates time to interactive, never earlier than first meaningful paint
func (e *Estimator) ConsistentlyInteractive(ctx context.Context, data Data, artifacts Artifacts) (*MetricResult, error) {
	fmp, err := artifacts.RequestFirstMeaningfulPaint(ctx, data)
	if err != nil {
		return nil, err
	}

	result, err := e.ComputeMetricWithGraphs(ctx, NewConsistentlyInteractive(), data, artifacts, Extras{FMPResult: fmp})
	if err != nil {
		return nil, err
	}
	result.Timing = math.Max(result.Timing, fmp.Timing)
	return result, nil
}

// ComputeMetricWithGraphs prunes, simulates, adjusts, and blends one metric.
// The first failure is returned; there is no partial result.
func (e *Estimator) ComputeMetricWithGraphs(ctx context.Context, policy Policy, data Data, artifacts Artifacts, extras Extras) (*MetricResult, error) {
	name := policy.Name()

	coefficients, err := policy.Coefficients()
	if err != nil {
		return nil, err
	}

	pageGraph, err := artifacts.RequestPageDependencyGraph(ctx, data)
	if err != nil {
		return nil, &CollaboratorError{Artifact: "page dependency graph", Err: err}
	}
	if pageGraph == nil {
		return nil, &CollaboratorError{Artifact: "page dependency graph", Err: errors.New("provider returned no graph")}
	}

	traceOfTab, err := artifacts.RequestTraceOfTab(ctx, data.Trace)
	if err != nil {
		return nil, &CollaboratorError{Artifact: "trace of tab", Err: err}
	}

	analysis, err := artifacts.RequestNetworkAnalysis(ctx, data.DevtoolsLog)
	if err != nil {
		return nil, &CollaboratorError{Artifact: "network analysis", Err: err}
	}
	if analysis == nil {
		analysis = &model.NetworkAnalysis{}
	}

	optimisticGraph, err := policy.OptimisticGraph(pageGraph, traceOfTab, extras)
	if err != nil {
		return nil, err
	}
	pessimisticGraph, err := policy.PessimisticGraph(pageGraph, traceOfTab, extras)
	if err != nil {
		return nil, err
	}

	options := e.options.WithNetworkAnalysis(analysis.AdditionalRTTByOrigin, analysis.ServerResponseTimeByOrigin)

	optimistic, err := e.estimate(policy, optimisticGraph, options, extras, true)
	if err != nil {
		return nil, err
	}
	pessimistic, err := e.estimate(policy, pessimisticGraph, options, extras, false)
	if err != nil {
		return nil, err
	}

	timing := coefficients.Blend(optimistic.TimeInMs, pessimistic.TimeInMs)

	logging.DebugContext(ctx, "metric estimated",
		"metric", name,
		"timing", timing,
		"optimistic", optimistic.TimeInMs,
		"pessimistic", pessimistic.TimeInMs,
		"optimisticNodes", optimisticGraph.Len(),
		"pessimisticNodes", pessimisticGraph.Len(),
	)

	return &MetricResult{
		Metric:              name,
		Timing:              timing,
		OptimisticEstimate:  optimistic,
		PessimisticEstimate: pessimistic,
		OptimisticGraph:     optimisticGraph,
		PessimisticGraph:    pessimisticGraph,
	}, nil
}

// estimate simulates g and returns a result carrying the policy-adjusted time
func (e *Estimator) estimate(policy Policy, g *graph.DependencyGraph, options simulator.Options, extras Extras, optimistic bool) (*simulator.Result, error) {
	branch := "pessimistic"
	if optimistic {
		branch = "optimistic"
	}

	raw, err := simulator.New(g, options).Simulate()
	if err != nil {
		return nil, fmt.Errorf("simulating %s %s graph: %w", branch, policy.Name(), err)
	}

	extras.Optimistic = optimistic
	adjusted, err := policy.AdjustEstimate(raw, extras)
	if err != nil {
		return nil, err
	}

	return &simulator.Result{TimeInMs: adjusted, NodeTiming: raw.NodeTiming}, nil
}
