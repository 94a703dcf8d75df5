package artifacts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ritzau/pageload-estimator/pkg/logging"
	"github.com/ritzau/pageload-estimator/pkg/metrics"
)

// MetricSummary is the serializable part of a metric result
type MetricSummary struct {
	Metric           string  `json:"metric"`
	Timing           float64 `json:"timing"`
	Optimistic       float64 `json:"optimistic"`
	Pessimistic      float64 `json:"pessimistic"`
	OptimisticNodes  int     `json:"optimisticNodes"`
	PessimisticNodes int     `json:"pessimisticNodes"`
}

// Report holds every metric estimated for one trace
type Report struct {
	RunID      string          `json:"runId"`
	TraceID    string          `json:"traceId"`
	Source     string          `json:"source"`
	Metrics    []MetricSummary `json:"metrics"`
	DurationMs float64         `json:"durationMs"`
	CreatedAt  time.Time       `json:"createdAt"`

	// Results holds the full results keyed by metric name
	Results map[string]*metrics.MetricResult `json:"-"`
}

// Metric returns the summary of a metric
func (r *Report) Metric(name string) (MetricSummary, bool) {
	for _, m := range r.Metrics {
		if m.Metric == name {
			return m, true
		}
	}
	return MetricSummary{}, false
}

// Summarize extracts the serializable fields of a metric result
func Summarize(result *metrics.MetricResult) MetricSummary {
	return MetricSummary{
		Metric:           result.Metric,
		Timing:           result.Timing,
		Optimistic:       result.OptimisticEstimate.TimeInMs,
		Pessimistic:      result.PessimisticEstimate.TimeInMs,
		OptimisticNodes:  result.OptimisticGraph.Len(),
		PessimisticNodes: result.PessimisticGraph.Len(),
	}
}

// Estimate computes every metric for data, in dependency order
func Estimate(ctx context.Context, p *Provider, data metrics.Data) (*Report, error) {
	if data.Trace == nil {
		return nil, fmt.Errorf("estimate requires a trace")
	}

	runID := uuid.New().String()
	ctx = logging.WithRequestID(ctx, runID)
	start := time.Now()

	report := &Report{
		RunID:     runID,
		TraceID:   data.Trace.ID,
		Source:    data.Trace.Source,
		CreatedAt: start,
		Results:   make(map[string]*metrics.MetricResult),
	}

	for _, metric := range metrics.Metrics() {
		result, err := p.RequestMetric(ctx, metric, data)
		if err != nil {
			return nil, fmt.Errorf("%s for %s: %w", metric, data.Trace.ID, err)
		}
		report.Results[metric] = result
		report.Metrics = append(report.Metrics, Summarize(result))
	}

	report.DurationMs = float64(time.Since(start).Microseconds()) / 1000
	logging.InfoContext(ctx, "estimated trace",
		"trace", report.TraceID,
		"durationMs", report.DurationMs,
	)
	return report, nil
}
