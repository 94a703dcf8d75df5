package output

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/ritzau/pageload-estimator/pkg/artifacts"
	"github.com/ritzau/pageload-estimator/pkg/metrics"
)

// Timing bands for coloring, in ms
const (
	fastThreshold = 2000.0
	slowThreshold = 5000.0
)

// PrintEstimateReport prints a nicely formatted estimate report with colors
func PrintEstimateReport(w io.Writer, report *artifacts.Report) {
	// Color definitions
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan)
	faint := color.New(color.Faint)

	// Header
	bold.Fprintf(w, "Page Load Estimate - %s\n", report.TraceID)
	bold.Fprintln(w, "=====================================")
	if report.Source != "" {
		fmt.Fprintf(w, "Source: %s\n", report.Source)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  %-24s %10s %12s %12s %9s\n", "Metric", "Estimate", "Optimistic", "Pessimistic", "Nodes")
	for _, m := range report.Metrics {
		cyan.Fprintf(w, "  %-24s ", m.Metric)
		timingColor(m.Timing).Fprintf(w, "%8.0fms", m.Timing)
		fmt.Fprintf(w, " %10.0fms %10.0fms %4d/%-4d\n", m.Optimistic, m.Pessimistic, m.OptimisticNodes, m.PessimisticNodes)
	}
	fmt.Fprintln(w)

	// Summary line uses time to interactive when available
	if tti, ok := report.Metric(metrics.MetricConsistentlyInteractive); ok {
		c := timingColor(tti.Timing)
		c.Fprintf(w, "Summary: interactive after %.1fs\n", tti.Timing/1000)
		if tti.Timing < fastThreshold {
			c.Fprintln(w, "✓ Page is interactive within the fast band")
		}
	}
	faint.Fprintf(w, "Estimated in %.1fms (run %s)\n", report.DurationMs, shortID(report.RunID))
}

func timingColor(ms float64) *color.Color {
	switch {
	case ms < fastThreshold:
		return color.New(color.FgGreen)
	case ms < slowThreshold:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// PrintError prints a failed estimate for a fixture
func PrintError(w io.Writer, path string, err error) {
	red := color.New(color.FgRed)
	red.Fprintf(w, "✗ %s: %v\n", path, err)
}
