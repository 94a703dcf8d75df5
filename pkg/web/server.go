package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/ritzau/pageload-estimator/pkg/artifacts"
	"github.com/ritzau/pageload-estimator/pkg/graph"
	"github.com/ritzau/pageload-estimator/pkg/logging"
	"github.com/ritzau/pageload-estimator/pkg/metrics"
	"github.com/ritzau/pageload-estimator/pkg/pubsub"
	"github.com/ritzau/pageload-estimator/pkg/simulator"
)

// GraphNode represents a node of a pruned metric graph
type GraphNode struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	Type         string `json:"type"`                   // "cpu" or "network"
	ResourceType string `json:"resourceType,omitempty"` // Network requests only
	Priority     string `json:"priority,omitempty"`     // Network requests only
}

// GraphEdge represents a dependency between two nodes
type GraphEdge struct {
	Source string `json:"source"` // Dependency
	Target string `json:"target"` // Dependent
}

// GraphData holds a dependency graph for visualization
type GraphData struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// NodeTiming is one simulated node window
type NodeTiming struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	URL       string  `json:"url,omitempty"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

// TraceSummary lists an estimated trace
type TraceSummary struct {
	TraceID   string             `json:"traceId"`
	Source    string             `json:"source"`
	RunID     string             `json:"runId"`
	Timings   map[string]float64 `json:"timings"`
	CreatedAt time.Time          `json:"createdAt"`
}

// Server represents the web server
type Server struct {
	router    *mux.Router
	publisher *pubsub.SSEPublisher

	mu      sync.RWMutex
	reports map[string]*artifacts.Report // trace id -> latest report
}

// NewServer creates a new web server
func NewServer() *Server {
	ssePublisher := pubsub.NewSSEPublisher()

	// estimate_status: buffer last 10 events, replay only last event to new subscribers
	ssePublisher.ConfigureTopic(pubsub.TopicEstimateStatus, pubsub.TopicConfig{
		BufferSize: 10,
		ReplayAll:  false, // Only send current state
	})

	// estimates: latest estimate of every trace, replay all so clients can catch up
	ssePublisher.ConfigureTopic(pubsub.TopicEstimates, pubsub.TopicConfig{
		BufferSize:   50,
		ReplayAll:    true,
		LatestPerKey: true,
	})

	s := &Server{
		router:    mux.NewRouter(),
		publisher: ssePublisher,
		reports:   make(map[string]*artifacts.Report),
	}
	s.setupRoutes()
	return s
}

// SetReport stores the latest report of a trace and announces it to subscribers
func (s *Server) SetReport(report *artifacts.Report) error {
	s.mu.Lock()
	s.reports[report.TraceID] = report
	s.mu.Unlock()

	timings := make(map[string]float64, len(report.Metrics))
	for _, m := range report.Metrics {
		timings[m.Metric] = m.Timing
	}
	return s.publisher.PublishKeyed(pubsub.TopicEstimates, report.TraceID, pubsub.StateComplete, pubsub.EstimateData{
		RunID:   report.RunID,
		TraceID: report.TraceID,
		Timings: timings,
	})
}

// RemoveTrace forgets the report of a trace and withdraws its buffered estimate
func (s *Server) RemoveTrace(traceID string) {
	s.mu.Lock()
	delete(s.reports, traceID)
	s.mu.Unlock()

	if err := s.publisher.Retract(pubsub.TopicEstimates, traceID); err != nil {
		logging.Debug("could not retract estimate", "trace", traceID, "error", err)
	}
}

// PublishEstimateStatus publishes an estimate status event
func (s *Server) PublishEstimateStatus(state, traceID, message string, step, total int) error {
	status := pubsub.EstimateStatus{
		State:   state,
		TraceID: traceID,
		Message: message,
		Step:    step,
		Total:   total,
	}
	return s.publisher.Publish(pubsub.TopicEstimateStatus, state, status)
}

// Handler returns the HTTP handler with request logging
func (s *Server) Handler() http.Handler {
	return logging.RequestIDMiddleware(s.router)
}

// Close shuts down all subscriptions
func (s *Server) Close() error {
	return s.publisher.Close()
}

func (s *Server) setupRoutes() {
	// SSE subscription endpoints
	s.router.HandleFunc("/api/subscribe/estimate_status", s.handleSubscribe(pubsub.TopicEstimateStatus)).Methods("GET")
	s.router.HandleFunc("/api/subscribe/estimates", s.handleSubscribe(pubsub.TopicEstimates)).Methods("GET")

	// API routes - more specific routes must come first
	s.router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/traces", s.handleTraces).Methods("GET")
	s.router.HandleFunc("/api/traces/{trace}", s.handleTrace).Methods("GET")
	s.router.HandleFunc("/api/metrics", s.handleMetrics).Methods("GET")
	s.router.HandleFunc("/api/metrics/{metric}/timings", s.handleMetricTimings).Methods("GET")
	s.router.HandleFunc("/api/metrics/{metric}/graph", s.handleMetricGraph).Methods("GET")
	s.router.HandleFunc("/api/metrics/{metric}", s.handleMetric).Methods("GET")
}

func (s *Server) handleSubscribe(topic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*") // CORS support

		// Create subscription
		sub, err := s.publisher.Subscribe(r.Context(), topic)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer sub.Close()

		// Send initial comment to establish connection (Safari compatibility)
		fmt.Fprintf(w, ": connected\n\n")
		flush(w)

		// Stream events until the client goes away
		for {
			select {
			case <-r.Context().Done():
				return
			case event, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := pubsub.WriteSSE(w, event); err != nil {
					logging.WarnContext(r.Context(), "error writing SSE event", "topic", topic, "error", err)
					return
				}
				flush(w)
			}
		}
	}
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.WarnContext(r.Context(), "error encoding response", "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	event, ok := s.publisher.Latest(pubsub.TopicEstimateStatus)
	if !ok {
		writeJSON(w, r, pubsub.EstimateStatus{State: pubsub.StateLoading, Message: "No estimates yet"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(event.Data)
}

// sortedReports returns the stored reports ordered by trace id
func (s *Server) sortedReports() []*artifacts.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := make([]*artifacts.Report, 0, len(s.reports))
	for _, report := range s.reports {
		reports = append(reports, report)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].TraceID < reports[j].TraceID
	})
	return reports
}

// report resolves the ?trace= parameter. Without it, a single stored trace is used.
func (s *Server) report(w http.ResponseWriter, r *http.Request, traceID string) (*artifacts.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if traceID == "" {
		if len(s.reports) != 1 {
			http.Error(w, "trace parameter required", http.StatusBadRequest)
			return nil, false
		}
		for _, report := range s.reports {
			return report, true
		}
	}

	report, ok := s.reports[traceID]
	if !ok {
		http.Error(w, fmt.Sprintf("Trace not found: %s", traceID), http.StatusNotFound)
		return nil, false
	}
	return report, true
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	reports := s.sortedReports()
	summaries := make([]TraceSummary, 0, len(reports))
	for _, report := range reports {
		timings := make(map[string]float64, len(report.Metrics))
		for _, m := range report.Metrics {
			timings[m.Metric] = m.Timing
		}
		summaries = append(summaries, TraceSummary{
			TraceID:   report.TraceID,
			Source:    report.Source,
			RunID:     report.RunID,
			Timings:   timings,
			CreatedAt: report.CreatedAt,
		})
	}
	writeJSON(w, r, summaries)
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	report, ok := s.report(w, r, mux.Vars(r)["trace"])
	if !ok {
		return
	}
	writeJSON(w, r, report)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if traceID := r.URL.Query().Get("trace"); traceID != "" {
		report, ok := s.report(w, r, traceID)
		if !ok {
			return
		}
		writeJSON(w, r, report.Metrics)
		return
	}
	writeJSON(w, r, s.sortedReports())
}

// metricResult resolves {metric} and ?trace= to a full result
func (s *Server) metricResult(w http.ResponseWriter, r *http.Request) (*artifacts.Report, *metrics.MetricResult, bool) {
	metric := mux.Vars(r)["metric"]
	if _, err := metrics.PolicyFor(metric); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, nil, false
	}

	report, ok := s.report(w, r, r.URL.Query().Get("trace"))
	if !ok {
		return nil, nil, false
	}
	result, ok := report.Results[metric]
	if !ok {
		http.Error(w, fmt.Sprintf("Metric %s not estimated for %s", metric, report.TraceID), http.StatusNotFound)
		return nil, nil, false
	}
	return report, result, true
}

// branch selects the optimistic or pessimistic half of a result from ?estimate=
func branch(w http.ResponseWriter, r *http.Request, result *metrics.MetricResult) (*simulator.Result, *graph.DependencyGraph, bool) {
	switch r.URL.Query().Get("estimate") {
	case "", "pessimistic":
		return result.PessimisticEstimate, result.PessimisticGraph, true
	case "optimistic":
		return result.OptimisticEstimate, result.OptimisticGraph, true
	default:
		http.Error(w, "estimate must be optimistic or pessimistic", http.StatusBadRequest)
		return nil, nil, false
	}
}

func (s *Server) handleMetric(w http.ResponseWriter, r *http.Request) {
	_, result, ok := s.metricResult(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, artifacts.Summarize(result))
}

func (s *Server) handleMetricTimings(w http.ResponseWriter, r *http.Request) {
	_, result, ok := s.metricResult(w, r)
	if !ok {
		return
	}
	estimate, _, ok := branch(w, r, result)
	if !ok {
		return
	}
	writeJSON(w, r, buildNodeTimings(estimate))
}

func (s *Server) handleMetricGraph(w http.ResponseWriter, r *http.Request) {
	_, result, ok := s.metricResult(w, r)
	if !ok {
		return
	}
	_, g, ok := branch(w, r, result)
	if !ok {
		return
	}
	writeJSON(w, r, buildGraphData(g))
}

// buildNodeTimings lists simulated windows in start order
func buildNodeTimings(result *simulator.Result) []NodeTiming {
	entries := result.Entries()
	timings := make([]NodeTiming, 0, len(entries))
	for _, e := range entries {
		t := NodeTiming{
			ID:        e.Node.ID,
			Type:      string(e.Node.Kind),
			StartTime: e.Timing.StartTime,
			EndTime:   e.Timing.EndTime,
		}
		if e.Node.Request != nil {
			t.URL = e.Node.Request.URL
		}
		timings = append(timings, t)
	}
	return timings
}

// buildGraphData creates a graph visualization of a dependency graph
func buildGraphData(g *graph.DependencyGraph) *GraphData {
	graphData := &GraphData{
		Nodes: make([]GraphNode, 0, g.Len()),
		Edges: make([]GraphEdge, 0, g.EdgeCount()),
	}

	for _, n := range g.Nodes() {
		node := GraphNode{
			ID:    n.ID,
			Label: n.ID,
			Type:  string(n.Kind),
		}
		if n.Request != nil {
			node.Label = n.Request.URL
			node.ResourceType = string(n.Request.ResourceType)
			node.Priority = string(n.Request.Priority)
		}
		graphData.Nodes = append(graphData.Nodes, node)
	}

	for _, e := range g.Edges() {
		graphData.Edges = append(graphData.Edges, GraphEdge{Source: e[0], Target: e[1]})
	}

	return graphData
}

// Start starts the web server on the specified port
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logging.Info("starting web server", "url", fmt.Sprintf("http://localhost%s", addr))
	return http.ListenAndServe(addr, s.Handler())
}
