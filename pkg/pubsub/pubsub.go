package pubsub

import (
	"context"
	"encoding/json"
)

// Event represents a pub/sub event
type Event struct {
	Topic   string          `json:"topic"`         // Subscription topic (e.g., "estimate_status", "estimates")
	Type    string          `json:"type"`          // Event type (e.g., "loading", "estimating", "complete")
	Key     string          `json:"key,omitempty"` // Trace the event is about, empty for run-wide events
	Data    json.RawMessage `json:"data"`          // Event payload
	Version int             `json:"version"`       // Version number for ordering
}

// Subscription represents a client subscription to a topic
type Subscription interface {
	// Topic returns the subscription topic
	Topic() string

	// Events returns a channel for receiving events
	Events() <-chan Event

	// Close closes the subscription
	Close() error
}

// Publisher manages pub/sub subscriptions and event publishing
type Publisher interface {
	// Subscribe creates a new subscription to a topic
	// Context cancellation will close the subscription
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Publish sends an event to all subscribers of a topic
	Publish(topic string, eventType string, data any) error

	// PublishKeyed sends an event about one trace to all subscribers of a topic
	PublishKeyed(topic, key, eventType string, data any) error

	// Retract withdraws buffered events about a trace
	Retract(topic, key string) error

	// Close shuts down the publisher and all subscriptions
	Close() error
}

// Topics published by the estimator
const (
	TopicEstimateStatus = "estimate_status"
	TopicEstimates      = "estimates"
)

// Estimate status states, in the order a run goes through them
const (
	StateLoading    = "loading"
	StateEstimating = "estimating"
	StateComplete   = "complete"
	StateFailed     = "failed"
)

// EventRemoved is sent to live subscribers when a trace is retracted
const EventRemoved = "removed"

// EstimateStatus represents the progress of one estimate run
type EstimateStatus struct {
	State   string `json:"state"`   // loading, estimating, complete, failed
	TraceID string `json:"traceId"` // Trace being estimated, empty for whole-run events
	Message string `json:"message"` // Human-readable status message
	Step    int    `json:"step"`    // Current step number (1-based)
	Total   int    `json:"total"`   // Total number of steps
}

// EstimateData announces a finished estimate; the full report is served by the API
type EstimateData struct {
	RunID   string             `json:"runId"`
	TraceID string             `json:"traceId"`
	Timings map[string]float64 `json:"timings"` // Metric name -> blended timing in ms
}
