package graph

import (
	"net/url"
)

// NodeKind distinguishes the two kinds of schedulable work in a page load
type NodeKind string

const (
	KindCPU     NodeKind = "cpu"
	KindNetwork NodeKind = "network"
)

// ResourceType is the renderer's classification of a network request
type ResourceType string

const (
	ResourceDocument    ResourceType = "Document"
	ResourceStylesheet  ResourceType = "Stylesheet"
	ResourceImage       ResourceType = "Image"
	ResourceMedia       ResourceType = "Media"
	ResourceFont        ResourceType = "Font"
	ResourceScript      ResourceType = "Script"
	ResourceTextTrack   ResourceType = "TextTrack"
	ResourceXHR         ResourceType = "XHR"
	ResourceFetch       ResourceType = "Fetch"
	ResourceEventSource ResourceType = "EventSource"
	ResourceWebSocket   ResourceType = "WebSocket"
	ResourceManifest    ResourceType = "Manifest"
	ResourceOther       ResourceType = "Other"
)

// Priority is the loader priority assigned to a network request
type Priority string

const (
	PriorityVeryLow  Priority = "VeryLow"
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityVeryHigh Priority = "VeryHigh"
)

// Rank orders priorities from lowest (0) to highest. Unknown priorities rank below VeryLow.
func (p Priority) Rank() int {
	switch p {
	case PriorityVeryLow:
		return 1
	case PriorityLow:
		return 2
	case PriorityMedium:
		return 3
	case PriorityHigh:
		return 4
	case PriorityVeryHigh:
		return 5
	default:
		return 0
	}
}

// Child event names recorded under a CPU task
const (
	EventEvaluateScript = "EvaluateScript"
	EventLayout         = "Layout"
)

// InitiatorScript marks a request started by script rather than the parser
const InitiatorScript = "script"

// TaskEvent is a trace event nested inside a top-level CPU task
type TaskEvent struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// CPUTask holds the trace data of a main-thread task
type CPUTask struct {
	Duration float64     `json:"duration"` // Observed wall-clock duration in ms
	Events   []TaskEvent `json:"events,omitempty"`
}

// NetworkRequest holds the network record of a request
type NetworkRequest struct {
	URL           string       `json:"url"`
	ResourceType  ResourceType `json:"resourceType"`
	Priority      Priority     `json:"priority"`
	InitiatorType string       `json:"initiatorType"`
	TransferSize  float64      `json:"transferSize"` // Bytes on the wire
	ConnectionID  string       `json:"connectionId,omitempty"`
}

// Origin returns scheme://host[:port] of the request URL, or the raw URL if it cannot be parsed
func (r *NetworkRequest) Origin() string {
	u, err := url.Parse(r.URL)
	if err != nil || u.Host == "" {
		return r.URL
	}
	return u.Scheme + "://" + u.Host
}

// IsSecure returns true if a new connection for this request needs a TLS handshake
func (r *NetworkRequest) IsSecure() bool {
	u, err := url.Parse(r.URL)
	if err != nil {
		return false
	}
	return u.Scheme == "https" || u.Scheme == "wss"
}

// Node is one unit of work in a DependencyGraph.
// Nodes are owned by exactly one graph; dependency edges are stored as indices into that graph.
type Node struct {
	ID   string
	Kind NodeKind

	// Times in the original trace, ms from navigation start. Used for pruning and ordering only.
	StartTime float64
	EndTime   float64

	Task    *CPUTask        // Set for KindCPU
	Request *NetworkRequest // Set for KindNetwork

	index        int
	dependencies []int
	dependents   []int
}

// Index returns the node's position in its graph's arena
func (n *Node) Index() int {
	return n.index
}

// IsCPU returns true for main-thread tasks
func (n *Node) IsCPU() bool {
	return n.Kind == KindCPU
}

// IsNetwork returns true for network requests
func (n *Node) IsNetwork() bool {
	return n.Kind == KindNetwork
}

// Duration returns the observed duration of a CPU task, or the original-trace span for requests
func (n *Node) Duration() float64 {
	if n.Task != nil {
		return n.Task.Duration
	}
	return n.EndTime - n.StartTime
}

// IsEvaluateScriptFor returns true if this CPU task evaluated one of the given script URLs
func (n *Node) IsEvaluateScriptFor(urls map[string]struct{}) bool {
	if n.Task == nil {
		return false
	}
	for _, evt := range n.Task.Events {
		if evt.Name != EventEvaluateScript {
			continue
		}
		if _, ok := urls[evt.URL]; ok {
			return true
		}
	}
	return false
}

// DidPerformLayout returns true if this CPU task ran a layout
func (n *Node) DidPerformLayout() bool {
	if n.Task == nil {
		return false
	}
	for _, evt := range n.Task.Events {
		if evt.Name == EventLayout {
			return true
		}
	}
	return false
}

// HasRenderBlockingPriority returns true for VeryHigh requests and High priority scripts
func (n *Node) HasRenderBlockingPriority() bool {
	if n.Request == nil {
		return false
	}
	switch n.Request.Priority {
	case PriorityVeryHigh:
		return true
	case PriorityHigh:
		return n.Request.ResourceType == ResourceScript
	}
	return false
}

// IsScriptInitiated returns true for requests started by script
func (n *Node) IsScriptInitiated() bool {
	return n.Request != nil && n.Request.InitiatorType == InitiatorScript
}

// HasResourceType returns true for network requests of the given type
func (n *Node) HasResourceType(t ResourceType) bool {
	return n.Request != nil && n.Request.ResourceType == t
}

// copyPayload returns a detached copy of the node without graph relationships
func (n *Node) copyPayload() *Node {
	c := &Node{
		ID:        n.ID,
		Kind:      n.Kind,
		StartTime: n.StartTime,
		EndTime:   n.EndTime,
	}
	if n.Task != nil {
		task := *n.Task
		task.Events = append([]TaskEvent(nil), n.Task.Events...)
		c.Task = &task
	}
	if n.Request != nil {
		req := *n.Request
		c.Request = &req
	}
	return c
}
