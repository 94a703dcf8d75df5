package model

// Trace identifies a captured page-load trace.
// Source locates the pre-parsed artifacts (a fixture path); ID is the memoization key.
type Trace struct {
	ID     string `json:"id"`
	Source string `json:"source"`
}

// DevtoolsLog identifies the protocol log captured alongside a trace
type DevtoolsLog struct {
	ID     string `json:"id"`
	Source string `json:"source"`
}

// PaintTimestamps holds paint milestones in ms from navigation start
type PaintTimestamps struct {
	FirstContentfulPaint float64 `json:"firstContentfulPaint"`
	FirstMeaningfulPaint float64 `json:"firstMeaningfulPaint"`
}

// TraceOfTab is the per-tab summary extracted from a trace
type TraceOfTab struct {
	Timestamps PaintTimestamps `json:"timestamps"`
}

// NetworkAnalysis holds per-origin network characteristics observed in the log.
// Keys are origins (scheme://host[:port]); values are ms.
type NetworkAnalysis struct {
	AdditionalRTTByOrigin      map[string]float64 `json:"additionalRttByOrigin"`
	ServerResponseTimeByOrigin map[string]float64 `json:"serverResponseTimeByOrigin"`
}
