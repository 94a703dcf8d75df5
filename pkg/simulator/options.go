package simulator

// Defaults for the simulated network and CPU. They are calibration points, not measurements.
const (
	DefaultRTT                     = 150.0       // ms
	DefaultThroughput              = 1600 * 1024 // bits per second
	DefaultServerResponseTime      = 30.0        // ms
	DefaultMaxConnectionsPerOrigin = 6
	DefaultMaxConcurrentRequests   = 10
	DefaultCPUTaskMultiplier       = 1.0
)

// Options configures a simulation run
type Options struct {
	// Per-origin parameters from network analysis, keyed by scheme://host[:port]
	AdditionalRTTByOrigin      map[string]float64
	ServerResponseTimeByOrigin map[string]float64

	RTT                        float64 // Base round trip time in ms
	Throughput                 float64 // Shared bandwidth in bits per second
	FallbackServerResponseTime float64 // Used for origins missing from ServerResponseTimeByOrigin
	MaxConnectionsPerOrigin    int
	MaxConcurrentRequests      int
	CPUTaskMultiplier          float64 // Scales observed CPU task durations

	// ServerResponseTimeSet marks FallbackServerResponseTime as configured, so 0 is kept
	ServerResponseTimeSet bool
}

// DefaultOptions returns options with every tunable set to its default
func DefaultOptions() Options {
	return Options{
		RTT:                        DefaultRTT,
		Throughput:                 DefaultThroughput,
		FallbackServerResponseTime: DefaultServerResponseTime,
		MaxConnectionsPerOrigin:    DefaultMaxConnectionsPerOrigin,
		MaxConcurrentRequests:      DefaultMaxConcurrentRequests,
		CPUTaskMultiplier:          DefaultCPUTaskMultiplier,
	}
}

// WithDefaults returns a copy of o where non-positive tunables take their defaults.
// A zero server response time is kept when ServerResponseTimeSet is true.
// Per-origin entries are used as given, including zeros.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.RTT <= 0 {
		o.RTT = d.RTT
	}
	if o.Throughput <= 0 {
		o.Throughput = d.Throughput
	}
	if o.FallbackServerResponseTime < 0 || (o.FallbackServerResponseTime == 0 && !o.ServerResponseTimeSet) {
		o.FallbackServerResponseTime = d.FallbackServerResponseTime
	}
	if o.MaxConnectionsPerOrigin <= 0 {
		o.MaxConnectionsPerOrigin = d.MaxConnectionsPerOrigin
	}
	if o.MaxConcurrentRequests <= 0 {
		o.MaxConcurrentRequests = d.MaxConcurrentRequests
	}
	if o.CPUTaskMultiplier <= 0 {
		o.CPUTaskMultiplier = d.CPUTaskMultiplier
	}
	return o
}

// WithNetworkAnalysis returns a copy of o using the given per-origin parameters
func (o Options) WithNetworkAnalysis(additionalRTT, serverResponseTime map[string]float64) Options {
	o.AdditionalRTTByOrigin = additionalRTT
	o.ServerResponseTimeByOrigin = serverResponseTime
	return o
}

func (o Options) originRTT(origin string) float64 {
	return o.RTT + o.AdditionalRTTByOrigin[origin]
}

func (o Options) serverResponseTime(origin string) float64 {
	if t, ok := o.ServerResponseTimeByOrigin[origin]; ok {
		return t
	}
	return o.FallbackServerResponseTime
}

// bytesPerMs converts the shared throughput into bytes per simulated millisecond
func (o Options) bytesPerMs() float64 {
	return o.Throughput / 8 / 1000
}
