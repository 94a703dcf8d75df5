package simulator

import (
	"fmt"
	"math"
	"sort"

	"github.com/ritzau/pageload-estimator/pkg/graph"
	"github.com/ritzau/pageload-estimator/pkg/logging"
)

// completionEpsilon absorbs float rounding when deciding which nodes finish at a step
const completionEpsilon = 1e-6

// Timing is the simulated execution window of one node, in ms from navigation start
type Timing struct {
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

// Duration returns the simulated duration
func (t Timing) Duration() float64 {
	return t.EndTime - t.StartTime
}

// Result is the outcome of one simulation run. It is not modified after Simulate returns.
type Result struct {
	TimeInMs   float64
	NodeTiming map[*graph.Node]Timing
}

// TimingEntry pairs a node with its simulated timing
type TimingEntry struct {
	Node   *graph.Node
	Timing Timing
}

// Entries returns node timings ordered by simulated start time, then end time, then node ID
func (r *Result) Entries() []TimingEntry {
	entries := make([]TimingEntry, 0, len(r.NodeTiming))
	for node, timing := range r.NodeTiming {
		entries = append(entries, TimingEntry{Node: node, Timing: timing})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Timing.StartTime != b.Timing.StartTime {
			return a.Timing.StartTime < b.Timing.StartTime
		}
		if a.Timing.EndTime != b.Timing.EndTime {
			return a.Timing.EndTime < b.Timing.EndTime
		}
		return a.Node.ID < b.Node.ID
	})
	return entries
}

// nodeState tracks one node while the simulation runs
type nodeState struct {
	node        *graph.Node
	pendingDeps int
	start       float64

	// CPU
	cpuRemaining float64

	// Network
	conn             *connection
	latencyRemaining float64
	bytesRemaining   float64
}

// Simulator schedules a dependency graph against a single CPU and a shared network.
// It holds no state between runs.
type Simulator struct {
	graph   *graph.DependencyGraph
	options Options
}

// New creates a simulator for g. Non-positive tunables in opts take their defaults.
func New(g *graph.DependencyGraph, opts Options) *Simulator {
	return &Simulator{
		graph:   g,
		options: opts.WithDefaults(),
	}
}

// run holds the mutable state of a single Simulate call
type run struct {
	opts  Options
	pool  *connectionPool
	clock float64

	ready    []*nodeState
	cpu      *nodeState
	inFlight []*nodeState
	timing   map[*graph.Node]Timing
}

// Simulate runs the discrete-event simulation and returns per-node timings.
// A graph that cannot be scheduled yields a *graph.MalformedGraphError and no result.
func (s *Simulator) Simulate() (*Result, error) {
	if s.graph == nil || s.graph.Len() == 0 {
		return nil, &graph.MalformedGraphError{Reason: "cannot simulate an empty graph"}
	}

	nodes := s.graph.Nodes()
	states := make(map[*graph.Node]*nodeState, len(nodes))
	for _, n := range nodes {
		deps := s.graph.Dependencies(n)
		for _, dep := range deps {
			if !s.graph.Contains(dep) {
				return nil, &graph.MalformedGraphError{
					Reason:  fmt.Sprintf("%s depends on a node that is not in the graph", n.ID),
					NodeIDs: []string{dep.ID},
				}
			}
		}
		states[n] = &nodeState{node: n, pendingDeps: len(deps)}
	}

	r := &run{
		opts:   s.options,
		pool:   newConnectionPool(s.options.MaxConnectionsPerOrigin),
		timing: make(map[*graph.Node]Timing, len(nodes)),
	}
	for _, n := range nodes {
		if states[n].pendingDeps == 0 {
			r.ready = append(r.ready, states[n])
		}
	}

	completed := 0
	for iteration := 0; completed < len(nodes); iteration++ {
		// Every step finishes at least one node
		if iteration > len(nodes) {
			return nil, &graph.MalformedGraphError{Reason: "simulation depth exceeded"}
		}

		r.startReadyNodes()
		if r.cpu == nil && len(r.inFlight) == 0 {
			return nil, &graph.MalformedGraphError{
				Reason:  "simulation stalled with unscheduled nodes",
				NodeIDs: pendingIDs(states, r.timing),
			}
		}

		step := r.nextCompletion()
		if math.IsInf(step, 0) || math.IsNaN(step) || step < 0 {
			return nil, &graph.MalformedGraphError{Reason: fmt.Sprintf("invalid simulation step %v", step)}
		}

		finished := r.advance(step)
		for _, st := range finished {
			for _, dependent := range s.graph.Dependents(st.node) {
				ds := states[dependent]
				ds.pendingDeps--
				if ds.pendingDeps == 0 {
					r.ready = append(r.ready, ds)
				}
			}
		}
		completed += len(finished)
	}

	result := &Result{NodeTiming: r.timing}
	for _, t := range r.timing {
		result.TimeInMs = math.Max(result.TimeInMs, t.EndTime)
	}

	logging.Trace("simulation complete",
		"nodes", len(nodes),
		"timeInMs", result.TimeInMs,
	)

	return result, nil
}

// startReadyNodes admits ready nodes in queue order while resources allow
func (r *run) startReadyNodes() {
	sort.SliceStable(r.ready, func(i, j int) bool {
		return readyBefore(r.ready[i].node, r.ready[j].node)
	})

	waiting := r.ready[:0]
	for _, st := range r.ready {
		if !r.tryStart(st) {
			waiting = append(waiting, st)
		}
	}
	r.ready = waiting
}

// readyBefore orders the ready queue: original-trace start, then priority, then ID
func readyBefore(a, b *graph.Node) bool {
	if a.StartTime != b.StartTime {
		return a.StartTime < b.StartTime
	}
	if pa, pb := priorityRank(a), priorityRank(b); pa != pb {
		return pa > pb
	}
	return a.ID < b.ID
}

func priorityRank(n *graph.Node) int {
	if n.Request == nil {
		return 0
	}
	return n.Request.Priority.Rank()
}

func (r *run) tryStart(st *nodeState) bool {
	n := st.node

	if n.IsCPU() {
		if r.cpu != nil {
			return false
		}
		st.start = r.clock
		st.cpuRemaining = n.Task.Duration * r.opts.CPUTaskMultiplier
		r.cpu = st
		return true
	}

	if len(r.inFlight) >= r.opts.MaxConcurrentRequests {
		return false
	}
	conn := r.pool.acquire(n.Request)
	if conn == nil {
		return false
	}

	origin := n.Request.Origin()
	st.start = r.clock
	st.conn = conn
	st.latencyRemaining = conn.setupRTTs(n.Request.IsSecure())*r.opts.originRTT(origin) +
		r.opts.serverResponseTime(origin)
	st.bytesRemaining = math.Max(n.Request.TransferSize, 0)
	r.inFlight = append(r.inFlight, st)
	return true
}

// bytesPerMsPerRequest splits the shared bandwidth evenly among in-flight requests
func (r *run) bytesPerMsPerRequest() float64 {
	if len(r.inFlight) == 0 {
		return 0
	}
	return r.opts.bytesPerMs() / float64(len(r.inFlight))
}

func (r *run) remaining(st *nodeState, rate float64) float64 {
	if st.node.IsCPU() {
		return st.cpuRemaining
	}
	if st.bytesRemaining == 0 {
		return st.latencyRemaining
	}
	return st.latencyRemaining + st.bytesRemaining/rate
}

// nextCompletion returns the time until the next running node finishes
func (r *run) nextCompletion() float64 {
	step := math.Inf(1)
	if r.cpu != nil {
		step = r.cpu.cpuRemaining
	}
	rate := r.bytesPerMsPerRequest()
	for _, st := range r.inFlight {
		step = math.Min(step, r.remaining(st, rate))
	}
	return step
}

// advance moves the clock forward by step and returns the nodes that finished, CPU first
func (r *run) advance(step float64) []*nodeState {
	rate := r.bytesPerMsPerRequest()
	r.clock += step

	var finished []*nodeState

	if r.cpu != nil {
		if r.cpu.cpuRemaining-step <= completionEpsilon {
			finished = append(finished, r.cpu)
			r.complete(r.cpu)
			r.cpu = nil
		} else {
			r.cpu.cpuRemaining -= step
		}
	}

	stillRunning := r.inFlight[:0]
	var done []*nodeState
	for _, st := range r.inFlight {
		if r.remaining(st, rate)-step <= completionEpsilon {
			done = append(done, st)
			continue
		}
		elapsed := step
		if st.latencyRemaining > 0 {
			used := math.Min(st.latencyRemaining, elapsed)
			st.latencyRemaining -= used
			elapsed -= used
		}
		st.bytesRemaining = math.Max(st.bytesRemaining-elapsed*rate, 0)
		stillRunning = append(stillRunning, st)
	}
	r.inFlight = stillRunning

	for _, st := range done {
		r.pool.release(st.conn)
		r.complete(st)
		finished = append(finished, st)
	}

	return finished
}

func (r *run) complete(st *nodeState) {
	r.timing[st.node] = Timing{StartTime: st.start, EndTime: r.clock}
}

func pendingIDs(states map[*graph.Node]*nodeState, timing map[*graph.Node]Timing) []string {
	var ids []string
	for n := range states {
		if _, done := timing[n]; !done {
			ids = append(ids, n.ID)
		}
	}
	sort.Strings(ids)
	return ids
}
