package simulator

import (
	"github.com/ritzau/pageload-estimator/pkg/graph"
)

// connection is one simulated TCP connection to an origin
type connection struct {
	origin string
	warm   bool // Handshake already paid by an earlier request
	inUse  bool
}

// setupRTTs returns how many round trips a request pays before the server sees it
func (c *connection) setupRTTs(secure bool) float64 {
	switch {
	case c.warm:
		return 1
	case secure:
		return 3 // TCP handshake, TLS handshake, request
	default:
		return 2 // TCP handshake, request
	}
}

// connectionPool hands out per-origin connections up to a fixed limit per origin
type connectionPool struct {
	maxPerOrigin int
	byOrigin     map[string][]*connection
	pinned       map[string]*connection // Recorded connection IDs from the trace
}

func newConnectionPool(maxPerOrigin int) *connectionPool {
	return &connectionPool{
		maxPerOrigin: maxPerOrigin,
		byOrigin:     make(map[string][]*connection),
		pinned:       make(map[string]*connection),
	}
}

// acquire returns an idle connection for req, opening a new one if the origin has room.
// It returns nil only while every connection the request may use is busy.
func (p *connectionPool) acquire(req *graph.NetworkRequest) *connection {
	origin := req.Origin()

	if req.ConnectionID != "" {
		if c, ok := p.pinned[req.ConnectionID]; ok {
			if c.inUse {
				return nil
			}
			c.inUse = true
			return c
		}
		// A recorded connection not seen before gets its own connection. At the origin
		// limit it takes over an idle one instead, which is already warm.
		c := p.open(origin)
		if c == nil {
			c = p.idle(origin)
		}
		if c != nil {
			p.pinned[req.ConnectionID] = c
		}
		return c
	}

	// Prefer warm connections; idle ones are always warm since they served a request
	if c := p.idle(origin); c != nil {
		return c
	}
	return p.open(origin)
}

// idle claims the first connection to origin that is not in use
func (p *connectionPool) idle(origin string) *connection {
	for _, c := range p.byOrigin[origin] {
		if !c.inUse {
			c.inUse = true
			return c
		}
	}
	return nil
}

// open starts a cold connection unless the origin already has maxPerOrigin of them
func (p *connectionPool) open(origin string) *connection {
	if len(p.byOrigin[origin]) >= p.maxPerOrigin {
		return nil
	}
	c := &connection{origin: origin, inUse: true}
	p.byOrigin[origin] = append(p.byOrigin[origin], c)
	return c
}

func (p *connectionPool) release(c *connection) {
	c.inUse = false
	c.warm = true
}
