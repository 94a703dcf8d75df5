package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ritzau/pageload-estimator/pkg/cycles"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
)

// ErrMalformedGraph is matched by every MalformedGraphError
var ErrMalformedGraph = errors.New("malformed dependency graph")

// MalformedGraphError reports a dangling dependency, a cycle, or an unschedulable node
type MalformedGraphError struct {
	Reason  string
	NodeIDs []string
}

func (e *MalformedGraphError) Error() string {
	if len(e.NodeIDs) == 0 {
		return fmt.Sprintf("%v: %s", ErrMalformedGraph, e.Reason)
	}
	return fmt.Sprintf("%v: %s [%s]", ErrMalformedGraph, e.Reason, strings.Join(e.NodeIDs, ", "))
}

func (e *MalformedGraphError) Is(target error) bool {
	return target == ErrMalformedGraph
}

// DependencyGraph is an immutable DAG of page-load work rooted at the main document.
// Nodes live in an arena and refer to each other by index; derived graphs get their own arena.
type DependencyGraph struct {
	nodes []*Node
	byID  map[string]int
	root  int

	// mirror has an edge dependent -> dependency for every distinct dependency relation
	mirror *simple.DirectedGraph
}

// newDependencyGraph indexes nodes whose dependency lists are already resolved
func newDependencyGraph(nodes []*Node, root int) *DependencyGraph {
	g := &DependencyGraph{
		nodes:  nodes,
		byID:   make(map[string]int, len(nodes)),
		root:   root,
		mirror: simple.NewDirectedGraph(),
	}

	for i, n := range nodes {
		n.index = i
		n.dependents = nil
		g.byID[n.ID] = i
		g.mirror.AddNode(simple.Node(i))
	}

	for i, n := range nodes {
		for _, dep := range n.dependencies {
			nodes[dep].dependents = append(nodes[dep].dependents, i)
			if !g.mirror.HasEdgeFromTo(int64(i), int64(dep)) {
				g.mirror.SetEdge(g.mirror.NewEdge(simple.Node(i), simple.Node(dep)))
			}
		}
	}

	return g
}

// Root returns the root node (the main document request)
func (g *DependencyGraph) Root() *Node {
	return g.nodes[g.root]
}

// Len returns the number of nodes in the graph
func (g *DependencyGraph) Len() int {
	return len(g.nodes)
}

// EdgeCount returns the number of dependency edges, counting repeated edges
func (g *DependencyGraph) EdgeCount() int {
	count := 0
	for _, n := range g.nodes {
		count += len(n.dependencies)
	}
	return count
}

// Nodes returns all nodes in arena order
func (g *DependencyGraph) Nodes() []*Node {
	return append([]*Node(nil), g.nodes...)
}

// Node returns a node by ID
func (g *DependencyGraph) Node(id string) (*Node, bool) {
	idx, ok := g.byID[id]
	if !ok {
		return nil, false
	}
	return g.nodes[idx], true
}

// Contains returns true if the node belongs to this graph's arena
func (g *DependencyGraph) Contains(n *Node) bool {
	return n != nil && n.index >= 0 && n.index < len(g.nodes) && g.nodes[n.index] == n
}

// Dependencies returns the nodes n waits on, in edge order
func (g *DependencyGraph) Dependencies(n *Node) []*Node {
	deps := make([]*Node, 0, len(n.dependencies))
	for _, idx := range n.dependencies {
		deps = append(deps, g.nodes[idx])
	}
	return deps
}

// Dependents returns the nodes waiting on n
func (g *DependencyGraph) Dependents(n *Node) []*Node {
	dependents := make([]*Node, 0, len(n.dependents))
	for _, idx := range n.dependents {
		dependents = append(dependents, g.nodes[idx])
	}
	return dependents
}

// Edges returns all dependency edges as [dependency, dependent] ID pairs
func (g *DependencyGraph) Edges() [][2]string {
	var edges [][2]string
	for _, n := range g.nodes {
		for _, dep := range n.dependencies {
			edges = append(edges, [2]string{g.nodes[dep].ID, n.ID})
		}
	}
	return edges
}

// Traverse visits every node reachable from the root exactly once.
// Visit order is breadth-first from the root and is not part of the contract.
func (g *DependencyGraph) Traverse(visit func(*Node)) {
	if len(g.nodes) == 0 {
		return
	}

	visited := make([]bool, len(g.nodes))
	queue := []int{g.root}
	visited[g.root] = true

	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		visit(g.nodes[idx])

		for _, next := range g.nodes[idx].dependents {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
}

// CloneWithRelationships returns a new graph holding every node that satisfies predicate plus all of
// its transitive dependencies. Edges among kept nodes are copied verbatim. The root is always kept.
func (g *DependencyGraph) CloneWithRelationships(predicate func(*Node) bool) *DependencyGraph {
	// One DepthFirst shares its visited set across walks, so each node is expanded once
	var ancestors traverse.DepthFirst
	ancestors.Walk(g.mirror, simple.Node(g.root), nil)
	for i, n := range g.nodes {
		if !predicate(n) || ancestors.Visited(simple.Node(i)) {
			continue
		}
		ancestors.Walk(g.mirror, simple.Node(i), nil)
	}

	remap := make([]int, len(g.nodes))
	kept := make([]*Node, 0, len(g.nodes))
	for i, n := range g.nodes {
		remap[i] = -1
		if !ancestors.Visited(simple.Node(i)) {
			continue
		}
		remap[i] = len(kept)
		kept = append(kept, n.copyPayload())
	}

	for i, n := range g.nodes {
		if remap[i] < 0 {
			continue
		}
		c := kept[remap[i]]
		c.dependencies = make([]int, len(n.dependencies))
		for j, dep := range n.dependencies {
			c.dependencies[j] = remap[dep]
		}
	}

	return newDependencyGraph(kept, remap[g.root])
}

// Builder assembles a DependencyGraph and validates it on Build
type Builder struct {
	nodes []*Node
	byID  map[string]int
	edges [][2]string // dependent, dependency
}

// NewBuilder creates an empty graph builder
func NewBuilder() *Builder {
	return &Builder{
		byID: make(map[string]int),
	}
}

// AddNode adds a node. Node IDs must be unique.
func (b *Builder) AddNode(n *Node) error {
	if n.ID == "" {
		return &MalformedGraphError{Reason: "node without id"}
	}
	if _, exists := b.byID[n.ID]; exists {
		return &MalformedGraphError{Reason: "duplicate node id", NodeIDs: []string{n.ID}}
	}
	if n.Kind != KindCPU && n.Kind != KindNetwork {
		return &MalformedGraphError{Reason: fmt.Sprintf("unknown node kind %q", n.Kind), NodeIDs: []string{n.ID}}
	}
	if n.Kind == KindCPU && n.Task == nil {
		n.Task = &CPUTask{Duration: n.EndTime - n.StartTime}
	}
	if n.Kind == KindCPU && n.Task.Duration < 0 {
		return &MalformedGraphError{
			Reason:  fmt.Sprintf("cpu task has negative duration %v", n.Task.Duration),
			NodeIDs: []string{n.ID},
		}
	}
	if n.Kind == KindNetwork && n.Request == nil {
		return &MalformedGraphError{Reason: "network node without request", NodeIDs: []string{n.ID}}
	}

	b.byID[n.ID] = len(b.nodes)
	b.nodes = append(b.nodes, n)
	return nil
}

// AddDependency records that dependent cannot start before dependency completes.
// Unknown IDs are reported by Build.
func (b *Builder) AddDependency(dependentID, dependencyID string) {
	b.edges = append(b.edges, [2]string{dependentID, dependencyID})
}

// Build resolves edges and returns the graph rooted at rootID.
// Dangling dependencies, cycles, and nodes unreachable from the root are rejected.
// The graph takes ownership of the added nodes; the builder must not be reused.
func (b *Builder) Build(rootID string) (*DependencyGraph, error) {
	root, ok := b.byID[rootID]
	if !ok {
		return nil, &MalformedGraphError{Reason: "unknown root", NodeIDs: []string{rootID}}
	}

	for _, n := range b.nodes {
		n.dependencies = nil
	}

	for _, edge := range b.edges {
		dependent, ok := b.byID[edge[0]]
		if !ok {
			return nil, &MalformedGraphError{Reason: "edge from unknown node", NodeIDs: []string{edge[0]}}
		}
		dependency, ok := b.byID[edge[1]]
		if !ok {
			return nil, &MalformedGraphError{
				Reason:  fmt.Sprintf("%s depends on a node that is not in the graph", edge[0]),
				NodeIDs: []string{edge[1]},
			}
		}
		if dependent == dependency {
			return nil, &MalformedGraphError{Reason: "node depends on itself", NodeIDs: []string{edge[0]}}
		}
		b.nodes[dependent].dependencies = append(b.nodes[dependent].dependencies, dependency)
	}

	g := newDependencyGraph(b.nodes, root)

	if found := cycles.FindCycles(g.mirror); len(found) > 0 {
		ids := make([]string, 0, len(found[0]))
		for _, idx := range found[0] {
			ids = append(ids, g.nodes[int(idx)].ID)
		}
		sort.Strings(ids)
		return nil, &MalformedGraphError{
			Reason:  fmt.Sprintf("dependency cycle (%d cycles found)", len(found)),
			NodeIDs: ids,
		}
	}

	reached := make([]bool, len(g.nodes))
	g.Traverse(func(n *Node) { reached[n.index] = true })
	var unreachable []string
	for i, n := range g.nodes {
		if !reached[i] {
			unreachable = append(unreachable, n.ID)
		}
	}
	if len(unreachable) > 0 {
		return nil, &MalformedGraphError{Reason: "nodes unreachable from root", NodeIDs: unreachable}
	}

	return g, nil
}
