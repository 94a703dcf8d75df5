package graph

import (
	"errors"
	"testing"
)

func networkNode(id, url string, rt ResourceType, p Priority) *Node {
	return &Node{
		ID:   id,
		Kind: KindNetwork,
		Request: &NetworkRequest{
			URL:           url,
			ResourceType:  rt,
			Priority:      p,
			InitiatorType: "parser",
		},
	}
}

func cpuNode(id string, duration float64, events ...TaskEvent) *Node {
	return &Node{
		ID:   id,
		Kind: KindCPU,
		Task: &CPUTask{Duration: duration, Events: events},
	}
}

// buildSample builds:
//
//	root -> css, root -> js -> eval -> img, root -> font
func buildSample(t *testing.T) *DependencyGraph {
	t.Helper()

	b := NewBuilder()
	for _, n := range []*Node{
		networkNode("root", "https://example.com/", ResourceDocument, PriorityVeryHigh),
		networkNode("css", "https://example.com/app.css", ResourceStylesheet, PriorityVeryHigh),
		networkNode("js", "https://cdn.example.com/app.js", ResourceScript, PriorityHigh),
		cpuNode("eval", 30, TaskEvent{Name: EventEvaluateScript, URL: "https://cdn.example.com/app.js"}),
		networkNode("img", "https://example.com/hero.png", ResourceImage, PriorityLow),
		networkNode("font", "https://fonts.example.com/a.woff2", ResourceFont, PriorityHigh),
	} {
		if err := b.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s) error = %v", n.ID, err)
		}
	}
	b.AddDependency("css", "root")
	b.AddDependency("js", "root")
	b.AddDependency("eval", "js")
	b.AddDependency("img", "eval")
	b.AddDependency("font", "root")

	g, err := b.Build("root")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return g
}

func TestBuild(t *testing.T) {
	g := buildSample(t)

	if g.Len() != 6 {
		t.Errorf("Expected 6 nodes, got %d", g.Len())
	}
	if g.EdgeCount() != 5 {
		t.Errorf("Expected 5 edges, got %d", g.EdgeCount())
	}
	if g.Root().ID != "root" {
		t.Errorf("Expected root node 'root', got %s", g.Root().ID)
	}

	eval, _ := g.Node("eval")
	deps := g.Dependencies(eval)
	if len(deps) != 1 || deps[0].ID != "js" {
		t.Errorf("Expected eval to depend on js, got %v", deps)
	}
	dependents := g.Dependents(g.Root())
	if len(dependents) != 3 {
		t.Errorf("Expected 3 dependents of root, got %d", len(dependents))
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name  string
		edges [][2]string
		root  string
	}{
		{name: "dangling dependency", edges: [][2]string{{"b", "a"}, {"b", "missing"}}, root: "a"},
		{name: "cycle", edges: [][2]string{{"b", "a"}, {"c", "b"}, {"b", "c"}}, root: "a"},
		{name: "self dependency", edges: [][2]string{{"b", "a"}, {"b", "b"}}, root: "a"},
		{name: "unreachable", edges: [][2]string{{"b", "a"}}, root: "a"},
		{name: "unknown root", edges: nil, root: "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			for _, id := range []string{"a", "b", "c"} {
				if err := b.AddNode(cpuNode(id, 1)); err != nil {
					t.Fatalf("AddNode() error = %v", err)
				}
			}
			for _, e := range tt.edges {
				b.AddDependency(e[0], e[1])
			}

			_, err := b.Build(tt.root)
			if err == nil {
				t.Fatal("Build() expected error, got nil")
			}
			if !errors.Is(err, ErrMalformedGraph) {
				t.Errorf("Expected ErrMalformedGraph, got %v", err)
			}
		})
	}
}

func TestAddNodeDuplicate(t *testing.T) {
	b := NewBuilder()
	if err := b.AddNode(cpuNode("a", 1)); err != nil {
		t.Fatalf("AddNode() error = %v", err)
	}

	err := b.AddNode(cpuNode("a", 2))
	var malformed *MalformedGraphError
	if !errors.As(err, &malformed) {
		t.Fatalf("Expected MalformedGraphError, got %v", err)
	}
	if len(malformed.NodeIDs) != 1 || malformed.NodeIDs[0] != "a" {
		t.Errorf("Expected duplicate id a, got %v", malformed.NodeIDs)
	}
}

func TestAddNodeNegativeDuration(t *testing.T) {
	b := NewBuilder()
	late := &Node{ID: "late", Kind: KindCPU, StartTime: 9, EndTime: 5}

	err := b.AddNode(late)
	var malformed *MalformedGraphError
	if !errors.As(err, &malformed) {
		t.Fatalf("Expected MalformedGraphError, got %v", err)
	}
	if len(malformed.NodeIDs) != 1 || malformed.NodeIDs[0] != "late" {
		t.Errorf("Expected node late, got %v", malformed.NodeIDs)
	}

	if err := b.AddNode(cpuNode("zero", 0)); err != nil {
		t.Errorf("AddNode() with zero duration error = %v", err)
	}
}

func TestTraverseVisitsEachNodeOnce(t *testing.T) {
	// Diamond: root -> a, root -> b, a -> c, b -> c
	b := NewBuilder()
	for _, id := range []string{"root", "a", "b", "c"} {
		_ = b.AddNode(cpuNode(id, 1))
	}
	b.AddDependency("a", "root")
	b.AddDependency("b", "root")
	b.AddDependency("c", "a")
	b.AddDependency("c", "b")
	g, err := b.Build("root")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	visits := make(map[string]int)
	g.Traverse(func(n *Node) { visits[n.ID]++ })

	if len(visits) != 4 {
		t.Errorf("Expected 4 visited nodes, got %d", len(visits))
	}
	for id, count := range visits {
		if count != 1 {
			t.Errorf("Node %s visited %d times", id, count)
		}
	}
}

func TestCloneWithRelationships(t *testing.T) {
	g := buildSample(t)

	clone := g.CloneWithRelationships(func(n *Node) bool {
		return n.ID == "img"
	})

	// img pulls in its ancestors eval, js and root
	want := map[string]bool{"root": true, "js": true, "eval": true, "img": true}
	if clone.Len() != len(want) {
		t.Fatalf("Expected %d nodes, got %d", len(want), clone.Len())
	}
	for _, n := range clone.Nodes() {
		if !want[n.ID] {
			t.Errorf("Unexpected node %s in clone", n.ID)
		}
	}

	// Clone owns fresh nodes
	orig, _ := g.Node("img")
	copied, _ := clone.Node("img")
	if orig == copied {
		t.Error("Clone aliases nodes of the source graph")
	}
	if g.Len() != 6 {
		t.Errorf("Source graph mutated, now %d nodes", g.Len())
	}
}

func TestCloneClosureAndEdges(t *testing.T) {
	g := buildSample(t)

	predicates := map[string]func(*Node) bool{
		"network only": func(n *Node) bool { return n.IsNetwork() },
		"render blocking": func(n *Node) bool {
			return n.HasRenderBlockingPriority()
		},
		"cpu only": func(n *Node) bool { return n.IsCPU() },
		"fonts":    func(n *Node) bool { return n.HasResourceType(ResourceFont) },
	}

	origEdges := make(map[[2]string]int)
	for _, e := range g.Edges() {
		origEdges[e]++
	}

	for name, predicate := range predicates {
		t.Run(name, func(t *testing.T) {
			clone := g.CloneWithRelationships(predicate)

			// Every kept node satisfies the predicate or is an ancestor of one that does
			needed := make(map[string]bool)
			for _, n := range clone.Nodes() {
				if predicate(n) {
					markAncestors(clone, n, needed)
				}
			}
			for _, n := range clone.Nodes() {
				if !needed[n.ID] && n != clone.Root() {
					t.Errorf("Node %s neither matches nor is a dependency of a match", n.ID)
				}
			}

			// Every node that matches in the source is present
			for _, n := range g.Nodes() {
				if _, ok := clone.Node(n.ID); predicate(n) && !ok {
					t.Errorf("Matching node %s missing from clone", n.ID)
				}
			}

			for _, e := range clone.Edges() {
				if origEdges[e] == 0 {
					t.Errorf("Edge %v not present in source graph", e)
				}
			}
		})
	}
}

func markAncestors(g *DependencyGraph, n *Node, seen map[string]bool) {
	if seen[n.ID] {
		return
	}
	seen[n.ID] = true
	for _, dep := range g.Dependencies(n) {
		markAncestors(g, dep, seen)
	}
}

func TestClonePreservesEdgeMultiplicity(t *testing.T) {
	b := NewBuilder()
	_ = b.AddNode(cpuNode("root", 1))
	_ = b.AddNode(cpuNode("a", 1))
	b.AddDependency("a", "root")
	b.AddDependency("a", "root")
	g, err := b.Build("root")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	clone := g.CloneWithRelationships(func(n *Node) bool { return n.ID == "a" })
	if clone.EdgeCount() != 2 {
		t.Errorf("Expected 2 edges in clone, got %d", clone.EdgeCount())
	}
}

func TestCloneKeepsRoot(t *testing.T) {
	g := buildSample(t)

	clone := g.CloneWithRelationships(func(*Node) bool { return false })
	if clone.Len() != 1 || clone.Root().ID != "root" {
		t.Errorf("Expected clone with only the root, got %d nodes", clone.Len())
	}
}

func TestNodeCapabilities(t *testing.T) {
	g := buildSample(t)

	js, _ := g.Node("js")
	if !js.HasRenderBlockingPriority() {
		t.Error("High priority script should be render blocking")
	}
	font, _ := g.Node("font")
	if font.HasRenderBlockingPriority() {
		t.Error("High priority font should not be render blocking")
	}
	if got := js.Request.Origin(); got != "https://cdn.example.com" {
		t.Errorf("Expected origin https://cdn.example.com, got %s", got)
	}
	if !js.Request.IsSecure() {
		t.Error("https request should be secure")
	}

	eval, _ := g.Node("eval")
	if !eval.IsEvaluateScriptFor(map[string]struct{}{"https://cdn.example.com/app.js": {}}) {
		t.Error("eval should evaluate app.js")
	}
	if eval.IsEvaluateScriptFor(map[string]struct{}{"https://example.com/other.js": {}}) {
		t.Error("eval should not evaluate other.js")
	}
	if eval.DidPerformLayout() {
		t.Error("eval did not perform layout")
	}
}
