package fixture

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ritzau/pageload-estimator/pkg/graph"
)

func TestLoadJSON(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "news-site.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if f.ID != "news-site" {
		t.Errorf("ID = %q, want news-site", f.ID)
	}
	if f.Timestamps.FirstContentfulPaint != 1050 {
		t.Errorf("FirstContentfulPaint = %v, want 1050", f.Timestamps.FirstContentfulPaint)
	}
	if got := f.NetworkAnalysis().AdditionalRTTByOrigin["https://cdn.example.com"]; got != 45 {
		t.Errorf("additional RTT for cdn = %v, want 45", got)
	}
	if f.Trace().Source != f.Path {
		t.Errorf("Trace().Source = %q, want %q", f.Trace().Source, f.Path)
	}

	g, err := f.Graph()
	if err != nil {
		t.Fatalf("Graph() error = %v", err)
	}
	if g.Len() != len(f.Nodes) {
		t.Errorf("Graph has %d nodes, want %d", g.Len(), len(f.Nodes))
	}
	if g.Root().ID != "document" {
		t.Errorf("Root = %s, want document", g.Root().ID)
	}

	parse, _ := g.Node("parse-html")
	if parse.Task == nil || parse.Task.Duration != 40 {
		t.Errorf("parse-html duration = %+v, want 40 from trace times", parse.Task)
	}
	eval, _ := g.Node("eval-app")
	if !eval.IsEvaluateScriptFor(map[string]struct{}{"https://cdn.example.com/app.js": {}}) {
		t.Error("eval-app should evaluate app.js")
	}
	api, _ := g.Node("comments-api")
	if api.Request.ConnectionID != "news-1" || api.Request.Priority != graph.PriorityHigh {
		t.Errorf("comments-api request = %+v", api.Request)
	}
}

func TestLoadYAML(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "landing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if f.ID != "landing" || len(f.Nodes) != 3 {
		t.Fatalf("Loaded %q with %d nodes", f.ID, len(f.Nodes))
	}

	g, err := f.Graph()
	if err != nil {
		t.Fatalf("Graph() error = %v", err)
	}
	layout, ok := g.Node("first-layout")
	if !ok || !layout.DidPerformLayout() {
		t.Error("first-layout should have performed layout")
	}
	if got := f.Network.ServerResponseTimeByOrigin["http://landing.example.org"]; got != 50 {
		t.Errorf("server response time = %v, want 50", got)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		ext  string
		raw  string
	}{
		{name: "not json", ext: ".json", raw: `{"id": `},
		{name: "missing root", ext: ".json", raw: `{"id": "x", "nodes": [{"id": "a", "type": "cpu"}]}`},
		{name: "no nodes", ext: ".json", raw: `{"id": "x", "root": "a", "nodes": []}`},
		{name: "unknown type", ext: ".json", raw: `{"id": "x", "root": "a", "nodes": [{"id": "a", "type": "gpu"}]}`},
		{name: "network without url", ext: ".json", raw: `{"id": "x", "root": "a", "nodes": [{"id": "a", "type": "network"}]}`},
		{name: "bad priority", ext: ".yaml", raw: "id: x\nroot: a\nnodes:\n  - id: a\n    type: network\n    url: http://a/\n    priority: Urgent\n"},
		{name: "negative rtt", ext: ".yml", raw: "id: x\nroot: a\nnetwork:\n  additionalRttByOrigin:\n    http://a: -1\nnodes:\n  - id: a\n    type: cpu\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw), tt.ext)
			if !errors.Is(err, ErrInvalidFixture) {
				t.Errorf("Parse() error = %v, want ErrInvalidFixture", err)
			}
		})
	}
}

func TestGraphRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		nodes string
	}{
		{
			name: "dangling dependency",
			nodes: `{"id": "a", "type": "cpu", "startTime": 0, "endTime": 5},
				{"id": "b", "type": "cpu", "startTime": 5, "endTime": 9, "dependencies": ["missing"]}`,
		},
		{
			name: "cpu task ending before it starts",
			nodes: `{"id": "a", "type": "cpu", "startTime": 0, "endTime": 5},
				{"id": "b", "type": "cpu", "startTime": 9, "endTime": 5, "dependencies": ["a"]}`,
		},
		{
			name: "cpu task with events ending before it starts",
			nodes: `{"id": "a", "type": "cpu", "startTime": 9, "endTime": 5,
				"events": [{"name": "Layout"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"id": "x", "root": "a", "nodes": [` + tt.nodes + `]}`
			f, err := Parse([]byte(raw), ".json")
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if _, err := f.Graph(); !errors.Is(err, graph.ErrMalformedGraph) {
				t.Errorf("Graph() error = %v, want ErrMalformedGraph", err)
			}
		})
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.json", "a.yaml", "notes.txt", filepath.Join("nested", "c.yml"), filepath.Join(".hidden", "d.json")} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	single := filepath.Join(dir, "b.json")
	files, err := Discover([]string{dir, single})
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	want := []string{
		filepath.Join(dir, "a.yaml"),
		filepath.Join(dir, "b.json"),
		filepath.Join(dir, "nested", "c.yml"),
	}
	if len(files) != len(want) {
		t.Fatalf("Discover() = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %s, want %s", i, files[i], want[i])
		}
	}

	if _, err := Discover([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("Expected error for missing path")
	}
}
