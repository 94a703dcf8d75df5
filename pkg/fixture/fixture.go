// Package fixture loads pre-parsed page loads: the dependency graph, paint timestamps,
// and per-origin network analysis of one captured trace.
package fixture

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/ritzau/pageload-estimator/pkg/graph"
	"github.com/ritzau/pageload-estimator/pkg/model"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "fixture.schema.json"

// ErrInvalidFixture is matched by every validation failure
var ErrInvalidFixture = errors.New("invalid fixture")

// Event is a trace event nested in a CPU task
type Event struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Node is one graph node as written in a fixture file
type Node struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	StartTime    float64  `json:"startTime"`
	EndTime      float64  `json:"endTime"`
	Dependencies []string `json:"dependencies,omitempty"`

	// CPU tasks
	Duration *float64 `json:"duration,omitempty"`
	Events   []Event  `json:"events,omitempty"`

	// Network requests
	URL           string  `json:"url,omitempty"`
	ResourceType  string  `json:"resourceType,omitempty"`
	Priority      string  `json:"priority,omitempty"`
	InitiatorType string  `json:"initiatorType,omitempty"`
	TransferSize  float64 `json:"transferSize,omitempty"`
	ConnectionID  string  `json:"connectionId,omitempty"`
}

// Fixture is a pre-parsed page load
type Fixture struct {
	ID         string                `json:"id"`
	Timestamps model.PaintTimestamps `json:"timestamps"`
	Network    model.NetworkAnalysis `json:"network"`
	Root       string                `json:"root"`
	Nodes      []Node                `json:"nodes"`

	// Path is the file the fixture was loaded from
	Path string `json:"-"`
}

// Loader reads fixtures by path
type Loader interface {
	Load(path string) (*Fixture, error)
}

// FileLoader reads fixtures from the local filesystem
type FileLoader struct{}

func (FileLoader) Load(path string) (*Fixture, error) {
	return Load(path)
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// IsFixtureFile returns true for file names Load understands
func IsFixtureFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads, validates, and decodes a JSON or YAML fixture
func Load(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixture: read %q: %w", path, err)
	}

	f, err := Parse(raw, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("fixture %q: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// Parse validates and decodes fixture content. ext selects YAML (".yaml", ".yml") or JSON.
func Parse(raw []byte, ext string) (*Fixture, error) {
	var payload any
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("%w: yaml: %v", ErrInvalidFixture, err)
		}
		// Round-trip through JSON so validation and decoding see one representation
		converted, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: yaml: %v", ErrInvalidFixture, err)
		}
		raw = converted
		payload = nil
	}

	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrInvalidFixture, err)
	}

	s, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := s.Validate(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFixture, err)
	}

	var f Fixture
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFixture, err)
	}
	return &f, nil
}

// Discover expands paths into fixture files. Directories are walked recursively.
// The result is sorted and free of duplicates.
func Discover(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("fixture: %w", err)
		}
		if !info.IsDir() {
			add(filepath.Clean(p))
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				name := d.Name()
				if path != p && (strings.HasPrefix(name, ".") || name == "node_modules") {
					return filepath.SkipDir
				}
				return nil
			}
			if IsFixtureFile(path) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("fixture: walking %s: %w", p, err)
		}
	}

	sort.Strings(files)
	return files, nil
}

// Trace returns the trace handle for this fixture
func (f *Fixture) Trace() *model.Trace {
	return &model.Trace{ID: f.ID, Source: f.Path}
}

// DevtoolsLog returns the devtools log handle for this fixture
func (f *Fixture) DevtoolsLog() *model.DevtoolsLog {
	return &model.DevtoolsLog{ID: f.ID, Source: f.Path}
}

// TraceOfTab returns the recorded paint timestamps
func (f *Fixture) TraceOfTab() *model.TraceOfTab {
	return &model.TraceOfTab{Timestamps: f.Timestamps}
}

// NetworkAnalysis returns the recorded per-origin network parameters
func (f *Fixture) NetworkAnalysis() *model.NetworkAnalysis {
	analysis := f.Network
	return &analysis
}

// Graph builds a fresh dependency graph from the fixture nodes
func (f *Fixture) Graph() (*graph.DependencyGraph, error) {
	b := graph.NewBuilder()
	for _, raw := range f.Nodes {
		n := &graph.Node{
			ID:        raw.ID,
			Kind:      graph.NodeKind(raw.Type),
			StartTime: raw.StartTime,
			EndTime:   raw.EndTime,
		}

		switch n.Kind {
		case graph.KindCPU:
			if raw.Duration != nil || len(raw.Events) > 0 {
				duration := raw.EndTime - raw.StartTime
				if raw.Duration != nil {
					duration = *raw.Duration
				}
				n.Task = &graph.CPUTask{Duration: duration}
				for _, e := range raw.Events {
					n.Task.Events = append(n.Task.Events, graph.TaskEvent{Name: e.Name, URL: e.URL})
				}
			}
		case graph.KindNetwork:
			n.Request = &graph.NetworkRequest{
				URL:           raw.URL,
				ResourceType:  graph.ResourceType(raw.ResourceType),
				Priority:      graph.Priority(raw.Priority),
				InitiatorType: raw.InitiatorType,
				TransferSize:  raw.TransferSize,
				ConnectionID:  raw.ConnectionID,
			}
		}

		if err := b.AddNode(n); err != nil {
			return nil, err
		}
		for _, dep := range raw.Dependencies {
			b.AddDependency(raw.ID, dep)
		}
	}

	return b.Build(f.Root)
}
