package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/ritzau/pageload-estimator/pkg/simulator"
)

const (
	// FileName is the optional config file read from the working directory
	FileName = "pageload-estimator.toml"

	// EnvPrefix prefixes environment overrides, e.g. PAGELOAD_ESTIMATOR_SIMULATION_RTT=300
	EnvPrefix = "PAGELOAD_ESTIMATOR_"
)

// Simulation holds the network and CPU defaults used when a trace has no better data
type Simulation struct {
	RTT                     float64 `koanf:"rtt"`
	Throughput              float64 `koanf:"throughput"`
	ServerResponseTime      float64 `koanf:"server-response-time"`
	MaxConnectionsPerOrigin int     `koanf:"max-connections-per-origin"`
	MaxConcurrentRequests   int     `koanf:"max-concurrent-requests"`
	CPUTaskMultiplier       float64 `koanf:"cpu-task-multiplier"`
}

// Config holds all configuration for the application
type Config struct {
	Fixtures   []string   `koanf:"fixtures"`
	WebMode    bool       `koanf:"web"`
	Port       int        `koanf:"port"`
	Watch      bool       `koanf:"watch"`
	Verbosity  string     `koanf:"verbosity"`
	VerboseCnt int        `koanf:"verbose"`
	LogFormat  string     `koanf:"log-format"`
	Simulation Simulation `koanf:"simulation"`
}

// SimulationDefaults converts the simulation section into simulator options
func (c *Config) SimulationDefaults() simulator.Options {
	return simulator.Options{
		RTT:                        c.Simulation.RTT,
		Throughput:                 c.Simulation.Throughput,
		FallbackServerResponseTime: c.Simulation.ServerResponseTime,
		ServerResponseTimeSet:      c.Simulation.ServerResponseTime >= 0,
		MaxConnectionsPerOrigin:    c.Simulation.MaxConnectionsPerOrigin,
		MaxConcurrentRequests:      c.Simulation.MaxConcurrentRequests,
		CPUTaskMultiplier:          c.Simulation.CPUTaskMultiplier,
	}.WithDefaults()
}

// Defaults returns the lowest priority configuration layer
func Defaults() map[string]interface{} {
	sim := simulator.DefaultOptions()
	return map[string]interface{}{
		"fixtures":   []string{},
		"web":        false,
		"port":       8080,
		"watch":      false,
		"verbosity":  "",
		"verbose":    0,
		"log-format": "compact",

		"simulation": map[string]interface{}{
			"rtt":                        sim.RTT,
			"throughput":                 sim.Throughput,
			"server-response-time":       sim.FallbackServerResponseTime,
			"max-connections-per-origin": sim.MaxConnectionsPerOrigin,
			"max-concurrent-requests":    sim.MaxConcurrentRequests,
			"cpu-task-multiplier":        sim.CPUTaskMultiplier,
		},
	}
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	return LoadFile(f, FileName)
}

// LoadFile is Load with an explicit config file path
func LoadFile(f *pflag.FlagSet, path string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(makeMapProvider(Defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config File (optional)
	// We ignore errors here as the file might not exist
	_ = k.Load(file.Provider(path), toml.Parser())

	// 3. Environment Variables
	// Only the first underscore after a section name separates keys:
	// PAGELOAD_ESTIMATOR_SIMULATION_MAX_CONNECTIONS_PER_ORIGIN -> simulation.max-connections-per-origin
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if f != nil {
		if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// Unmarshal into struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if rest, ok := strings.CutPrefix(key, "simulation_"); ok {
		return "simulation." + strings.ReplaceAll(rest, "_", "-")
	}
	return strings.ReplaceAll(key, "_", "-")
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
