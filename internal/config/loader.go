package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed builtin.yaml
var builtinYAML []byte

// Load reads and parses a chain configuration from the given YAML file path.
// After parsing, it applies defaults to fields left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return parse(data)
}

// LoadDefault searches for a chain config in standard locations and loads the
// first one found. Search order: ./chainforge.yaml, ~/.chainforge/config.yaml,
// then the embedded builtin configuration.
func LoadDefault() (*Config, error) {
	candidates := []string{"chainforge.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".chainforge", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return Builtin()
}

// Builtin returns the embedded default configuration.
func Builtin() (*Config, error) {
	return parse(builtinYAML)
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults fills unset policy and limit fields with engine defaults.
func applyDefaults(cfg *Config) {
	c := &cfg.Chain

	if c.Scoring.AutoSpawnThreshold == 0 {
		c.Scoring.AutoSpawnThreshold = 0.85
	}
	if c.Scoring.SuggestThreshold == 0 {
		c.Scoring.SuggestThreshold = 0.70
	}
	if c.Scoring.BoundaryPolicy == "" {
		c.Scoring.BoundaryPolicy = "inclusive"
	}

	if c.Wave.Threshold == 0 {
		c.Wave.Threshold = 0.70
	}
	if c.Wave.RedetectThreshold == 0 {
		c.Wave.RedetectThreshold = 0.15
	}

	if c.Coordinator.MaxConcurrentAgents == 0 {
		c.Coordinator.MaxConcurrentAgents = 4
	}
	if c.Coordinator.InstanceTimeout == "" {
		c.Coordinator.InstanceTimeout = "5m"
	}
	if c.Coordinator.CancelGrace == "" {
		c.Coordinator.CancelGrace = "5s"
	}

	if c.Analyzer.MaxDepth == 0 {
		c.Analyzer.MaxDepth = 6
	}
	if c.Analyzer.MaxSampleFiles == 0 {
		c.Analyzer.MaxSampleFiles = 400
	}

	for name, g := range c.Gates {
		if g.TimeoutMs == 0 {
			g.TimeoutMs = 120000
		}
		if g.Checker == "" {
			g.Checker = "length"
		}
		c.Gates[name] = g
	}

	for i := range c.Servers {
		s := &c.Servers[i]
		if s.MaxConcurrentLeases == 0 {
			s.MaxConcurrentLeases = 4
		}
		if s.MinSuccessRate == 0 {
			s.MinSuccessRate = 0.5
		}
		if s.MaxLatencyMs == 0 {
			s.MaxLatencyMs = 30000
		}
		if s.HealthCheck.IntervalMs == 0 {
			s.HealthCheck.IntervalMs = 30000
		}
		if s.HealthCheck.TimeoutMs == 0 {
			s.HealthCheck.TimeoutMs = 5000
		}
	}

	for i := range c.Stages {
		st := &c.Stages[i]
		if st.AgentPolicy.SpawningThreshold == 0 {
			st.AgentPolicy.SpawningThreshold = c.Scoring.SuggestThreshold
		}
		if st.Timeout == "" {
			st.Timeout = "10m"
		}
		if st.OutputFormat == "" {
			st.OutputFormat = "markdown"
		}
	}
}
