package config

// Config is the top-level configuration structure parsed from chain YAML.
type Config struct {
	Chain Chain `yaml:"chain"`
}

// Chain defines the full prompt chain: stages, agents, gates, capability
// servers, and the scoring/wave/coordination policies that drive them.
type Chain struct {
	Name        string            `yaml:"name"`
	Stages      []Stage           `yaml:"stages"`
	Agents      []Agent           `yaml:"agents"`
	Gates       map[string]Gate   `yaml:"gates"`
	Servers     []Server          `yaml:"servers"`
	Affinity    []AffinityRule    `yaml:"affinity"`
	Scoring     ScoringPolicy     `yaml:"scoring"`
	Wave        WavePolicy        `yaml:"wave"`
	Coordinator CoordinatorLimits `yaml:"coordinator"`
	Analyzer    AnalyzerPolicy    `yaml:"analyzer"`
	Inference   Inference         `yaml:"inference"`
}

// Stage defines one pipeline stage: its I/O contract, gates, and agent policy.
type Stage struct {
	ID             string      `yaml:"id"`
	RequiredInputs []string    `yaml:"required_inputs"`
	OutputFormat   string      `yaml:"output_format"`
	RequiredGates  []string    `yaml:"required_gates"`
	OptionalGates  []string    `yaml:"optional_gates"`
	AgentPolicy    AgentPolicy `yaml:"agent_policy"`
	PromptTemplate string      `yaml:"prompt_template"`
	Timeout        string      `yaml:"timeout"`
	NextStage      string      `yaml:"next_stage"`
}

// AgentPolicy controls agent spawning for a stage.
type AgentPolicy struct {
	SpawningThreshold float64  `yaml:"spawning_threshold"`
	OptionalAgents    []string `yaml:"optional_agents"`
	RequirementTags   []string `yaml:"requirement_tags"`
}

// Agent is the capability profile of a spawnable agent kind.
type Agent struct {
	ID                string   `yaml:"id"`
	Domain            string   `yaml:"domain"`
	Priority          int      `yaml:"priority"`
	DomainKeywords    []string `yaml:"domain_keywords"`
	FilePatterns      []string `yaml:"file_patterns"`
	DirPatterns       []string `yaml:"dir_patterns"`
	MCPCapabilityTags []string `yaml:"mcp_capability_tags"`
	AllowedTools      []string `yaml:"allowed_tools"`
}

// Gate defines a named, thresholded validation check.
type Gate struct {
	Threshold              float64           `yaml:"threshold"`
	TimeoutMs              int               `yaml:"timeout_ms"`
	Required               bool              `yaml:"required"`
	DependsOn              []string          `yaml:"depends_on"`
	RequiredCapabilityTags []string          `yaml:"required_capability_tags"`
	Checker                string            `yaml:"checker"`
	Command                string            `yaml:"command"`
	Params                 map[string]string `yaml:"params"`
}

// Server transport kinds.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportHTTP  = "http"
)

// Server describes an external MCP capability server binding.
type Server struct {
	ID                  string      `yaml:"id"`
	CapabilityTags      []string    `yaml:"capability_tags"`
	Priority            int         `yaml:"priority"`
	Transport           string      `yaml:"transport"` // "stdio", "sse", "http"
	Command             string      `yaml:"command"`
	Args                []string    `yaml:"args"`
	URL                 string      `yaml:"url"`
	HealthCheck         HealthCheck `yaml:"health_check"`
	MaxConcurrentLeases int         `yaml:"max_concurrent_leases"`
	MinSuccessRate      float64     `yaml:"min_success_rate"`
	MaxLatencyMs        int         `yaml:"max_latency_ms"`
}

// HealthCheck configures periodic server health probing.
type HealthCheck struct {
	IntervalMs int `yaml:"interval_ms"`
	TimeoutMs  int `yaml:"timeout_ms"`
}

// AffinityRule statically pins an agent's capability calls to a server.
// Affinity is consulted before metrics and load during selection.
type AffinityRule struct {
	Agent      string `yaml:"agent"`
	Capability string `yaml:"capability"`
	Server     string `yaml:"server"`
}

// ScoringPolicy tunes agent spawn scoring. Weights are fixed by the engine;
// only thresholds and the boundary comparison are configurable.
type ScoringPolicy struct {
	AutoSpawnThreshold float64 `yaml:"auto_spawn_threshold"`
	SuggestThreshold   float64 `yaml:"suggest_threshold"`
	BoundaryPolicy     string  `yaml:"boundary_policy"` // "inclusive" (default) or "exclusive"
}

// WavePolicy tunes the wave-mode complexity assessment.
type WavePolicy struct {
	Threshold         float64 `yaml:"threshold"`
	RedetectThreshold float64 `yaml:"redetect_threshold"`
}

// CoordinatorLimits bounds concurrent agent execution.
type CoordinatorLimits struct {
	MaxConcurrentAgents int    `yaml:"max_concurrent_agents"`
	InstanceTimeout     string `yaml:"instance_timeout"`
	CancelGrace         string `yaml:"cancel_grace"`
}

// AnalyzerPolicy bounds the project context scan.
type AnalyzerPolicy struct {
	MaxDepth       int      `yaml:"max_depth"`
	Excludes       []string `yaml:"excludes"`
	MaxSampleFiles int      `yaml:"max_sample_files"`
}

// Inference configures the external inference provider command.
type Inference struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Timeout string   `yaml:"timeout"`
}

// StageByID returns the stage with the given ID, or nil.
func (c *Chain) StageByID(id string) *Stage {
	for i := range c.Stages {
		if c.Stages[i].ID == id {
			return &c.Stages[i]
		}
	}
	return nil
}

// AgentByID returns the agent descriptor with the given ID, or nil.
func (c *Chain) AgentByID(id string) *Agent {
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			return &c.Agents[i]
		}
	}
	return nil
}

// FirstStageID returns the ID of the first stage, or "".
func (c *Chain) FirstStageID() string {
	if len(c.Stages) == 0 {
		return ""
	}
	return c.Stages[0].ID
}
