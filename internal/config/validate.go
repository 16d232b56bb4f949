package config

import (
	"fmt"
	"math"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedCheckers is the set of valid checker names for gates.
var recognizedCheckers = map[string]bool{
	"structure":  true,
	"length":     true,
	"keyword":    true,
	"command":    true,
	"capability": true,
}

var recognizedTransports = map[string]bool{
	TransportStdio: true,
	TransportSSE:   true,
	TransportHTTP:  true,
}

var recognizedDomains = map[string]bool{
	"frontend":      true,
	"backend":       true,
	"security":      true,
	"performance":   true,
	"architecture":  true,
	"analysis":      true,
	"documentation": true,
}

var recognizedBoundaryPolicies = map[string]bool{
	"inclusive": true,
	"exclusive": true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	c := cfg.Chain

	if c.Name == "" {
		errs = append(errs, ValidationError{Field: "chain.name", Message: "is required"})
	}
	if len(c.Stages) == 0 {
		errs = append(errs, ValidationError{Field: "chain.stages", Message: "at least one stage is required"})
	}

	validateStages(&c, &errs)
	validateAgents(&c, &errs)
	validateGates(&c, &errs)
	validateServers(&c, &errs)
	validateAffinity(&c, &errs)
	validatePolicies(&c, &errs)

	return errs
}

// validateStages checks stage identity, linkage, and gate references.
// The chain must be strictly linear: each stage links to the next in order,
// and only the final stage has an empty next_stage.
func validateStages(c *Chain, errs *[]ValidationError) {
	stageIDs := make(map[string]bool)
	for i, s := range c.Stages {
		prefix := fmt.Sprintf("chain.stages[%d]", i)
		if s.ID == "" {
			*errs = append(*errs, ValidationError{Field: prefix + ".id", Message: "is required"})
			continue
		}
		if stageIDs[s.ID] {
			*errs = append(*errs, ValidationError{
				Field:   prefix + ".id",
				Message: fmt.Sprintf("duplicate stage ID %q", s.ID),
			})
		}
		stageIDs[s.ID] = true
	}

	for i, s := range c.Stages {
		prefix := fmt.Sprintf("chain.stages[%d]", i)

		last := i == len(c.Stages)-1
		if last {
			if s.NextStage != "" {
				*errs = append(*errs, ValidationError{
					Field:   prefix + ".next_stage",
					Message: "final stage must not have a next_stage",
				})
			}
		} else if s.NextStage != c.Stages[i+1].ID {
			*errs = append(*errs, ValidationError{
				Field:   prefix + ".next_stage",
				Message: fmt.Sprintf("must link to %q to keep the chain linear", c.Stages[i+1].ID),
			})
		}

		for _, list := range []struct {
			name  string
			gates []string
		}{
			{"required_gates", s.RequiredGates},
			{"optional_gates", s.OptionalGates},
		} {
			for _, g := range list.gates {
				if _, ok := c.Gates[g]; !ok {
					*errs = append(*errs, ValidationError{
						Field:   fmt.Sprintf("%s.%s", prefix, list.name),
						Message: fmt.Sprintf("references undefined gate %q", g),
					})
				}
			}
		}

		for _, a := range s.AgentPolicy.OptionalAgents {
			if c.AgentByID(a) == nil {
				*errs = append(*errs, ValidationError{
					Field:   prefix + ".agent_policy.optional_agents",
					Message: fmt.Sprintf("references undefined agent %q", a),
				})
			}
		}

		if t := s.AgentPolicy.SpawningThreshold; t < 0 || t > 1 {
			*errs = append(*errs, ValidationError{
				Field:   prefix + ".agent_policy.spawning_threshold",
				Message: "must be in [0,1]",
			})
		}
	}
}

func validateAgents(c *Chain, errs *[]ValidationError) {
	seen := make(map[string]bool)
	for i, a := range c.Agents {
		prefix := fmt.Sprintf("chain.agents[%d]", i)
		if a.ID == "" {
			*errs = append(*errs, ValidationError{Field: prefix + ".id", Message: "is required"})
			continue
		}
		if seen[a.ID] {
			*errs = append(*errs, ValidationError{
				Field:   prefix + ".id",
				Message: fmt.Sprintf("duplicate agent ID %q", a.ID),
			})
		}
		seen[a.ID] = true
		if !recognizedDomains[a.Domain] {
			*errs = append(*errs, ValidationError{
				Field:   prefix + ".domain",
				Message: fmt.Sprintf("unrecognized domain %q", a.Domain),
			})
		}
	}
}

// validateGates checks thresholds, checker names, and that the dependency
// graph references defined gates without cycles.
func validateGates(c *Chain, errs *[]ValidationError) {
	for name, g := range c.Gates {
		prefix := fmt.Sprintf("chain.gates.%s", name)
		if g.Threshold < 0 || g.Threshold > 1 {
			*errs = append(*errs, ValidationError{Field: prefix + ".threshold", Message: "must be in [0,1]"})
		}
		if g.Checker != "" && !recognizedCheckers[g.Checker] {
			*errs = append(*errs, ValidationError{
				Field:   prefix + ".checker",
				Message: fmt.Sprintf("unrecognized checker %q", g.Checker),
			})
		}
		for _, dep := range g.DependsOn {
			if _, ok := c.Gates[dep]; !ok {
				*errs = append(*errs, ValidationError{
					Field:   prefix + ".depends_on",
					Message: fmt.Sprintf("references undefined gate %q", dep),
				})
			}
		}
	}

	// Cycle detection over the dependency graph.
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int)
	var visit func(name string) bool
	visit = func(name string) bool {
		switch state[name] {
		case visiting:
			return false
		case done:
			return true
		}
		state[name] = visiting
		for _, dep := range c.Gates[name].DependsOn {
			if _, ok := c.Gates[dep]; !ok {
				continue
			}
			if !visit(dep) {
				return false
			}
		}
		state[name] = done
		return true
	}
	for name := range c.Gates {
		if !visit(name) {
			*errs = append(*errs, ValidationError{
				Field:   fmt.Sprintf("chain.gates.%s.depends_on", name),
				Message: "dependency cycle detected",
			})
		}
	}
}

func validateServers(c *Chain, errs *[]ValidationError) {
	seen := make(map[string]bool)
	for i, s := range c.Servers {
		prefix := fmt.Sprintf("chain.servers[%d]", i)
		if s.ID == "" {
			*errs = append(*errs, ValidationError{Field: prefix + ".id", Message: "is required"})
			continue
		}
		if seen[s.ID] {
			*errs = append(*errs, ValidationError{
				Field:   prefix + ".id",
				Message: fmt.Sprintf("duplicate server ID %q", s.ID),
			})
		}
		seen[s.ID] = true

		if len(s.CapabilityTags) == 0 {
			*errs = append(*errs, ValidationError{
				Field:   prefix + ".capability_tags",
				Message: "at least one capability tag is required",
			})
		}
		if !recognizedTransports[s.Transport] {
			*errs = append(*errs, ValidationError{
				Field:   prefix + ".transport",
				Message: fmt.Sprintf("unrecognized transport %q", s.Transport),
			})
		}
		switch s.Transport {
		case "stdio":
			if s.Command == "" {
				*errs = append(*errs, ValidationError{
					Field:   prefix + ".command",
					Message: "command is required for stdio transport",
				})
			}
		case "sse", "http":
			if s.URL == "" {
				*errs = append(*errs, ValidationError{
					Field:   prefix + ".url",
					Message: fmt.Sprintf("url is required for %s transport", s.Transport),
				})
			}
		}
	}
}

func validateAffinity(c *Chain, errs *[]ValidationError) {
	serverIDs := make(map[string]bool)
	for _, s := range c.Servers {
		serverIDs[s.ID] = true
	}
	for i, r := range c.Affinity {
		prefix := fmt.Sprintf("chain.affinity[%d]", i)
		if c.AgentByID(r.Agent) == nil {
			*errs = append(*errs, ValidationError{
				Field:   prefix + ".agent",
				Message: fmt.Sprintf("references undefined agent %q", r.Agent),
			})
		}
		if !serverIDs[r.Server] {
			*errs = append(*errs, ValidationError{
				Field:   prefix + ".server",
				Message: fmt.Sprintf("references undefined server %q", r.Server),
			})
		}
	}
}

func validatePolicies(c *Chain, errs *[]ValidationError) {
	if !recognizedBoundaryPolicies[c.Scoring.BoundaryPolicy] {
		*errs = append(*errs, ValidationError{
			Field:   "chain.scoring.boundary_policy",
			Message: fmt.Sprintf("must be \"inclusive\" or \"exclusive\", got %q", c.Scoring.BoundaryPolicy),
		})
	}
	if c.Scoring.SuggestThreshold > c.Scoring.AutoSpawnThreshold {
		*errs = append(*errs, ValidationError{
			Field:   "chain.scoring.suggest_threshold",
			Message: "must not exceed auto_spawn_threshold",
		})
	}
	for field, v := range map[string]float64{
		"chain.scoring.auto_spawn_threshold": c.Scoring.AutoSpawnThreshold,
		"chain.scoring.suggest_threshold":    c.Scoring.SuggestThreshold,
		"chain.wave.threshold":               c.Wave.Threshold,
		"chain.wave.redetect_threshold":      c.Wave.RedetectThreshold,
	} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			*errs = append(*errs, ValidationError{Field: field, Message: "must be in [0,1]"})
		}
	}
	if c.Coordinator.MaxConcurrentAgents < 1 {
		*errs = append(*errs, ValidationError{
			Field:   "chain.coordinator.max_concurrent_agents",
			Message: "must be at least 1",
		})
	}
}
