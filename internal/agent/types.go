// Package agent spawns and coordinates domain agents for a stage: bounded
// concurrent execution, per-instance timeouts with one retry, and
// deterministic priority-ordered aggregation of their findings.
package agent

import (
	"fmt"
	"strings"

	"github.com/forgelabs/chainforge/internal/analyzer"
	"github.com/forgelabs/chainforge/internal/config"
)

// State is the lifecycle state of one agent instance.
type State string

const (
	StateSpawned   State = "spawned"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Task is the unit of work handed to every coordinated agent. Each instance
// receives its own deep copy of the project context.
type Task struct {
	Stage   string
	Content string
	Context *analyzer.ProjectContext
}

// Instance is one spawned agent execution.
type Instance struct {
	ID         string
	Descriptor config.Agent
}

// Finding is one piece of agent output, addressed to an output region so
// overlapping findings from different agents can be reconciled.
type Finding struct {
	AgentID           string  `json:"agent_id"`
	Region            string  `json:"region"`
	Content           string  `json:"content"`
	Confidence        float64 `json:"confidence"`
	ConfidenceReduced bool    `json:"confidence_reduced,omitempty"`
}

// Result is the terminal record of one agent instance.
type Result struct {
	InstanceID string          `json:"instance_id"`
	AgentID    string          `json:"agent_id"`
	Domain     analyzer.Domain `json:"domain"`
	Priority   int             `json:"priority"`
	State      State           `json:"state"`
	Attempts   int             `json:"attempts"`
	DurationMs int             `json:"duration_ms"`
	Findings   []Finding       `json:"findings,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Aggregate is the merged outcome of a coordination round. Results and
// findings are ordered by descriptor priority (lower value first) then agent
// ID, independent of completion timing.
type Aggregate struct {
	Stage     string    `json:"stage"`
	Results   []Result  `json:"results"`
	Findings  []Finding `json:"findings"`
	Secondary []Finding `json:"secondary,omitempty"` // overlap losers, kept as suggestions
}

// Completed counts instances that finished successfully.
func (a *Aggregate) Completed() int {
	n := 0
	for _, r := range a.Results {
		if r.State == StateCompleted {
			n++
		}
	}
	return n
}

// analyzerDomain converts a config domain string to the closed domain type.
// Config validation guarantees the string is recognized.
func analyzerDomain(s string) analyzer.Domain {
	return analyzer.Domain(s)
}

// PartialCoordinationFailureError reports agents that did not complete after
// their retry. The aggregate built from the remaining agents is still usable.
type PartialCoordinationFailureError struct {
	Failed []string
}

func (e *PartialCoordinationFailureError) Error() string {
	return fmt.Sprintf("partial coordination failure: %s", strings.Join(e.Failed, ", "))
}
