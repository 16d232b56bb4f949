package chain

import "github.com/forgelabs/chainforge/internal/wave"

// Status is the lifecycle state of a chain run.
type Status string

const (
	StatusPending             Status = "pending"
	StatusInProgress          Status = "in_progress"
	StatusAwaitingRemediation Status = "awaiting_remediation"
	StatusCompleted           Status = "completed"
	StatusAborted             Status = "aborted"
	StatusFailed              Status = "failed"
)

// Terminal reports whether a status is terminal.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted || s == StatusFailed
}

// Run is the top-level persisted state for one execution of the pipeline.
type Run struct {
	ID             string              `json:"id"`
	Idea           string              `json:"idea"`
	StageOrder     []string            `json:"stage_order"`
	CurrentStage   string              `json:"current_stage"`
	CurrentAttempt int                 `json:"current_attempt"`
	Status         Status              `json:"status"`
	ContextVersion int                 `json:"context_version"`
	Wave           wave.Decision       `json:"wave"`
	Outputs        []StageOutput       `json:"outputs"`
	History        []StageHistoryEntry `json:"history"`
	CreatedAt      string              `json:"created_at"`
	UpdatedAt      string              `json:"updated_at"`
}

// StageOutput is one accepted stage output in chain order.
type StageOutput struct {
	Stage      string `json:"stage"`
	Attempt    int    `json:"attempt"`
	Summary    string `json:"summary,omitempty"`
	Wave       string `json:"wave,omitempty"`
	AcceptedAt string `json:"accepted_at"`
}

// StageHistoryEntry records the outcome of a stage attempt, accepted or not.
type StageHistoryEntry struct {
	Stage         string `json:"stage"`
	Attempt       int    `json:"attempt"`
	Outcome       string `json:"outcome"` // "accepted", "remediation", "failed"
	Duration      string `json:"duration"`
	GatesPassed   int    `json:"gates_passed"`
	GatesFailed   int    `json:"gates_failed"`
	AgentsSpawned int    `json:"agents_spawned"`
}

// StageIndex returns the position of a stage in the run's order, or -1.
func (r *Run) StageIndex(stage string) int {
	for i, s := range r.StageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}

// LatestAcceptedIndex returns the order index of the most recently accepted
// stage output, or -1 if none.
func (r *Run) LatestAcceptedIndex() int {
	latest := -1
	for _, out := range r.Outputs {
		if idx := r.StageIndex(out.Stage); idx > latest {
			latest = idx
		}
	}
	return latest
}

// NextStage returns the stage after the current one, or "" if last.
func (r *Run) NextStage() string {
	idx := r.StageIndex(r.CurrentStage)
	if idx < 0 || idx+1 >= len(r.StageOrder) {
		return ""
	}
	return r.StageOrder[idx+1]
}
