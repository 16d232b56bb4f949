// Package gate runs thresholded quality gates over stage output, with
// dependency ordering, sequential/parallel/adaptive execution, and an
// idempotent result cache.
package gate

import "encoding/json"

// Status is the outcome of one gate evaluation.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusWarning Status = "warning" // optional gate below threshold
	StatusFailed  Status = "failed"  // required gate below threshold
	StatusBlocked Status = "blocked" // not run: dependency or earlier required gate failed
)

// Result is the outcome of one gate evaluation within a report.
type Result struct {
	Gate       string  `json:"gate"`
	Status     Status  `json:"status"`
	Score      float64 `json:"score"`
	Threshold  float64 `json:"threshold"`
	Required   bool    `json:"required"`
	Cached     bool    `json:"cached,omitempty"`
	DurationMs int     `json:"duration_ms"`
	Summary    string  `json:"summary,omitempty"`
}

// Report is the structured output of a full gate run for one stage attempt.
type Report struct {
	Stage    string   `json:"stage"`
	Attempt  int      `json:"attempt"`
	Strategy Strategy `json:"strategy"`
	Results  []Result `json:"results"`
	Passed   bool     `json:"passed"`
	Blocked  bool     `json:"blocked"`
}

// Result returns the result for a gate name, or nil.
func (r *Report) Result(gate string) *Result {
	for i := range r.Results {
		if r.Results[i].Gate == gate {
			return &r.Results[i]
		}
	}
	return nil
}

// Failures returns the names of gates that failed or were blocked.
func (r *Report) Failures() []string {
	var out []string
	for _, res := range r.Results {
		if res.Status == StatusFailed || res.Status == StatusBlocked {
			out = append(out, res.Gate)
		}
	}
	return out
}

// JSON returns the report as indented JSON.
func (r *Report) JSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Strategy selects how gates are executed.
type Strategy string

const (
	// StrategySequential runs gates one at a time in dependency order,
	// stopping at the first required failure.
	StrategySequential Strategy = "sequential"
	// StrategyParallel runs independent gates concurrently, layered by
	// dependencies.
	StrategyParallel Strategy = "parallel"
	// StrategyAdaptive runs required gates sequentially with fail-fast,
	// then the optional gates in parallel.
	StrategyAdaptive Strategy = "adaptive"
)
