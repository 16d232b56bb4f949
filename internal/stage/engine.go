// Package stage drives a single pipeline stage end to end: agent scoring and
// spawning, prompt rendering, inference, gate evaluation, and the
// advance-or-remediate decision.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/forgelabs/chainforge/internal/agent"
	"github.com/forgelabs/chainforge/internal/analyzer"
	"github.com/forgelabs/chainforge/internal/chain"
	"github.com/forgelabs/chainforge/internal/config"
	"github.com/forgelabs/chainforge/internal/db"
	"github.com/forgelabs/chainforge/internal/gate"
	"github.com/forgelabs/chainforge/internal/inference"
	"github.com/forgelabs/chainforge/internal/prompt"
	"github.com/forgelabs/chainforge/internal/scoring"
	"github.com/forgelabs/chainforge/internal/wave"
)

// EventLog receives durable events from the engine. *db.DB implements it;
// a nil log disables event recording.
type EventLog interface {
	LogChainEvent(runID, event, stage string, attempt int, detail string) error
	LogGateRun(g db.GateRun) error
	LogAgentRun(a db.AgentRun) error
}

// Refresher re-derives the project context. Used between waves to checkpoint
// context drift.
type Refresher interface {
	Refresh(ctx context.Context) (*analyzer.ProjectContext, error)
}

// Engine executes stages for a run.
type Engine struct {
	cfg      *config.Chain
	store    *chain.Store
	scorer   *scoring.Engine
	coord    *agent.Coordinator
	gates    *gate.Framework
	provider inference.Provider
	assessor *wave.Assessor
	progress io.Writer

	events    EventLog  // optional
	refresher Refresher // optional
	workdir   string    // template override root, optional
}

// NewEngine creates an Engine over the configured pipeline.
func NewEngine(cfg *config.Chain, store *chain.Store, scorer *scoring.Engine, coord *agent.Coordinator, gates *gate.Framework, provider inference.Provider, progress io.Writer) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		scorer:   scorer,
		coord:    coord,
		gates:    gates,
		provider: provider,
		assessor: wave.New(cfg.Wave),
		progress: progress,
	}
}

// SetEventLog attaches a durable event log.
func (e *Engine) SetEventLog(log EventLog) { e.events = log }

// SetRefresher attaches a context refresher for between-wave checkpoints.
func (e *Engine) SetRefresher(r Refresher) { e.refresher = r }

// SetWorkdir sets the root for project-level template overrides.
func (e *Engine) SetWorkdir(dir string) { e.workdir = dir }

func (e *Engine) logf(format string, args ...interface{}) {
	if e.progress != nil {
		fmt.Fprintf(e.progress, format+"\n", args...)
	}
}

// RemediationRequest reports the gates that kept a stage from advancing.
type RemediationRequest struct {
	Stage       string   `json:"stage"`
	Attempt     int      `json:"attempt"`
	FailedGates []string `json:"failed_gates"`
}

// Outcome is the result of running one stage attempt.
type Outcome struct {
	Stage             string
	Attempt           int
	Output            string
	Suggested         []scoring.Result // suggest-bucket agents, surfaced but not spawned
	Aggregate         *agent.Aggregate
	Report            *gate.Report
	Advanced          bool
	RunComplete       bool
	Remediation       *RemediationRequest
	ConfidenceReduced bool
}

// RunStage executes the run's current stage: score agents, spawn the
// auto-spawn bucket, aggregate findings, render the prompt, generate output,
// and evaluate gates. All required gates passing advances the run; a required
// failure parks it in awaiting_remediation at the same stage.
func (e *Engine) RunStage(ctx context.Context, run *chain.Run) (*Outcome, error) {
	stageCfg := e.cfg.StageByID(run.CurrentStage)
	if stageCfg == nil {
		return nil, fmt.Errorf("stage %q is not configured", run.CurrentStage)
	}
	if run.Status.Terminal() {
		return nil, fmt.Errorf("run %s is %s", run.ID, run.Status)
	}

	input, err := e.stageInput(run)
	if err != nil {
		return nil, err
	}
	pctx, err := e.store.GetContext(run.ID)
	if err != nil {
		return nil, fmt.Errorf("load context for run %s: %w", run.ID, err)
	}

	attempt := run.CurrentAttempt
	e.logEvent(run.ID, db.EventStageStarted, stageCfg.ID, attempt, "")
	if err := e.store.Update(run.ID, func(r *chain.Run) { r.Status = chain.StatusInProgress }); err != nil {
		return nil, err
	}

	scores := e.scorer.Score(stageCfg, input, pctx, scoring.Prefs{})
	spawn, suggested := e.split(stageCfg, scores)
	decisions := make(map[string]scoring.Decision, len(scores))
	for _, s := range scores {
		decisions[s.AgentID] = s.Decision
	}
	outcome := &Outcome{Stage: stageCfg.ID, Attempt: attempt, Suggested: suggested}
	start := time.Now()

	waves := run.Wave.Waves()
	combined := &agent.Aggregate{Stage: stageCfg.ID}
	var sections, prompts []string
	var lastReport *gate.Report
	gatesPassed, gatesFailed, agentsSpawned := 0, 0, 0

	for i, wv := range waves {
		waveLabel := ""
		if run.Wave.MultiWave {
			waveLabel = string(wv)
			e.logf("stage %s: %s wave", stageCfg.ID, waveLabel)
		}

		agg, aggErr := e.coord.Run(ctx, agent.Task{Stage: stageCfg.ID, Content: input, Context: pctx}, spawn)
		if aggErr != nil {
			var partial *agent.PartialCoordinationFailureError
			if !errors.As(aggErr, &partial) {
				return nil, aggErr
			}
			// Proceed with the agents that completed, at reduced confidence.
			outcome.ConfidenceReduced = true
			e.logf("stage %s: partial coordination failure: %v", stageCfg.ID, aggErr)
		}
		// Every wave's results are kept; later waves add to the aggregate
		// rather than replacing it.
		combined.Results = append(combined.Results, agg.Results...)
		combined.Findings = append(combined.Findings, agg.Findings...)
		combined.Secondary = append(combined.Secondary, agg.Secondary...)
		outcome.Aggregate = combined
		agentsSpawned += len(agg.Results)
		e.logAgentRuns(run.ID, stageCfg.ID, attempt, agg, decisions)

		rendered, err := e.renderPrompt(stageCfg, run, input, agg, waveLabel, "")
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, rendered)

		output, err := e.provider.Generate(ctx, rendered)
		if err != nil {
			return nil, fmt.Errorf("stage %s inference: %w", stageCfg.ID, err)
		}
		sections = append(sections, output)

		report, err := e.gates.Run(ctx, *stageCfg, attempt, gate.Input{Stage: stageCfg.ID, Content: output}, gate.StrategyAdaptive)
		if err != nil {
			return nil, err
		}
		lastReport = report
		e.logGateRuns(run.ID, stageCfg.ID, attempt, report)
		gp, gf := countGates(report)
		gatesPassed += gp
		gatesFailed += gf

		if report.Blocked {
			outcome.Output = strings.Join(sections, waveSeparator)
			outcome.Report = report
			e.saveArtifacts(run.ID, stageCfg.ID, attempt, prompts, sections, report, outcome.Aggregate)
			return e.parkForRemediation(run, stageCfg.ID, attempt, report, time.Since(start), gatesPassed, gatesFailed, agentsSpawned, outcome)
		}

		if i < len(waves)-1 {
			pctx = e.checkpointContext(ctx, run, pctx)
		}
	}

	outcome.Output = strings.Join(sections, waveSeparator)
	outcome.Report = lastReport
	e.saveArtifacts(run.ID, stageCfg.ID, attempt, prompts, sections, lastReport, outcome.Aggregate)

	return e.advance(run, stageCfg, attempt, outcome, time.Since(start), gatesPassed, gatesFailed, agentsSpawned)
}

// RunRemediation re-runs the parked stage with remediation feedback folded
// into the prompt. Agents are not re-scored or re-spawned; only inference and
// gates run again.
func (e *Engine) RunRemediation(ctx context.Context, run *chain.Run, feedback string) (*Outcome, error) {
	if run.Status != chain.StatusAwaitingRemediation {
		return nil, fmt.Errorf("run %s is %s, not awaiting remediation", run.ID, run.Status)
	}
	stageCfg := e.cfg.StageByID(run.CurrentStage)
	if stageCfg == nil {
		return nil, fmt.Errorf("stage %q is not configured", run.CurrentStage)
	}

	input, err := e.stageInput(run)
	if err != nil {
		return nil, err
	}

	attempt := run.CurrentAttempt + 1
	if err := e.store.Update(run.ID, func(r *chain.Run) { r.CurrentAttempt = attempt }); err != nil {
		return nil, err
	}
	run.CurrentAttempt = attempt
	e.logEvent(run.ID, db.EventStageStarted, stageCfg.ID, attempt, "remediation attempt")

	outcome := &Outcome{Stage: stageCfg.ID, Attempt: attempt}
	start := time.Now()

	rendered, err := e.renderPrompt(stageCfg, run, input, nil, "", feedback)
	if err != nil {
		return nil, err
	}
	output, err := e.provider.Generate(ctx, rendered)
	if err != nil {
		return nil, fmt.Errorf("stage %s inference: %w", stageCfg.ID, err)
	}
	outcome.Output = output

	report, err := e.gates.Run(ctx, *stageCfg, attempt, gate.Input{Stage: stageCfg.ID, Content: output}, gate.StrategyAdaptive)
	if err != nil {
		return nil, err
	}
	outcome.Report = report
	e.logGateRuns(run.ID, stageCfg.ID, attempt, report)
	gp, gf := countGates(report)
	e.saveArtifacts(run.ID, stageCfg.ID, attempt, []string{rendered}, []string{output}, report, nil)

	if report.Blocked {
		return e.parkForRemediation(run, stageCfg.ID, attempt, report, time.Since(start), gp, gf, 0, outcome)
	}
	return e.advance(run, stageCfg, attempt, outcome, time.Since(start), gp, gf, 0)
}

const waveSeparator = "\n\n---\n\n"

// split partitions scored agents into spawn descriptors and surfaced
// suggestions. Auto-spawn decisions still have to clear the stage's own
// spawning threshold.
func (e *Engine) split(stageCfg *config.Stage, scores []scoring.Result) ([]config.Agent, []scoring.Result) {
	var spawn []config.Agent
	var suggested []scoring.Result
	for _, s := range scores {
		switch s.Decision {
		case scoring.DecisionAutoSpawn:
			if s.Total < stageCfg.AgentPolicy.SpawningThreshold {
				suggested = append(suggested, s)
				continue
			}
			if a := e.cfg.AgentByID(s.AgentID); a != nil {
				spawn = append(spawn, *a)
			}
		case scoring.DecisionSuggest:
			suggested = append(suggested, s)
		}
	}
	return spawn, suggested
}

// stageInput returns the content the current stage works from: the accepted
// output of the previous stage, or the raw idea for the first stage.
func (e *Engine) stageInput(run *chain.Run) (string, error) {
	idx := run.StageIndex(run.CurrentStage)
	if idx <= 0 {
		return run.Idea, nil
	}
	prevStage := run.StageOrder[idx-1]
	for _, out := range run.Outputs {
		if out.Stage == prevStage {
			content, err := e.store.GetOutput(run.ID, prevStage, out.Attempt)
			if err != nil {
				return "", fmt.Errorf("load %s output for run %s: %w", prevStage, run.ID, err)
			}
			return content, nil
		}
	}
	return "", fmt.Errorf("stage %s has no accepted %s output to build on", run.CurrentStage, prevStage)
}

// renderPrompt loads and renders the stage template.
func (e *Engine) renderPrompt(stageCfg *config.Stage, run *chain.Run, input string, agg *agent.Aggregate, waveLabel, feedback string) (string, error) {
	name := stageCfg.PromptTemplate
	if name == "" {
		name = stageCfg.ID + ".md"
	}
	tmpl, err := prompt.LoadTemplate(name, e.workdir)
	if err != nil {
		return "", err
	}

	vars := prompt.Vars{
		"idea":                 run.Idea,
		"stage_id":             stageCfg.ID,
		"attempt":              fmt.Sprintf("%d", run.CurrentAttempt),
		"prior_output":         input,
		"findings":             formatFindings(agg),
		"wave":                 waveLabel,
		"remediation_feedback": feedback,
	}
	rendered, err := prompt.Render(tmpl, vars)
	if err != nil {
		return "", fmt.Errorf("render %s template: %w", stageCfg.ID, err)
	}
	return rendered, nil
}

// formatFindings flattens an aggregate into prompt-ready markdown.
func formatFindings(agg *agent.Aggregate) string {
	if agg == nil || len(agg.Findings) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range agg.Findings {
		fmt.Fprintf(&b, "- [%s] %s: %s", f.AgentID, f.Region, f.Content)
		if f.ConfidenceReduced {
			b.WriteString(" (reduced confidence)")
		}
		b.WriteString("\n")
	}
	for _, f := range agg.Secondary {
		fmt.Fprintf(&b, "- [%s] %s (secondary): %s\n", f.AgentID, f.Region, f.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// checkpointContext re-derives the project context between waves. A delta at
// or above the redetect threshold triggers a wave re-assessment; a flipped
// decision is recorded and applied from the next stage.
func (e *Engine) checkpointContext(ctx context.Context, run *chain.Run, pctx *analyzer.ProjectContext) *analyzer.ProjectContext {
	if e.refresher == nil {
		return pctx
	}
	fresh, err := e.refresher.Refresh(ctx)
	if err != nil {
		e.logf("context refresh failed, keeping snapshot: %v", err)
		return pctx
	}
	delta := analyzer.Delta(pctx, fresh)
	if delta < e.cfg.Wave.RedetectThreshold {
		return pctx
	}

	if err := e.store.SaveContext(run.ID, fresh); err != nil {
		e.logf("save refreshed context: %v", err)
		return pctx
	}
	e.logf("context drift %.2f >= %.2f, re-assessing wave mode", delta, e.cfg.Wave.RedetectThreshold)

	in := run.Wave.Inputs
	in.ProjectContext = topScore(fresh)
	reassessed := e.assessor.Assess(in)
	if wave.Flipped(run.Wave, reassessed) {
		detail := fmt.Sprintf("multi_wave %v -> %v (delta %.2f)", run.Wave.MultiWave, reassessed.MultiWave, delta)
		e.logEvent(run.ID, db.EventWaveMiscalculation, run.CurrentStage, run.CurrentAttempt, detail)
		// The flip applies from the next stage; the current wave plan
		// finishes as assessed.
		if err := e.store.Update(run.ID, func(r *chain.Run) { r.Wave = reassessed }); err != nil {
			e.logf("save re-assessed wave decision: %v", err)
		}
	}
	return fresh
}

func topScore(pctx *analyzer.ProjectContext) float64 {
	var max float64
	for _, d := range analyzer.Domains {
		if s := pctx.Score(d); s > max {
			max = s
		}
	}
	return max
}

// parkForRemediation leaves the run at the current stage awaiting revised
// input.
func (e *Engine) parkForRemediation(run *chain.Run, stageID string, attempt int, report *gate.Report, dur time.Duration, gp, gf, spawned int, outcome *Outcome) (*Outcome, error) {
	failed := report.Failures()
	err := e.store.Update(run.ID, func(r *chain.Run) {
		r.Status = chain.StatusAwaitingRemediation
		r.History = append(r.History, chain.StageHistoryEntry{
			Stage:         stageID,
			Attempt:       attempt,
			Outcome:       "remediation",
			Duration:      dur.Round(time.Millisecond).String(),
			GatesPassed:   gp,
			GatesFailed:   gf,
			AgentsSpawned: spawned,
		})
	})
	if err != nil {
		return nil, err
	}
	run.Status = chain.StatusAwaitingRemediation

	e.logEvent(run.ID, db.EventRemediation, stageID, attempt, strings.Join(failed, ", "))
	e.logf("stage %s blocked by gates: %s", stageID, strings.Join(failed, ", "))
	outcome.Remediation = &RemediationRequest{Stage: stageID, Attempt: attempt, FailedGates: failed}
	return outcome, nil
}

// advance accepts the stage output and moves the run forward.
func (e *Engine) advance(run *chain.Run, stageCfg *config.Stage, attempt int, outcome *Outcome, dur time.Duration, gp, gf, spawned int) (*Outcome, error) {
	out := chain.StageOutput{
		Stage:      stageCfg.ID,
		Attempt:    attempt,
		Summary:    summarize(outcome.Output),
		AcceptedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if run.Wave.MultiWave {
		out.Wave = string(run.Wave.Strategy)
	}
	if err := e.store.AppendOutput(run.ID, out); err != nil {
		return nil, err
	}

	next := run.NextStage()
	err := e.store.Update(run.ID, func(r *chain.Run) {
		r.History = append(r.History, chain.StageHistoryEntry{
			Stage:         stageCfg.ID,
			Attempt:       attempt,
			Outcome:       "accepted",
			Duration:      dur.Round(time.Millisecond).String(),
			GatesPassed:   gp,
			GatesFailed:   gf,
			AgentsSpawned: spawned,
		})
		if next == "" {
			r.Status = chain.StatusCompleted
			return
		}
		r.CurrentStage = next
		r.CurrentAttempt = 1
		r.Status = chain.StatusInProgress
	})
	if err != nil {
		return nil, err
	}

	outcome.Advanced = true
	if next == "" {
		outcome.RunComplete = true
		run.Status = chain.StatusCompleted
		e.logEvent(run.ID, db.EventRunCompleted, stageCfg.ID, attempt, "")
		e.logf("run %s completed", run.ID)
	} else {
		run.CurrentStage = next
		run.CurrentAttempt = 1
		run.Status = chain.StatusInProgress
		e.logEvent(run.ID, db.EventStageAdvanced, stageCfg.ID, attempt, "next: "+next)
		e.logf("stage %s accepted, advancing to %s", stageCfg.ID, next)
	}
	return outcome, nil
}

// summarize trims stage output to a short single-line summary.
func summarize(output string) string {
	line := strings.TrimSpace(output)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimLeft(line, "# ")
	if len(line) > 120 {
		line = line[:120]
	}
	return line
}

func countGates(report *gate.Report) (passed, failed int) {
	for _, r := range report.Results {
		switch r.Status {
		case gate.StatusPassed, gate.StatusWarning:
			passed++
		default:
			failed++
		}
	}
	return passed, failed
}

// saveArtifacts persists prompt, output, gate report, and agent results for
// the attempt. Artifact failures are logged, not fatal.
func (e *Engine) saveArtifacts(runID, stageID string, attempt int, prompts, sections []string, report *gate.Report, agg *agent.Aggregate) {
	if err := e.store.SavePrompt(runID, stageID, attempt, strings.Join(prompts, waveSeparator)); err != nil {
		e.logf("save prompt: %v", err)
	}
	if err := e.store.SaveOutput(runID, stageID, attempt, strings.Join(sections, waveSeparator)); err != nil {
		e.logf("save output: %v", err)
	}
	if report != nil {
		if err := e.store.SaveGateReport(runID, stageID, attempt, report); err != nil {
			e.logf("save gate report: %v", err)
		}
	}
	if agg != nil {
		if err := e.store.SaveAgentResults(runID, stageID, attempt, agg); err != nil {
			e.logf("save agent results: %v", err)
		}
	}
}

func (e *Engine) logEvent(runID, event, stage string, attempt int, detail string) {
	if e.events == nil {
		return
	}
	if err := e.events.LogChainEvent(runID, event, stage, attempt, detail); err != nil {
		e.logf("log event %s: %v", event, err)
	}
}

func (e *Engine) logGateRuns(runID, stage string, attempt int, report *gate.Report) {
	if e.events == nil || report == nil {
		return
	}
	for _, r := range report.Results {
		err := e.events.LogGateRun(db.GateRun{
			RunID:      runID,
			Stage:      stage,
			Attempt:    attempt,
			Gate:       r.Gate,
			Status:     string(r.Status),
			Score:      r.Score,
			Threshold:  r.Threshold,
			Required:   r.Required,
			Cached:     r.Cached,
			DurationMs: r.DurationMs,
			Summary:    r.Summary,
		})
		if err != nil {
			e.logf("log gate run %s: %v", r.Gate, err)
		}
	}
}

func (e *Engine) logAgentRuns(runID, stage string, attempt int, agg *agent.Aggregate, decisions map[string]scoring.Decision) {
	if e.events == nil || agg == nil {
		return
	}
	for _, r := range agg.Results {
		decision := decisions[r.AgentID]
		if decision == "" {
			decision = scoring.DecisionAutoSpawn
		}
		err := e.events.LogAgentRun(db.AgentRun{
			RunID:      runID,
			Stage:      stage,
			Attempt:    attempt,
			InstanceID: r.InstanceID,
			Agent:      r.AgentID,
			Domain:     string(r.Domain),
			Decision:   string(decision),
			State:      string(r.State),
			Attempts:   r.Attempts,
			DurationMs: r.DurationMs,
			Findings:   len(r.Findings),
			Error:      r.Error,
		})
		if err != nil {
			e.logf("log agent run %s: %v", r.AgentID, err)
		}
	}
}
