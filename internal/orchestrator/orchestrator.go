// Package orchestrator composes the chain run lifecycle: create from an idea,
// advance stage by stage, remediate parked stages, abort, and report status.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/forgelabs/chainforge/internal/analyzer"
	"github.com/forgelabs/chainforge/internal/chain"
	"github.com/forgelabs/chainforge/internal/config"
	"github.com/forgelabs/chainforge/internal/db"
	"github.com/forgelabs/chainforge/internal/stage"
	"github.com/forgelabs/chainforge/internal/wave"
)

// Orchestrator drives chain runs through their lifecycle.
type Orchestrator struct {
	cfg      *config.Chain
	store    *chain.Store
	analyzer *analyzer.Analyzer
	assessor *wave.Assessor
	engine   *stage.Engine
	events   stage.EventLog // optional
	progress io.Writer
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg *config.Chain, store *chain.Store, an *analyzer.Analyzer, engine *stage.Engine, progress io.Writer) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		analyzer: an,
		assessor: wave.New(cfg.Wave),
		engine:   engine,
		progress: progress,
	}
}

// SetEventLog attaches a durable event log.
func (o *Orchestrator) SetEventLog(log stage.EventLog) { o.events = log }

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.progress != nil {
		fmt.Fprintf(o.progress, format+"\n", args...)
	}
}

// Create analyzes the project at root, assesses wave mode, and initialises a
// new run at the first configured stage. A failed context analysis aborts
// creation; no run is persisted.
func (o *Orchestrator) Create(idea, root string) (*chain.Run, error) {
	if strings.TrimSpace(idea) == "" {
		return nil, fmt.Errorf("idea is empty")
	}
	if len(o.cfg.Stages) == 0 {
		return nil, fmt.Errorf("no stages configured")
	}

	decision, pctx, err := o.Assess(idea, root)
	if err != nil {
		return nil, err
	}
	o.logf("wave assessment: score %.2f, multi-wave %v, strategy %s", decision.Score, decision.MultiWave, decision.Strategy)

	order := make([]string, 0, len(o.cfg.Stages))
	for _, s := range o.cfg.Stages {
		order = append(order, s.ID)
	}

	run, err := o.store.Create(idea, order, pctx, decision)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	o.logEvent(run.ID, db.EventRunCreated, run.CurrentStage, 1,
		fmt.Sprintf("wave_score=%.2f multi_wave=%v strategy=%s", decision.Score, decision.MultiWave, decision.Strategy))
	return run, nil
}

// Assess analyzes the project at root and returns the wave decision for an
// idea without creating a run.
func (o *Orchestrator) Assess(idea, root string) (wave.Decision, *analyzer.ProjectContext, error) {
	pctx, err := o.analyzer.Analyze(root)
	if err != nil {
		return wave.Decision{}, nil, fmt.Errorf("analyze project: %w", err)
	}
	return o.assessor.Assess(o.waveInputs(idea, pctx)), pctx, nil
}

// waveInputs derives the five complexity signals from the configured chain,
// the idea text, and the analyzed context. Each signal saturates at 1.0.
func (o *Orchestrator) waveInputs(idea string, pctx *analyzer.ProjectContext) wave.Inputs {
	// Five stages is a full chain.
	chainComplexity := saturate(float64(len(o.cfg.Stages)), 5)

	// How much of the agent roster the stages actually pull in.
	referenced := make(map[string]bool)
	requiredGates := 0
	for _, s := range o.cfg.Stages {
		for _, tag := range s.AgentPolicy.RequirementTags {
			referenced[tag] = true
		}
		for _, id := range s.AgentPolicy.OptionalAgents {
			referenced[id] = true
		}
		requiredGates += len(s.RequiredGates)
	}
	coordination := 0.0
	if len(o.cfg.Agents) > 0 {
		coordination = saturate(float64(len(referenced)), float64(len(o.cfg.Agents)))
	}

	// Idea length is the only scale signal available before any stage runs.
	scale := saturate(float64(len(strings.Fields(idea))), 100)

	var topDomain float64
	for _, d := range analyzer.Domains {
		if s := pctx.Score(d); s > topDomain {
			topDomain = s
		}
	}

	quality := saturate(float64(requiredGates), 10)

	return wave.Inputs{
		ChainComplexity:     chainComplexity,
		AgentCoordination:   coordination,
		ImplementationScale: scale,
		ProjectContext:      topDomain,
		QualityRequirements: quality,
	}
}

func saturate(v, max float64) float64 {
	if max <= 0 || v >= max {
		return 1.0
	}
	if v <= 0 {
		return 0
	}
	return v / max
}

// Advance runs the current stage of a run. A run awaiting remediation must go
// through Remediate instead.
func (o *Orchestrator) Advance(ctx context.Context, id string) (*stage.Outcome, error) {
	run, err := o.store.Get(id)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return nil, fmt.Errorf("run %s is %s", id, run.Status)
	}
	if run.Status == chain.StatusAwaitingRemediation {
		return nil, fmt.Errorf("run %s is awaiting remediation at stage %s; provide remediation input", id, run.CurrentStage)
	}
	return o.engine.RunStage(ctx, run)
}

// Remediate re-runs a parked stage with the given feedback.
func (o *Orchestrator) Remediate(ctx context.Context, id, feedback string) (*stage.Outcome, error) {
	run, err := o.store.Get(id)
	if err != nil {
		return nil, err
	}
	return o.engine.RunRemediation(ctx, run, feedback)
}

// Abort terminates a run. In-flight work is cancelled by the caller's context;
// capability leases release in the instance cleanup paths.
func (o *Orchestrator) Abort(id, reason string) error {
	run, err := o.store.Get(id)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s is already %s", id, run.Status)
	}
	if err := o.store.Update(id, func(r *chain.Run) { r.Status = chain.StatusAborted }); err != nil {
		return err
	}
	o.logEvent(id, db.EventRunAborted, run.CurrentStage, run.CurrentAttempt, reason)
	o.logf("run %s aborted", id)
	return nil
}

// Fail marks a run as failed.
func (o *Orchestrator) Fail(id, reason string) error {
	run, err := o.store.Get(id)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s is already %s", id, run.Status)
	}
	if err := o.store.Update(id, func(r *chain.Run) { r.Status = chain.StatusFailed }); err != nil {
		return err
	}
	o.logEvent(id, db.EventRunFailed, run.CurrentStage, run.CurrentAttempt, reason)
	return nil
}

// StatusInfo is the reportable state of one run.
type StatusInfo struct {
	ID        string                    `json:"id"`
	Idea      string                    `json:"idea"`
	Status    chain.Status              `json:"status"`
	Stage     string                    `json:"stage"`
	Attempt   int                       `json:"attempt"`
	MultiWave bool                      `json:"multi_wave"`
	Strategy  wave.Strategy             `json:"strategy"`
	WaveScore float64                   `json:"wave_score"`
	Outputs   []chain.StageOutput       `json:"outputs,omitempty"`
	History   []chain.StageHistoryEntry `json:"history,omitempty"`
	CreatedAt string                    `json:"created_at"`
	UpdatedAt string                    `json:"updated_at"`
}

func statusInfo(run *chain.Run) StatusInfo {
	return StatusInfo{
		ID:        run.ID,
		Idea:      run.Idea,
		Status:    run.Status,
		Stage:     run.CurrentStage,
		Attempt:   run.CurrentAttempt,
		MultiWave: run.Wave.MultiWave,
		Strategy:  run.Wave.Strategy,
		WaveScore: run.Wave.Score,
		Outputs:   run.Outputs,
		History:   run.History,
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	}
}

// Status returns the state of one run.
func (o *Orchestrator) Status(id string) (*StatusInfo, error) {
	run, err := o.store.Get(id)
	if err != nil {
		return nil, err
	}
	info := statusInfo(run)
	return &info, nil
}

// StatusAll returns summary state for every run, oldest first.
func (o *Orchestrator) StatusAll() ([]StatusInfo, error) {
	runs, err := o.store.List("")
	if err != nil {
		return nil, err
	}
	infos := make([]StatusInfo, 0, len(runs))
	for i := range runs {
		info := statusInfo(&runs[i])
		info.History = nil // keep the listing compact
		infos = append(infos, info)
	}
	return infos, nil
}

func (o *Orchestrator) logEvent(runID, event, stageID string, attempt int, detail string) {
	if o.events == nil {
		return
	}
	if err := o.events.LogChainEvent(runID, event, stageID, attempt, detail); err != nil {
		o.logf("log event %s: %v", event, err)
	}
}
