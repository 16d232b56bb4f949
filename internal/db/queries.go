package db

import (
	"database/sql"
	"fmt"
)

// Chain lifecycle event names logged to chain_events.
const (
	EventRunCreated         = "run_created"
	EventStageStarted       = "stage_started"
	EventAgentsSpawned      = "agents_spawned"
	EventStageAdvanced      = "stage_advanced"
	EventRemediation        = "remediation"
	EventWaveMiscalculation = "wave_miscalculation"
	EventRunCompleted       = "run_completed"
	EventRunAborted         = "run_aborted"
	EventRunFailed          = "run_failed"
)

// ChainEvent represents a row in the chain_events table.
type ChainEvent struct {
	ID        int
	RunID     string
	Event     string
	Stage     string
	Attempt   int
	Detail    string
	Timestamp string
}

// GateRun represents a row in the gate_runs table.
type GateRun struct {
	ID         int
	RunID      string
	Stage      string
	Attempt    int
	Gate       string
	Status     string
	Score      float64
	Threshold  float64
	Required   bool
	Cached     bool
	DurationMs int
	Summary    string
	Timestamp  string
}

// AgentRun represents a row in the agent_runs table.
type AgentRun struct {
	ID         int
	RunID      string
	Stage      string
	Attempt    int
	InstanceID string
	Agent      string
	Domain     string
	Decision   string // "auto_spawn" or "suggest"
	State      string
	Attempts   int
	DurationMs int
	Findings   int
	Error      string
	Timestamp  string
}

// LogChainEvent inserts a chain lifecycle event.
func (d *DB) LogChainEvent(runID, event, stage string, attempt int, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO chain_events (run_id, event, stage, attempt, detail) VALUES (?, ?, ?, ?, ?)`,
		runID, event, stage, attempt, detail,
	)
	if err != nil {
		return fmt.Errorf("log chain event: %w", err)
	}
	return nil
}

// GetChainEvents returns all events for a run, oldest first.
func (d *DB) GetChainEvents(runID string) ([]ChainEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, event, stage, attempt, detail, timestamp
		 FROM chain_events WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get chain events: %w", err)
	}
	defer rows.Close()

	var events []ChainEvent
	for rows.Next() {
		var e ChainEvent
		var stage, detail sql.NullString
		var attempt sql.NullInt64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event, &stage, &attempt, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan chain event: %w", err)
		}
		e.Stage = stage.String
		e.Attempt = int(attempt.Int64)
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// LogGateRun inserts one gate evaluation result.
func (d *DB) LogGateRun(g GateRun) error {
	_, err := d.conn.Exec(
		`INSERT INTO gate_runs (run_id, stage, attempt, gate, status, score, threshold, required, cached, duration_ms, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.RunID, g.Stage, g.Attempt, g.Gate, g.Status, g.Score, g.Threshold, g.Required, g.Cached, g.DurationMs, g.Summary,
	)
	if err != nil {
		return fmt.Errorf("log gate run: %w", err)
	}
	return nil
}

// GetGateRuns returns gate evaluations for a run and stage, oldest first.
func (d *DB) GetGateRuns(runID, stage string) ([]GateRun, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, stage, attempt, gate, status, score, threshold, required, cached, duration_ms, summary, timestamp
		 FROM gate_runs WHERE run_id = ? AND stage = ? ORDER BY id ASC`,
		runID, stage,
	)
	if err != nil {
		return nil, fmt.Errorf("get gate runs: %w", err)
	}
	defer rows.Close()

	var runs []GateRun
	for rows.Next() {
		var g GateRun
		var durationMs sql.NullInt64
		var summary sql.NullString
		if err := rows.Scan(&g.ID, &g.RunID, &g.Stage, &g.Attempt, &g.Gate, &g.Status, &g.Score, &g.Threshold, &g.Required, &g.Cached, &durationMs, &summary, &g.Timestamp); err != nil {
			return nil, fmt.Errorf("scan gate run: %w", err)
		}
		g.DurationMs = int(durationMs.Int64)
		g.Summary = summary.String
		runs = append(runs, g)
	}
	return runs, rows.Err()
}

// LogAgentRun inserts one agent instance result.
func (d *DB) LogAgentRun(a AgentRun) error {
	_, err := d.conn.Exec(
		`INSERT INTO agent_runs (run_id, stage, attempt, instance_id, agent, domain, decision, state, attempts, duration_ms, findings, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.Stage, a.Attempt, a.InstanceID, a.Agent, a.Domain, a.Decision, a.State, a.Attempts, a.DurationMs, a.Findings, a.Error,
	)
	if err != nil {
		return fmt.Errorf("log agent run: %w", err)
	}
	return nil
}

// GetAgentRuns returns agent results for a run and stage, oldest first.
func (d *DB) GetAgentRuns(runID, stage string) ([]AgentRun, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, stage, attempt, instance_id, agent, domain, decision, state, attempts, duration_ms, findings, error, timestamp
		 FROM agent_runs WHERE run_id = ? AND stage = ? ORDER BY id ASC`,
		runID, stage,
	)
	if err != nil {
		return nil, fmt.Errorf("get agent runs: %w", err)
	}
	defer rows.Close()

	var runs []AgentRun
	for rows.Next() {
		var a AgentRun
		var durationMs sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&a.ID, &a.RunID, &a.Stage, &a.Attempt, &a.InstanceID, &a.Agent, &a.Domain, &a.Decision, &a.State, &a.Attempts, &durationMs, &a.Findings, &errMsg, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan agent run: %w", err)
		}
		a.DurationMs = int(durationMs.Int64)
		a.Error = errMsg.String
		runs = append(runs, a)
	}
	return runs, rows.Err()
}

// LogServerSample inserts one capability call sample. The mcp registry's
// SampleSink feeds this.
func (d *DB) LogServerSample(serverID string, latencyMs int, success bool) error {
	_, err := d.conn.Exec(
		`INSERT INTO server_samples (server_id, latency_ms, success) VALUES (?, ?, ?)`,
		serverID, latencyMs, success,
	)
	if err != nil {
		return fmt.Errorf("log server sample: %w", err)
	}
	return nil
}
