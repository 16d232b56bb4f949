// Package analytics computes aggregates over the event database: gate pass
// rates, agent spawn outcomes, remediation rates, wave decision splits, and
// capability server performance.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// GatePassRate holds pass statistics for one gate.
type GatePassRate struct {
	Gate     string  `json:"gate"`
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	PassRate float64 `json:"pass_rate_pct"`
	AvgScore float64 `json:"avg_score"`
}

// QueryGatePassRates returns per-gate pass rates, optionally since a
// timestamp. Blocked evaluations count against the gate's dependency, not
// the gate itself, so they are excluded.
func QueryGatePassRates(database DB, since string) ([]GatePassRate, error) {
	query := `
		SELECT gate,
			COUNT(*) as total,
			SUM(CASE WHEN status = 'passed' THEN 1 ELSE 0 END) as passed,
			AVG(score) as avg_score
		FROM gate_runs
		WHERE status != 'blocked'`
	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY gate ORDER BY gate`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query gate pass rates: %w", err)
	}
	defer rows.Close()

	var results []GatePassRate
	for rows.Next() {
		var r GatePassRate
		var avgScore sql.NullFloat64
		if err := rows.Scan(&r.Gate, &r.Total, &r.Passed, &avgScore); err != nil {
			return nil, fmt.Errorf("scan gate pass rate: %w", err)
		}
		r.AvgScore = round2(avgScore.Float64)
		if r.Total > 0 {
			r.PassRate = round2(100 * float64(r.Passed) / float64(r.Total))
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SpawnStats holds coordination statistics for one agent kind.
type SpawnStats struct {
	Agent          string  `json:"agent"`
	Total          int     `json:"total"`
	AutoSpawned    int     `json:"auto_spawned"`
	Suggested      int     `json:"suggested"`
	Completed      int     `json:"completed"`
	CompletionRate float64 `json:"completion_rate_pct"`
}

// QuerySpawnStats returns per-agent spawn decisions and completion rates.
func QuerySpawnStats(database DB, since string) ([]SpawnStats, error) {
	query := `
		SELECT agent,
			COUNT(*) as total,
			SUM(CASE WHEN decision = 'auto_spawn' THEN 1 ELSE 0 END) as auto_spawned,
			SUM(CASE WHEN decision = 'suggest' THEN 1 ELSE 0 END) as suggested,
			SUM(CASE WHEN state = 'completed' THEN 1 ELSE 0 END) as completed
		FROM agent_runs`
	args := []interface{}{}
	if since != "" {
		query += ` WHERE timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY agent ORDER BY agent`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query spawn stats: %w", err)
	}
	defer rows.Close()

	var results []SpawnStats
	for rows.Next() {
		var s SpawnStats
		if err := rows.Scan(&s.Agent, &s.Total, &s.AutoSpawned, &s.Suggested, &s.Completed); err != nil {
			return nil, fmt.Errorf("scan spawn stats: %w", err)
		}
		if s.Total > 0 {
			s.CompletionRate = round2(100 * float64(s.Completed) / float64(s.Total))
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

// RemediationRate holds remediation statistics for one stage.
type RemediationRate struct {
	Stage        string  `json:"stage"`
	Advanced     int     `json:"advanced"`
	Remediations int     `json:"remediations"`
	Rate         float64 `json:"remediation_rate_pct"`
}

// QueryRemediationRates returns, per stage, how often gate failures forced a
// remediation pass relative to successful advances.
func QueryRemediationRates(database DB, since string) ([]RemediationRate, error) {
	query := `
		SELECT stage,
			SUM(CASE WHEN event = 'stage_advanced' THEN 1 ELSE 0 END) as advanced,
			SUM(CASE WHEN event = 'remediation' THEN 1 ELSE 0 END) as remediations
		FROM chain_events
		WHERE event IN ('stage_advanced', 'remediation') AND stage != ''`
	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY stage ORDER BY stage`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query remediation rates: %w", err)
	}
	defer rows.Close()

	var results []RemediationRate
	for rows.Next() {
		var r RemediationRate
		if err := rows.Scan(&r.Stage, &r.Advanced, &r.Remediations); err != nil {
			return nil, fmt.Errorf("scan remediation rate: %w", err)
		}
		if total := r.Advanced + r.Remediations; total > 0 {
			r.Rate = round2(100 * float64(r.Remediations) / float64(total))
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// WaveSplit holds the distribution of wave decisions across created runs.
type WaveSplit struct {
	Strategy string  `json:"strategy"`
	Runs     int     `json:"runs"`
	Share    float64 `json:"share_pct"`
}

// QueryWaveSplit returns how often each execution strategy was chosen at run
// creation. The decision is recorded in the run_created event detail.
func QueryWaveSplit(database DB, since string) ([]WaveSplit, error) {
	query := `SELECT detail FROM chain_events WHERE event = 'run_created'`
	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query wave split: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	total := 0
	for rows.Next() {
		var detail sql.NullString
		if err := rows.Scan(&detail); err != nil {
			return nil, fmt.Errorf("scan wave split: %w", err)
		}
		strategy := "unknown"
		for _, field := range strings.Fields(detail.String) {
			if s, ok := strings.CutPrefix(field, "strategy="); ok {
				strategy = s
				break
			}
		}
		counts[strategy]++
		total++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []WaveSplit
	for strategy, runs := range counts {
		results = append(results, WaveSplit{
			Strategy: strategy,
			Runs:     runs,
			Share:    round2(100 * float64(runs) / float64(total)),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Runs != results[j].Runs {
			return results[i].Runs > results[j].Runs
		}
		return results[i].Strategy < results[j].Strategy
	})
	return results, nil
}

// ServerPerformance holds latency and success statistics for one server.
type ServerPerformance struct {
	ServerID     string  `json:"server_id"`
	Samples      int     `json:"samples"`
	SuccessRate  float64 `json:"success_rate_pct"`
	P50LatencyMs float64 `json:"p50_latency_ms"`
	P95LatencyMs float64 `json:"p95_latency_ms"`
}

// QueryServerPerformance returns per-server success rates and latency
// percentiles over the logged samples.
func QueryServerPerformance(database DB, since string) ([]ServerPerformance, error) {
	query := `SELECT server_id, latency_ms, success FROM server_samples`
	args := []interface{}{}
	if since != "" {
		query += ` WHERE timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query server performance: %w", err)
	}
	defer rows.Close()

	latencies := make(map[string][]float64)
	successes := make(map[string]int)
	for rows.Next() {
		var serverID string
		var latencyMs int
		var success bool
		if err := rows.Scan(&serverID, &latencyMs, &success); err != nil {
			return nil, fmt.Errorf("scan server sample: %w", err)
		}
		latencies[serverID] = append(latencies[serverID], float64(latencyMs))
		if success {
			successes[serverID]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []ServerPerformance
	for serverID, lats := range latencies {
		sort.Float64s(lats)
		results = append(results, ServerPerformance{
			ServerID:     serverID,
			Samples:      len(lats),
			SuccessRate:  round2(100 * float64(successes[serverID]) / float64(len(lats))),
			P50LatencyMs: percentile(lats, 50),
			P95LatencyMs: percentile(lats, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].ServerID < results[j].ServerID
	})
	return results, nil
}

// percentile returns the p-th percentile of sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return round2(sorted[lower])
	}
	frac := rank - float64(lower)
	return round2(sorted[lower] + frac*(sorted[upper]-sorted[lower]))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
