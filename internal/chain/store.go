package chain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/forgelabs/chainforge/internal/analyzer"
	"github.com/forgelabs/chainforge/internal/wave"
)

// Store manages chain run state on disk.
type Store struct {
	baseDir string // defaults to ~/.chainforge/runs
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.chainforge/runs, creating the directory
// if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".chainforge", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runDir(id string) string {
	return filepath.Join(s.baseDir, id)
}

func (s *Store) runPath(id string) string {
	return filepath.Join(s.runDir(id), "run.json")
}

func (s *Store) contextPath(id string) string {
	return filepath.Join(s.runDir(id), "context.json")
}

// stageAttemptDir returns the directory for a specific stage attempt.
func (s *Store) stageAttemptDir(id, stage string, attempt int) string {
	return filepath.Join(s.runDir(id), "stages", stage, fmt.Sprintf("attempt-%d", attempt))
}

// writeArtifact replaces a run artifact atomically: the data lands in a
// sibling temp file and is renamed over the target, so a crash mid-write
// never leaves a truncated run.json or stage artifact behind.
func (s *Store) writeArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeArtifactJSON marshals v and writes it as an artifact.
func (s *Store) writeArtifactJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return s.writeArtifact(path, append(data, '\n'))
}

// readArtifactJSON reads a JSON artifact into v.
func (s *Store) readArtifactJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Create initialises a new run on disk with its context snapshot and wave
// decision, returning the persisted run.
func (s *Store) Create(idea string, stageOrder []string, pctx *analyzer.ProjectContext, decision wave.Decision) (*Run, error) {
	if len(stageOrder) == 0 {
		return nil, fmt.Errorf("stage order is empty")
	}

	id := uuid.NewString()
	dir := s.runDir(id)
	if err := os.MkdirAll(filepath.Join(dir, "stages"), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir stages: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	run := &Run{
		ID:             id,
		Idea:           idea,
		StageOrder:     append([]string(nil), stageOrder...),
		CurrentStage:   stageOrder[0],
		CurrentAttempt: 1,
		Status:         StatusPending,
		ContextVersion: pctx.Version,
		Wave:           decision,
		Outputs:        []StageOutput{},
		History:        []StageHistoryEntry{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.writeArtifactJSON(s.runPath(id), run); err != nil {
		return nil, fmt.Errorf("write run.json: %w", err)
	}
	if err := s.writeArtifactJSON(s.contextPath(id), pctx); err != nil {
		return nil, fmt.Errorf("write context.json: %w", err)
	}
	return run, nil
}

// Get reads the run state for an ID.
func (s *Store) Get(id string) (*Run, error) {
	var run Run
	if err := s.readArtifactJSON(s.runPath(id), &run); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s not found", id)
		}
		return nil, err
	}
	return &run, nil
}

// Update performs an atomic read-modify-write of the run state.
func (s *Store) Update(id string, fn func(*Run)) error {
	run, err := s.Get(id)
	if err != nil {
		return err
	}
	fn(run)
	run.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return s.writeArtifactJSON(s.runPath(id), run)
}

// List returns all runs, optionally filtered by status.
// Pass "" to return all runs.
func (s *Store) List(statusFilter Status) ([]Run, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []Run
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if statusFilter == "" || run.Status == statusFilter {
			runs = append(runs, *run)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt < runs[j].CreatedAt
	})
	return runs, nil
}

// Delete removes all data for a run.
func (s *Store) Delete(id string) error {
	dir := s.runDir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("run %s not found", id)
	}
	return os.RemoveAll(dir)
}

// SaveContext persists a re-derived context snapshot and records its version
// on the run.
func (s *Store) SaveContext(id string, pctx *analyzer.ProjectContext) error {
	if err := s.writeArtifactJSON(s.contextPath(id), pctx); err != nil {
		return fmt.Errorf("write context.json: %w", err)
	}
	return s.Update(id, func(r *Run) {
		r.ContextVersion = pctx.Version
	})
}

// GetContext reads the run's context snapshot.
func (s *Store) GetContext(id string) (*analyzer.ProjectContext, error) {
	var pctx analyzer.ProjectContext
	if err := s.readArtifactJSON(s.contextPath(id), &pctx); err != nil {
		return nil, err
	}
	return &pctx, nil
}

// AppendOutput accepts a stage output, enforcing monotonic stage order: a
// stage at or before the latest accepted one is rejected unless the run is in
// remediation at exactly that stage.
func (s *Store) AppendOutput(id string, out StageOutput) error {
	run, err := s.Get(id)
	if err != nil {
		return err
	}

	idx := run.StageIndex(out.Stage)
	if idx < 0 {
		return fmt.Errorf("stage %q not in run order", out.Stage)
	}
	latest := run.LatestAcceptedIndex()
	if idx <= latest {
		remediating := run.Status == StatusAwaitingRemediation && run.CurrentStage == out.Stage
		if !remediating {
			return fmt.Errorf("stage %q already completed: stage order is monotonic", out.Stage)
		}
		// Remediation replaces the stage's prior output in place.
		return s.Update(id, func(r *Run) {
			for i := range r.Outputs {
				if r.Outputs[i].Stage == out.Stage {
					r.Outputs[i] = out
					return
				}
			}
		})
	}
	if idx != latest+1 {
		return fmt.Errorf("stage %q out of order: expected %q next", out.Stage, run.StageOrder[latest+1])
	}

	return s.Update(id, func(r *Run) {
		r.Outputs = append(r.Outputs, out)
	})
}

// SavePrompt writes the rendered stage prompt for an attempt.
func (s *Store) SavePrompt(id, stage string, attempt int, prompt string) error {
	dir := s.stageAttemptDir(id, stage, attempt)
	return s.writeArtifact(filepath.Join(dir, "prompt.md"), []byte(prompt))
}

// GetPrompt reads the rendered stage prompt for an attempt.
func (s *Store) GetPrompt(id, stage string, attempt int) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.stageAttemptDir(id, stage, attempt), "prompt.md"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SaveOutput writes the raw stage output for an attempt.
func (s *Store) SaveOutput(id, stage string, attempt int, output string) error {
	dir := s.stageAttemptDir(id, stage, attempt)
	return s.writeArtifact(filepath.Join(dir, "output.md"), []byte(output))
}

// GetOutput reads the raw stage output for an attempt.
func (s *Store) GetOutput(id, stage string, attempt int) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.stageAttemptDir(id, stage, attempt), "output.md"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SaveGateReport writes the gate report JSON for an attempt.
func (s *Store) SaveGateReport(id, stage string, attempt int, report interface{}) error {
	dir := s.stageAttemptDir(id, stage, attempt)
	return s.writeArtifactJSON(filepath.Join(dir, "gates.json"), report)
}

// SaveAgentResults writes the aggregated agent results JSON for an attempt.
func (s *Store) SaveAgentResults(id, stage string, attempt int, results interface{}) error {
	dir := s.stageAttemptDir(id, stage, attempt)
	return s.writeArtifactJSON(filepath.Join(dir, "agents.json"), results)
}
