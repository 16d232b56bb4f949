package gate

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/forgelabs/chainforge/internal/config"
	"github.com/forgelabs/chainforge/internal/mcp"
)

// Input is the stage output under evaluation.
type Input struct {
	Stage   string
	Content string
}

// Checker scores stage output against one gate definition. Scores are in
// [0, 1]; the framework compares them to the gate threshold.
type Checker interface {
	Check(ctx context.Context, gateID string, g config.Gate, in Input) (float64, string, error)
}

// StructureChecker scores the fraction of required markdown sections present.
// Sections come from the gate's "sections" param, comma-separated.
type StructureChecker struct{}

func (StructureChecker) Check(_ context.Context, _ string, g config.Gate, in Input) (float64, string, error) {
	sections := splitParam(g.Params["sections"])
	if len(sections) == 0 {
		return 1.0, "no sections required", nil
	}

	lower := strings.ToLower(in.Content)
	found := 0
	var missing []string
	for _, sec := range sections {
		if containsHeading(lower, strings.ToLower(sec)) {
			found++
		} else {
			missing = append(missing, sec)
		}
	}
	score := float64(found) / float64(len(sections))
	if len(missing) > 0 {
		return score, fmt.Sprintf("missing sections: %s", strings.Join(missing, ", ")), nil
	}
	return score, fmt.Sprintf("all %d sections present", len(sections)), nil
}

// containsHeading reports whether the content has a markdown heading line for
// the section name.
func containsHeading(lowerContent, section string) bool {
	for _, line := range strings.Split(lowerContent, "\n") {
		trimmed := strings.TrimLeft(strings.TrimSpace(line), "# ")
		if strings.HasPrefix(trimmed, section) && strings.HasPrefix(strings.TrimSpace(line), "#") {
			return true
		}
	}
	return false
}

// LengthChecker scores output length against "min_words" and "max_words"
// params. Inside the band scores 1.0; outside, the score decays linearly with
// the shortfall or overshoot.
type LengthChecker struct{}

func (LengthChecker) Check(_ context.Context, _ string, g config.Gate, in Input) (float64, string, error) {
	words := len(strings.Fields(in.Content))
	min := paramInt(g.Params, "min_words", 0)
	max := paramInt(g.Params, "max_words", 0)

	if min > 0 && words < min {
		score := float64(words) / float64(min)
		return score, fmt.Sprintf("%d words, below minimum %d", words, min), nil
	}
	if max > 0 && words > max {
		score := float64(max) / float64(words)
		return score, fmt.Sprintf("%d words, above maximum %d", words, max), nil
	}
	return 1.0, fmt.Sprintf("%d words", words), nil
}

// KeywordChecker scores the fraction of required keywords present in the
// output. Keywords come from the gate's "keywords" param, comma-separated.
type KeywordChecker struct{}

func (KeywordChecker) Check(_ context.Context, _ string, g config.Gate, in Input) (float64, string, error) {
	keywords := splitParam(g.Params["keywords"])
	if len(keywords) == 0 {
		return 1.0, "no keywords required", nil
	}

	lower := strings.ToLower(in.Content)
	found := 0
	var missing []string
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			found++
		} else {
			missing = append(missing, kw)
		}
	}
	score := float64(found) / float64(len(keywords))
	if len(missing) > 0 {
		return score, fmt.Sprintf("missing keywords: %s", strings.Join(missing, ", ")), nil
	}
	return score, fmt.Sprintf("all %d keywords present", len(keywords)), nil
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, command string, stdin string) (stdout string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out, feeding the stage
// output on stdin.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, command string, stdin string) (string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdin = strings.NewReader(stdin)

	var stdout strings.Builder
	cmd.Stdout = &stdout

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdout.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdout.String(), exitCode, nil
}

// CommandChecker runs the gate's external command with the output on stdin.
// A zero exit scores 1.0. On non-zero exit the last stdout line is parsed as
// a score if it is a float, otherwise the score is 0.
type CommandChecker struct {
	Runner CommandRunner
}

func (c CommandChecker) Check(ctx context.Context, gateID string, g config.Gate, in Input) (float64, string, error) {
	if g.Command == "" {
		return 0, "", fmt.Errorf("gate %s: command checker without command", gateID)
	}
	runner := c.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	stdout, exitCode, err := runner.Run(ctx, g.Command, in.Content)
	if err != nil {
		return 0, "", fmt.Errorf("gate %s: %w", gateID, err)
	}
	if exitCode == 0 {
		return 1.0, "command passed", nil
	}
	if score, ok := lastLineFloat(stdout); ok {
		return score, fmt.Sprintf("command exit %d, reported score %.2f", exitCode, score), nil
	}
	return 0, fmt.Sprintf("command exit %d", exitCode), nil
}

// CapabilityCaller is the seam to the capability server layer.
type CapabilityCaller interface {
	Call(ctx context.Context, req mcp.Request, tool string, args map[string]any) (*mcp.CallResult, error)
}

// CapabilityChecker evaluates output through an external capability server.
// The server's "evaluate" tool receives the stage and content and replies
// with a score as its first line of text.
type CapabilityChecker struct {
	Caller CapabilityCaller
}

func (c CapabilityChecker) Check(ctx context.Context, gateID string, g config.Gate, in Input) (float64, string, error) {
	if c.Caller == nil {
		return 0, "", fmt.Errorf("gate %s: capability checker without caller", gateID)
	}
	capability := ""
	if len(g.RequiredCapabilityTags) > 0 {
		capability = g.RequiredCapabilityTags[0]
	}
	if capability == "" {
		return 0, "", fmt.Errorf("gate %s: capability checker without capability tags", gateID)
	}

	res, err := c.Caller.Call(ctx, mcp.Request{Capability: capability}, "evaluate", map[string]any{
		"gate":    gateID,
		"stage":   in.Stage,
		"content": in.Content,
	})
	if err != nil {
		var noServer *mcp.NoAvailableServerError
		if errors.As(err, &noServer) {
			return 0, "", fmt.Errorf("gate %s: %w", gateID, err)
		}
		return 0, "", fmt.Errorf("gate %s: capability call: %w", gateID, err)
	}

	score, ok := firstLineFloat(res.Text)
	if !ok {
		return 0, "", fmt.Errorf("gate %s: server %s returned no score", gateID, res.ServerID)
	}
	return score, fmt.Sprintf("scored %.2f by %s", score, res.ServerID), nil
}

func splitParam(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func paramInt(params map[string]string, key string, fallback int) int {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func firstLineFloat(s string) (float64, bool) {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return parseScore(line)
}

func lastLineFloat(s string) (float64, bool) {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return 0, false
	}
	return parseScore(lines[len(lines)-1])
}

func parseScore(line string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil || f < 0 || f > 1 {
		return 0, false
	}
	return f, true
}
