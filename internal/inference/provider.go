// Package inference is the boundary to the external model that produces
// stage output. The engine only sees the Provider interface.
package inference

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/forgelabs/chainforge/internal/config"
)

// Provider produces stage output from a rendered prompt.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ExecProvider shells out to a configured command, feeding the prompt on
// stdin and reading the output from stdout.
type ExecProvider struct {
	command string
	args    []string
	timeout time.Duration
}

// NewExecProvider creates an ExecProvider from the inference config.
func NewExecProvider(cfg config.Inference) (*ExecProvider, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("inference command is not configured")
	}
	timeout := 10 * time.Minute
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("parse inference timeout %q: %w", cfg.Timeout, err)
		}
		timeout = d
	}
	return &ExecProvider{command: cfg.Command, args: cfg.Args, timeout: timeout}, nil
}

// Generate runs the command once. A non-zero exit fails the attempt; the
// stage controller decides whether to retry through remediation.
func (p *ExecProvider) Generate(ctx context.Context, prompt string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, p.command, p.args...)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("inference timed out after %s", p.timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("inference command failed: %w: %s", err, msg)
		}
		return "", fmt.Errorf("inference command failed: %w", err)
	}

	out := stdout.String()
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("inference command produced no output")
	}
	return out, nil
}
