package inference

import (
	"context"
	"strings"
	"testing"

	"github.com/forgelabs/chainforge/internal/config"
)

func TestNewExecProviderValidation(t *testing.T) {
	if _, err := NewExecProvider(config.Inference{}); err == nil {
		t.Error("empty command should error")
	}
	if _, err := NewExecProvider(config.Inference{Command: "cat", Timeout: "not-a-duration"}); err == nil {
		t.Error("bad timeout should error")
	}
}

func TestGenerateEchoesStdin(t *testing.T) {
	p, err := NewExecProvider(config.Inference{Command: "cat", Timeout: "10s"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	out, err := p.Generate(context.Background(), "render me")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "render me" {
		t.Errorf("out = %q", out)
	}
}

func TestGenerateCommandFailure(t *testing.T) {
	p, err := NewExecProvider(config.Inference{Command: "false"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := p.Generate(context.Background(), "prompt"); err == nil {
		t.Error("non-zero exit should error")
	}
}

func TestGenerateEmptyOutput(t *testing.T) {
	p, err := NewExecProvider(config.Inference{Command: "true"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	_, err = p.Generate(context.Background(), "prompt")
	if err == nil || !strings.Contains(err.Error(), "no output") {
		t.Errorf("expected no-output error, got %v", err)
	}
}

func TestGenerateTimeout(t *testing.T) {
	p, err := NewExecProvider(config.Inference{Command: "sleep", Args: []string{"5"}, Timeout: "50ms"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	_, err = p.Generate(context.Background(), "prompt")
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected timeout error, got %v", err)
	}
}
