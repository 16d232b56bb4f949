package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/forgelabs/chainforge/internal/config"
	"github.com/forgelabs/chainforge/internal/mcp"
)

// CapabilityCaller is the seam to the capability server layer.
type CapabilityCaller interface {
	Call(ctx context.Context, req mcp.Request, tool string, args map[string]any) (*mcp.CallResult, error)
}

// CapabilityWorker executes agents by consulting their capability servers.
// When no server can serve a capability, the worker falls back to a local
// keyword scan and tags the finding as reduced confidence instead of failing
// the instance.
type CapabilityWorker struct {
	caller CapabilityCaller
}

// NewCapabilityWorker creates a CapabilityWorker.
func NewCapabilityWorker(caller CapabilityCaller) *CapabilityWorker {
	return &CapabilityWorker{caller: caller}
}

// Execute runs one capability call per tag on the agent descriptor and
// returns a finding per call.
func (w *CapabilityWorker) Execute(ctx context.Context, inst Instance, task Task) ([]Finding, error) {
	desc := inst.Descriptor
	var findings []Finding

	for _, tag := range desc.MCPCapabilityTags {
		res, err := w.caller.Call(ctx, mcp.Request{AgentID: desc.ID, Capability: tag}, "analyze", map[string]any{
			"agent":   desc.ID,
			"domain":  desc.Domain,
			"stage":   task.Stage,
			"content": task.Content,
		})
		if err != nil {
			var noServer *mcp.NoAvailableServerError
			if errors.As(err, &noServer) {
				findings = append(findings, fallbackFinding(desc, tag, task))
				continue
			}
			return nil, fmt.Errorf("agent %s capability %s: %w", desc.ID, tag, err)
		}
		findings = append(findings, Finding{
			AgentID:    desc.ID,
			Region:     tag,
			Content:    res.Text,
			Confidence: 1.0,
		})
	}

	if len(desc.MCPCapabilityTags) == 0 {
		findings = append(findings, fallbackFinding(desc, desc.Domain, task))
	}
	return findings, nil
}

// fallbackFinding produces a reduced-confidence finding from a local keyword
// scan of the stage input when no server is available.
func fallbackFinding(desc config.Agent, region string, task Task) Finding {
	lower := strings.ToLower(task.Content)
	var hits []string
	for _, kw := range desc.DomainKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			hits = append(hits, kw)
		}
	}

	content := fmt.Sprintf("local %s analysis of %s stage input", desc.Domain, task.Stage)
	if len(hits) > 0 {
		content += "; matched: " + strings.Join(hits, ", ")
	}
	return Finding{
		AgentID:           desc.ID,
		Region:            region,
		Content:           content,
		Confidence:        0.5,
		ConfidenceReduced: true,
	}
}
