package mcp

import (
	"context"
	"fmt"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpprotocol "github.com/mark3labs/mcp-go/mcp"

	"github.com/forgelabs/chainforge/internal/config"
)

// Transport performs capability calls and health probes against a server.
// The production implementation speaks MCP; tests substitute a fake.
type Transport interface {
	Call(ctx context.Context, srv config.Server, tool string, args map[string]any) (string, error)
	Ping(ctx context.Context, srv config.Server) error
	Close() error
}

// MCPTransport speaks the Model Context Protocol over stdio, SSE, or
// streamable HTTP using mcp-go clients. Clients are created and initialized
// lazily per server, then reused across calls.
type MCPTransport struct {
	mu      sync.Mutex
	clients map[string]mcpclient.MCPClient
}

// NewMCPTransport creates an empty transport.
func NewMCPTransport() *MCPTransport {
	return &MCPTransport{clients: make(map[string]mcpclient.MCPClient)}
}

// client returns an initialized client for the server, creating one on first
// use.
func (t *MCPTransport) client(ctx context.Context, srv config.Server) (mcpclient.MCPClient, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[srv.ID]; ok {
		return c, nil
	}

	c, err := createClient(srv)
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", srv.ID, err)
	}

	initReq := mcpprotocol.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpprotocol.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpprotocol.Implementation{
		Name:    "chainforge",
		Version: "1.0.0",
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize %s: %w", srv.ID, err)
	}

	t.clients[srv.ID] = c
	return c, nil
}

// Call invokes a tool on the server and flattens text content into a single
// string.
func (t *MCPTransport) Call(ctx context.Context, srv config.Server, tool string, args map[string]any) (string, error) {
	c, err := t.client(ctx, srv)
	if err != nil {
		return "", err
	}

	req := mcpprotocol.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	result, err := c.CallTool(ctx, req)
	if err != nil {
		t.evict(srv.ID)
		return "", fmt.Errorf("call %s on %s: %w", tool, srv.ID, err)
	}
	if result.IsError {
		return "", fmt.Errorf("call %s on %s: tool reported error", tool, srv.ID)
	}

	var out string
	for _, content := range result.Content {
		if text, ok := mcpprotocol.AsTextContent(content); ok {
			out += text.Text
		}
	}
	return out, nil
}

// Ping probes the server for liveness, establishing the connection first if
// needed.
func (t *MCPTransport) Ping(ctx context.Context, srv config.Server) error {
	c, err := t.client(ctx, srv)
	if err != nil {
		return err
	}
	if err := c.Ping(ctx); err != nil {
		t.evict(srv.ID)
		return fmt.Errorf("ping %s: %w", srv.ID, err)
	}
	return nil
}

// Close shuts down all cached clients.
func (t *MCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for id, c := range t.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", id, err)
		}
		delete(t.clients, id)
	}
	return firstErr
}

// evict drops a cached client so the next call reconnects.
func (t *MCPTransport) evict(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[id]; ok {
		c.Close()
		delete(t.clients, id)
	}
}

// createClient builds an mcp-go client for the server's transport.
func createClient(srv config.Server) (mcpclient.MCPClient, error) {
	switch srv.Transport {
	case config.TransportStdio:
		return mcpclient.NewStdioMCPClient(srv.Command, nil, srv.Args...)
	case config.TransportSSE:
		return mcpclient.NewSSEMCPClient(srv.URL)
	case config.TransportHTTP:
		return mcpclient.NewStreamableHttpClient(srv.URL)
	default:
		return nil, fmt.Errorf("unsupported transport: %s", srv.Transport)
	}
}
