// Package mock provides an in-memory [mcp.Host] whose tool calls are
// answered by a test-supplied function.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/mindbridge/internal/mcp"
	"github.com/MrWong99/mindbridge/pkg/provider/live"
)

// Execution is one recorded [Host.ExecuteTool] call.
type Execution struct {
	Name string
	Args string
}

// Host records tool executions. The zero value declares no tools and
// answers every call with [mcp.ErrToolNotFound].
type Host struct {
	// Execute answers tool calls. It runs without the mock's lock held.
	Execute func(ctx context.Context, name, args string) (*mcp.ToolResult, error)

	Declared []live.ToolDefinition
	Stats    []mcp.ToolHealth

	// RegisterErr fails RegisterServer.
	RegisterErr error

	mu       sync.Mutex
	executed []Execution
	servers  []mcp.ServerConfig
	closed   bool
}

var _ mcp.Host = (*Host)(nil)

func (h *Host) RegisterServer(_ context.Context, cfg mcp.ServerConfig) error {
	if h.RegisterErr != nil {
		return h.RegisterErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.servers = append(h.servers, cfg)
	return nil
}

func (h *Host) Tools() []live.ToolDefinition { return slices.Clone(h.Declared) }

func (h *Host) ExecuteTool(ctx context.Context, name, args string) (*mcp.ToolResult, error) {
	h.mu.Lock()
	h.executed = append(h.executed, Execution{Name: name, Args: args})
	h.mu.Unlock()
	if h.Execute == nil {
		return nil, fmt.Errorf("mock: %w: %q", mcp.ErrToolNotFound, name)
	}
	return h.Execute(ctx, name, args)
}

func (h *Host) Health() []mcp.ToolHealth { return slices.Clone(h.Stats) }

func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Executed returns the tool calls in arrival order.
func (h *Host) Executed() []Execution {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.executed)
}

// Servers returns the registered server configs.
func (h *Host) Servers() []mcp.ServerConfig {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.servers)
}

func (h *Host) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
