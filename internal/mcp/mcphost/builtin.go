package mcphost

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/mindbridge/pkg/provider/live"
)

// builtinServerName is the pseudo server name used for in-process tools.
const builtinServerName = "__builtin__"

// BuiltinTool is a tool implemented as a Go function that runs in-process.
// ExecuteTool calls the Handler directly; statistics are kept the same way as
// for external tools.
type BuiltinTool struct {
	// Definition is the declaration presented to the live model.
	Definition live.ToolDefinition

	// Handler is invoked with a JSON object string (e.g. "{}"). A non-nil
	// error marks the result as an error.
	Handler func(ctx context.Context, args string) (string, error)

	// Timeout bounds each call. Zero means the caller's context alone.
	Timeout time.Duration
}

// RegisterBuiltin registers an in-process tool, replacing any tool of the same
// name. Safe for concurrent use.
func (h *Host) RegisterBuiltin(tool BuiltinTool) error {
	if tool.Definition.Name == "" {
		return fmt.Errorf("mcp host: builtin tool must have a non-empty name")
	}
	if tool.Handler == nil {
		return fmt.Errorf("mcp host: builtin tool %q must have a non-nil handler", tool.Definition.Name)
	}

	entry := toolEntry{
		def:        tool.Definition,
		serverName: builtinServerName,
		timeout:    tool.Timeout,
		stats:      newCallStats(statsWindow),
		builtinFn:  tool.Handler,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools[tool.Definition.Name] = entry
	return nil
}
