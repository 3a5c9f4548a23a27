// Package tools defines the shared [Tool] type used by the built-in tool
// packages. Each sub-package exports a constructor returning a slice of
// [Tool] values ready for registration with the tool host.
package tools

import (
	"context"
	"time"

	"github.com/MrWong99/mindbridge/pkg/provider/live"
)

// Tool is a built-in tool: its model-facing declaration plus the handler run
// when the model calls it.
type Tool struct {
	// Definition is the declaration sent to the live model at session setup.
	Definition live.ToolDefinition

	// Handler executes the tool with JSON-encoded args and returns a
	// JSON-encoded result on success, or a descriptive error. Implementations
	// must be safe for concurrent use and respect context cancellation.
	Handler func(ctx context.Context, args string) (string, error)

	// Timeout bounds a single call. Zero leaves it to the caller.
	Timeout time.Duration
}
