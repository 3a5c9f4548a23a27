// Package mcp defines the tool host the assistant's tool calls are routed
// through.
//
// A [Host] holds a catalogue of tools. Tools are either in-process Go
// handlers (the directory tools) or imported from external Model Context
// Protocol servers. The host executes calls by name, bounds each call by the
// tool's timeout, and keeps rolling latency and error statistics per tool.
//
// Lifecycle:
//
//  1. Register built-in tools and call [Host.RegisterServer] for each
//     external MCP server.
//  2. Pass [Host.Tools] to the live provider as the session's declarations.
//  3. Use [Host.ExecuteTool] for each tool call the provider emits.
//  4. Call [Host.Close] to release server connections.
//
// All methods must be safe for concurrent use.
package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/mindbridge/pkg/provider/live"
)

// ErrToolNotFound is returned (wrapped) by [Host.ExecuteTool] when no tool of
// that name is registered.
var ErrToolNotFound = errors.New("mcp: tool not found")

// Transport selects how an external MCP server is reached.
type Transport string

const (
	// TransportStdio runs the server as a subprocess speaking over
	// stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP talks to a remote server over MCP streamable
	// HTTP.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t names a supported transport.
func (t Transport) IsValid() bool {
	switch t {
	case TransportStdio, TransportStreamableHTTP:
		return true
	}
	return false
}

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name identifies the server in logs and errors. Must be unique within a
	// [Host].
	Name string `yaml:"name"`

	// Transport is [TransportStdio] or [TransportStreamableHTTP].
	Transport Transport `yaml:"transport"`

	// Command is the executable and arguments for stdio servers.
	Command string `yaml:"command"`

	// URL is the endpoint for streamable-http servers.
	URL string `yaml:"url"`

	// Env holds additional environment variables for stdio servers.
	Env map[string]string `yaml:"env"`
}

// ToolResult holds the outcome of a single tool execution.
type ToolResult struct {
	// Content is the tool's output, usually a JSON object.
	Content string

	// IsError marks an application-level failure reported by the tool
	// itself. Content then holds the error message.
	IsError bool

	// Duration is the wall-clock time of the call.
	Duration time.Duration
}

// ToolHealth is the measured runtime behaviour of one tool over its most
// recent calls.
type ToolHealth struct {
	Name      string        `json:"name"`
	P50       time.Duration `json:"p50"`
	P99       time.Duration `json:"p99"`
	CallCount int           `json:"callCount"`

	// ErrorRate is the fraction of windowed calls that failed (0.0–1.0).
	ErrorRate float64 `json:"errorRate"`

	// Degraded is set once ErrorRate exceeds the host's health threshold.
	Degraded bool `json:"degraded"`
}

// Host manages tools and routes calls to them.
type Host interface {
	// RegisterServer connects to the MCP server described by cfg and imports
	// its tool catalogue. Registering a name again replaces the old
	// connection and its tools.
	RegisterServer(ctx context.Context, cfg ServerConfig) error

	// Tools returns every registered tool's declaration, sorted by name.
	Tools() []live.ToolDefinition

	// ExecuteTool calls the named tool with JSON-encoded args.
	//
	// A non-nil *ToolResult is returned whenever the tool ran, even when
	// [ToolResult.IsError] is set. A Go error is returned for unknown tools
	// (wrapping [ErrToolNotFound]), timeouts, and transport failures.
	ExecuteTool(ctx context.Context, name string, args string) (*ToolResult, error)

	// Health returns per-tool statistics sorted by name.
	Health() []ToolHealth

	// Close shuts down all server connections. The Host must not be used
	// afterwards.
	Close() error
}
