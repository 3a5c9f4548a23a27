// Package mcphost provides the concrete [mcp.Host].
//
// It connects to MCP servers via stdio or streamable-HTTP using the official
// MCP Go SDK (github.com/modelcontextprotocol/go-sdk), keeps a
// concurrent-safe in-memory tool registry, and tracks per-tool latency and
// error rate in rolling windows.
//
// Typical usage:
//
//	h := mcphost.New()
//
//	// In-process tools.
//	for _, t := range directorytools.Tools(dir, store) {
//	    h.RegisterBuiltin(mcphost.BuiltinTool{Definition: t.Definition, Handler: t.Handler})
//	}
//
//	// An external MCP server.
//	err := h.RegisterServer(ctx, mcp.ServerConfig{
//	    Name:      "crisis-lines",
//	    Transport: mcp.TransportStdio,
//	    Command:   "/usr/local/bin/crisis-lines-mcp",
//	})
//
//	result, err := h.ExecuteTool(ctx, "getPsychologistAvailability", "{}")
//
//	h.Close()
package mcphost

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/mindbridge/internal/mcp"
	"github.com/MrWong99/mindbridge/pkg/provider/live"
)

const (
	// statsWindow is the number of recent calls per tool kept for health.
	statsWindow = 100

	// degradedErrorRate is the windowed error rate above which a tool is
	// reported as degraded.
	degradedErrorRate = 0.3
)

// toolEntry holds all metadata for a single registered tool.
type toolEntry struct {
	def        live.ToolDefinition
	serverName string
	timeout    time.Duration
	stats      *callStats

	// builtinFn is non-nil for in-process tools registered via RegisterBuiltin.
	builtinFn func(ctx context.Context, args string) (string, error)
}

// serverConn holds a live connection to an external MCP server.
type serverConn struct {
	session *mcpsdk.ClientSession
}

// Host is the concrete [mcp.Host].
//
// The zero value is NOT usable; create instances with [New].
type Host struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry  // key: tool name
	servers map[string]serverConn // key: server name

	// client is shared by all server sessions.
	client *mcpsdk.Client
}

var _ mcp.Host = (*Host)(nil)

// New creates a ready-to-use Host.
func New() *Host {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "mindbridge-mcphost", Version: "1.0.0"},
		nil,
	)
	return &Host{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]serverConn),
		client:  client,
	}
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue. If a server with the same Name is already registered, the
// old connection is closed and its tools are replaced.
//
// For [mcp.TransportStdio], cfg.Command is split on whitespace into
// executable and arguments and cfg.Env is added to the inherited
// environment. The subprocess outlives ctx; it is stopped by [Host.Close].
func (h *Host) RegisterServer(ctx context.Context, cfg mcp.ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("mcp host: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("mcp host: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport

	switch cfg.Transport {
	case mcp.TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("mcp host: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.Command(executable, args...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case mcp.TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcp host: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp host: connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp host: list tools of server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, t := range discovered {
		if existing, ok := h.tools[t.Name]; ok && existing.serverName != cfg.Name {
			_ = session.Close()
			return fmt.Errorf("mcp host: tool %q of server %q shadows a tool of %q", t.Name, cfg.Name, existing.serverName)
		}
	}

	if old, ok := h.servers[cfg.Name]; ok {
		_ = old.session.Close()
		for name, t := range h.tools {
			if t.serverName == cfg.Name {
				delete(h.tools, name)
			}
		}
	}

	h.servers[cfg.Name] = serverConn{session: session}
	for _, t := range discovered {
		h.tools[t.Name] = buildToolEntry(t, cfg.Name)
	}
	return nil
}

// buildToolEntry converts an SDK tool into a toolEntry.
func buildToolEntry(t mcpsdk.Tool, serverName string) toolEntry {
	return toolEntry{
		def: live.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaToMap(t.InputSchema),
		},
		serverName: serverName,
		timeout:    time.Duration(maxDurationHint(t)) * time.Millisecond,
		stats:      newCallStats(statsWindow),
	}
}

// maxDurationHint reads a declared max_duration_ms from the tool's
// input-schema metadata or from a JSON blob in its description.
func maxDurationHint(t mcpsdk.Tool) int64 {
	if schema := schemaToMap(t.InputSchema); schema != nil {
		if props, ok := schema["properties"].(map[string]any); ok {
			if meta, ok := props["_metadata"].(map[string]any); ok {
				if v := extractInt64(meta, "max_duration_ms"); v > 0 {
					return v
				}
			}
		}
	}

	start := strings.Index(t.Description, "{")
	end := strings.LastIndex(t.Description, "}")
	if start < 0 || end < start {
		return 0
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(t.Description[start:end+1]), &m); err != nil {
		return 0
	}
	return extractInt64(m, "max_duration_ms")
}

func extractInt64(m map[string]any, key string) int64 {
	switch n := m[key].(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// Tools returns every registered tool's declaration sorted by name.
func (h *Host) Tools() []live.ToolDefinition {
	h.mu.RLock()
	defs := make([]live.ToolDefinition, 0, len(h.tools))
	for _, e := range h.tools {
		defs = append(defs, e.def)
	}
	h.mu.RUnlock()

	slices.SortFunc(defs, func(a, b live.ToolDefinition) int { return strings.Compare(a.Name, b.Name) })
	return defs
}

// ExecuteTool calls the named tool with JSON-encoded args. When the tool has
// a timeout, ctx is bounded by it.
func (h *Host) ExecuteTool(ctx context.Context, name string, args string) (*mcp.ToolResult, error) {
	h.mu.RLock()
	entry, ok := h.tools[name]
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("mcp host: %w: %q", mcp.ErrToolNotFound, name)
	}

	if entry.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, entry.timeout)
		defer cancel()
	}

	start := time.Now()

	var result *mcp.ToolResult
	var execErr error
	if entry.builtinFn != nil {
		result, execErr = h.executeBuiltin(ctx, entry, args)
	} else {
		result, execErr = h.executeMCPTool(ctx, entry, args)
	}

	elapsed := time.Since(start)
	entry.stats.record(elapsed, execErr != nil || (result != nil && result.IsError))

	if execErr != nil {
		return nil, execErr
	}
	result.Duration = elapsed
	return result, nil
}

// executeBuiltin calls the in-process handler. A handler error becomes an
// error result, unless the context ended first.
func (h *Host) executeBuiltin(ctx context.Context, entry toolEntry, args string) (*mcp.ToolResult, error) {
	output, err := entry.builtinFn(ctx, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("mcp host: tool %q: %w", entry.def.Name, ctxErr)
		}
		return &mcp.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &mcp.ToolResult{Content: output}, nil
}

// executeMCPTool routes the call to the owning server session.
func (h *Host) executeMCPTool(ctx context.Context, entry toolEntry, args string) (*mcp.ToolResult, error) {
	h.mu.RLock()
	conn, ok := h.servers[entry.serverName]
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("mcp host: server %q not found for tool %q", entry.serverName, entry.def.Name)
	}

	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return nil, fmt.Errorf("mcp host: invalid args JSON for tool %q: %w", entry.def.Name, err)
		}
	}

	callResult, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      entry.def.Name,
		Arguments: argsMap,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp host: call tool %q: %w", entry.def.Name, err)
	}

	var sb strings.Builder
	for _, c := range callResult.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return &mcp.ToolResult{
		Content: sb.String(),
		IsError: callResult.IsError,
	}, nil
}

// Health returns per-tool statistics sorted by name.
func (h *Host) Health() []mcp.ToolHealth {
	h.mu.RLock()
	entries := make([]toolEntry, 0, len(h.tools))
	for _, e := range h.tools {
		entries = append(entries, e)
	}
	h.mu.RUnlock()

	out := make([]mcp.ToolHealth, 0, len(entries))
	for _, e := range entries {
		snap := e.stats.snapshot()
		out = append(out, mcp.ToolHealth{
			Name:      e.def.Name,
			P50:       snap.P50,
			P99:       snap.P99,
			CallCount: snap.Calls,
			ErrorRate: snap.ErrorRate,
			Degraded:  snap.ErrorRate > degradedErrorRate,
		})
	}
	slices.SortFunc(out, func(a, b mcp.ToolHealth) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Close shuts down all server connections and clears the registry.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for name, conn := range h.servers {
		if err := conn.session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcp host: close server %q: %w", name, err)
		}
		delete(h.servers, name)
	}
	h.tools = make(map[string]toolEntry)
	return firstErr
}

// splitCommand splits "/bin/foo --bar baz" into ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
