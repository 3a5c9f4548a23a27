// Package dispatch resolves batches of tool calls from the live model into
// tool results.
//
// Every call in a batch receives exactly one result, correlated by call id,
// whether its tool succeeded, failed, timed out, or does not exist. Failures
// are reported to the model as an "error" payload and never returned to the
// caller.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mindbridge/internal/mcp"
	"github.com/MrWong99/mindbridge/internal/observe"
	"github.com/MrWong99/mindbridge/pkg/provider/live"
)

// ErrUnsupportedTool marks a call whose tool name is not registered.
var ErrUnsupportedTool = errors.New("dispatch: unsupported tool")

// errDuplicateCall marks a call whose id is already being resolved.
var errDuplicateCall = errors.New("dispatch: duplicate call id")

const (
	// DefaultTimeout bounds each call when no [WithTimeout] is given.
	DefaultTimeout = 10 * time.Second

	defaultConcurrency = 8
)

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithTimeout sets the per-call deadline. Zero or negative disables it.
func WithTimeout(d time.Duration) Option {
	return func(x *Dispatcher) { x.timeout = d }
}

// WithConcurrency caps how many calls of one batch run at once.
func WithConcurrency(n int) Option {
	return func(x *Dispatcher) {
		if n > 0 {
			x.concurrency = n
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(x *Dispatcher) { x.metrics = m }
}

// Dispatcher routes tool calls to a tool host. It is safe for concurrent use.
type Dispatcher struct {
	host        mcp.Host
	timeout     time.Duration
	concurrency int
	metrics     *observe.Metrics

	mu       sync.Mutex
	inflight map[string]struct{}
}

// SetLimits replaces the per-call timeout and the batch concurrency. Batches
// already running keep the old values. A concurrency of zero or less keeps
// the current one.
func (d *Dispatcher) SetLimits(timeout time.Duration, concurrency int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeout = timeout
	if concurrency > 0 {
		d.concurrency = concurrency
	}
}

func (d *Dispatcher) limits() (time.Duration, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timeout, d.concurrency
}

// New returns a Dispatcher executing calls on host.
func New(host mcp.Host, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		host:        host,
		timeout:     DefaultTimeout,
		concurrency: defaultConcurrency,
		inflight:    make(map[string]struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Dispatch resolves calls concurrently and returns one result per call id,
// in order of first appearance. Repeats of an id within calls are dropped
// before anything runs. A call whose id is still in flight from another
// batch is answered with an error payload instead of being run twice.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []live.ToolCall) []live.ToolResult {
	unique := make([]live.ToolCall, 0, len(calls))
	seen := make(map[string]struct{}, len(calls))
	for _, call := range calls {
		if _, dup := seen[call.ID]; dup {
			slog.Warn("dispatch: repeated tool call id in batch", "id", call.ID, "tool", call.Name)
			d.metrics.RecordToolCall(ctx, call.Name, "duplicate", 0)
			continue
		}
		seen[call.ID] = struct{}{}
		unique = append(unique, call)
	}

	results := make([]live.ToolResult, len(unique))
	timeout, concurrency := d.limits()

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, call := range unique {
		if !d.acquire(call.ID) {
			slog.Warn("dispatch: duplicate tool call id", "id", call.ID, "tool", call.Name)
			d.metrics.RecordToolCall(ctx, call.Name, "duplicate", 0)
			results[i] = errorResult(call, errDuplicateCall)
			continue
		}
		g.Go(func() error {
			defer d.release(call.ID)
			results[i] = d.run(ctx, call, timeout)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) acquire(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[id]; busy {
		return false
	}
	d.inflight[id] = struct{}{}
	return true
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}

// run executes one call and converts its outcome into a result.
func (d *Dispatcher) run(ctx context.Context, call live.ToolCall, timeout time.Duration) live.ToolResult {
	ctx, span := observe.StartSpan(ctx, "dispatch.tool",
		trace.WithAttributes(attribute.String("tool", call.Name), attribute.String("call_id", call.ID)))
	defer span.End()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := call.Arguments
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}

	start := time.Now()
	res, err := d.host.ExecuteTool(ctx, call.Name, args)
	elapsed := time.Since(start)

	log := observe.Logger(ctx).With("tool", call.Name, "id", call.ID)
	switch {
	case errors.Is(err, mcp.ErrToolNotFound):
		log.Warn("dispatch: unsupported tool")
		d.metrics.RecordToolCall(ctx, call.Name, "unsupported", elapsed)
		return errorResult(call, ErrUnsupportedTool)
	case err != nil:
		log.Warn("dispatch: tool failed", "err", err)
		d.metrics.RecordToolCall(ctx, call.Name, "error", elapsed)
		span.RecordError(err)
		return errorResult(call, err)
	case res.IsError:
		log.Warn("dispatch: tool reported error", "message", res.Content)
		d.metrics.RecordToolCall(ctx, call.Name, "error", elapsed)
		return errorResult(call, errors.New(res.Content))
	}

	log.Debug("dispatch: tool done", "duration", elapsed)
	d.metrics.RecordToolCall(ctx, call.Name, "ok", elapsed)
	return live.ToolResult{ID: call.ID, Name: call.Name, Output: outputFromContent(res.Content)}
}

// errorResult builds the payload the model sees for a failed call.
func errorResult(call live.ToolCall, err error) live.ToolResult {
	var msg string
	switch {
	case errors.Is(err, ErrUnsupportedTool):
		msg = "unsupported tool: " + call.Name
	case errors.Is(err, errDuplicateCall):
		msg = "duplicate call id: " + call.ID
	default:
		msg = fmt.Sprintf("%s failed: %v", call.Name, err)
	}
	return live.ToolResult{ID: call.ID, Name: call.Name, Output: map[string]any{"error": msg}}
}

// outputFromContent uses a JSON object as the output as-is and wraps
// anything else under "result".
func outputFromContent(content string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(content), &m); err == nil && m != nil {
		return m
	}
	return map[string]any{"result": content}
}
