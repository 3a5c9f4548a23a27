// Package observe provides application-wide observability primitives for
// MindBridge: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all MindBridge metrics.
const meterName = "github.com/MrWong99/mindbridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Session lifecycle ---

	// SessionStarts counts start attempts. Use with attribute:
	//   attribute.String("outcome", "active"|"acquisition_failed"|"transport_failed"|"cancelled")
	SessionStarts metric.Int64Counter

	// ActiveSessions tracks the number of sessions in the Active state.
	ActiveSessions metric.Int64UpDownCounter

	// ConnectDuration tracks how long the Connecting state lasts.
	ConnectDuration metric.Float64Histogram

	// --- Capture ---

	// CaptureFrames counts encoded microphone frames. Use with attribute:
	//   attribute.String("status", "sent"|"dropped")
	CaptureFrames metric.Int64Counter

	// InputLevel is the mean absolute magnitude of the most recent frame.
	InputLevel metric.Float64Gauge

	// --- Playback and conversation ---

	// PlaybackBuffers counts assistant buffers by lifecycle event. Use with
	// attribute: attribute.String("event", "scheduled"|"finished"|"flushed")
	PlaybackBuffers metric.Int64Counter

	// Interruptions counts barge-in signals from the remote service.
	Interruptions metric.Int64Counter

	// Turns counts completed conversational turns.
	Turns metric.Int64Counter

	// TranscriptEntries counts finalised history entries. Use with attribute:
	//   attribute.String("role", "client"|"assistant")
	TranscriptEntries metric.Int64Counter

	// MalformedChunks counts inbound audio chunks that failed to decode.
	MalformedChunks metric.Int64Counter

	// --- Tools ---

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ToolExecutionDuration tracks tool handler latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// connection and tool latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Session lifecycle.
	if met.SessionStarts, err = m.Int64Counter("mindbridge.session.starts",
		metric.WithDescription("Session start attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("mindbridge.active_sessions",
		metric.WithDescription("Number of active voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("mindbridge.session.connect.duration",
		metric.WithDescription("Time spent acquiring devices and connecting to the speech service."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Capture.
	if met.CaptureFrames, err = m.Int64Counter("mindbridge.capture.frames",
		metric.WithDescription("Microphone frames by delivery status."),
	); err != nil {
		return nil, err
	}
	if met.InputLevel, err = m.Float64Gauge("mindbridge.capture.level",
		metric.WithDescription("Mean absolute sample magnitude of the latest microphone frame."),
	); err != nil {
		return nil, err
	}

	// Playback and conversation.
	if met.PlaybackBuffers, err = m.Int64Counter("mindbridge.playback.buffers",
		metric.WithDescription("Assistant audio buffers by lifecycle event."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("mindbridge.interruptions",
		metric.WithDescription("Assistant speech interrupted by the client."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("mindbridge.turns",
		metric.WithDescription("Completed conversational turns."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEntries, err = m.Int64Counter("mindbridge.transcript.entries",
		metric.WithDescription("Finalised transcript entries by role."),
	); err != nil {
		return nil, err
	}
	if met.MalformedChunks, err = m.Int64Counter("mindbridge.audio.malformed_chunks",
		metric.WithDescription("Inbound audio chunks skipped because they failed to decode."),
	); err != nil {
		return nil, err
	}

	// Tools.
	if met.ToolCalls, err = m.Int64Counter("mindbridge.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("mindbridge.tool_execution.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("mindbridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSessionStart records the outcome of one start attempt.
func (m *Metrics) RecordSessionStart(ctx context.Context, outcome string, connect time.Duration) {
	m.SessionStarts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.ConnectDuration.Record(ctx, connect.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCaptureFrame records one microphone frame and its loudness.
func (m *Metrics) RecordCaptureFrame(ctx context.Context, status string, level float64) {
	m.CaptureFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.InputLevel.Record(ctx, level)
}

// RecordPlayback records n playback buffers reaching the given lifecycle event.
func (m *Metrics) RecordPlayback(ctx context.Context, event string, n int) {
	if n <= 0 {
		return
	}
	m.PlaybackBuffers.Add(ctx, int64(n), metric.WithAttributes(attribute.String("event", event)))
}

// RecordTranscriptEntry records one finalised transcript entry.
func (m *Metrics) RecordTranscriptEntry(ctx context.Context, role string) {
	m.TranscriptEntries.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordToolCall is a convenience method that records a tool call counter
// increment and its latency with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolExecutionDuration.Record(ctx, d.Seconds(), attrs)
}
