// Package live defines the Provider interface for real-time speech services.
//
// A live provider wraps a hosted multimodal model that accepts a continuous
// stream of microphone audio and answers with synthesised speech in a single
// stateful session, multiplexing audio, partial transcripts, turn signals and
// tool calls over one bidirectional channel. Examples are the Gemini Live API
// and the OpenAI Realtime API.
//
// Inbound traffic is delivered as one ordered stream of [Event] values so
// that a single consumer can process it without further synchronisation.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/mindbridge/pkg/audio"
)

var (
	// ErrClosed is returned by SessionHandle methods after Close or after the
	// remote side ended the session.
	ErrClosed = errors.New("live: session closed")

	// ErrBackpressure is returned by SendAudio when the outbound queue is
	// full. The chunk has been dropped.
	ErrBackpressure = errors.New("live: outbound queue full")
)

// EventKind classifies inbound events.
type EventKind int

const (
	// EventAudio carries a chunk of synthesised assistant speech.
	EventAudio EventKind = iota

	// EventInputTranscript carries an incremental fragment of the client's
	// recognised speech.
	EventInputTranscript

	// EventOutputTranscript carries an incremental fragment of the
	// assistant's spoken text.
	EventOutputTranscript

	// EventTurnComplete marks the end of a conversational turn.
	EventTurnComplete

	// EventInterrupted signals that the client started speaking over the
	// assistant; unplayed assistant audio must be discarded.
	EventInterrupted

	// EventToolCalls carries a batch of tool calls that arrived in one
	// message.
	EventToolCalls

	// EventToolCancellation lists call IDs the model no longer needs
	// answers for.
	EventToolCancellation
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventInputTranscript:
		return "input_transcript"
	case EventOutputTranscript:
		return "output_transcript"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventToolCalls:
		return "tool_calls"
	case EventToolCancellation:
		return "tool_cancellation"
	default:
		return "unknown"
	}
}

// Event is one inbound message from the remote service. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind EventKind

	// Audio is set for [EventAudio].
	Audio audio.Chunk

	// Text is set for [EventInputTranscript] and [EventOutputTranscript].
	Text string

	// ToolCalls is set for [EventToolCalls].
	ToolCalls []ToolCall

	// CallIDs is set for [EventToolCancellation].
	CallIDs []string
}

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	// Name is the unique identifier the model uses to call the tool.
	Name string

	// Description tells the model when and how to use the tool.
	Description string

	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any
}

// ToolCall is a model request to run a tool.
type ToolCall struct {
	// ID correlates the call with its [ToolResult].
	ID string

	// Name is the requested tool.
	Name string

	// Arguments is a JSON object string.
	Arguments string
}

// ToolResult answers exactly one [ToolCall].
type ToolResult struct {
	// ID is the [ToolCall.ID] being answered.
	ID string

	// Name echoes the tool name; some protocols require it.
	Name string

	// Output is the JSON-serialisable response payload.
	Output map[string]any
}

// Voice describes a prebuilt voice offered by a provider.
type Voice struct {
	ID       string
	Name     string
	Provider string
}

// SessionConfig is the initial configuration of a live session.
type SessionConfig struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// Voice is the prebuilt voice ID used for synthesised speech.
	Voice string

	// Instructions is the system prompt.
	Instructions string

	// Tools are offered to the model for the lifetime of the session.
	Tools []ToolDefinition

	// Transcribe enables partial transcripts for both roles.
	Transcribe bool
}

// Capabilities describes static properties of a provider.
type Capabilities struct {
	// InputFormat is the audio format the provider expects from SendAudio.
	// Chunks in other formats are converted.
	InputFormat audio.Format

	// OutputFormat is the format of [EventAudio] chunks.
	OutputFormat audio.Format

	// MaxSessionDuration is the provider-imposed session limit, or zero.
	MaxSessionDuration time.Duration

	// Voices lists the available prebuilt voices.
	Voices []Voice
}

// SessionHandle is an open live session.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio queues a chunk of captured audio for transmission. It never
	// blocks: when the outbound queue is full the chunk is dropped and
	// [ErrBackpressure] is returned. After the session ended it returns
	// [ErrClosed].
	SendAudio(c audio.Chunk) error

	// SendToolResults transmits the results of previously received tool
	// calls in one message.
	SendToolResults(results []ToolResult) error

	// Events returns the ordered stream of inbound events. The channel is
	// closed when the session ends; call Err afterwards to distinguish a
	// clean close from a transport failure.
	Events() <-chan Event

	// Err returns the error that ended the session, or nil if it ended
	// cleanly or is still open.
	Err() error

	// Close terminates the session. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Provider is the abstraction over any live speech backend.
type Provider interface {
	// Connect opens a new session. ctx governs the connection attempt
	// only; the returned session lives until Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
