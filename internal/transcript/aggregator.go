// Package transcript accumulates the incremental speech recognition
// fragments of a conversation and finalises them into history entries at turn
// boundaries.
//
// The remote service sends strictly incremental, non-overlapping fragments
// for both the client and the assistant. They are concatenated verbatim until
// a turn-complete signal, at which point each non-blank buffer becomes one
// [Entry] (client first) and both buffers are cleared.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Role identifies who spoke an entry.
type Role string

const (
	// RoleClient is the person talking to the assistant.
	RoleClient Role = "client"
	// RoleAssistant is the voice assistant.
	RoleAssistant Role = "assistant"
)

// Entry is one finalised utterance. Entries are never modified after they
// are appended to the history.
type Entry struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Aggregator holds the pending text of the current turn and the finalised
// history. All methods are safe for concurrent use.
type Aggregator struct {
	mu        sync.Mutex
	client    strings.Builder
	assistant strings.Builder
	history   []Entry
	now       func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New returns an empty Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// AppendClient appends a fragment of the client's recognised speech.
func (a *Aggregator) AppendClient(fragment string) {
	a.mu.Lock()
	a.client.WriteString(fragment)
	a.mu.Unlock()
}

// AppendAssistant appends a fragment of the assistant's spoken text.
func (a *Aggregator) AppendAssistant(fragment string) {
	a.mu.Lock()
	a.assistant.WriteString(fragment)
	a.mu.Unlock()
}

// Complete finalises the current turn. Each pending buffer that is non-empty
// after trimming becomes an entry, client before assistant. Both buffers are
// cleared unconditionally. The new entries are returned.
func (a *Aggregator) Complete() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	at := a.now()
	var added []Entry
	if text := strings.TrimSpace(a.client.String()); text != "" {
		added = append(added, Entry{Role: RoleClient, Text: text, At: at})
	}
	if text := strings.TrimSpace(a.assistant.String()); text != "" {
		added = append(added, Entry{Role: RoleAssistant, Text: text, At: at})
	}
	a.client.Reset()
	a.assistant.Reset()
	a.history = append(a.history, added...)
	return added
}

// Pending returns the text accumulated so far in the current turn.
func (a *Aggregator) Pending() (client, assistant string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client.String(), a.assistant.String()
}

// History returns a copy of the finalised entries in order.
func (a *Aggregator) History() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Entry(nil), a.history...)
}

// Len returns the number of finalised entries.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.history)
}

// Reset discards pending text and history.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.client.Reset()
	a.assistant.Reset()
	a.history = nil
}

// DiscardPending drops the text of an unfinished turn and keeps the history.
func (a *Aggregator) DiscardPending() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.client.Reset()
	a.assistant.Reset()
}
