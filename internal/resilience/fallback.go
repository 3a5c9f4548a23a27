package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] succeeded.
var ErrAllFailed = errors.New("resilience: all backends failed")

type entry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup tries backends of one kind in order, each behind its own
// [CircuitBreaker]. Entries are added during construction; after that the
// group is safe for concurrent use.
type FallbackGroup[T any] struct {
	cfg     CircuitBreakerConfig
	entries []entry[T]
}

// NewFallbackGroup returns an empty group whose breakers use cfg. cfg.Name
// is replaced by each entry's name.
func NewFallbackGroup[T any](cfg CircuitBreakerConfig) *FallbackGroup[T] {
	return &FallbackGroup[T]{cfg: cfg}
}

// Add appends a backend. Earlier entries are preferred.
func (g *FallbackGroup[T]) Add(name string, v T) {
	cfg := g.cfg
	cfg.Name = name
	g.entries = append(g.entries, entry[T]{name: name, value: v, breaker: NewCircuitBreaker(cfg)})
}

// Len returns the number of entries.
func (g *FallbackGroup[T]) Len() int { return len(g.entries) }

// Primary returns the first entry's value.
func (g *FallbackGroup[T]) Primary() (T, bool) {
	if len(g.entries) == 0 {
		var zero T
		return zero, false
	}
	return g.entries[0].value, true
}

// Do runs fn against each entry in order until one succeeds and returns that
// entry's result and name. Entries with an open breaker are skipped. When
// ctx ends, Do stops and returns ctx's error instead of trying the next
// entry. If every entry fails the errors are joined under [ErrAllFailed].
func Do[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, string, error) {
	var (
		zero R
		errs []error
	)
	for i := range g.entries {
		e := &g.entries[i]
		var res R
		err := e.breaker.Execute(func() error {
			var err error
			res, err = fn(ctx, e.value)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.Info("resilience: using fallback", "backend", e.name, "position", i)
			}
			return res, e.name, nil
		}
		if ctx.Err() != nil {
			return zero, "", ctx.Err()
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping backend", "backend", e.name, "reason", "circuit open")
		} else {
			slog.Warn("resilience: backend failed", "backend", e.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
	}
	if len(errs) == 0 {
		return zero, "", fmt.Errorf("%w: no backends configured", ErrAllFailed)
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// BackendStatus describes one entry of a group.
type BackendStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// Status returns every entry's breaker state in preference order.
func (g *FallbackGroup[T]) Status() []BackendStatus {
	out := make([]BackendStatus, len(g.entries))
	for i, e := range g.entries {
		out[i] = BackendStatus{Name: e.name, State: e.breaker.State().String()}
	}
	return out
}
