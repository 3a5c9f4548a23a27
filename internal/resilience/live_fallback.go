package resilience

import (
	"context"

	"github.com/MrWong99/mindbridge/pkg/provider/live"
)

var _ live.Provider = (*LiveFallback)(nil)

// LiveFallback is a [live.Provider] that connects through the first healthy
// provider of a group. Failover only covers Connect: an established
// session that later fails ends like any other and is not migrated.
type LiveFallback struct {
	group *FallbackGroup[live.Provider]
}

// NewLiveFallback returns a LiveFallback preferring primary.
func NewLiveFallback(primaryName string, primary live.Provider, cfg CircuitBreakerConfig) *LiveFallback {
	g := NewFallbackGroup[live.Provider](cfg)
	g.Add(primaryName, primary)
	return &LiveFallback{group: g}
}

// AddFallback appends a provider tried after those added before it.
func (f *LiveFallback) AddFallback(name string, p live.Provider) {
	f.group.Add(name, p)
}

// Connect implements [live.Provider].
func (f *LiveFallback) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	h, _, err := Do(ctx, f.group, func(ctx context.Context, p live.Provider) (live.SessionHandle, error) {
		return p.Connect(ctx, cfg)
	})
	return h, err
}

// Capabilities returns the primary provider's capabilities.
func (f *LiveFallback) Capabilities() live.Capabilities {
	if p, ok := f.group.Primary(); ok {
		return p.Capabilities()
	}
	return live.Capabilities{}
}

// Status reports each provider's breaker state.
func (f *LiveFallback) Status() []BackendStatus { return f.group.Status() }
