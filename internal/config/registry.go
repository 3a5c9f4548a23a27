package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/mindbridge/pkg/audio"
	"github.com/MrWong99/mindbridge/pkg/provider/live"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps names to constructors for live providers and audio devices.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	live   map[string]func(ProviderEntry) (live.Provider, error)
	input  map[string]func(DeviceEntry) (audio.InputDevice, error)
	output map[string]func(DeviceEntry) (audio.OutputDevice, error)
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		live:   make(map[string]func(ProviderEntry) (live.Provider, error)),
		input:  make(map[string]func(DeviceEntry) (audio.InputDevice, error)),
		output: make(map[string]func(DeviceEntry) (audio.OutputDevice, error)),
	}
}

// RegisterLive registers a live provider factory. A later registration under
// the same name replaces the earlier one.
func (r *Registry) RegisterLive(name string, factory func(ProviderEntry) (live.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterInput registers a microphone factory.
func (r *Registry) RegisterInput(name string, factory func(DeviceEntry) (audio.InputDevice, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.input[name] = factory
}

// RegisterOutput registers a speaker factory.
func (r *Registry) RegisterOutput(name string, factory func(DeviceEntry) (audio.OutputDevice, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output[name] = factory
}

// CreateLive builds the live provider named by entry.Name.
func (r *Registry) CreateLive(entry ProviderEntry) (live.Provider, error) {
	return create(r, r.live, "live", entry.Name, entry)
}

// CreateInput builds the microphone named by entry.Name.
func (r *Registry) CreateInput(entry DeviceEntry) (audio.InputDevice, error) {
	return create(r, r.input, "input", entry.Name, entry)
}

// CreateOutput builds the speaker named by entry.Name.
func (r *Registry) CreateOutput(entry DeviceEntry) (audio.OutputDevice, error) {
	return create(r, r.output, "output", entry.Name, entry)
}

func create[E, T any](r *Registry, m map[string]func(E) (T, error), kind, name string, entry E) (T, error) {
	r.mu.RLock()
	factory, ok := m[name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, name)
	}
	v, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", kind, name, err)
	}
	return v, nil
}
