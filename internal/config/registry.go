package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxline/pkg/audio/device"
	"github.com/MrWong99/voxline/pkg/provider/live"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider and platform names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	live      map[string]func(SessionConfig) (live.Provider, error)
	platforms map[string]func(AudioConfig) (device.Platform, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:      make(map[string]func(SessionConfig) (live.Provider, error)),
		platforms: make(map[string]func(AudioConfig) (device.Platform, error)),
	}
}

// RegisterLive registers a live provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, factory func(SessionConfig) (live.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterPlatform registers an audio platform factory under name.
func (r *Registry) RegisterPlatform(name string, factory func(AudioConfig) (device.Platform, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms[name] = factory
}

// CreateLive instantiates a live provider using the factory registered under
// cfg.Provider. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateLive(cfg SessionConfig) (live.Provider, error) {
	r.mu.RLock()
	factory, ok := r.live[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: live/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreatePlatform instantiates an audio platform using the factory registered
// under cfg.Platform.
func (r *Registry) CreatePlatform(cfg AudioConfig) (device.Platform, error) {
	r.mu.RLock()
	factory, ok := r.platforms[cfg.Platform]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: platform/%q", ErrProviderNotRegistered, cfg.Platform)
	}
	return factory(cfg)
}
