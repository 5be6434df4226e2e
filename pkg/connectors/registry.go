// Package connectors provides the platform connector registry and the
// in-memory mock connector used by tests and mock mode. Real platform API
// adapters implement engine.Connector and register at startup.
package connectors

import (
	"fmt"
	"sync"

	"github.com/Raoof128/ILAE/pkg/engine"
)

// Registry is a static engine.ConnectorRegistry: connectors register during
// startup and the set is fixed before the engine accepts work.
type Registry struct {
	mu         sync.RWMutex
	connectors map[engine.Platform]engine.Connector
	order      []engine.Platform
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[engine.Platform]engine.Connector),
	}
}

// Register adds a connector. Registering the same platform twice is a
// programming error and fails loudly.
func (r *Registry) Register(c engine.Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	platform := c.Platform()
	if _, exists := r.connectors[platform]; exists {
		return fmt.Errorf("connector for platform %s already registered", platform)
	}
	r.connectors[platform] = c
	r.order = append(r.order, platform)
	return nil
}

// MustRegister is Register that panics on error. Used in startup wiring.
func (r *Registry) MustRegister(c engine.Connector) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Get returns the connector for a platform.
func (r *Registry) Get(platform engine.Platform) (engine.Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connectors[platform]
	if !ok {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("no connector registered for platform %s", platform), nil).
			WithPlatform(string(platform)).
			WithCode(engine.ErrCodeNotFound)
	}
	return c, nil
}

// Platforms returns the registered platforms in registration order.
func (r *Registry) Platforms() []engine.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]engine.Platform, len(r.order))
	copy(out, r.order)
	return out
}
