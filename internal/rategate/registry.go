// SPDX-License-Identifier: MIT

package rategate

import (
	"sync"

	"github.com/tubescribe/tubescribe/internal/providers"
)

// Registry hands out one shared gate per model key.
type Registry struct {
	mu    sync.Mutex
	gates map[string]*Gate
	opts  []Option
}

// NewRegistry builds a registry; opts apply to every gate it creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{gates: make(map[string]*Gate), opts: opts}
}

// Get returns the gate for the profile, creating it on first use.
func (r *Registry) Get(profile providers.Profile) *Gate {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := profile.Key()
	g, ok := r.gates[key]
	if !ok {
		g = New(profile, r.opts...)
		r.gates[key] = g
	}
	return g
}
