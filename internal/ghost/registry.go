// Package ghost exposes the read path over ghost-flagged connections. Ghost
// visibility rules are applied at several call sites in the router; keeping
// the lookup behind one type keeps those sites uniform.
package ghost

import (
	"context"

	"github.com/tversen/spectrechat/internal/store"
)

// Registry lists connections currently in ghost mode.
type Registry struct {
	store store.Store
}

// NewRegistry creates a Registry over the given store.
func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s}
}

// ListGhosts returns every connection with the ghost flag set.
func (r *Registry) ListGhosts(ctx context.Context) ([]store.Connection, error) {
	return r.store.ListGhostConnections(ctx)
}
