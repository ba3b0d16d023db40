// Package namer mints default display names for users who join without
// choosing one. Names are "Anonymous" plus the value of a store-side atomic
// counter, so concurrent joiners always receive distinct numbers.
package namer

import (
	"context"
	"errors"
	"strconv"

	"github.com/tversen/spectrechat/internal/store"
)

const (
	counterName = "anonymous"
	namePrefix  = "Anonymous"
)

// Namer derives anonymous display names from the store's counter primitives.
type Namer struct {
	store store.Store
}

// New creates a Namer over the given store.
func New(s store.Store) *Namer {
	return &Namer{store: s}
}

// EnsureCounter lazily creates the anonymous counter at zero. An existing
// counter must never be overwritten, so a failed conditional create is
// treated as success.
func (n *Namer) EnsureCounter(ctx context.Context) error {
	err := n.store.CreateCounter(ctx, counterName)
	if errors.Is(err, store.ErrConditionFailed) {
		return nil
	}
	return err
}

// NextName atomically increments the anonymous counter and returns the next
// default display name.
func (n *Namer) NextName(ctx context.Context) (string, error) {
	value, err := n.store.IncrementCounter(ctx, counterName)
	if err != nil {
		return "", err
	}
	return namePrefix + strconv.FormatInt(value, 10), nil
}

// Reset zeroes the counter so default names cycle back once the room has
// emptied. It can race with a fresh connect; a temporarily odd number is
// acceptable because default names are cosmetic, not identifiers.
func (n *Namer) Reset(ctx context.Context) error {
	return n.store.ResetCounter(ctx, counterName)
}
