// Package store provides the durable state layer for the chat relay: one
// record per live connection plus named counters. Two implementations exist,
// an in-memory store used by tests and the standalone server mode, and a
// DynamoDB-backed store for deployments that need state to survive restarts.
package store

import (
	"context"
	"errors"
)

// ErrConditionFailed is returned by conditional writes when the condition
// does not hold, e.g. CreateCounter against an already-existing counter.
var ErrConditionFailed = errors.New("store: conditional check failed")

// Connection is the stored record for a single live transport session.
// The ID is assigned by the gateway at upgrade time and is the primary key.
// Names are display strings and are not unique; duplicate names are allowed
// and private-message resolution matches every record with the name.
type Connection struct {
	ID      string `json:"connectionId" dynamodbav:"connectionId"`
	Name    string `json:"name"         dynamodbav:"name"`
	IsGhost bool   `json:"isGhost"      dynamodbav:"isGhost"`
}

// Store is the contract the routing engine depends on. All write operations
// are idempotent at the record level: deleting a missing connection or
// overwriting an existing one is not an error. Scans may lag concurrent
// writes; callers must tolerate a freshly written record being absent from
// an immediately following scan.
type Store interface {
	// PutConnection creates or overwrites the record for conn.ID.
	PutConnection(ctx context.Context, conn Connection) error

	// DeleteConnection removes the record for id, if present.
	DeleteConnection(ctx context.Context, id string) error

	// GetConnection fetches the record for id. The second return value
	// reports whether a record was found.
	GetConnection(ctx context.Context, id string) (Connection, bool, error)

	// ListConnections scans every stored connection record.
	ListConnections(ctx context.Context) ([]Connection, error)

	// ListConnectionsByName scans for records whose name equals name and
	// returns their ids.
	ListConnectionsByName(ctx context.Context, name string) ([]string, error)

	// ListGhostConnections scans for records with the ghost flag set.
	ListGhostConnections(ctx context.Context) ([]Connection, error)

	// SetGhost updates the ghost flag for id. Like the underlying
	// key-value update it upserts: a missing record materializes with only
	// the flag set, so callers that care check existence first.
	SetGhost(ctx context.Context, id string, isGhost bool) error

	// CreateCounter conditionally creates the named counter at zero.
	// Returns ErrConditionFailed if the counter already exists.
	CreateCounter(ctx context.Context, name string) error

	// IncrementCounter atomically adds one to the named counter, treating
	// a missing counter as zero, and returns the new value. Concurrent
	// callers always observe distinct values.
	IncrementCounter(ctx context.Context, name string) (int64, error)

	// ResetCounter unconditionally sets the named counter to zero,
	// creating it if absent.
	ResetCounter(ctx context.Context, name string) error
}
