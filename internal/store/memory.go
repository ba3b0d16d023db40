package store

import (
	"context"
	"sync"
)

// Memory is a mutex-guarded in-memory Store. It honors the same conditional
// and atomic semantics as the DynamoDB store so the router behaves
// identically against either backend.
type Memory struct {
	mu       sync.Mutex
	conns    map[string]Connection
	counters map[string]int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		conns:    make(map[string]Connection),
		counters: make(map[string]int64),
	}
}

// PutConnection creates or overwrites the record for conn.ID.
func (m *Memory) PutConnection(_ context.Context, conn Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn.ID] = conn
	return nil
}

// DeleteConnection removes the record for id, if present.
func (m *Memory) DeleteConnection(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, id)
	return nil
}

// GetConnection fetches the record for id.
func (m *Memory) GetConnection(_ context.Context, id string) (Connection, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[id]
	return conn, ok, nil
}

// ListConnections returns a snapshot of every stored connection record.
func (m *Memory) ListConnections(_ context.Context) ([]Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := make([]Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	return conns, nil
}

// ListConnectionsByName returns the ids of records whose name equals name.
func (m *Memory) ListConnectionsByName(_ context.Context, name string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, conn := range m.conns {
		if conn.Name == name {
			ids = append(ids, conn.ID)
		}
	}
	return ids, nil
}

// ListGhostConnections returns a snapshot of records with the ghost flag set.
func (m *Memory) ListGhostConnections(_ context.Context) ([]Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ghosts []Connection
	for _, conn := range m.conns {
		if conn.IsGhost {
			ghosts = append(ghosts, conn)
		}
	}
	return ghosts, nil
}

// SetGhost updates the ghost flag for id, materializing a record with only
// the flag if none exists. This mirrors key-value upsert semantics.
func (m *Memory) SetGhost(_ context.Context, id string, isGhost bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn := m.conns[id]
	conn.ID = id
	conn.IsGhost = isGhost
	m.conns[id] = conn
	return nil
}

// CreateCounter conditionally creates the named counter at zero.
func (m *Memory) CreateCounter(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.counters[name]; ok {
		return ErrConditionFailed
	}
	m.counters[name] = 0
	return nil
}

// IncrementCounter atomically adds one to the named counter and returns the
// new value. A missing counter is treated as zero.
func (m *Memory) IncrementCounter(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name]++
	return m.counters[name], nil
}

// ResetCounter unconditionally sets the named counter to zero.
func (m *Memory) ResetCounter(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] = 0
	return nil
}
