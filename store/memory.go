// Package store provides session metadata stores: an in-memory map for
// tests and single-process use, and a SQLite store for persistence
// across restarts.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmora/acpbridge/turn"
)

// ErrNotFound indicates the session id has no stored record.
var ErrNotFound = errors.New("store: session not found")

// Memory is an in-memory session store. Safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	recs map[string]turn.SessionRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{recs: make(map[string]turn.SessionRecord)}
}

// Put stores rec, replacing any existing record with the same id.
func (m *Memory) Put(ctx context.Context, rec turn.SessionRecord) error {
	if rec.ID == "" {
		return errors.New("store: record id is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.ID] = rec
	return nil
}

// Get returns the record for id, or ErrNotFound.
func (m *Memory) Get(ctx context.Context, id string) (turn.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[id]
	if !ok {
		return turn.SessionRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// Delete removes the record for id. Deleting an absent id is a no-op.
func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, id)
	return nil
}

// List returns all stored records in unspecified order.
func (m *Memory) List(ctx context.Context) ([]turn.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]turn.SessionRecord, 0, len(m.recs))
	for _, rec := range m.recs {
		out = append(out, rec)
	}
	return out, nil
}
