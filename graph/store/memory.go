package store

import (
	"context"
	"sort"
	"sync"

	"github.com/corewald/flowgraph/graph"
)

// MemoryStore is an in-memory graph.CheckpointStore. Designed for testing,
// development, and single-process runs; data is lost on process exit.
//
// Grounded on the teacher's MemStore[S] (graph/store/memory.go): kept the
// map-of-slices-per-run shape and RWMutex-guarded access, dropped the
// separate step-history/labeled-checkpoint/event-outbox bookkeeping since
// this store only ever needs "every checkpoint for a thread, latest last".
type MemoryStore struct {
	mu       sync.RWMutex
	byThread map[string][]graph.CheckpointTuple
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byThread: make(map[string][]graph.CheckpointTuple)}
}

// Get returns the checkpoint with the highest superstep for threadID, or
// (nil, nil) if the thread has no checkpoints yet.
func (m *MemoryStore) Get(_ context.Context, threadID string) (*graph.CheckpointTuple, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tuples := m.byThread[threadID]
	if len(tuples) == 0 {
		return nil, nil
	}
	latest := tuples[0]
	for _, t := range tuples[1:] {
		if t.Checkpoint.Superstep > latest.Checkpoint.Superstep {
			latest = t
		}
	}
	return &latest, nil
}

// Put appends a checkpoint for threadID, guarding against a duplicate
// idempotency key (spec.md §4.5 step 5 "idempotent commit").
func (m *MemoryStore) Put(_ context.Context, threadID string, checkpoint graph.Checkpoint, metadata graph.CheckpointMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.byThread[threadID] {
		if checkpoint.IdempotencyKey != "" && t.Checkpoint.IdempotencyKey == checkpoint.IdempotencyKey {
			return nil // already committed; idempotent no-op
		}
	}

	m.byThread[threadID] = append(m.byThread[threadID], graph.CheckpointTuple{
		Checkpoint: checkpoint,
		Metadata:   metadata,
	})
	return nil
}

// List returns up to limit checkpoints for threadID, most recent superstep
// first (limit <= 0 means unbounded) — used for named-checkpoint/
// time-travel lookups (SPEC_FULL.md "named checkpoints / time-travel").
func (m *MemoryStore) List(_ context.Context, threadID string, limit int) ([]graph.CheckpointTuple, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tuples := append([]graph.CheckpointTuple(nil), m.byThread[threadID]...)
	sort.Slice(tuples, func(i, j int) bool {
		return tuples[i].Checkpoint.Superstep > tuples[j].Checkpoint.Superstep
	})
	if limit > 0 && len(tuples) > limit {
		tuples = tuples[:limit]
	}
	return tuples, nil
}

// Delete removes every checkpoint for threadID.
func (m *MemoryStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byThread, threadID)
	return nil
}
