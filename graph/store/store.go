// Package store provides CheckpointStore implementations for the graph
// engine, per spec.md §6 "External Interfaces" / SPEC_FULL.md "Checkpoint
// storage".
//
// Grounded on the teacher's store package (graph/store/store.go): kept the
// in-memory/SQLite/MySQL trio and the per-implementation doc-comment
// density, dropped the generic Store[S] surface (SaveStep/LoadCheckpoint/
// CheckpointV2/transactional-outbox events) in favor of the single
// graph.CheckpointStore contract (Get/Put/List/Delete over the concrete
// graph.Checkpoint), since this engine checkpoints whole supersteps rather
// than tracking a separate step-history ledger and event outbox.
package store

import "errors"

// ErrNotFound is not returned by the stores in this package; their Get
// reports a thread with no checkpoint as (nil, nil).
var ErrNotFound = errors.New("not found")
