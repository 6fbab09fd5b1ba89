package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// Checkpoint is a durable snapshot of a run, written after every superstep
// so a thread can resume exactly where it left off (spec.md §4.5 step 5,
// §6 CheckpointStore).
//
// Grounded on the teacher's Checkpoint[S] (graph/checkpoint.go): same
// fields (state, frontier, RNG seed, idempotency key, timestamp, label),
// generalized from a typed State to the concrete State map and from a
// WorkItem slice to the plain node-name frontier this engine schedules.
type Checkpoint struct {
	ThreadID  string    `json:"thread_id"`
	Superstep int       `json:"superstep"`
	State     State     `json:"state"`
	Frontier  []string  `json:"frontier"`
	RNGSeed   int64     `json:"rng_seed"`
	Timestamp time.Time `json:"timestamp"`
	// Label is an optional user-assigned name for a named/time-travel
	// checkpoint (SPEC_FULL.md "named checkpoints / time-travel").
	Label string `json:"label,omitempty"`
	// IdempotencyKey guards against double-committing the same superstep's
	// checkpoint on retry after a crash.
	IdempotencyKey string `json:"idempotency_key"`
}

// CheckpointMetadata carries the reason a checkpoint was written, mirroring
// the teacher's source tagging on commits.
type CheckpointMetadata struct {
	Source    string `json:"source"` // "loop" | "interrupt" | "label"
	Superstep int    `json:"superstep"`
}

// CheckpointTuple pairs a Checkpoint with its metadata, the unit
// CheckpointStore.Get/List return.
type CheckpointTuple struct {
	Checkpoint Checkpoint         `json:"checkpoint"`
	Metadata   CheckpointMetadata `json:"metadata"`
}

// computeIdempotencyKey hashes (threadID, superstep, frontier, state) into a
// stable identity for a checkpoint write, so a retried commit after a crash
// is recognized as a duplicate rather than reapplied. Adapted from the
// teacher's computeIdempotencyKey[S]; frontier is sorted before hashing
// since the scheduler's completion order is not guaranteed deterministic
// even though the merge itself is (spec.md §5 "Ordering guarantees").
func computeIdempotencyKey(threadID string, superstep int, frontier []string, state State) (string, error) {
	h := sha256.New()
	h.Write([]byte(threadID))

	stepBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(stepBytes, uint64(superstep))
	h.Write(stepBytes)

	sorted := make([]string, len(frontier))
	copy(sorted, frontier)
	sort.Strings(sorted)
	for _, nodeID := range sorted {
		h.Write([]byte(nodeID))
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	h.Write(stateJSON)

	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// rngSeedFor derives a deterministic RNG seed from a run's thread ID, so
// replays of the same thread see the same "random" values, per the
// teacher's deterministic-RNG-from-runID pattern.
func rngSeedFor(threadID string) int64 {
	sum := sha256.Sum256([]byte(threadID))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}
