package graph

import (
	"testing"
)

func TestComputeIdempotencyKey_DeterministicForIdenticalInputs(t *testing.T) {
	state := State{"a": 1, "b": "x"}
	k1, err := computeIdempotencyKey("thread-1", 3, []string{"b", "a"}, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2, err := computeIdempotencyKey("thread-1", 3, []string{"a", "b"}, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k1 != k2 {
		t.Errorf("keys differ by frontier order: %q vs %q, want equal (frontier is sorted before hashing)", k1, k2)
	}
}

func TestComputeIdempotencyKey_DiffersOnSuperstep(t *testing.T) {
	state := State{"a": 1}
	k1, err := computeIdempotencyKey("thread-1", 1, []string{"n"}, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2, err := computeIdempotencyKey("thread-1", 2, []string{"n"}, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k1 == k2 {
		t.Error("expected different supersteps to produce different idempotency keys")
	}
}

func TestComputeIdempotencyKey_DiffersOnThreadID(t *testing.T) {
	state := State{"a": 1}
	k1, _ := computeIdempotencyKey("thread-1", 1, []string{"n"}, state)
	k2, _ := computeIdempotencyKey("thread-2", 1, []string{"n"}, state)
	if k1 == k2 {
		t.Error("expected different thread IDs to produce different idempotency keys")
	}
}

func TestComputeIdempotencyKey_DiffersOnState(t *testing.T) {
	k1, _ := computeIdempotencyKey("thread-1", 1, []string{"n"}, State{"a": 1})
	k2, _ := computeIdempotencyKey("thread-1", 1, []string{"n"}, State{"a": 2})
	if k1 == k2 {
		t.Error("expected different state to produce different idempotency keys")
	}
}

func TestComputeIdempotencyKey_HasSHA256Prefix(t *testing.T) {
	k, err := computeIdempotencyKey("thread-1", 0, nil, State{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(k) < 7 || k[:7] != "sha256:" {
		t.Errorf("key = %q, want sha256: prefix", k)
	}
}

func TestRngSeedFor_DeterministicPerThreadID(t *testing.T) {
	s1 := rngSeedFor("thread-a")
	s2 := rngSeedFor("thread-a")
	if s1 != s2 {
		t.Errorf("rngSeedFor not deterministic: %d vs %d", s1, s2)
	}
}

func TestRngSeedFor_DiffersAcrossThreadIDs(t *testing.T) {
	s1 := rngSeedFor("thread-a")
	s2 := rngSeedFor("thread-b")
	if s1 == s2 {
		t.Error("expected different thread IDs to derive different RNG seeds")
	}
}
