package graph

import (
	"errors"
	"testing"
)

func TestError_Message(t *testing.T) {
	e := NewError(ErrNodeError, "fetch", "request failed: %s", "timeout")
	want := "NodeError: node fetch: request failed: timeout"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestError_MessageWithoutNode(t *testing.T) {
	e := NewError(ErrRecursionExceeded, "", "exceeded recursion_limit (%d)", 25)
	want := "RecursionExceeded: exceeded recursion_limit (25)"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestWrapError_UnwrapsCause(t *testing.T) {
	cause := errors.New("underlying failure")
	e := WrapError(ErrCheckpointError, "node1", cause)
	if !errors.Is(e, cause) {
		t.Error("expected WrapError to preserve the cause for errors.Is")
	}
	if e.Detail != cause.Error() {
		t.Errorf("Detail = %q, want %q", e.Detail, cause.Error())
	}
}

func TestKindOf(t *testing.T) {
	e := NewError(ErrLoopLimitExceeded, "loopy", "scheduled too many times")
	kind, ok := KindOf(e)
	if !ok || kind != ErrLoopLimitExceeded {
		t.Errorf("KindOf() = (%v, %v), want (%v, true)", kind, ok, ErrLoopLimitExceeded)
	}

	_, ok = KindOf(errors.New("plain error"))
	if ok {
		t.Error("expected KindOf to report false for a non-*Error")
	}
}

func TestKindOf_WrappedError(t *testing.T) {
	inner := NewError(ErrPathEscape, "", "path escaped config dir")
	wrapped := errors.Join(errors.New("context"), inner)
	kind, ok := KindOf(wrapped)
	if !ok || kind != ErrPathEscape {
		t.Errorf("KindOf(wrapped) = (%v, %v), want (%v, true)", kind, ok, ErrPathEscape)
	}
}
