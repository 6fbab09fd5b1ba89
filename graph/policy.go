package graph

import (
	"math/rand"
	"time"

	"github.com/corewald/flowgraph/graph/config"
)

// RetryPolicy configures the `on_error: retry` behavior from spec.md §4.7:
// exponential backoff with jitter, up to MaxAttempts total attempts.
//
// Grounded on the teacher's RetryPolicy/computeBackoff (graph/policy.go) —
// kept the same backoff formula and jitter approach, dropped the
// SideEffectPolicy/IdempotencyKeyFunc machinery (replay recording) since
// this engine checkpoints whole supersteps rather than individual node I/O.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is used when a node sets on_error: retry but declares
// no explicit backoff parameters.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    30 * time.Second,
}

// computeBackoff returns the delay before retry attempt `attempt` (0-based:
// 0 is the delay before the second overall attempt), using exponential
// backoff capped at MaxDelay plus jitter in [0, BaseDelay).
func computeBackoff(attempt int, rp RetryPolicy, rng *rand.Rand) time.Duration {
	base := rp.BaseDelay
	if base <= 0 {
		base = DefaultRetryPolicy.BaseDelay
	}
	maxDelay := rp.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultRetryPolicy.MaxDelay
	}

	delay := base * (1 << uint(attempt))
	if delay > maxDelay {
		delay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- retry jitter, not security-sensitive
	}
	return delay + jitter
}

// executeWithPolicy runs primary according to cfg.OnError (spec.md §4.7):
// fail propagates, skip swallows into (nil, skipped), retry re-attempts
// primary with backoff before escalating to fail/fallback, fallback tries
// the alternate action once primary fails. fallback may be nil when cfg has
// no fallback configured.
func executeWithPolicy(cfg *config.NodeConfig, primary func() (any, error), fallback func() (any, error)) (result any, skipped bool, nodeErr *Error) {
	policy := cfg.OnError
	if policy == "" {
		policy = config.OnErrorFail
	}

	switch policy {
	case config.OnErrorSkip:
		v, err := primary()
		if err != nil {
			return nil, true, WrapError(ErrNodeError, cfg.Name, err)
		}
		return v, false, nil

	case config.OnErrorRetry:
		rp := RetryPolicy{MaxAttempts: cfg.MaxRetries}
		var out any
		var lastErr error
		_ = runWithRetry(nil, rp, nil, func() error {
			v, err := primary()
			if err == nil {
				out = v
			}
			lastErr = err
			return err
		})
		if lastErr == nil {
			return out, false, nil
		}
		if fallback != nil {
			if v, ferr := fallback(); ferr == nil {
				return v, false, nil
			}
		}
		return nil, false, WrapError(ErrNodeError, cfg.Name, lastErr)

	case config.OnErrorFallback:
		v, err := primary()
		if err == nil {
			return v, false, nil
		}
		if fallback != nil {
			if fv, ferr := fallback(); ferr == nil {
				return fv, false, nil
			}
		}
		return nil, false, WrapError(ErrNodeError, cfg.Name, err)

	default: // fail
		v, err := primary()
		if err != nil {
			return nil, false, WrapError(ErrNodeError, cfg.Name, err)
		}
		return v, false, nil
	}
}

// runWithRetry invokes attempt() up to rp.MaxAttempts times, sleeping with
// backoff between failures, stopping early on ctx cancellation. It returns
// the last error if every attempt failed.
func runWithRetry(ctxDone <-chan struct{}, rp RetryPolicy, rng *rand.Rand, attempt func() error) error {
	maxAttempts := rp.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = DefaultRetryPolicy.MaxAttempts
	}

	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		if err := attempt(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i == maxAttempts-1 {
			break
		}
		delay := computeBackoff(i, rp, rng)
		timer := time.NewTimer(delay)
		select {
		case <-ctxDone:
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}
