package graph

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures automatic retries for a node.
//
// Retries only happen when Retryable returns true for the error. Delays grow
// exponentially from BaseDelay, are capped at MaxDelay, and get up to
// BaseDelay of jitter so concurrent branches do not retry in lockstep.
//
// Example:
//
//	b.AddNode("llm", callModel, graph.WithRetry(graph.RetryPolicy{
//	    MaxAttempts: 3,
//	    BaseDelay:   200 * time.Millisecond,
//	    MaxDelay:    2 * time.Second,
//	    Retryable:   isTransient,
//	}))
type RetryPolicy struct {
	// MaxAttempts counts the initial attempt. 1 disables retries.
	MaxAttempts int

	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Nil treats every error as final.
	Retryable func(error) bool
}

// Validate checks the policy for nonsensical values.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

func (rp *RetryPolicy) shouldRetry(attempt int, err error) bool {
	if rp == nil || rp.Retryable == nil {
		return false
	}
	return attempt < rp.MaxAttempts && rp.Retryable(err)
}

// computeBackoff returns the delay before retry number attempt (0-based):
// base doubled per attempt, capped at maxDelay, plus up to base of jitter.
// Doubling stops before the duration would overflow.
func computeBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		if maxDelay > 0 && delay >= maxDelay {
			break
		}
		if delay > math.MaxInt64/4 {
			break
		}
		delay *= 2
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	if delay > math.MaxInt64-jitter {
		return delay
	}
	return delay + jitter
}
