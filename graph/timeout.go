package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// runWithTimeout executes one attempt of fn under the node's deadline.
// A deadline hit that the caller did not impose is reported as NODE_TIMEOUT.
func runWithTimeout(ctx context.Context, nodeID string, timeout time.Duration, fn func(context.Context) (State, error)) (State, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	update, err := fn(timeoutCtx)
	if ctx.Err() == nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		return nil, &EngineError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", nodeID, timeout),
			Code:    "NODE_TIMEOUT",
			Cause:   context.DeadlineExceeded,
		}
	}
	return update, err
}
