package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMaxStepsExceeded indicates that a run reached its step limit without
// terminating. Usually a conditional loop is missing its exit.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrNoEntryPoint is matched by NoEntryPointError.
var ErrNoEntryPoint = errors.New("graph has no entry point")

// ErrInvalidRetryPolicy is returned when a RetryPolicy fails validation.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// ErrUndeclaredField is returned when a checkpoint would hold an undeclared
// field whose Go type cannot be restored from JSON. Declare the field with
// Replace, Append or Reduce to persist it.
var ErrUndeclaredField = errors.New("undeclared field does not survive a checkpoint")

// EngineError is a coded error for engine conditions that are not tied to a
// single node: configuration problems, step limits, cancellation and store
// failures.
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// DuplicateNodeError reports a second registration of a node name.
type DuplicateNodeError struct {
	Node string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("node %q already registered", e.Node)
}

// UnknownNodeError reports a reference to a node that was never registered.
type UnknownNodeError struct {
	Node string
	// Context says where the reference came from, e.g. "edge source".
	Context string
}

func (e *UnknownNodeError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("unknown node %q (%s)", e.Node, e.Context)
	}
	return fmt.Sprintf("unknown node %q", e.Node)
}

// DuplicateEdgeError reports a second conditional router on the same node.
type DuplicateEdgeError struct {
	From string
}

func (e *DuplicateEdgeError) Error() string {
	return fmt.Sprintf("node %q already has a conditional edge", e.From)
}

// NoEntryPointError is returned by Compile when SetEntryPoint was never called.
type NoEntryPointError struct{}

func (e *NoEntryPointError) Error() string { return ErrNoEntryPoint.Error() }

func (e *NoEntryPointError) Is(target error) bool { return target == ErrNoEntryPoint }

// UnreachableNodeError lists nodes that cannot be reached from the entry.
type UnreachableNodeError struct {
	Nodes []string
}

func (e *UnreachableNodeError) Error() string {
	return "unreachable nodes: " + strings.Join(e.Nodes, ", ")
}

// RoutingError reports a router that failed or chose a destination outside
// its declared set.
type RoutingError struct {
	From        string
	Destination string
	Allowed     []string
	Err         error
}

func (e *RoutingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("router on %q failed: %v", e.From, e.Err)
	}
	return fmt.Sprintf("router on %q returned %q, allowed: %s",
		e.From, e.Destination, strings.Join(e.Allowed, ", "))
}

func (e *RoutingError) Unwrap() error { return e.Err }

// HandlerError wraps a failure returned by a node.
type HandlerError struct {
	Node     string
	Attempts int
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("node %q: %v", e.Node, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// ConflictError is the LastWriterUndefined condition: concurrent branches
// wrote the same replace-policy field in one step.
type ConflictError struct {
	Field string
	Nodes []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("last writer undefined for field %q (written by %s)",
		e.Field, strings.Join(e.Nodes, ", "))
}

// MergeError reports an update that does not fit its field declaration.
type MergeError struct {
	Field   string
	Node    string
	Message string
}

func (e *MergeError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("merge field %q from node %q: %s", e.Field, e.Node, e.Message)
	}
	return fmt.Sprintf("merge field %q: %s", e.Field, e.Message)
}
