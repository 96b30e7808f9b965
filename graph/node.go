package graph

import (
	"context"
	"time"
)

// END is the terminate sentinel. Routers return it to stop a branch and
// edges may point at it.
const END = "__end__"

// Handler is a unit of computation. Run receives a copy of the accumulated
// state and returns only the fields it changed.
type Handler interface {
	Run(ctx context.Context, state State) (State, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
//
// Example:
//
//	greet := graph.HandlerFunc(func(ctx context.Context, s graph.State) (graph.State, error) {
//	    name, _ := graph.Get[string](s, "name")
//	    return graph.State{"greeting": "Hi " + name + "!"}, nil
//	})
type HandlerFunc func(ctx context.Context, state State) (State, error)

// Run implements Handler.
func (f HandlerFunc) Run(ctx context.Context, state State) (State, error) {
	return f(ctx, state)
}

// NodeKind distinguishes handler nodes from nested graphs.
type NodeKind int

const (
	// KindHandler is a node backed by a Handler.
	KindHandler NodeKind = iota
	// KindSubgraph is a node backed by a CompiledGraph.
	KindSubgraph
)

func (k NodeKind) String() string {
	if k == KindSubgraph {
		return "subgraph"
	}
	return "handler"
}

// node is a registered vertex. Exactly one of handler or subgraph is set.
type node struct {
	name     string
	kind     NodeKind
	handler  Handler
	subgraph *CompiledGraph
	policy   NodePolicy
}

// NodePolicy carries per-node execution settings.
type NodePolicy struct {
	// Timeout bounds each attempt. Zero means no deadline.
	Timeout time.Duration

	// Retry enables automatic retries. Nil means a failure is final.
	Retry *RetryPolicy
}

// NodeOption configures a node at registration time.
type NodeOption func(*NodePolicy)

// WithTimeout sets a per-attempt deadline for the node.
func WithTimeout(d time.Duration) NodeOption {
	return func(p *NodePolicy) {
		p.Timeout = d
	}
}

// WithRetry attaches a retry policy to the node.
func WithRetry(rp RetryPolicy) NodeOption {
	return func(p *NodePolicy) {
		p.Retry = &rp
	}
}
