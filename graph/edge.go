package graph

import (
	"context"
	"slices"
)

// Router picks the next node for a conditional edge. It is evaluated
// against the state after the source node's update has been merged.
type Router interface {
	Route(ctx context.Context, state State) (string, error)
}

// RouterFunc adapts a plain state-to-destination function to Router.
type RouterFunc func(state State) string

// Route implements Router.
func (f RouterFunc) Route(_ context.Context, state State) (string, error) {
	return f(state), nil
}

// staticEdge always leads from From to To.
type staticEdge struct {
	From string
	To   string
}

// conditionalEdge delegates the choice to a router restricted to a
// declared destination set.
type conditionalEdge struct {
	From         string
	Router       Router
	Destinations []string
}

func (c conditionalEdge) allows(dest string) bool {
	return slices.Contains(c.Destinations, dest)
}

// EdgeInfo describes an edge for inspection and rendering.
type EdgeInfo struct {
	From        string
	To          []string
	Conditional bool
}
