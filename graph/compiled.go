package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/google/uuid"

	"github.com/dshills/stategraph/graph/store"
)

// CompiledGraph is the validated, immutable form of a Builder. It holds no
// per-run state, so one instance may be invoked concurrently and nested as a
// subgraph in any number of parents.
type CompiledGraph struct {
	schema       *Schema
	nodes        map[string]*node
	order        []string
	static       map[string][]string
	conditionals map[string]conditionalEdge
	entry        string
	finish       map[string]bool
	cfg          engineConfig
}

// Invoke runs the graph from its entry point and returns the final state.
//
// With WithSession, the session's checkpoint is loaded first and input is
// merged onto it using the declared field policies. The final state is
// saved only when the run completes; errors and cancellation leave the
// previous checkpoint untouched.
func (g *CompiledGraph) Invoke(ctx context.Context, input State, opts ...InvokeOption) (State, error) {
	ic := invokeConfig{maxSteps: g.cfg.maxSteps}
	for _, opt := range opts {
		opt(&ic)
	}
	if ic.runID == "" {
		ic.runID = uuid.NewString()
	}
	if ic.maxSteps < 1 {
		return nil, &EngineError{Message: "recursion limit must be at least 1", Code: "CONFIG_ERROR"}
	}
	if ic.sessionID != "" && g.cfg.store == nil {
		return nil, &EngineError{
			Message: "session " + ic.sessionID + " requested but no store is configured",
			Code:    "CONFIG_ERROR",
		}
	}

	r := &run{g: g, runID: ic.runID, maxSteps: ic.maxSteps}
	r.emit(0, "", "run_start", map[string]interface{}{"session_id": ic.sessionID})

	state, err := r.startState(ctx, ic.sessionID, input)
	if err != nil {
		r.emitError(0, "", err)
		return nil, err
	}

	final, _, err := r.loop(ctx, state)
	if err != nil {
		r.emitError(0, "", err)
		return nil, err
	}

	if ic.sessionID != "" {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		if err := r.saveCheckpoint(ctx, ic.sessionID, final); err != nil {
			r.emitError(0, "", err)
			return nil, err
		}
	}

	r.emit(0, "", "run_end", map[string]interface{}{"fields": final.Keys()})
	return final, nil
}

func (r *run) startState(ctx context.Context, sessionID string, input State) (State, error) {
	g := r.g
	state := State{}
	if sessionID != "" {
		snap, err := g.cfg.store.Load(ctx, sessionID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			g.recordCheckpoint("load", "miss")
		case err != nil:
			g.recordCheckpoint("load", "error")
			return nil, &EngineError{Message: "load checkpoint: " + err.Error(), Code: "STORE_ERROR", Cause: err}
		default:
			state, err = g.schema.Decode(snap)
			if err != nil {
				g.recordCheckpoint("load", "error")
				return nil, &EngineError{Message: "decode checkpoint: " + err.Error(), Code: "STORE_ERROR", Cause: err}
			}
			g.recordCheckpoint("load", "hit")
			r.emit(0, "", "checkpoint_load", map[string]interface{}{"session_id": sessionID})
		}
	}
	return g.schema.Merge(state, input)
}

func (r *run) saveCheckpoint(ctx context.Context, sessionID string, final State) error {
	g := r.g
	snap, err := g.schema.Encode(final)
	if err != nil {
		g.recordCheckpoint("save", "error")
		return &EngineError{Message: "encode checkpoint: " + err.Error(), Code: "STORE_ERROR", Cause: err}
	}
	if err := g.cfg.store.Save(ctx, sessionID, snap); err != nil {
		g.recordCheckpoint("save", "error")
		return &EngineError{Message: "save checkpoint: " + err.Error(), Code: "STORE_ERROR", Cause: err}
	}
	g.recordCheckpoint("save", "success")
	r.emit(0, "", "checkpoint_save", map[string]interface{}{"session_id": sessionID})
	return nil
}

func (g *CompiledGraph) recordCheckpoint(op, status string) {
	if g.cfg.metrics != nil {
		g.cfg.metrics.IncrementCheckpointOps(op, status)
	}
}

// Schema returns the resolved field declarations.
func (g *CompiledGraph) Schema() *Schema { return g.schema }

// FieldNames returns the declared field names. A subgraph node passes only
// these fields into the nested graph.
func (g *CompiledGraph) FieldNames() []string { return g.schema.Names() }

// Entry returns the entry node name.
func (g *CompiledGraph) Entry() string { return g.entry }

// Nodes returns the node names in registration order.
func (g *CompiledGraph) Nodes() []string { return slices.Clone(g.order) }

// NodeKind reports whether name is a handler or a subgraph node.
func (g *CompiledGraph) NodeKind(name string) (NodeKind, bool) {
	n, ok := g.nodes[name]
	if !ok {
		return 0, false
	}
	return n.kind, true
}

// FinishPoints returns the declared finish nodes, sorted.
func (g *CompiledGraph) FinishPoints() []string {
	out := make([]string, 0, len(g.finish))
	for name := range g.finish {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Edges lists the outgoing edges of every node in registration order.
// Static edges from one node are grouped into a single EdgeInfo.
func (g *CompiledGraph) Edges() []EdgeInfo {
	var out []EdgeInfo
	for _, name := range g.order {
		if targets := g.static[name]; len(targets) > 0 {
			out = append(out, EdgeInfo{From: name, To: slices.Clone(targets)})
		}
		if c, ok := g.conditionals[name]; ok {
			out = append(out, EdgeInfo{From: name, To: slices.Clone(c.Destinations), Conditional: true})
		}
	}
	return out
}

// String summarizes the graph for logs.
func (g *CompiledGraph) String() string {
	return fmt.Sprintf("CompiledGraph(entry=%s, nodes=%d, fields=%d)", g.entry, len(g.nodes), len(g.schema.order))
}
