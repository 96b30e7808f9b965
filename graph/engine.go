package graph

import (
	"context"
	"errors"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/stategraph/graph/emit"
)

// run holds the bookkeeping for one invocation of a CompiledGraph.
type run struct {
	g        *CompiledGraph
	runID    string
	maxSteps int
}

func cancelled(cause error) error {
	return &EngineError{Message: "invocation cancelled", Code: "CANCELLED", Cause: cause}
}

func (r *run) emit(step int, nodeID, msg string, meta map[string]interface{}) {
	r.g.cfg.emitter.Emit(emit.Event{
		RunID:  r.runID,
		Step:   step,
		NodeID: nodeID,
		Msg:    msg,
		Meta:   meta,
	})
}

func (r *run) emitError(step int, nodeID string, err error) {
	r.emit(step, nodeID, "run_error", map[string]interface{}{"error": err.Error()})
}

// loop drives the graph step by step until the frontier empties.
//
// Each step runs every frontier node against the same accumulated state,
// merges their updates in frontier order, then resolves the next frontier
// from the post-merge state. It also returns every raw update per field in
// merge order, which subgraph nodes use to build their partial update.
func (r *run) loop(ctx context.Context, state State) (State, map[string][]any, error) {
	writes := make(map[string][]any)
	frontier := []string{r.g.entry}

	for step := 1; len(frontier) > 0; step++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, cancelled(err)
		}
		if step > r.maxSteps {
			return nil, nil, &EngineError{
				Message: "run exceeded its step limit",
				Code:    "MAX_STEPS_EXCEEDED",
				Cause:   ErrMaxStepsExceeded,
			}
		}

		updates, err := r.runStep(ctx, step, frontier, state)
		if err != nil {
			return nil, nil, err
		}

		state, err = r.mergeStep(step, frontier, state, updates)
		if err != nil {
			return nil, nil, err
		}
		for _, u := range updates {
			for _, k := range u.Keys() {
				if fw, ok := u[k].(foldedWrites); ok {
					writes[k] = append(writes[k], fw.steps...)
					continue
				}
				writes[k] = append(writes[k], u[k])
			}
		}

		frontier, err = r.next(ctx, step, frontier, state)
		if err != nil {
			return nil, nil, err
		}
	}
	return state, writes, nil
}

// runStep executes the frontier. A lone node runs inline; several nodes run
// concurrently, each on its own copy of the pre-step state. The first
// failure cancels the remaining branches.
func (r *run) runStep(ctx context.Context, step int, frontier []string, state State) ([]State, error) {
	updates := make([]State, len(frontier))
	if len(frontier) == 1 {
		u, err := r.runNode(ctx, step, frontier[0], state.Clone())
		if err != nil {
			return nil, err
		}
		updates[0] = u
		return updates, nil
	}

	r.emit(step, "", "fanout", map[string]interface{}{"branches": frontier})
	grp, gctx := errgroup.WithContext(ctx)
	if r.g.cfg.maxConcurrent > 0 {
		grp.SetLimit(r.g.cfg.maxConcurrent)
	}
	for i, name := range frontier {
		branch := state.Clone()
		grp.Go(func() error {
			u, err := r.runNode(gctx, step, name, branch)
			if err != nil {
				return err
			}
			updates[i] = u
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx.Err())
		}
		return nil, err
	}
	return updates, nil
}

// runNode executes one node with its timeout and retry policy.
func (r *run) runNode(ctx context.Context, step int, name string, state State) (State, error) {
	n := r.g.nodes[name]
	m := r.g.cfg.metrics

	r.emit(step, name, "node_start", map[string]interface{}{"kind": n.kind.String()})
	if m != nil {
		m.IncInflight()
		defer m.DecInflight()
	}

	start := time.Now()
	var (
		update   State
		err      error
		attempts int
	)
	for attempts = 1; ; attempts++ {
		update, err = runWithTimeout(ctx, name, n.policy.Timeout, func(c context.Context) (State, error) {
			return r.invoke(c, n, state)
		})
		if err == nil || ctx.Err() != nil {
			break
		}
		if !n.policy.Retry.shouldRetry(attempts, err) {
			break
		}

		if m != nil {
			m.IncrementRetries(name, "error")
		}
		r.emit(step, name, "node_retry", map[string]interface{}{"attempt": attempts, "error": err.Error()})

		delay := computeBackoff(attempts-1, n.policy.Retry.BaseDelay, n.policy.Retry.MaxDelay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, cancelled(ctx.Err())
		}
	}
	latency := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		if m != nil {
			m.RecordStepLatency(name, latency, "cancelled")
		}
		return nil, cancelled(ctxErr)
	}
	if err != nil {
		if m != nil {
			m.RecordStepLatency(name, latency, "error")
		}
		r.emit(step, name, "node_error", map[string]interface{}{
			"error":      err.Error(),
			"attempts":   attempts,
			"latency_ms": latency,
		})
		return nil, &HandlerError{Node: name, Attempts: attempts, Err: err}
	}

	if m != nil {
		m.RecordStepLatency(name, latency, "success")
	}
	r.emit(step, name, "node_end", map[string]interface{}{
		"latency_ms": latency,
		"fields":     update.Keys(),
	})
	return update, nil
}

func (r *run) invoke(ctx context.Context, n *node, state State) (State, error) {
	if n.kind == KindSubgraph {
		return r.runSubgraph(ctx, n, state)
	}
	return n.handler.Run(ctx, state)
}

// runSubgraph runs a nested graph on the parent fields it declares and
// returns what it wrote: assigned values for replace fields, only the newly
// appended items for append fields, and the raw updates for reduce fields so
// the parent folds each of them exactly once onto its own value.
func (r *run) runSubgraph(ctx context.Context, n *node, state State) (State, error) {
	sub := n.subgraph
	input := sub.schema.restrict(state)

	start, err := sub.schema.Merge(State{}, input)
	if err != nil {
		return nil, err
	}

	child := &run{g: sub, runID: r.runID + "/" + n.name, maxSteps: sub.cfg.maxSteps}
	final, writes, err := child.loop(ctx, start)
	if err != nil {
		return nil, err
	}

	update := make(State, len(writes))
	for name, steps := range writes {
		if sub.schema.Policy(name) == PolicyReduce {
			update[name] = foldedWrites{steps: steps, final: final[name]}
			continue
		}
		before, present := input[name]
		update[name] = sub.schema.Field(name).written(before, present, final[name])
	}
	return update, nil
}

// mergeStep folds the step's updates into state in frontier order.
// With more than one branch, replace-policy fields written by two branches
// are a conflict handled per the configured ConflictPolicy.
func (r *run) mergeStep(step int, frontier []string, state State, updates []State) (State, error) {
	schema := r.g.schema

	if len(frontier) > 1 {
		writers := make(map[string][]string)
		for i, name := range frontier {
			for field := range updates[i] {
				if schema.Policy(field) == PolicyReplace {
					writers[field] = append(writers[field], name)
				}
			}
		}
		fields := make([]string, 0, len(writers))
		for field, ws := range writers {
			if len(ws) > 1 {
				fields = append(fields, field)
			}
		}
		sort.Strings(fields)
		for _, field := range fields {
			r.emit(step, "", "conflict", map[string]interface{}{
				"field":  field,
				"nodes":  writers[field],
				"policy": r.g.cfg.conflictPolicy.String(),
			})
			if m := r.g.cfg.metrics; m != nil {
				m.IncrementMergeConflicts("last_writer_undefined")
			}
			if r.g.cfg.conflictPolicy == ConflictFail {
				return nil, &ConflictError{Field: field, Nodes: writers[field]}
			}
		}
	}

	for i, name := range frontier {
		merged, err := schema.Merge(state, updates[i])
		if err != nil {
			var me *MergeError
			if errors.As(err, &me) {
				me.Node = name
			}
			return nil, err
		}
		state = merged
	}
	return state, nil
}

// next resolves the following frontier. A conditional router takes
// precedence over static edges. Static edges are all followed, so several
// of them fan out. A node with nothing to follow ends its branch. A node
// reached by several branches runs once.
func (r *run) next(ctx context.Context, step int, frontier []string, state State) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name == END || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	for _, name := range frontier {
		if c, ok := r.g.conditionals[name]; ok {
			dest, err := c.Router.Route(ctx, state)
			if err != nil {
				return nil, &RoutingError{From: name, Err: err}
			}
			if !c.allows(dest) {
				return nil, &RoutingError{From: name, Destination: dest, Allowed: c.Destinations}
			}
			r.emit(step, name, "routing", map[string]interface{}{"to": dest})
			add(dest)
			continue
		}
		for _, to := range r.g.static[name] {
			add(to)
		}
	}
	return out, nil
}
