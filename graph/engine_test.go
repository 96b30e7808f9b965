package graph

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"sync/atomic"
	"testing"
	"time"
)

func TestInvoke_SequentialAppends(t *testing.T) {
	b := NewBuilder(Append[string]("log"))
	for _, name := range []string{"one", "two", "three"} {
		_ = b.AddNode(name, set(State{"log": name}))
	}
	_ = b.AddEdge("one", "two")
	_ = b.AddEdge("two", "three")
	_ = b.SetEntryPoint("one")
	_ = b.SetFinishPoint("three")
	g := mustCompile(b)

	out, err := g.Invoke(context.Background(), State{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if want := []string{"one", "two", "three"}; !reflect.DeepEqual(out["log"], want) {
		t.Errorf("log = %v, want %v", out["log"], want)
	}
}

func TestInvoke_HandlerSeesCopy(t *testing.T) {
	b := NewBuilder()
	_ = b.AddNode("a", HandlerFunc(func(_ context.Context, s State) (State, error) {
		s["scratch"] = "leaked"
		return State{"x": 1}, nil
	}))
	_ = b.SetEntryPoint("a")
	g := mustCompile(b)

	input := State{"in": true}
	out, err := g.Invoke(context.Background(), input)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out["scratch"]; ok {
		t.Error("direct mutation of the handler's state reached the result")
	}
	if _, ok := input["x"]; ok {
		t.Error("caller's input was modified")
	}
}

func TestInvoke_ConditionalRouting(t *testing.T) {
	build := func() *CompiledGraph {
		b := NewBuilder(Replace[string]("op"), Replace[string]("result"))
		_ = b.AddNode("router", HandlerFunc(noop))
		_ = b.AddNode("add", set(State{"result": "added"}))
		_ = b.AddNode("mul", set(State{"result": "multiplied"}))
		_ = b.AddNode("static", set(State{"result": "static"}))
		_ = b.AddConditionalEdge("router", RouterFunc(func(s State) string {
			switch s["op"] {
			case "+":
				return "add"
			case "*":
				return "mul"
			}
			return END
		}), "add", "mul", END)
		// The router takes precedence over this edge.
		_ = b.AddEdge("router", "static")
		_ = b.SetEntryPoint("router")
		return mustCompile(b)
	}
	g := build()

	tests := []struct {
		op   string
		want any
	}{
		{"+", "added"},
		{"*", "multiplied"},
		{"?", nil},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			for range 3 {
				out, err := g.Invoke(context.Background(), State{"op": tt.op})
				if err != nil {
					t.Fatal(err)
				}
				if out["result"] != tt.want {
					t.Errorf("result = %v, want %v", out["result"], tt.want)
				}
			}
		})
	}
}

func TestInvoke_RouterSeesMergedState(t *testing.T) {
	b := NewBuilder(Replace[int]("n"))
	_ = b.AddNode("inc", HandlerFunc(func(_ context.Context, s State) (State, error) {
		n, _ := Get[int](s, "n")
		return State{"n": n + 1}, nil
	}))
	_ = b.AddConditionalEdge("inc", RouterFunc(func(s State) string {
		if s["n"].(int) < 5 {
			return "inc"
		}
		return END
	}), "inc", END)
	_ = b.SetEntryPoint("inc")
	g := mustCompile(b)

	out, err := g.Invoke(context.Background(), State{"n": 0})
	if err != nil {
		t.Fatal(err)
	}
	if out["n"] != 5 {
		t.Errorf("n = %v, want 5", out["n"])
	}
}

func TestInvoke_RoutingErrors(t *testing.T) {
	t.Run("undeclared destination", func(t *testing.T) {
		b := NewBuilder()
		_ = b.AddNode("a", HandlerFunc(noop))
		_ = b.AddNode("b", HandlerFunc(noop))
		_ = b.AddConditionalEdge("a", RouterFunc(func(State) string { return "nowhere" }), "b", END)
		_ = b.SetEntryPoint("a")
		_, err := mustCompile(b).Invoke(context.Background(), State{})
		var re *RoutingError
		if !errors.As(err, &re) || re.Destination != "nowhere" || re.From != "a" {
			t.Errorf("Invoke = %v, want RoutingError for nowhere", err)
		}
	})

	t.Run("router failure", func(t *testing.T) {
		boom := errors.New("boom")
		b := NewBuilder()
		_ = b.AddNode("a", HandlerFunc(noop))
		_ = b.AddConditionalEdge("a", failingRouter{boom}, END)
		_ = b.SetEntryPoint("a")
		_, err := mustCompile(b).Invoke(context.Background(), State{})
		var re *RoutingError
		if !errors.As(err, &re) || !errors.Is(err, boom) {
			t.Errorf("Invoke = %v, want RoutingError wrapping boom", err)
		}
	})
}

type failingRouter struct{ err error }

func (f failingRouter) Route(context.Context, State) (string, error) { return "", f.err }

func TestInvoke_HandlerError(t *testing.T) {
	cause := errors.New("db down")
	b := NewBuilder()
	_ = b.AddNode("a", HandlerFunc(func(context.Context, State) (State, error) { return nil, cause }))
	_ = b.SetEntryPoint("a")
	em := &mockEmitter{}
	g := mustCompile(b, WithEmitter(em))

	_, err := g.Invoke(context.Background(), State{})
	var he *HandlerError
	if !errors.As(err, &he) || he.Node != "a" || he.Attempts != 1 {
		t.Fatalf("Invoke = %v, want HandlerError from a", err)
	}
	if !errors.Is(err, cause) {
		t.Error("HandlerError does not unwrap to the cause")
	}
	if em.count("node_error") != 1 || em.count("run_error") != 1 || em.count("run_end") != 0 {
		t.Errorf("events = %v", em.msgs())
	}
}

func TestInvoke_MaxSteps(t *testing.T) {
	b := NewBuilder()
	_ = b.AddNode("loop", HandlerFunc(noop))
	_ = b.AddEdge("loop", "loop")
	_ = b.SetEntryPoint("loop")

	var runs atomic.Int32
	_ = b.AddNode("counter", HandlerFunc(func(context.Context, State) (State, error) {
		runs.Add(1)
		return State{}, nil
	}))
	_ = b.AddEdge("loop", "counter")

	g := mustCompile(b, WithMaxSteps(4))
	_, err := g.Invoke(context.Background(), State{})
	if !errors.Is(err, ErrMaxStepsExceeded) {
		t.Fatalf("Invoke = %v, want ErrMaxStepsExceeded", err)
	}
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != "MAX_STEPS_EXCEEDED" {
		t.Errorf("code = %v", err)
	}

	t.Run("recursion limit per call", func(t *testing.T) {
		before := runs.Load()
		_, err := g.Invoke(context.Background(), State{}, WithRecursionLimit(2))
		if !errors.Is(err, ErrMaxStepsExceeded) {
			t.Fatalf("Invoke = %v", err)
		}
		// Step 1 runs loop, step 2 runs loop and counter.
		if got := runs.Load() - before; got != 1 {
			t.Errorf("counter ran %d times under limit 2", got)
		}
	})

	t.Run("invalid recursion limit", func(t *testing.T) {
		_, err := g.Invoke(context.Background(), State{}, WithRecursionLimit(0))
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != "CONFIG_ERROR" {
			t.Errorf("Invoke = %v, want CONFIG_ERROR", err)
		}
	})
}

func TestInvoke_Cancellation(t *testing.T) {
	started := make(chan struct{})
	b := NewBuilder()
	_ = b.AddNode("slow", HandlerFunc(func(ctx context.Context, _ State) (State, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	_ = b.SetEntryPoint("slow")
	g := mustCompile(b)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := g.Invoke(ctx, State{})
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != "CANCELLED" {
		t.Fatalf("Invoke = %v, want CANCELLED", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("cancellation does not unwrap to context.Canceled")
	}
}

func TestInvoke_CancelledBeforeStart(t *testing.T) {
	b := NewBuilder()
	var ran bool
	_ = b.AddNode("a", HandlerFunc(func(context.Context, State) (State, error) {
		ran = true
		return State{}, nil
	}))
	_ = b.SetEntryPoint("a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := mustCompile(b).Invoke(ctx, State{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Invoke = %v", err)
	}
	if ran {
		t.Error("handler ran on a cancelled context")
	}
}

var errFlaky = errors.New("flaky")

func TestInvoke_Retry(t *testing.T) {
	var attempts atomic.Int32
	flaky := HandlerFunc(func(context.Context, State) (State, error) {
		if attempts.Add(1) < 3 {
			return nil, errFlaky
		}
		return State{"ok": true}, nil
	})
	policy := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Retryable:   func(err error) bool { return errors.Is(err, errFlaky) },
	}

	b := NewBuilder()
	_ = b.AddNode("flaky", flaky, WithRetry(policy))
	_ = b.SetEntryPoint("flaky")
	em := &mockEmitter{}
	g := mustCompile(b, WithEmitter(em))

	out, err := g.Invoke(context.Background(), State{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out["ok"] != true || attempts.Load() != 3 {
		t.Errorf("ok=%v attempts=%d", out["ok"], attempts.Load())
	}
	if em.count("node_retry") != 2 {
		t.Errorf("node_retry events = %d, want 2", em.count("node_retry"))
	}

	t.Run("non-retryable error is final", func(t *testing.T) {
		var calls atomic.Int32
		b := NewBuilder()
		_ = b.AddNode("a", HandlerFunc(func(context.Context, State) (State, error) {
			calls.Add(1)
			return nil, errors.New("permanent")
		}), WithRetry(policy))
		_ = b.SetEntryPoint("a")
		_, err := mustCompile(b).Invoke(context.Background(), State{})
		var he *HandlerError
		if !errors.As(err, &he) || he.Attempts != 1 || calls.Load() != 1 {
			t.Errorf("err=%v calls=%d", err, calls.Load())
		}
	})
}

func TestInvoke_NodeTimeout(t *testing.T) {
	b := NewBuilder()
	_ = b.AddNode("stuck", HandlerFunc(func(ctx context.Context, _ State) (State, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), WithTimeout(10*time.Millisecond))
	_ = b.SetEntryPoint("stuck")

	_, err := mustCompile(b).Invoke(context.Background(), State{})
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != "NODE_TIMEOUT" {
		t.Fatalf("Invoke = %v, want NODE_TIMEOUT", err)
	}
	var he *HandlerError
	if !errors.As(err, &he) || he.Node != "stuck" {
		t.Errorf("timeout not attributed to the node: %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("timeout does not unwrap to DeadlineExceeded")
	}
}

func TestInvoke_Events(t *testing.T) {
	b := NewBuilder()
	_ = b.AddNode("a", HandlerFunc(noop))
	_ = b.AddNode("b", HandlerFunc(noop))
	_ = b.AddConditionalEdge("a", RouterFunc(func(State) string { return "b" }), "b")
	_ = b.SetEntryPoint("a")
	em := &mockEmitter{}
	g := mustCompile(b, WithEmitter(em))

	if _, err := g.Invoke(context.Background(), State{}, WithRunID("run-1")); err != nil {
		t.Fatal(err)
	}
	want := []string{"run_start", "node_start", "node_end", "routing", "node_start", "node_end", "run_end"}
	if got := em.msgs(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	for _, e := range em.events {
		if e.RunID != "run-1" {
			t.Errorf("event %s has RunID %q", e.Msg, e.RunID)
		}
	}
	if em.events[3].Meta["to"] != "b" || em.events[3].Step != 1 {
		t.Errorf("routing event = %+v", em.events[3])
	}
}

func TestInvoke_MergeErrorNamesNode(t *testing.T) {
	b := NewBuilder(Replace[int]("n"))
	_ = b.AddNode("bad", set(State{"n": "not an int"}))
	_ = b.SetEntryPoint("bad")

	_, err := mustCompile(b).Invoke(context.Background(), State{})
	var me *MergeError
	if !errors.As(err, &me) || me.Node != "bad" || me.Field != "n" {
		t.Errorf("Invoke = %v, want MergeError from bad", err)
	}
}

func TestInvoke_Concurrent(t *testing.T) {
	b := NewBuilder(Reduce("total", sum))
	_ = b.AddNode("a", set(State{"total": 1}))
	_ = b.AddNode("b", set(State{"total": 2}))
	_ = b.AddEdge("a", "b")
	_ = b.SetEntryPoint("a")
	g := mustCompile(b)

	results := make(chan int, 16)
	for i := range 16 {
		go func() {
			out, err := g.Invoke(context.Background(), State{"total": i})
			if err != nil {
				results <- -1
				return
			}
			results <- out["total"].(int) - i
		}()
	}
	for range 16 {
		if got := <-results; got != 3 {
			t.Errorf("concurrent invoke produced delta %d, want 3", got)
		}
	}
}

func TestInvoke_NodeOrderHelper(t *testing.T) {
	// Nodes lists registration order, independent of execution.
	b := NewBuilder()
	for _, n := range []string{"z", "a", "m"} {
		_ = b.AddNode(n, HandlerFunc(noop))
	}
	_ = b.AddEdge("z", "a")
	_ = b.AddEdge("a", "m")
	_ = b.SetEntryPoint("z")
	if got := mustCompile(b).Nodes(); !slices.Equal(got, []string{"z", "a", "m"}) {
		t.Errorf("Nodes = %v", got)
	}
}
