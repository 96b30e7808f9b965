package graph

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync/atomic"
	"testing"
	"time"
)

// subgraphWriting compiles a one-node graph that appends item to field.
func subgraphWriting(t *testing.T, field, item string) *CompiledGraph {
	t.Helper()
	b := NewBuilder(Append[string]("topic"), Append[string](field))
	_ = b.AddNode("write", HandlerFunc(func(_ context.Context, s State) (State, error) {
		topic, _ := Get[[]string](s, "topic")
		return State{field: item + ":" + topic[0]}, nil
	}))
	_ = b.SetEntryPoint("write")
	g, err := b.Compile()
	if err != nil {
		t.Fatalf("compile subgraph: %v", err)
	}
	return g
}

func TestFanOut_AppendSubgraphs(t *testing.T) {
	b := NewBuilder(Append[string]("topic"), Append[string]("results"))
	_ = b.AddNode("get_topic", HandlerFunc(noop))
	_ = b.AddSubgraph("A", subgraphWriting(t, "results", "a"))
	_ = b.AddSubgraph("B", subgraphWriting(t, "results", "b"))
	_ = b.AddEdge("get_topic", "A")
	_ = b.AddEdge("get_topic", "B")
	_ = b.SetEntryPoint("get_topic")
	em := &mockEmitter{}
	g := mustCompile(b, WithEmitter(em))

	for range 20 {
		out, err := g.Invoke(context.Background(), State{"topic": "T", "results": "seed"})
		if err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		// Frontier order decides the merge order, never goroutine timing.
		if want := []string{"seed", "a:T", "b:T"}; !reflect.DeepEqual(out["results"], want) {
			t.Fatalf("results = %v, want %v", out["results"], want)
		}
		// Subgraphs did not write topic, so it is not duplicated.
		if want := []string{"T"}; !reflect.DeepEqual(out["topic"], want) {
			t.Fatalf("topic = %v, want %v", out["topic"], want)
		}
	}
	if em.count("fanout") != 20 {
		t.Errorf("fanout events = %d", em.count("fanout"))
	}
}

func TestFanOut_BranchesRunConcurrently(t *testing.T) {
	var inflight, peak atomic.Int32
	branch := HandlerFunc(func(context.Context, State) (State, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
		return State{}, nil
	})

	build := func(opts ...Option) *CompiledGraph {
		b := NewBuilder()
		_ = b.AddNode("root", HandlerFunc(noop))
		for _, n := range []string{"x", "y", "z"} {
			_ = b.AddNode(n, branch)
			_ = b.AddEdge("root", n)
		}
		_ = b.SetEntryPoint("root")
		return mustCompile(b, opts...)
	}

	if _, err := build().Invoke(context.Background(), State{}); err != nil {
		t.Fatal(err)
	}
	if peak.Load() < 2 {
		t.Errorf("peak concurrency = %d, branches did not overlap", peak.Load())
	}

	peak.Store(0)
	if _, err := build(WithMaxConcurrent(1)).Invoke(context.Background(), State{}); err != nil {
		t.Fatal(err)
	}
	if peak.Load() != 1 {
		t.Errorf("peak concurrency = %d with WithMaxConcurrent(1)", peak.Load())
	}
}

func TestFanOut_JoinRunsOnce(t *testing.T) {
	var joins atomic.Int32
	b := NewBuilder(Append[string]("log"))
	_ = b.AddNode("root", HandlerFunc(noop))
	_ = b.AddNode("l", set(State{"log": "l"}))
	_ = b.AddNode("r", set(State{"log": "r"}))
	_ = b.AddNode("join", HandlerFunc(func(context.Context, State) (State, error) {
		joins.Add(1)
		return State{"log": "join"}, nil
	}))
	_ = b.AddEdge("root", "l")
	_ = b.AddEdge("root", "r")
	_ = b.AddEdge("l", "join")
	_ = b.AddEdge("r", "join")
	_ = b.SetEntryPoint("root")

	out, err := mustCompile(b).Invoke(context.Background(), State{})
	if err != nil {
		t.Fatal(err)
	}
	if joins.Load() != 1 {
		t.Errorf("join ran %d times", joins.Load())
	}
	if want := []string{"l", "r", "join"}; !reflect.DeepEqual(out["log"], want) {
		t.Errorf("log = %v, want %v", out["log"], want)
	}
}

func TestFanOut_Conflicts(t *testing.T) {
	build := func(opts ...Option) (*CompiledGraph, *mockEmitter) {
		b := NewBuilder(Replace[string]("winner"), Reduce("total", sum))
		_ = b.AddNode("root", HandlerFunc(noop))
		_ = b.AddNode("first", set(State{"winner": "first", "total": 1}))
		_ = b.AddNode("second", set(State{"winner": "second", "total": 2}))
		_ = b.AddEdge("root", "first")
		_ = b.AddEdge("root", "second")
		_ = b.SetEntryPoint("root")
		em := &mockEmitter{}
		return mustCompile(b, append(opts, WithEmitter(em))...), em
	}

	t.Run("fail by default", func(t *testing.T) {
		g, em := build()
		_, err := g.Invoke(context.Background(), State{})
		var ce *ConflictError
		if !errors.As(err, &ce) {
			t.Fatalf("Invoke = %v, want ConflictError", err)
		}
		if ce.Field != "winner" || !reflect.DeepEqual(ce.Nodes, []string{"first", "second"}) {
			t.Errorf("ConflictError = %+v", ce)
		}
		if em.count("conflict") != 1 {
			t.Errorf("conflict events = %d", em.count("conflict"))
		}
	})

	t.Run("last writer in declaration order", func(t *testing.T) {
		g, em := build(WithConflictPolicy(ConflictLastWriter))
		out, err := g.Invoke(context.Background(), State{})
		if err != nil {
			t.Fatal(err)
		}
		if out["winner"] != "second" {
			t.Errorf("winner = %v, want second", out["winner"])
		}
		// Reduce fields never conflict.
		if out["total"] != 3 {
			t.Errorf("total = %v, want 3", out["total"])
		}
		if em.count("conflict") != 1 {
			t.Errorf("conflict events = %d", em.count("conflict"))
		}
	})
}

func TestFanOut_BranchFailureCancelsSiblings(t *testing.T) {
	boom := errors.New("boom")
	var siblingCancelled atomic.Bool

	b := NewBuilder()
	_ = b.AddNode("root", HandlerFunc(noop))
	_ = b.AddNode("fails", HandlerFunc(func(context.Context, State) (State, error) {
		return nil, boom
	}))
	_ = b.AddNode("waits", HandlerFunc(func(ctx context.Context, _ State) (State, error) {
		select {
		case <-ctx.Done():
			siblingCancelled.Store(true)
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return State{}, nil
		}
	}))
	_ = b.AddEdge("root", "fails")
	_ = b.AddEdge("root", "waits")
	_ = b.SetEntryPoint("root")

	_, err := mustCompile(b).Invoke(context.Background(), State{})
	if !errors.Is(err, boom) {
		t.Fatalf("Invoke = %v, want boom", err)
	}
	if !siblingCancelled.Load() {
		t.Error("sibling branch was not cancelled")
	}
}

func TestSubgraph_PartialUpdate(t *testing.T) {
	// The subgraph appends two items and replaces a field it declares; the
	// parent gets only what the subgraph wrote.
	sb := NewBuilder(Append[string]("log"), Replace[string]("summary"))
	_ = sb.AddNode("s1", set(State{"log": "s1"}))
	_ = sb.AddNode("s2", set(State{"log": "s2", "summary": "done"}))
	_ = sb.AddEdge("s1", "s2")
	_ = sb.SetEntryPoint("s1")
	sub := mustCompile(sb)

	b := NewBuilder(Append[string]("log"), Replace[string]("summary"), Replace[string]("private"))
	_ = b.AddNode("before", set(State{"log": "before"}))
	_ = b.AddSubgraph("nested", sub)
	_ = b.AddNode("check", HandlerFunc(func(_ context.Context, s State) (State, error) {
		return State{"log": "check"}, nil
	}))
	_ = b.AddEdge("before", "nested")
	_ = b.AddEdge("nested", "check")
	_ = b.SetEntryPoint("before")

	out, err := mustCompile(b).Invoke(context.Background(), State{"private": "p"})
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"before", "s1", "s2", "check"}; !reflect.DeepEqual(out["log"], want) {
		t.Errorf("log = %v, want %v", out["log"], want)
	}
	if out["summary"] != "done" || out["private"] != "p" {
		t.Errorf("state = %v", out)
	}
}

func TestSubgraph_ReduceMatchesInline(t *testing.T) {
	var seen []int
	add := func(n int) HandlerFunc {
		return func(_ context.Context, s State) (State, error) {
			cur, _ := Get[int](s, "total")
			seen = append(seen, cur)
			return State{"total": n}, nil
		}
	}
	chain := func(b *Builder) {
		_ = b.AddNode("add3", add(3))
		_ = b.AddNode("add4", add(4))
		_ = b.AddEdge("add3", "add4")
		_ = b.SetEntryPoint("add3")
	}

	inline := NewBuilder(Reduce("total", sum))
	chain(inline)

	sb := NewBuilder(Reduce("total", sum))
	chain(sb)
	sub := mustCompile(sb)

	wrapped := NewBuilder(Reduce("total", sum))
	_ = wrapped.AddSubgraph("nested", sub)
	_ = wrapped.SetEntryPoint("nested")

	// A subgraph inside a subgraph passes the raw updates through.
	outer := NewBuilder(Reduce("total", sum))
	_ = outer.AddSubgraph("wrapper", mustCompile(wrapped))
	_ = outer.SetEntryPoint("wrapper")

	tests := []struct {
		name string
		b    *Builder
	}{
		{"inline", inline},
		{"subgraph", wrapped},
		{"nested subgraph", outer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			out, err := mustCompile(tt.b).Invoke(context.Background(), State{"total": 5})
			if err != nil {
				t.Fatal(err)
			}
			if out["total"] != 12 {
				t.Errorf("total = %v, want 12", out["total"])
			}
			if !reflect.DeepEqual(seen, []int{5, 8}) {
				t.Errorf("handlers saw %v, want [5 8]", seen)
			}
		})
	}

	t.Run("fan-out branches each fold once", func(t *testing.T) {
		b := NewBuilder(Reduce("total", sum))
		_ = b.AddNode("start", HandlerFunc(noop))
		_ = b.AddSubgraph("left", sub)
		_ = b.AddSubgraph("right", sub)
		_ = b.AddEdge("start", "left")
		_ = b.AddEdge("start", "right")
		_ = b.SetEntryPoint("start")

		out, err := mustCompile(b, WithMaxConcurrent(1)).Invoke(context.Background(), State{"total": 5})
		if err != nil {
			t.Fatal(err)
		}
		if out["total"] != 19 {
			t.Errorf("total = %v, want 19", out["total"])
		}
	})
}

func TestSubgraph_OnlySeesDeclaredFields(t *testing.T) {
	var seen []string
	sb := NewBuilder(Replace[string]("shared"))
	_ = sb.AddNode("peek", HandlerFunc(func(_ context.Context, s State) (State, error) {
		seen = s.Keys()
		return State{}, nil
	}))
	_ = sb.SetEntryPoint("peek")

	b := NewBuilder(Replace[string]("shared"), Replace[string]("secret"))
	_ = b.AddSubgraph("nested", mustCompile(sb))
	_ = b.SetEntryPoint("nested")

	if _, err := mustCompile(b).Invoke(context.Background(), State{"shared": "s", "secret": "x"}); err != nil {
		t.Fatal(err)
	}
	sort.Strings(seen)
	if !reflect.DeepEqual(seen, []string{"shared"}) {
		t.Errorf("subgraph saw %v", seen)
	}
}

func TestSubgraph_ErrorPropagates(t *testing.T) {
	cause := errors.New("inner failure")
	sb := NewBuilder()
	_ = sb.AddNode("inner", HandlerFunc(func(context.Context, State) (State, error) { return nil, cause }))
	_ = sb.SetEntryPoint("inner")

	b := NewBuilder()
	_ = b.AddSubgraph("outer", mustCompile(sb))
	_ = b.SetEntryPoint("outer")

	_, err := mustCompile(b).Invoke(context.Background(), State{})
	var he *HandlerError
	if !errors.As(err, &he) || he.Node != "outer" {
		t.Fatalf("Invoke = %v, want HandlerError from outer", err)
	}
	if !errors.Is(err, cause) {
		t.Error("inner cause lost")
	}
}
