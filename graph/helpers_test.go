package graph

import (
	"context"
	"sync"

	"github.com/dshills/stategraph/graph/emit"
)

// mockEmitter records events; fan-out branches emit concurrently.
type mockEmitter struct {
	mu     sync.Mutex
	events []emit.Event
}

func (m *mockEmitter) Emit(event emit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockEmitter) msgs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Msg
	}
	return out
}

func (m *mockEmitter) count(msg string) int {
	n := 0
	for _, got := range m.msgs() {
		if got == msg {
			n++
		}
	}
	return n
}

// set returns a handler writing a fixed update.
func set(update State) HandlerFunc {
	return func(context.Context, State) (State, error) {
		return update.Clone(), nil
	}
}

// noop returns an empty update.
func noop(context.Context, State) (State, error) {
	return State{}, nil
}

// mustCompile compiles b or fails the test through panic; used where the
// graph shape is not under test.
func mustCompile(b *Builder, opts ...Option) *CompiledGraph {
	g, err := b.Compile(opts...)
	if err != nil {
		panic(err)
	}
	return g
}

func sum(cur, upd int) int { return cur + upd }
