package emit

import (
	"fmt"
	"sync"
	"testing"
)

func TestBufferedEmitter_StoresEvents(t *testing.T) {
	t.Run("keeps emission order", func(t *testing.T) {
		emitter := NewBufferedEmitter()
		for _, msg := range []string{"node_start", "node_end", "routing"} {
			emitter.Emit(Event{RunID: "run-001", NodeID: "chatbot", Msg: msg})
		}

		history := emitter.GetHistory("run-001")
		if len(history) != 3 {
			t.Fatalf("expected 3 events, got %d", len(history))
		}
		if history[2].Msg != "routing" {
			t.Errorf("history[2].Msg = %q", history[2].Msg)
		}
	})

	t.Run("isolates runs", func(t *testing.T) {
		emitter := NewBufferedEmitter()
		emitter.Emit(Event{RunID: "a", Msg: "x"})
		emitter.Emit(Event{RunID: "b", Msg: "y"})
		emitter.Emit(Event{RunID: "a", Msg: "z"})

		if got := len(emitter.GetHistory("a")); got != 2 {
			t.Errorf("run a: %d events", got)
		}
		if runs := emitter.Runs(); len(runs) != 2 || runs[0] != "a" || runs[1] != "b" {
			t.Errorf("Runs() = %v", runs)
		}
	})

	t.Run("unknown run returns empty slice", func(t *testing.T) {
		history := NewBufferedEmitter().GetHistory("missing")
		if history == nil || len(history) != 0 {
			t.Errorf("expected empty non-nil slice, got %#v", history)
		}
	})
}

func TestBufferedEmitter_GetHistoryWithFilter(t *testing.T) {
	emitter := NewBufferedEmitter()
	emitter.Emit(Event{RunID: "r", Step: 1, NodeID: "chatbot", Msg: "node_end"})
	emitter.Emit(Event{RunID: "r", Step: 2, NodeID: "tool_node", Msg: "node_end"})
	emitter.Emit(Event{RunID: "r", Step: 2, NodeID: "tool_node", Msg: "node_error"})
	emitter.Emit(Event{RunID: "r", Step: 3, NodeID: "chatbot", Msg: "node_end"})

	two, three := 2, 3
	tests := []struct {
		name   string
		filter HistoryFilter
		want   int
	}{
		{"no filter", HistoryFilter{}, 4},
		{"by node", HistoryFilter{NodeID: "chatbot"}, 2},
		{"by msg", HistoryFilter{Msg: "node_error"}, 1},
		{"node and msg", HistoryFilter{NodeID: "tool_node", Msg: "node_end"}, 1},
		{"min step", HistoryFilter{MinStep: &two}, 3},
		{"step range", HistoryFilter{MinStep: &two, MaxStep: &two}, 2},
		{"max step", HistoryFilter{MaxStep: &three, Msg: "node_end"}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(emitter.GetHistoryWithFilter("r", tt.filter)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestBufferedEmitter_Clear(t *testing.T) {
	emitter := NewBufferedEmitter()
	emitter.Emit(Event{RunID: "a"})
	emitter.Emit(Event{RunID: "b"})

	emitter.Clear("a")
	if len(emitter.GetHistory("a")) != 0 || len(emitter.GetHistory("b")) != 1 {
		t.Error("Clear(a) should only drop run a")
	}

	emitter.Clear("")
	if len(emitter.Runs()) != 0 {
		t.Error("Clear(\"\") should drop every run")
	}
}

func TestBufferedEmitter_ThreadSafety(t *testing.T) {
	emitter := NewBufferedEmitter()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				emitter.Emit(Event{RunID: "r", NodeID: fmt.Sprintf("n%d", id), Step: j})
			}
		}(i)
	}
	wg.Wait()

	if got := len(emitter.GetHistory("r")); got != 1000 {
		t.Errorf("expected 1000 events, got %d", got)
	}
}
