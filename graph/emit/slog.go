package emit

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// SlogEmitter forwards events to a structured logger. Failures and
// conflicts log at Error, run boundaries and node completion at Info, and
// the remaining chatter at Debug.
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter wraps logger, or slog.Default() if nil.
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

// Emit implements Emitter.
func (s *SlogEmitter) Emit(event Event) {
	level := levelFor(event)
	ctx := context.Background()
	if !s.logger.Enabled(ctx, level) {
		return
	}

	attrs := []slog.Attr{
		slog.String("run_id", event.RunID),
		slog.Int("step", event.Step),
	}
	if event.NodeID != "" {
		attrs = append(attrs, slog.String("node_id", event.NodeID))
	}

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if d, ok := event.Meta[k].(time.Duration); ok {
			attrs = append(attrs, slog.Int64(k, d.Milliseconds()))
			continue
		}
		attrs = append(attrs, slog.Any(k, event.Meta[k]))
	}

	s.logger.LogAttrs(ctx, level, event.Msg, attrs...)
}

func levelFor(event Event) slog.Level {
	switch event.Msg {
	case "node_error", "run_error", "conflict":
		return slog.LevelError
	case "node_retry":
		return slog.LevelWarn
	case "run_start", "run_end", "node_end", "checkpoint_save":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
