package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/stategraph/graph"
	"github.com/dshills/stategraph/graph/emit"
	"github.com/dshills/stategraph/graph/model"
	"github.com/dshills/stategraph/graph/prebuilt"
	"github.com/dshills/stategraph/graph/store"
	"github.com/dshills/stategraph/graph/tool"
	"github.com/dshills/stategraph/internal/config"
	"github.com/dshills/stategraph/internal/faq"
)

// openStore builds the checkpoint store named by cfg.Store.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	var opts []store.Option
	if cfg.Compress {
		opts = append(opts, store.WithCodec(store.ZstdCodec()))
	}

	switch cfg.Store {
	case "memory":
		return store.NewMemStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(cfg.StoreDSN, opts...)
	case "mysql":
		return store.NewMySQLStore(cfg.StoreDSN, opts...)
	case "postgres":
		return store.OpenPostgresStore(ctx, cfg.StoreDSN, opts...)
	default:
		return nil, fmt.Errorf("unsupported store %q", cfg.Store)
	}
}

// app is one chatbot process: the compiled agent plus the resources it
// owns.
type app struct {
	agent   *graph.CompiledGraph
	store   store.Store
	session string
	logger  *slog.Logger
	metrics *http.Server
	usage   *model.UsageTracker
}

func newApp(ctx context.Context, cfg *config.Config, chat model.ChatModel, logger *slog.Logger) (*app, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store, err)
	}

	reg, err := tool.NewRegistry(faq.Tool(faq.Entries))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a := &app{store: st, session: cfg.Session, logger: logger, usage: model.NewUsageTracker(nil)}
	chat = model.Tracked(chat, cfg.Model, a.usage)

	opts := []graph.Option{
		graph.WithStore(st),
		graph.WithEmitter(emit.NewSlogEmitter(logger)),
	}
	if cfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		opts = append(opts, graph.WithMetrics(graph.NewPrometheusMetrics(registry)))
		a.serveMetrics(cfg.MetricsAddr, registry)
	}

	a.agent, err = prebuilt.NewToolAgent(chat, reg, prebuilt.AgentConfig{
		SystemPrompt:  faq.SystemPrompt,
		MaxToolRounds: cfg.MaxToolRounds,
	}, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	a.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server", "addr", addr, "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", addr)
}

// Turn sends one user message and returns the assistant's reply.
func (a *app) Turn(ctx context.Context, text string) (string, error) {
	out, err := a.agent.Invoke(ctx, graph.State{
		prebuilt.DefaultMessagesField: model.Human(text),
	}, graph.WithSession(a.session))
	if err != nil {
		return "", err
	}
	last, ok := model.Last(prebuilt.Messages(out, prebuilt.DefaultMessagesField))
	if !ok || last.Role != model.RoleAI {
		return "", errors.New("conversation did not end with an assistant message")
	}
	return last.Content, nil
}

// Loop reads user lines from in until EOF, "exit" or "quit". A failed turn
// is reported and the loop continues; the session keeps its last good
// checkpoint.
func (a *app) Loop(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "User: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(text) {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}

		reply, err := a.Turn(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Error("turn failed", "session", a.session, "error", err)
			fmt.Fprintln(out, "Assistant: sorry, something went wrong. Please try again.")
			continue
		}
		fmt.Fprintf(out, "Assistant: %s\n", reply)
	}
}

// Close releases the store and stops the metrics server.
func (a *app) Close() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.metrics.Shutdown(ctx)
	}
	if u, cost := a.usage.Totals(); u.InputTokens+u.OutputTokens > 0 {
		a.logger.Info("token usage", "input_tokens", u.InputTokens, "output_tokens", u.OutputTokens, "cost_usd", cost)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", "error", err)
	}
}
