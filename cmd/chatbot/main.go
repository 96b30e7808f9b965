// Command chatbot is an interactive BoostNutri+ support assistant. Each line
// typed is one turn of a tool-calling agent whose conversation is kept in a
// checkpoint store under the configured session.
//
// Configuration comes from the environment or a .env file:
//
//	GITHUB_TOKEN=...            # default provider: GitHub Models, openai/gpt-4o
//	STATEGRAPH_PROVIDER=openai  # openai | anthropic | google
//	STATEGRAPH_STORE=memory     # memory | sqlite | mysql | postgres
//	STATEGRAPH_STORE_DSN=...    # path or DSN for SQL stores
//
// Type "exit" or "quit" to leave.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/stategraph/internal/config"
	"github.com/dshills/stategraph/internal/provider"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chat, err := provider.New(cfg)
	if err != nil {
		logger.Error("create chat model", "provider", cfg.Provider, "error", err)
		os.Exit(1)
	}

	a, err := newApp(ctx, cfg, chat, logger)
	if err != nil {
		logger.Error("start chatbot", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	fmt.Println(a.agent.Render())
	if err := a.Loop(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Error("chat loop", "error", err)
		os.Exit(1)
	}
}
