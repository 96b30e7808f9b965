// Package provider turns a config.Config into a model.ChatModel.
package provider

import (
	"fmt"

	"github.com/dshills/stategraph/graph/model"
	"github.com/dshills/stategraph/graph/model/anthropic"
	"github.com/dshills/stategraph/graph/model/google"
	"github.com/dshills/stategraph/graph/model/openai"
	"github.com/dshills/stategraph/internal/config"
)

// New picks the adapter named by cfg.Provider.
func New(cfg *config.Config) (model.ChatModel, error) {
	switch cfg.Provider {
	case "openai":
		var opts []openai.Option
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.NewChatModel(cfg.APIKey, cfg.Model, opts...), nil
	case "anthropic":
		return anthropic.NewChatModel(cfg.APIKey, cfg.Model), nil
	case "google":
		return google.NewChatModel(cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}
