// Package config loads chatbot settings from the environment, with an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	// GitHubModelsURL is the OpenAI-compatible endpoint used by default.
	GitHubModelsURL = "https://models.github.ai/inference/"

	defaultOpenAIModel    = "openai/gpt-4o"
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultGoogleModel    = "gemini-2.5-flash"
)

// Config holds everything cmd/chatbot needs.
type Config struct {
	Provider      string `json:"provider" validate:"oneof=openai anthropic google"`
	Model         string `json:"model" validate:"required"`
	BaseURL       string `json:"base_url" validate:"omitempty,url"`
	APIKey        string `json:"api_key" validate:"required"`
	Store         string `json:"store" validate:"oneof=memory sqlite mysql postgres"`
	StoreDSN      string `json:"store_dsn" validate:"required_unless=Store memory"`
	Compress      bool   `json:"compress"`
	Session       string `json:"session" validate:"required,max=255"`
	LogLevel      string `json:"log_level" validate:"oneof=debug info warn error"`
	MaxToolRounds int    `json:"max_tool_rounds" validate:"gte=0,lte=100"`
	MetricsAddr   string `json:"metrics_addr" validate:"omitempty,hostname_port"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := FromEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a Config from getenv without validating it.
//
// The provider decides which key and defaults apply:
//   - openai: GITHUB_TOKEN, falling back to OPENAI_API_KEY; base URL
//     defaults to GitHub Models when the GitHub token is used.
//   - anthropic: ANTHROPIC_API_KEY.
//   - google: GOOGLE_API_KEY.
func FromEnv(getenv func(string) string) *Config {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Provider: strings.ToLower(get("STATEGRAPH_PROVIDER", "openai")),
		Model:    get("STATEGRAPH_MODEL", ""),
		BaseURL:  get("STATEGRAPH_BASE_URL", ""),
		Store:    strings.ToLower(get("STATEGRAPH_STORE", "memory")),
		StoreDSN: get("STATEGRAPH_STORE_DSN", ""),
		Session:  get("STATEGRAPH_SESSION", "1"),
		LogLevel: strings.ToLower(get("STATEGRAPH_LOG_LEVEL", "info")),

		MetricsAddr: get("STATEGRAPH_METRICS_ADDR", ""),
	}
	cfg.Compress, _ = strconv.ParseBool(get("STATEGRAPH_COMPRESS", "false"))
	if n, err := strconv.Atoi(get("STATEGRAPH_MAX_TOOL_ROUNDS", "5")); err == nil {
		cfg.MaxToolRounds = n
	} else {
		cfg.MaxToolRounds = -1
	}

	switch cfg.Provider {
	case "openai":
		if token := get("GITHUB_TOKEN", ""); token != "" {
			cfg.APIKey = token
			if cfg.BaseURL == "" {
				cfg.BaseURL = GitHubModelsURL
			}
			if cfg.Model == "" {
				cfg.Model = defaultOpenAIModel
			}
		} else {
			cfg.APIKey = get("OPENAI_API_KEY", "")
		}
		if cfg.Model == "" {
			cfg.Model = "gpt-4o"
		}
	case "anthropic":
		cfg.APIKey = get("ANTHROPIC_API_KEY", "")
		if cfg.Model == "" {
			cfg.Model = defaultAnthropicModel
		}
	case "google":
		cfg.APIKey = get("GOOGLE_API_KEY", "")
		if cfg.Model == "" {
			cfg.Model = defaultGoogleModel
		}
	}
	return cfg
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// FieldError is one invalid setting.
type FieldError struct {
	Field   string
	Message string
}

// ValidationErrors lists every invalid setting.
type ValidationErrors []FieldError

func (ve ValidationErrors) Error() string {
	parts := make([]string, len(ve))
	for i, fe := range ve {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return strings.Join(parts, "; ")
}

// Validate checks the configuration and reports field-level problems as
// ValidationErrors.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, FieldError{Field: fe.Field(), Message: message(fe)})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_unless":
		return "is required unless store is memory"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fe.Value())
	case "url":
		return "must be a valid URL"
	case "hostname_port":
		return "must be host:port"
	case "gte", "lte", "max":
		return fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// SlogLevel maps LogLevel onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
