// Package openai adapts the OpenAI chat completions API, and any endpoint
// compatible with it, to model.ChatModel.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/stategraph/graph/model"
)

// ChatModel implements model.ChatModel for OpenAI's API.
//
// Transient failures (rate limits, 5xx, network errors) are retried with a
// linear backoff. Tool specs are sent as function tools and tool calls in
// the reply are returned with their raw argument JSON.
//
// Example:
//
//	m := openai.NewChatModel(os.Getenv("GITHUB_TOKEN"), "openai/gpt-4o",
//	    openai.WithBaseURL("https://models.github.ai/inference/"))
//	out, err := m.Chat(ctx, []model.Message{model.Human("hi")}, nil)
type ChatModel struct {
	modelName  string
	client     openaiClient
	maxRetries int
	retryDelay time.Duration
}

// openaiClient is the slice of the SDK the adapter uses, so tests can
// substitute a fake.
type openaiClient interface {
	createChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// Option configures a ChatModel.
type Option func(*settings)

type settings struct {
	baseURL    string
	maxRetries int
	retryDelay time.Duration
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithRetry sets how many times transient failures are retried and the
// base delay between attempts.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(s *settings) {
		s.maxRetries = maxRetries
		s.retryDelay = delay
	}
}

// NewChatModel creates a ChatModel. An empty modelName uses gpt-4o.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = "gpt-4o"
	}
	s := settings{maxRetries: 3, retryDelay: time.Second}
	for _, opt := range opts {
		opt(&s)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are handled here so they respect the node's context.
		option.WithMaxRetries(0),
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	client := openai.NewClient(reqOpts...)

	return &ChatModel{
		modelName:  modelName,
		client:     &defaultClient{apiKey: apiKey, client: &client},
		maxRetries: s.maxRetries,
		retryDelay: s.retryDelay,
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.modelName),
		Messages: convertMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		completion, err := m.client.createChatCompletion(ctx, params)
		if err == nil {
			return convertResponse(completion)
		}
		lastErr = err

		if !isTransientError(err) {
			return model.ChatOut{}, err
		}
		if attempt >= m.maxRetries {
			break
		}

		delay := m.retryDelay
		if isRateLimitError(err) {
			delay = m.retryDelay * time.Duration(attempt+1)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return model.ChatOut{}, ctx.Err()
		}
	}

	return model.ChatOut{}, fmt.Errorf("OpenAI API failed after %d retries: %w", m.maxRetries, lastErr)
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case model.RoleHuman:
			out = append(out, openai.UserMessage(msg.Content))
		case model.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case model.RoleAI:
			ai := &openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				ai.Content.OfString = openai.String(msg.Content)
			}
			for _, call := range msg.ToolCalls {
				args := string(call.Arguments)
				if args == "" {
					args = "{}"
				}
				ai.ToolCalls = append(ai.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: args,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: ai})
		}
	}
	return out
}

func convertTools(tools []model.ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		fn := shared.FunctionDefinitionParam{
			Name:       t.Name,
			Parameters: shared.FunctionParameters(t.Schema),
		}
		if t.Description != "" {
			fn.Description = openai.String(t.Description)
		}
		out[i] = openai.ChatCompletionToolParam{Function: fn}
	}
	return out
}

func convertResponse(c *openai.ChatCompletion) (model.ChatOut, error) {
	if c == nil || len(c.Choices) == 0 {
		return model.ChatOut{}, errors.New("OpenAI response has no choices")
	}
	msg := c.Choices[0].Message
	out := model.ChatOut{
		Text:      msg.Content,
		ToolCalls: make([]model.ToolCall, 0, len(msg.ToolCalls)),
		Usage: model.Usage{
			InputTokens:  int(c.Usage.PromptTokens),
			OutputTokens: int(c.Usage.CompletionTokens),
		},
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: []byte(tc.Function.Arguments),
		})
	}
	return out, nil
}

// isTransientError reports whether err is worth retrying.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	msgLower := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "network", "connection", "temporary"} {
		if strings.Contains(msgLower, pattern) {
			return true
		}
	}
	return false
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}

// defaultClient wraps the official openai-go client.
type defaultClient struct {
	apiKey string
	client *openai.Client
}

func (c *defaultClient) createChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	if c.apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	return c.client.Chat.Completions.New(ctx, params)
}
