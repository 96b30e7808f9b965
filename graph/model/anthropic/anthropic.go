// Package anthropic adapts Anthropic's Messages API to model.ChatModel.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/stategraph/graph/model"
)

const defaultMaxTokens = 4096

// ChatModel implements model.ChatModel for Anthropic's Claude models.
//
// System messages are lifted into the request's system parameter, and tool
// results are sent as tool_result blocks in a user turn, which is how the
// Messages API expects them.
//
// Example:
//
//	m := anthropic.NewChatModel(os.Getenv("ANTHROPIC_API_KEY"), "claude-sonnet-4-5-20250929")
//	out, err := m.Chat(ctx, []model.Message{model.Human("hi")}, nil)
type ChatModel struct {
	modelName string
	maxTokens int64
	client    anthropicClient
}

// anthropicClient is the slice of the SDK the adapter uses.
type anthropicClient interface {
	createMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// NewChatModel creates a ChatModel. An empty modelName uses Claude Sonnet.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ChatModel{
		modelName: modelName,
		maxTokens: defaultMaxTokens,
		client:    &defaultClient{apiKey: apiKey, client: &client},
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	systemPrompt, conversation := extractSystemPrompt(messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: m.maxTokens,
		Messages:  convertMessages(conversation),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	msg, err := m.client.createMessage(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return model.ChatOut{}, fmt.Errorf("anthropic API error (status %d): %w", apiErr.StatusCode, err)
		}
		return model.ChatOut{}, err
	}
	return convertResponse(msg), nil
}

// extractSystemPrompt separates system messages from the conversation.
// Several system messages are joined with a blank line.
func extractSystemPrompt(messages []model.Message) (string, []model.Message) {
	var systemPrompt string
	var conversation []model.Message

	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
			continue
		}
		conversation = append(conversation, msg)
	}
	return systemPrompt, conversation
}

// convertMessages maps the conversation onto user and assistant turns.
// Consecutive tool results share one user turn.
func convertMessages(messages []model.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	lastWasTool := false

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleHuman:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			lastWasTool = false
		case model.RoleAI:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, toolInput(call.Arguments), call.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
			lastWasTool = false
		case model.RoleTool:
			block := anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError)
			if lastWasTool {
				last := &out[len(out)-1]
				last.Content = append(last.Content, block)
				continue
			}
			out = append(out, anthropic.NewUserMessage(block))
			lastWasTool = true
		}
	}
	return out
}

// toolInput returns arguments as-is when they are valid JSON. The API
// rejects malformed input, so anything else is sent as an empty object.
func toolInput(args json.RawMessage) any {
	if len(args) == 0 || !json.Valid(args) {
		return map[string]any{}
	}
	return args
}

func convertTools(tools []model.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := t.Schema["properties"]; ok {
			schema.Properties = props
		}
		switch req := t.Schema["required"].(type) {
		case []string:
			schema.Required = req
		case []interface{}:
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}

		tool := &anthropic.ToolParam{Name: t.Name, InputSchema: schema}
		if t.Description != "" {
			tool.Description = anthropic.String(t.Description)
		}
		out[i] = anthropic.ToolUnionParam{OfTool: tool}
	}
	return out
}

func convertResponse(msg *anthropic.Message) model.ChatOut {
	out := model.ChatOut{
		ToolCalls: []model.ToolCall{},
		Usage: model.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	return out
}

// defaultClient wraps the official anthropic-sdk-go client.
type defaultClient struct {
	apiKey string
	client *anthropic.Client
}

func (c *defaultClient) createMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	if c.apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}
	return c.client.Messages.New(ctx, params)
}
