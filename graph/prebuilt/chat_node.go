package prebuilt

import (
	"context"

	"github.com/dshills/stategraph/graph"
	"github.com/dshills/stategraph/graph/model"
)

// ChatNode asks a model for the next message of the conversation and
// appends its reply. The model is injected; there is no default client.
type ChatNode struct {
	model        model.ChatModel
	tools        []model.ToolSpec
	systemPrompt string
	field        string
}

// ChatNodeOption configures a ChatNode.
type ChatNodeOption func(*ChatNode)

// WithSystemPrompt prefixes every request with a system message. The
// prompt is not stored in state.
func WithSystemPrompt(prompt string) ChatNodeOption {
	return func(c *ChatNode) { c.systemPrompt = prompt }
}

// WithChatMessagesField sets the conversation field. The default is
// DefaultMessagesField.
func WithChatMessagesField(field string) ChatNodeOption {
	return func(c *ChatNode) { c.field = field }
}

// NewChatNode creates a ChatNode offering tools to m.
func NewChatNode(m model.ChatModel, tools []model.ToolSpec, opts ...ChatNodeOption) *ChatNode {
	c := &ChatNode{model: m, tools: tools, field: DefaultMessagesField}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run implements graph.Handler.
func (c *ChatNode) Run(ctx context.Context, state graph.State) (graph.State, error) {
	history := Messages(state, c.field)
	prompt := history
	if c.systemPrompt != "" {
		prompt = make([]model.Message, 0, len(history)+1)
		prompt = append(prompt, model.System(c.systemPrompt))
		prompt = append(prompt, history...)
	}

	out, err := c.model.Chat(ctx, prompt, c.tools)
	if err != nil {
		return nil, err
	}
	return graph.State{c.field: out.Message()}, nil
}
