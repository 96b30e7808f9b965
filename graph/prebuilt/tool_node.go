package prebuilt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dshills/stategraph/graph"
	"github.com/dshills/stategraph/graph/model"
	"github.com/dshills/stategraph/graph/tool"
)

// Dispatcher executes one tool call. *tool.Registry implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// ToolNode runs the pending tool calls of the last AI message and appends
// one tool message per call, in call order.
//
// Unknown tools and bad arguments become error-flagged tool messages so the
// model can recover; any other dispatch error fails the node.
type ToolNode struct {
	dispatcher    Dispatcher
	field         string
	maxIterations int
}

// ToolNodeOption configures a ToolNode.
type ToolNodeOption func(*ToolNode)

// WithMaxIterations caps consecutive tool rounds since the last human
// message. Zero means no cap.
func WithMaxIterations(n int) ToolNodeOption {
	return func(t *ToolNode) { t.maxIterations = n }
}

// WithToolMessagesField sets the conversation field. The default is
// DefaultMessagesField.
func WithToolMessagesField(field string) ToolNodeOption {
	return func(t *ToolNode) { t.field = field }
}

// NewToolNode creates a ToolNode over d.
func NewToolNode(d Dispatcher, opts ...ToolNodeOption) *ToolNode {
	t := &ToolNode{dispatcher: d, field: DefaultMessagesField}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run implements graph.Handler.
func (t *ToolNode) Run(ctx context.Context, state graph.State) (graph.State, error) {
	msgs := Messages(state, t.field)
	last, ok := model.Last(msgs)
	if !ok {
		return graph.State{}, nil
	}
	calls := last.PendingToolCalls()
	if len(calls) == 0 {
		return graph.State{}, nil
	}

	if t.maxIterations > 0 {
		if rounds := toolRounds(msgs); rounds > t.maxIterations {
			return nil, &ToolLoopExceededError{Rounds: rounds, Max: t.maxIterations}
		}
	}

	results := make([]model.Message, 0, len(calls))
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := t.dispatcher.Dispatch(ctx, call.Name, call.Arguments)
		if err != nil {
			if !recoverable(err) {
				return nil, fmt.Errorf("tool %s: %w", call.Name, err)
			}
			results = append(results, model.ToolResult(call, err.Error(), true))
			continue
		}
		results = append(results, model.ToolResult(call, out, false))
	}
	return graph.State{t.field: results}, nil
}

// recoverable reports errors the model can act on.
func recoverable(err error) bool {
	var unknown *tool.UnknownToolError
	var badArgs *tool.ToolArgumentError
	return errors.As(err, &unknown) || errors.As(err, &badArgs)
}
