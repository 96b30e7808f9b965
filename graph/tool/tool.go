// Package tool defines tools a model can call and the Registry that
// validates and dispatches those calls.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dshills/stategraph/graph/model"
)

// Tool is an executable capability offered to a model.
//
// Implementations receive arguments that have already been decoded and
// validated against Schema by the Registry, and return the text handed back
// to the model. Call must respect ctx.
//
// Example:
//
//	type clock struct{}
//
//	func (clock) Name() string        { return "now" }
//	func (clock) Description() string { return "Current UTC time" }
//	func (clock) Schema() map[string]interface{} {
//	    return map[string]interface{}{"type": "object"}
//	}
//	func (clock) Call(ctx context.Context, _ map[string]interface{}) (string, error) {
//	    return time.Now().UTC().Format(time.RFC3339), nil
//	}
type Tool interface {
	// Name is the identifier the model uses in tool calls.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema is a JSON Schema object describing the arguments. A nil
	// schema accepts any object.
	Schema() map[string]interface{}

	// Call runs the tool.
	Call(ctx context.Context, input map[string]interface{}) (string, error)
}

// Spec describes t for a model.
func Spec(t Tool) model.ToolSpec {
	return model.ToolSpec{
		Name:        t.Name(),
		Description: t.Description(),
		Schema:      t.Schema(),
	}
}

// FuncTool adapts a function to Tool.
type FuncTool struct {
	ToolName    string
	Desc        string
	InputSchema map[string]interface{}
	Fn          func(ctx context.Context, input map[string]interface{}) (string, error)
}

// NewFuncTool builds a FuncTool.
func NewFuncTool(name, description string, schema map[string]interface{}, fn func(context.Context, map[string]interface{}) (string, error)) *FuncTool {
	return &FuncTool{ToolName: name, Desc: description, InputSchema: schema, Fn: fn}
}

func (f *FuncTool) Name() string                   { return f.ToolName }
func (f *FuncTool) Description() string            { return f.Desc }
func (f *FuncTool) Schema() map[string]interface{} { return f.InputSchema }

// Call implements Tool.
func (f *FuncTool) Call(ctx context.Context, input map[string]interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.Fn(ctx, input)
}

// Typed builds a Tool whose arguments are decoded into I before fn runs.
// A decode failure is reported as a ToolArgumentError.
func Typed[I any](name, description string, schema map[string]interface{}, fn func(context.Context, I) (string, error)) Tool {
	return NewFuncTool(name, description, schema, func(ctx context.Context, input map[string]interface{}) (string, error) {
		raw, err := json.Marshal(input)
		if err != nil {
			return "", &ToolArgumentError{Tool: name, Message: "arguments are not serializable", Err: err}
		}
		var args I
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", &ToolArgumentError{Tool: name, Message: fmt.Sprintf("arguments do not match %T", args), Err: err}
		}
		return fn(ctx, args)
	})
}
