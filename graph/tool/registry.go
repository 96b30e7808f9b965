package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonrepair"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dshills/stategraph/graph/model"
)

// Registry holds the tools available to a graph and dispatches model tool
// calls to them. It is safe for concurrent use.
//
// Dispatch goes through three stages:
//  1. Lookup. An unregistered name is an UnknownToolError.
//  2. Argument decoding. Malformed JSON is repaired when possible; JSON that
//     cannot be repaired, or that is not an object, is a ToolArgumentError.
//  3. Validation against the tool's compiled schema. Violations are a
//     ToolArgumentError listing each failing location.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	order   []string
}

// NewRegistry registers tools in order.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t. Names must be unique and schemas must compile.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}

	var compiled *jsonschema.Schema
	if s := t.Schema(); s != nil {
		var err error
		compiled, err = compileSchema(name, s)
		if err != nil {
			return fmt.Errorf("tool %s: %w", name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	r.schemas[name] = compiled
	r.order = append(r.order, name)
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Specs describes every registered tool, in registration order.
func (r *Registry) Specs() []model.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, Spec(r.tools[name]))
	}
	return out
}

// Dispatch runs the named tool with the model-supplied arguments.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	compiled := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return "", &UnknownToolError{Name: name}
	}

	doc, err := decodeArguments(args)
	if err != nil {
		return "", &ToolArgumentError{Tool: name, Message: "arguments are not valid JSON", Err: err}
	}
	input, isObject := doc.(map[string]any)
	if !isObject {
		return "", &ToolArgumentError{Tool: name, Message: "arguments must be a JSON object"}
	}

	if compiled != nil {
		if err := compiled.Validate(doc); err != nil {
			return "", validationError(name, err)
		}
	}

	return t.Call(ctx, normalize(input).(map[string]any))
}

// decodeArguments parses raw model output. Empty arguments mean an empty
// object. Broken JSON gets one repair attempt.
func decodeArguments(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(trimmed))
	if err == nil {
		return doc, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(string(trimmed))
	if repairErr != nil {
		return nil, fmt.Errorf("%w (repair failed: %v)", err, repairErr)
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(repaired))
}

// normalize converts the json.Number values produced for schema validation
// into float64 or int64, which is what tools expect from decoded JSON.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, item := range x {
			x[k] = normalize(item)
		}
		return x
	case []any:
		for i, item := range x {
			x[i] = normalize(item)
		}
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	default:
		return v
	}
}

func compileSchema(name string, schema map[string]interface{}) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	url := "stategraph://tools/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

func validationError(name string, err error) *ToolArgumentError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &ToolArgumentError{Tool: name, Message: err.Error(), Err: err}
	}
	violations := collectViolations(verr)
	msg := "arguments do not match schema"
	if len(violations) > 0 {
		msg = strings.Join(violations, "; ")
	}
	return &ToolArgumentError{Tool: name, Message: msg, Violations: violations, Err: err}
}

// collectViolations flattens a ValidationError tree into its leaf
// messages, each of the form "at '/path': reason".
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		return []string{strings.TrimSpace(verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
