// Package graph provides the core graph execution engine for stategraph.
package graph

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
)

// State is the shared value flowing through a graph: field name to value.
//
// Handlers receive a copy of the accumulated state and return only the
// fields they changed. The executor merges that partial update back in
// using each field's declared MergePolicy.
type State map[string]any

// Clone returns a shallow copy of s. Slices held by append fields are never
// mutated in place by the engine, so sharing them between copies is safe as
// long as handlers treat them as read-only.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	return maps.Clone(s)
}

// Keys returns the field names present in s, sorted.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value of field name as a T.
// The second result is false when the field is absent or holds another type.
func Get[T any](s State, name string) (T, bool) {
	var zero T
	raw, ok := s[name]
	if !ok || raw == nil {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// MergePolicy names how a partial update combines with an existing value.
type MergePolicy string

const (
	// PolicyReplace overwrites the existing value. Undeclared fields use it.
	PolicyReplace MergePolicy = "replace"

	// PolicyAppend concatenates new items onto the existing sequence.
	PolicyAppend MergePolicy = "append"

	// PolicyReduce combines old and new values with a user function.
	PolicyReduce MergePolicy = "reduce"
)

// Field declares one state field together with its merge policy.
//
// Fields are created with Replace, Append or Reduce. Besides merging, a
// field knows how to decode its JSON form back into the concrete Go type,
// which is what lets a checkpointed state come back typed.
type Field interface {
	Name() string
	Policy() MergePolicy

	merge(current any, present bool, update any) (any, error)
	decode(raw json.RawMessage) (any, error)
	written(before any, present bool, after any) any
}

// Replace declares a field whose updates overwrite the previous value.
func Replace[T any](name string) Field {
	return replaceField[T]{name: name}
}

// Append declares a sequence field. An update may be a single T or a []T;
// either way the items are appended in order to a freshly allocated slice.
func Append[T any](name string) Field {
	return appendField[T]{name: name}
}

// Reduce declares a field combined with fn(current, update). When the field
// is absent the update is stored as-is. fn should be associative if the
// field is written by concurrent branches.
func Reduce[T any](name string, fn func(current, update T) T) Field {
	return reduceField[T]{name: name, fn: fn}
}

type replaceField[T any] struct {
	name string
}

func (f replaceField[T]) Name() string        { return f.name }
func (f replaceField[T]) Policy() MergePolicy { return PolicyReplace }

func (f replaceField[T]) merge(_ any, _ bool, update any) (any, error) {
	if update == nil {
		return nil, nil
	}
	if _, ok := update.(T); !ok {
		return nil, typeMismatch(f.name, update, *new(T))
	}
	return update, nil
}

func (f replaceField[T]) decode(raw json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (f replaceField[T]) written(_ any, _ bool, after any) any { return after }

type appendField[T any] struct {
	name string
}

func (f appendField[T]) Name() string        { return f.name }
func (f appendField[T]) Policy() MergePolicy { return PolicyAppend }

func (f appendField[T]) merge(current any, present bool, update any) (any, error) {
	var base []T
	if present && current != nil {
		cur, ok := current.([]T)
		if !ok {
			return nil, typeMismatch(f.name, current, base)
		}
		base = cur
	}

	var items []T
	switch u := update.(type) {
	case nil:
		return slices.Clone(base), nil
	case T:
		items = []T{u}
	case []T:
		items = u
	default:
		return nil, typeMismatch(f.name, update, base)
	}

	out := make([]T, 0, len(base)+len(items))
	out = append(out, base...)
	out = append(out, items...)
	return out, nil
}

func (f appendField[T]) decode(raw json.RawMessage) (any, error) {
	var v []T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// written returns only the items appended since before.
func (f appendField[T]) written(before any, present bool, after any) any {
	a, _ := after.([]T)
	if !present {
		return a
	}
	b, _ := before.([]T)
	if len(b) >= len(a) {
		return []T{}
	}
	return slices.Clone(a[len(b):])
}

type reduceField[T any] struct {
	name string
	fn   func(current, update T) T
}

func (f reduceField[T]) Name() string        { return f.name }
func (f reduceField[T]) Policy() MergePolicy { return PolicyReduce }

func (f reduceField[T]) merge(current any, present bool, update any) (any, error) {
	upd, ok := update.(T)
	if !ok {
		return nil, typeMismatch(f.name, update, *new(T))
	}
	if !present || current == nil {
		return upd, nil
	}
	cur, ok := current.(T)
	if !ok {
		return nil, typeMismatch(f.name, current, *new(T))
	}
	return f.fn(cur, upd), nil
}

func (f reduceField[T]) decode(raw json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (f reduceField[T]) written(_ any, _ bool, after any) any { return after }

// foldedWrites carries a subgraph's raw updates to a reduce field. The
// nested run already folded them onto the parent's value, so the parent
// replays the updates rather than folding the nested result a second time.
// final is used when the parent does not declare the field as reduce.
type foldedWrites struct {
	steps []any
	final any
}

// untypedField backs fields that were never declared: replace semantics and
// generic JSON decoding.
type untypedField struct {
	name string
}

func (f untypedField) Name() string        { return f.name }
func (f untypedField) Policy() MergePolicy { return PolicyReplace }

func (f untypedField) merge(_ any, _ bool, update any) (any, error) { return update, nil }

func (f untypedField) decode(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (f untypedField) written(_ any, _ bool, after any) any { return after }

func typeMismatch(field string, got, want any) error {
	return &MergeError{
		Field:   field,
		Message: fmt.Sprintf("expected %T, got %T", want, got),
	}
}

// Schema is the resolved set of field declarations for one graph.
type Schema struct {
	fields map[string]Field
	order  []string
}

// NewSchema builds a schema from field declarations.
// Declaring the same name twice is an error.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{fields: make(map[string]Field, len(fields))}
	for _, f := range fields {
		if f == nil || f.Name() == "" {
			return nil, &EngineError{Message: "field declaration requires a name", Code: "CONFIG_ERROR"}
		}
		if _, dup := s.fields[f.Name()]; dup {
			return nil, &EngineError{
				Message: fmt.Sprintf("field %q declared more than once", f.Name()),
				Code:    "CONFIG_ERROR",
			}
		}
		s.fields[f.Name()] = f
		s.order = append(s.order, f.Name())
	}
	return s, nil
}

// Field returns the declaration for name, falling back to replace semantics
// for undeclared fields.
func (s *Schema) Field(name string) Field {
	if f, ok := s.fields[name]; ok {
		return f
	}
	return untypedField{name: name}
}

// Declared reports whether name has an explicit declaration.
func (s *Schema) Declared(name string) bool {
	_, ok := s.fields[name]
	return ok
}

// Names returns the declared field names in declaration order.
func (s *Schema) Names() []string {
	return slices.Clone(s.order)
}

// Policy returns the merge policy for name.
func (s *Schema) Policy(name string) MergePolicy {
	return s.Field(name).Policy()
}

// Merge applies update onto state and returns the result. Neither input is
// modified.
func (s *Schema) Merge(state, update State) (State, error) {
	out := state.Clone()
	for _, name := range update.Keys() {
		f := s.Field(name)
		cur, present := out[name]

		fw, folded := update[name].(foldedWrites)
		if !folded {
			merged, err := f.merge(cur, present, update[name])
			if err != nil {
				return nil, err
			}
			out[name] = merged
			continue
		}
		if f.Policy() != PolicyReduce {
			merged, err := f.merge(cur, present, fw.final)
			if err != nil {
				return nil, err
			}
			out[name] = merged
			continue
		}
		for _, step := range fw.steps {
			merged, err := f.merge(cur, present, step)
			if err != nil {
				return nil, err
			}
			cur, present = merged, true
		}
		if present {
			out[name] = cur
		}
	}
	return out, nil
}

// Encode converts a state into its per-field JSON form.
//
// Undeclared fields decode as generic JSON, so they may only hold values
// that come back unchanged: nil, string, bool, float64, []any and
// map[string]any. Anything else fails with ErrUndeclaredField.
func (s *Schema) Encode(state State) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(state))
	for name, v := range state {
		if !s.Declared(name) && !jsonNative(v) {
			return nil, fmt.Errorf("encode field %q holding %T: %w", name, v, ErrUndeclaredField)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", name, err)
		}
		out[name] = raw
	}
	return out, nil
}

// Decode rebuilds a typed state from its per-field JSON form.
func (s *Schema) Decode(raw map[string]json.RawMessage) (State, error) {
	out := make(State, len(raw))
	for name, r := range raw {
		v, err := s.Field(name).decode(r)
		if err != nil {
			return nil, fmt.Errorf("decode field %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// jsonNative reports whether v is one of the types json.Unmarshal produces
// for an interface{} target.
func jsonNative(v any) bool {
	switch v := v.(type) {
	case nil, string, bool, float64:
		return true
	case []any:
		for _, item := range v {
			if !jsonNative(item) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, item := range v {
			if !jsonNative(item) {
				return false
			}
		}
		return true
	}
	return false
}

// restrict returns the subset of state whose keys are declared in s.
func (s *Schema) restrict(state State) State {
	out := make(State, len(s.order))
	for _, name := range s.order {
		if v, ok := state[name]; ok {
			out[name] = v
		}
	}
	return out
}
