package tool

import "fmt"

// UnknownToolError reports a call to a tool that is not registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// ToolArgumentError reports arguments that could not be parsed, failed
// schema validation, or were rejected by the tool itself. Message is meant
// to be shown to the model so it can correct the call.
type ToolArgumentError struct {
	Tool       string
	Message    string
	Violations []string
	Err        error
}

func (e *ToolArgumentError) Error() string {
	if e.Tool == "" {
		return e.Message
	}
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
}

func (e *ToolArgumentError) Unwrap() error { return e.Err }
