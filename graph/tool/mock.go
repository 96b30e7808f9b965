package tool

import (
	"context"
	"sync"
)

// MockTool is a scripted Tool for tests.
//
// Each call returns the next entry of Responses; once they run out the last
// one repeats. If Err is set every call fails with it. Calls records the
// arguments received.
//
//	mock := &tool.MockTool{ToolName: "get_faq", Responses: []string{"30-serving"}}
type MockTool struct {
	ToolName    string
	Desc        string
	InputSchema map[string]interface{}
	Responses   []string
	Err         error
	Calls       []MockToolCall

	mu        sync.Mutex
	callIndex int
}

// MockToolCall records one Call invocation.
type MockToolCall struct {
	Input map[string]interface{}
}

func (m *MockTool) Name() string                   { return m.ToolName }
func (m *MockTool) Description() string            { return m.Desc }
func (m *MockTool) Schema() map[string]interface{} { return m.InputSchema }

// Call implements Tool.
func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockToolCall{Input: input})
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// CallCount returns how many times Call ran.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears the call history and rewinds Responses.
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}
