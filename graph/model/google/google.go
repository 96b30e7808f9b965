// Package google provides a model.ChatModel adapter for the Gemini API.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/stategraph/graph/model"
)

// ChatModel implements model.ChatModel for Google's Gemini models.
//
// The conversation is replayed as a chat session: system messages become
// the system instruction, AI messages become "model" turns, and tool
// results are sent back as function responses. Gemini does not assign IDs
// to function calls, so the adapter derives them from the call position.
//
// Blocked prompts and safety-stopped candidates surface as
// *SafetyFilterError:
//
//	var safetyErr *google.SafetyFilterError
//	if errors.As(err, &safetyErr) {
//	    log.Printf("content blocked: %s", safetyErr.Category())
//	}
type ChatModel struct {
	modelName string
	client    googleClient
}

// request is a provider-shaped chat turn.
type request struct {
	system  *genai.Content
	history []*genai.Content
	parts   []genai.Part
	tools   []*genai.Tool
}

// googleClient is the slice of the SDK the adapter uses.
type googleClient interface {
	generateContent(ctx context.Context, modelName string, req request) (*genai.GenerateContentResponse, error)
}

// NewChatModel creates a ChatModel. An empty modelName uses gemini-2.5-flash.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	return &ChatModel{
		modelName: modelName,
		client:    &defaultClient{apiKey: apiKey},
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	req, err := buildRequest(messages)
	if err != nil {
		return model.ChatOut{}, err
	}
	if len(tools) > 0 {
		req.tools = convertTools(tools)
	}

	resp, err := m.client.generateContent(ctx, m.modelName, req)
	if err != nil {
		return model.ChatOut{}, err
	}
	return convertResponse(resp)
}

// buildRequest splits the conversation into prior history and the parts of
// the final turn.
func buildRequest(messages []model.Message) (request, error) {
	var req request
	var contents []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			if req.system == nil {
				req.system = &genai.Content{}
			}
			req.system.Parts = append(req.system.Parts, genai.Text(msg.Content))
		case model.RoleHuman:
			contents = appendTurn(contents, "user", genai.Text(msg.Content))
		case model.RoleAI:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, genai.FunctionCall{Name: call.Name, Args: decodeArgs(call.Arguments)})
			}
			contents = appendTurn(contents, "model", parts...)
		case model.RoleTool:
			contents = appendTurn(contents, "user", genai.FunctionResponse{
				Name:     msg.Name,
				Response: map[string]any{"content": msg.Content, "is_error": msg.IsError},
			})
		}
	}

	if len(contents) == 0 {
		return request{}, errors.New("google: conversation has no user or model messages")
	}
	last := contents[len(contents)-1]
	if last.Role != "user" {
		return request{}, errors.New("google: conversation must end with a user or tool message")
	}
	req.history = contents[:len(contents)-1]
	req.parts = last.Parts
	return req, nil
}

// appendTurn merges consecutive parts from the same role into one turn.
func appendTurn(contents []*genai.Content, role string, parts ...genai.Part) []*genai.Content {
	if n := len(contents); n > 0 && contents[n-1].Role == role {
		contents[n-1].Parts = append(contents[n-1].Parts, parts...)
		return contents
	}
	return append(contents, &genai.Content{Role: role, Parts: parts})
}

func decodeArgs(raw json.RawMessage) map[string]any {
	args := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &args)
	}
	return args
}

func convertTools(tools []model.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchema(tool.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertSchema translates a JSON Schema object into genai.Schema,
// following properties and array items recursively.
func convertSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	result := &genai.Schema{Type: genai.TypeObject}
	if typeStr, ok := schema["type"].(string); ok {
		result.Type = convertTypeString(typeStr)
	}
	if desc, ok := schema["description"].(string); ok {
		result.Description = desc
	}
	if enum, ok := schema["enum"].([]interface{}); ok {
		result.Enum = toStrings(enum)
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		result.Items = convertSchema(items)
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		result.Properties = make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			if propMap, ok := val.(map[string]interface{}); ok {
				result.Properties[key] = convertSchema(propMap)
			}
		}
	}

	switch required := schema["required"].(type) {
	case []string:
		result.Required = required
	case []interface{}:
		result.Required = toStrings(required)
	}
	return result
}

func toStrings(in []interface{}) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func convertTypeString(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func convertResponse(resp *genai.GenerateContentResponse) (model.ChatOut, error) {
	out := model.ChatOut{ToolCalls: []model.ToolCall{}}
	if resp == nil {
		return out, errors.New("google: empty response")
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockReasonUnspecified {
		return model.ChatOut{}, &SafetyFilterError{reason: fb.BlockReason.String(), category: blockedCategory(fb.SafetyRatings)}
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = model.Usage{InputTokens: int(u.PromptTokenCount), OutputTokens: int(u.CandidatesTokenCount)}
	}
	if len(resp.Candidates) == 0 {
		return out, nil
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return model.ChatOut{}, &SafetyFilterError{reason: candidate.FinishReason.String(), category: blockedCategory(candidate.SafetyRatings)}
	}
	if candidate.Content == nil {
		return out, nil
	}

	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)
		case genai.FunctionCall:
			args, err := json.Marshal(p.Args)
			if err != nil {
				return model.ChatOut{}, fmt.Errorf("google: encode function args: %w", err)
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:        fmt.Sprintf("%s_%d", p.Name, len(out.ToolCalls)),
				Name:      p.Name,
				Arguments: args,
			})
		}
	}
	return out, nil
}

func blockedCategory(ratings []*genai.SafetyRating) string {
	for _, r := range ratings {
		if r.Blocked {
			return r.Category.String()
		}
	}
	return "unspecified"
}

// defaultClient wraps the official Gemini SDK client.
type defaultClient struct {
	apiKey string
}

func (c *defaultClient) generateContent(ctx context.Context, modelName string, req request) (*genai.GenerateContentResponse, error) {
	if c.apiKey == "" {
		return nil, errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	genModel := client.GenerativeModel(modelName)
	genModel.SystemInstruction = req.system
	genModel.Tools = req.tools

	session := genModel.StartChat()
	session.History = req.history
	resp, err := session.SendMessage(ctx, req.parts...)
	if err != nil {
		return nil, fmt.Errorf("google API error: %w", err)
	}
	return resp, nil
}

// SafetyFilterError reports a prompt or reply blocked by Gemini's safety
// filters.
type SafetyFilterError struct {
	reason   string
	category string
}

// Error implements the error interface.
func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

// Category returns the harm category that triggered the block.
func (e *SafetyFilterError) Category() string { return e.category }

// Reason returns why the content was blocked.
func (e *SafetyFilterError) Reason() string { return e.reason }
