package prebuilt

import (
	"github.com/dshills/stategraph/graph"
	"github.com/dshills/stategraph/graph/model"
	"github.com/dshills/stategraph/graph/tool"
)

// ChatNodeName is the model node of a tool agent.
const ChatNodeName = "chatbot"

// AgentConfig tunes NewToolAgent. The zero value is usable.
type AgentConfig struct {
	// SystemPrompt is sent ahead of the conversation on every model call.
	SystemPrompt string

	// MaxToolRounds caps consecutive tool rounds. Zero means no cap.
	MaxToolRounds int

	// MessagesField defaults to DefaultMessagesField.
	MessagesField string

	// NodeOptions apply to both nodes, for example graph.WithRetry.
	NodeOptions []graph.NodeOption
}

// NewToolAgent compiles the standard tool loop:
//
//	chatbot -?-> tool_node | __end__
//	tool_node --> chatbot
//
// opts configure the compiled graph, typically its store and emitter.
func NewToolAgent(m model.ChatModel, reg *tool.Registry, cfg AgentConfig, opts ...graph.Option) (*graph.CompiledGraph, error) {
	field := cfg.MessagesField
	if field == "" {
		field = DefaultMessagesField
	}

	chat := NewChatNode(m, reg.Specs(), WithSystemPrompt(cfg.SystemPrompt), WithChatMessagesField(field))
	tools := NewToolNode(reg, WithMaxIterations(cfg.MaxToolRounds), WithToolMessagesField(field))

	b := graph.NewBuilder(MessagesField(field))
	_ = b.AddNode(ChatNodeName, chat, cfg.NodeOptions...)
	_ = b.AddNode(ToolNodeName, tools, cfg.NodeOptions...)
	_ = b.SetEntryPoint(ChatNodeName)
	_ = b.AddConditionalEdge(ChatNodeName, ToolRouter(field), ToolRouterDestinations...)
	_ = b.AddEdge(ToolNodeName, ChatNodeName)
	_ = b.SetFinishPoint(ChatNodeName)
	return b.Compile(opts...)
}
