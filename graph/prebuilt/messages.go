package prebuilt

import (
	"github.com/dshills/stategraph/graph"
	"github.com/dshills/stategraph/graph/model"
)

// DefaultMessagesField is the state field holding the conversation.
const DefaultMessagesField = "messages"

// MessagesField declares an append-only conversation field. Updates may be
// a single model.Message or a []model.Message.
func MessagesField(name string) graph.Field {
	return graph.Append[model.Message](name)
}

// Messages reads the conversation from state.
func Messages(state graph.State, field string) []model.Message {
	msgs, _ := graph.Get[[]model.Message](state, field)
	return msgs
}

// toolRounds counts AI messages with tool calls since the last human
// message.
func toolRounds(msgs []model.Message) int {
	rounds := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		switch msgs[i].Role {
		case model.RoleHuman:
			return rounds
		case model.RoleAI:
			if len(msgs[i].ToolCalls) > 0 {
				rounds++
			}
		}
	}
	return rounds
}
