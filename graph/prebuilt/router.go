package prebuilt

import (
	"github.com/dshills/stategraph/graph"
	"github.com/dshills/stategraph/graph/model"
)

// ToolNodeName is the node ToolRouter sends pending tool calls to.
const ToolNodeName = "tool_node"

// ToolRouterDestinations is the allowed set for a ToolRouter edge.
var ToolRouterDestinations = []string{ToolNodeName, graph.END}

// ToolRouter routes to ToolNodeName while the last message of field is an
// AI message with pending tool calls, and to graph.END otherwise.
func ToolRouter(field string) graph.RouterFunc {
	return func(state graph.State) string {
		last, ok := model.Last(Messages(state, field))
		if ok && len(last.PendingToolCalls()) > 0 {
			return ToolNodeName
		}
		return graph.END
	}
}
