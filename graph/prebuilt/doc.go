// Package prebuilt assembles the standard tool-calling loop on top of the
// graph engine: a chat node that asks a model for the next message, a tool
// node that executes the calls it requested, and the router between them.
//
//	reg, _ := tool.NewRegistry(faq.Tool())
//	agent, _ := prebuilt.NewToolAgent(chatModel, reg, prebuilt.AgentConfig{},
//	    graph.WithStore(store.NewMemStore()))
//	out, _ := agent.Invoke(ctx, graph.State{"messages": model.Human("hi")},
//	    graph.WithSession("1"))
package prebuilt
