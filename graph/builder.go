package graph

import (
	"errors"
	"slices"
	"sort"
)

// Builder accumulates a graph definition: state fields, nodes, edges and
// entry/finish points. It is not safe for concurrent use.
//
// Every method returns its own error, and the builder also remembers it so
// Compile can report all definition problems at once.
//
// Example:
//
//	b := graph.NewBuilder(graph.Append[string]("log"))
//	_ = b.AddNode("a", stepA)
//	_ = b.AddNode("b", stepB)
//	_ = b.AddEdge("a", "b")
//	_ = b.SetEntryPoint("a")
//	_ = b.SetFinishPoint("b")
//	g, err := b.Compile()
type Builder struct {
	fields       []Field
	nodes        map[string]*node
	order        []string
	edges        []staticEdge
	conditionals map[string]conditionalEdge
	entry        string
	finish       []string
	errs         []error
}

// NewBuilder starts a definition with the given field declarations.
// Fields that are never declared use replace semantics.
func NewBuilder(fields ...Field) *Builder {
	return &Builder{
		fields:       fields,
		nodes:        make(map[string]*node),
		conditionals: make(map[string]conditionalEdge),
	}
}

func (b *Builder) fail(err error) error {
	b.errs = append(b.errs, err)
	return err
}

func (b *Builder) addNode(n *node, opts []NodeOption) error {
	if n.name == "" {
		return b.fail(&EngineError{Message: "node name must not be empty", Code: "CONFIG_ERROR"})
	}
	// END is reserved, so registering it collides with the sentinel.
	if n.name == END {
		return b.fail(&DuplicateNodeError{Node: n.name})
	}
	if _, exists := b.nodes[n.name]; exists {
		return b.fail(&DuplicateNodeError{Node: n.name})
	}
	for _, opt := range opts {
		opt(&n.policy)
	}
	if n.policy.Retry != nil {
		if err := n.policy.Retry.Validate(); err != nil {
			return b.fail(&EngineError{Message: "node " + n.name + ": " + err.Error(), Code: "CONFIG_ERROR", Cause: err})
		}
	}
	b.nodes[n.name] = n
	b.order = append(b.order, n.name)
	return nil
}

// AddNode registers a handler node.
func (b *Builder) AddNode(name string, h Handler, opts ...NodeOption) error {
	if h == nil {
		return b.fail(&EngineError{Message: "node " + name + ": nil handler", Code: "CONFIG_ERROR"})
	}
	return b.addNode(&node{name: name, kind: KindHandler, handler: h}, opts)
}

// AddSubgraph registers a compiled graph as a single node. When run, the
// nested graph sees only the parent fields it declares.
func (b *Builder) AddSubgraph(name string, g *CompiledGraph, opts ...NodeOption) error {
	if g == nil {
		return b.fail(&EngineError{Message: "node " + name + ": nil subgraph", Code: "CONFIG_ERROR"})
	}
	return b.addNode(&node{name: name, kind: KindSubgraph, subgraph: g}, opts)
}

func (b *Builder) requireNode(name, context string) error {
	if _, ok := b.nodes[name]; !ok {
		return b.fail(&UnknownNodeError{Node: name, Context: context})
	}
	return nil
}

// AddEdge adds an unconditional edge. to may be END.
// A node with several static edges fans out to all of them concurrently.
func (b *Builder) AddEdge(from, to string) error {
	if err := b.requireNode(from, "edge source"); err != nil {
		return err
	}
	if to != END {
		if err := b.requireNode(to, "edge target"); err != nil {
			return err
		}
	}
	b.edges = append(b.edges, staticEdge{From: from, To: to})
	return nil
}

// AddConditionalEdge routes from a node to whichever of destinations the
// router picks at run time. END is accepted as a destination.
func (b *Builder) AddConditionalEdge(from string, r Router, destinations ...string) error {
	if err := b.requireNode(from, "conditional edge source"); err != nil {
		return err
	}
	if r == nil {
		return b.fail(&EngineError{Message: "conditional edge on " + from + ": nil router", Code: "CONFIG_ERROR"})
	}
	if len(destinations) == 0 {
		return b.fail(&EngineError{Message: "conditional edge on " + from + ": no destinations", Code: "CONFIG_ERROR"})
	}
	if _, exists := b.conditionals[from]; exists {
		return b.fail(&DuplicateEdgeError{From: from})
	}
	for _, d := range destinations {
		if d == END {
			continue
		}
		if err := b.requireNode(d, "conditional edge destination"); err != nil {
			return err
		}
	}
	b.conditionals[from] = conditionalEdge{
		From:         from,
		Router:       r,
		Destinations: slices.Clone(destinations),
	}
	return nil
}

// SetEntryPoint names the node every run starts from.
func (b *Builder) SetEntryPoint(name string) error {
	if err := b.requireNode(name, "entry point"); err != nil {
		return err
	}
	b.entry = name
	return nil
}

// SetFinishPoint marks a node as terminal when it has no outgoing edge to
// follow.
func (b *Builder) SetFinishPoint(name string) error {
	if err := b.requireNode(name, "finish point"); err != nil {
		return err
	}
	if !slices.Contains(b.finish, name) {
		b.finish = append(b.finish, name)
	}
	return nil
}

// Compile validates the definition and freezes it into a CompiledGraph.
// Later changes to the builder do not affect the result.
func (b *Builder) Compile(opts ...Option) (*CompiledGraph, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	if b.entry == "" {
		return nil, &NoEntryPointError{}
	}

	schema, err := NewSchema(b.fields...)
	if err != nil {
		return nil, err
	}

	if unreachable := b.unreachable(); len(unreachable) > 0 {
		return nil, &UnreachableNodeError{Nodes: unreachable}
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	g := &CompiledGraph{
		schema:       schema,
		nodes:        make(map[string]*node, len(b.nodes)),
		order:        slices.Clone(b.order),
		static:       make(map[string][]string),
		conditionals: make(map[string]conditionalEdge, len(b.conditionals)),
		entry:        b.entry,
		finish:       make(map[string]bool, len(b.finish)),
		cfg:          cfg,
	}
	for name, n := range b.nodes {
		cp := *n
		g.nodes[name] = &cp
	}
	for _, e := range b.edges {
		g.static[e.From] = append(g.static[e.From], e.To)
	}
	for from, c := range b.conditionals {
		c.Destinations = slices.Clone(c.Destinations)
		g.conditionals[from] = c
	}
	for _, f := range b.finish {
		g.finish[f] = true
	}
	return g, nil
}

// unreachable walks static edges plus every declared conditional
// destination from the entry and returns the sorted names never visited.
func (b *Builder) unreachable() []string {
	adj := make(map[string][]string)
	for _, e := range b.edges {
		adj[e.From] = append(adj[e.From], e.To)
	}
	for from, c := range b.conditionals {
		adj[from] = append(adj[from], c.Destinations...)
	}

	seen := map[string]bool{b.entry: true}
	queue := []string{b.entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if next == END || seen[next] {
				continue
			}
			seen[next] = true
			queue = append(queue, next)
		}
	}

	var out []string
	for _, name := range b.order {
		if !seen[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
