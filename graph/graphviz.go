package graph

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// RenderImage lays the graph out with graphviz and returns it in format,
// for example graphviz.PNG or graphviz.SVG. Handler nodes are boxes,
// subgraph nodes hexagons, and conditional edges are labelled "?".
func (g *CompiledGraph) RenderImage(ctx context.Context, format graphviz.Format) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("render: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	out, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("render: create graph: %w", err)
	}
	defer out.Close()
	out.SetRankDir(cgraph.TBRank)

	nodes := make(map[string]*cgraph.Node, len(g.order)+2)
	for _, name := range append([]string{"__start__", END}, g.order...) {
		n, err := out.CreateNodeByName(name)
		if err != nil {
			return nil, fmt.Errorf("render: create node %s: %w", name, err)
		}
		n.SetLabel(name)
		switch {
		case name == "__start__" || name == END:
			n.SetShape(cgraph.EllipseShape)
		case g.nodes[name].kind == KindSubgraph:
			n.SetShape(cgraph.HexagonShape)
		default:
			n.SetShape(cgraph.BoxShape)
		}
		nodes[name] = n
	}

	edge := func(from, to, label string) error {
		e, err := out.CreateEdgeByName("", nodes[from], nodes[to])
		if err != nil {
			return fmt.Errorf("render: edge %s -> %s: %w", from, to, err)
		}
		if label != "" {
			e.SetLabel(label)
		}
		return nil
	}

	if err := edge("__start__", g.entry, ""); err != nil {
		return nil, err
	}
	for _, e := range g.Edges() {
		label := ""
		if e.Conditional {
			label = "?"
		}
		for _, to := range e.To {
			if err := edge(e.From, to, label); err != nil {
				return nil, err
			}
		}
	}
	for _, f := range g.FinishPoints() {
		if err := edge(f, END, ""); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, out, format, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return buf.Bytes(), nil
}
