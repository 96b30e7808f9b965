package graph

import (
	"fmt"
	"strings"
)

// Render draws the graph as plain ASCII: node boxes laid out by distance
// from the entry, followed by the edge list. The output is deterministic.
//
//	+---------+
//	| chatbot |
//	+---------+
//	     |
//	+-----------+
//	| tool_node |
//	+-----------+
//
//	edges:
//	  __start__ --> chatbot
//	  chatbot -?-> tool_node | __end__
//	  tool_node --> chatbot
func (g *CompiledGraph) Render() string {
	var b strings.Builder

	levels := g.levels()
	for i, level := range levels {
		boxes := make([][]string, 0, len(level))
		for _, name := range level {
			boxes = append(boxes, g.box(name))
		}
		writeBoxRow(&b, boxes)
		if i < len(levels)-1 {
			b.WriteString("     |\n")
		}
	}

	b.WriteString("\nedges:\n")
	fmt.Fprintf(&b, "  __start__ --> %s\n", g.entry)
	for _, e := range g.Edges() {
		if e.Conditional {
			fmt.Fprintf(&b, "  %s -?-> %s\n", e.From, strings.Join(e.To, " | "))
			continue
		}
		for _, to := range e.To {
			fmt.Fprintf(&b, "  %s --> %s\n", e.From, to)
		}
	}
	for _, f := range g.FinishPoints() {
		fmt.Fprintf(&b, "  %s --> %s\n", f, END)
	}
	return b.String()
}

// Mermaid renders the graph as a mermaid flowchart. Conditional edges are
// drawn dotted.
func (g *CompiledGraph) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	b.WriteString("  __start__([start])\n")
	for _, name := range g.order {
		if g.nodes[name].kind == KindSubgraph {
			fmt.Fprintf(&b, "  %s[[%s]]\n", name, name)
		} else {
			fmt.Fprintf(&b, "  %s[%s]\n", name, name)
		}
	}
	fmt.Fprintf(&b, "  %s([end])\n", END)
	fmt.Fprintf(&b, "  __start__ --> %s\n", g.entry)
	for _, e := range g.Edges() {
		arrow := "-->"
		if e.Conditional {
			arrow = "-.->"
		}
		for _, to := range e.To {
			fmt.Fprintf(&b, "  %s %s %s\n", e.From, arrow, to)
		}
	}
	for _, f := range g.FinishPoints() {
		fmt.Fprintf(&b, "  %s --> %s\n", f, END)
	}
	return b.String()
}

// levels groups nodes by breadth-first distance from the entry. Every node
// is reachable after Compile, so every node lands in exactly one level.
func (g *CompiledGraph) levels() [][]string {
	seen := map[string]bool{g.entry: true}
	var out [][]string
	current := []string{g.entry}
	for len(current) > 0 {
		out = append(out, current)
		var next []string
		for _, name := range current {
			targets := append([]string(nil), g.static[name]...)
			if c, ok := g.conditionals[name]; ok {
				targets = append(targets, c.Destinations...)
			}
			for _, t := range targets {
				if t == END || seen[t] {
					continue
				}
				seen[t] = true
				next = append(next, t)
			}
		}
		current = next
	}
	return out
}

func (g *CompiledGraph) box(name string) []string {
	label := name
	if g.nodes[name].kind == KindSubgraph {
		label += " (subgraph)"
	}
	if g.finish[name] {
		label += " *"
	}
	border := "+" + strings.Repeat("-", len(label)+2) + "+"
	return []string{border, "| " + label + " |", border}
}

func writeBoxRow(b *strings.Builder, boxes [][]string) {
	for line := 0; line < 3; line++ {
		parts := make([]string, len(boxes))
		for i, box := range boxes {
			parts[i] = box[line]
		}
		b.WriteString(strings.Join(parts, "  "))
		b.WriteString("\n")
	}
}
