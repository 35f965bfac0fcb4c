package graph

import (
	"fmt"
	"strings"
)

// Mermaid 渲染 Mermaid flowchart 文本，条件边用虚线表示。
func (g *Graph) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD;\n")

	b.WriteString(fmt.Sprintf("\t%s([%s]):::first\n", entryMarker, entryMarker))
	for _, name := range g.order {
		b.WriteString(fmt.Sprintf("\t%s(%s)\n", name, name))
	}
	if g.reachesEnd() {
		b.WriteString(fmt.Sprintf("\t%s([%s]):::last\n", End, End))
	}

	b.WriteString(fmt.Sprintf("\t%s --> %s;\n", entryMarker, g.entry))
	for _, from := range g.order {
		if to, ok := g.edges[from]; ok {
			b.WriteString(fmt.Sprintf("\t%s --> %s;\n", from, to))
		}
		if edge, ok := g.conditional[from]; ok {
			for _, target := range edge.targets {
				b.WriteString(fmt.Sprintf("\t%s -.-> %s;\n", from, target))
			}
		}
	}

	b.WriteString("\tclassDef default fill:#f2f0ff,line-height:1.2;\n")
	b.WriteString("\tclassDef first fill-opacity:0;\n")
	b.WriteString("\tclassDef last fill:#bfb6fc;\n")
	return b.String()
}

// DOT 渲染 Graphviz dot 文本，可直接交给 dot -Tpng 出图。
func (g *Graph) DOT() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("digraph %q {\n", g.name))
	b.WriteString("\trankdir=TD;\n")
	b.WriteString("\tnode [shape=box, style=rounded];\n")
	b.WriteString(fmt.Sprintf("\t%q [shape=ellipse];\n", entryMarker))
	if g.reachesEnd() {
		b.WriteString(fmt.Sprintf("\t%q [shape=ellipse];\n", End))
	}

	b.WriteString(fmt.Sprintf("\t%q -> %q;\n", entryMarker, g.entry))
	for _, from := range g.order {
		if to, ok := g.edges[from]; ok {
			b.WriteString(fmt.Sprintf("\t%q -> %q;\n", from, to))
		}
		if edge, ok := g.conditional[from]; ok {
			for _, target := range edge.targets {
				b.WriteString(fmt.Sprintf("\t%q -> %q [style=dashed];\n", from, target))
			}
		}
	}
	b.WriteString("}\n")
	return b.String()
}

func (g *Graph) reachesEnd() bool {
	for _, to := range g.edges {
		if to == End {
			return true
		}
	}
	for _, edge := range g.conditional {
		for _, target := range edge.targets {
			if target == End {
				return true
			}
		}
	}
	return false
}
