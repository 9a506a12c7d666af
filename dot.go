package rete

import (
	"fmt"
	"io"

	"github.com/emicklei/dot"
)

// DotGraph renders the current alpha discrimination tree to w in
// Graphviz dot format, for debugging node sharing (spec §14).
func (eng *Engine) DotGraph(w io.Writer) error {
	g := dot.NewGraph(dot.Directed)
	g.Attr("rankdir", "LR")

	var walk func(n *AlphaNode, parent *dot.Node)
	walk = func(n *AlphaNode, parent *dot.Node) {
		label := "root"
		if parent != nil {
			label = fmt.Sprintf("%s", n.test.key())
		}
		node := g.Node(fmt.Sprintf("alpha%d", n.id)).Label(label)
		if n.memory != nil {
			mem := g.Node(fmt.Sprintf("mem%d", n.memory.id)).
				Label(fmt.Sprintf("memory (%d wmes, %d consumers)", n.memory.wmes.Cardinality(), len(n.memory.consumers))).
				Box()
			g.Edge(node, mem)
		}
		if parent != nil {
			g.Edge(*parent, node)
		}
		for _, c := range n.children {
			walk(c, &node)
		}
	}
	walk(eng.alpha.root, nil)

	_, err := io.WriteString(w, g.String())
	return err
}
