package pathsummary

import (
	"fmt"

	"github.com/agentic-research/arbor/internal/node"
	"github.com/agentic-research/arbor/internal/page"
	"github.com/emicklei/dot"
)

// RenderDot renders the summary as a Graphviz digraph, one vertex per path
// node labelled with its name and reference count.
func RenderDot(r *Reader) (string, error) {
	graph := dot.NewGraph(dot.Directed)

	var traverse func(key node.Key, parent *dot.Node) error
	traverse = func(key node.Key, parent *dot.Node) error {
		n, ok := r.PathNodeForKey(key)
		if !ok {
			return fmt.Errorf("path node %d missing from mapping", key)
		}

		label := "/"
		if p, ok := n.(*node.PathNode); ok {
			q, err := page.ResolveQName(r.trx, p.Name, p.PathKind)
			if err != nil {
				return err
			}
			name := stepLabel(p.PathKind, q)
			if name == "" {
				name = p.PathKind.String()
			}
			label = fmt.Sprintf("%s\nrefs:%d", name, p.References)
		}

		v := graph.Node(fmt.Sprintf("p%d", key)).Label(label)
		if parent != nil {
			parent.Edge(v)
		}
		for c := n.Struct().FirstChild; c != node.NullKey; {
			if err := traverse(c, &v); err != nil {
				return err
			}
			child, _ := r.PathNodeForKey(c)
			c = child.Struct().RightSibling
		}
		return nil
	}

	if err := traverse(node.DocumentRootKey, nil); err != nil {
		return "", err
	}
	return graph.String(), nil
}

// stepLabel spells one path step the way listings show it.
func stepLabel(kind node.Kind, q node.QName) string {
	switch kind {
	case node.Attribute:
		return "@" + q.String()
	case node.Namespace:
		if q.Prefix == "" {
			return "xmlns"
		}
		return "xmlns:" + q.Prefix
	case node.Array:
		return "[]"
	}
	return q.String()
}

// Entry describes one path node for listings.
type Entry struct {
	Key        node.Key
	Path       string
	Kind       node.Kind
	Level      int
	References int64
	Nodes      uint64
}

// Entries lists every path node in pre-order with its full path.
func Entries(r *Reader) ([]Entry, error) {
	var out []Entry
	var walk func(key node.Key, prefix string) error
	walk = func(key node.Key, prefix string) error {
		n, ok := r.PathNodeForKey(key)
		if !ok {
			return fmt.Errorf("path node %d missing from mapping", key)
		}
		if p, ok := n.(*node.PathNode); ok {
			q, err := page.ResolveQName(r.trx, p.Name, p.PathKind)
			if err != nil {
				return err
			}
			prefix += "/" + stepLabel(p.PathKind, q)
			out = append(out, Entry{
				Key:        p.Key,
				Path:       prefix,
				Kind:       p.PathKind,
				Level:      p.Level,
				References: p.References,
				Nodes:      p.Nodes.GetCardinality(),
			})
		}
		for c := n.Struct().FirstChild; c != node.NullKey; {
			if err := walk(c, prefix); err != nil {
				return err
			}
			child, _ := r.PathNodeForKey(c)
			c = child.Struct().RightSibling
		}
		return nil
	}
	if err := walk(node.DocumentRootKey, ""); err != nil {
		return nil, err
	}
	return out, nil
}
