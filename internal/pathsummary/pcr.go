package pathsummary

import (
	"fmt"
	"math"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/arbor/internal/node"
	"github.com/agentic-research/arbor/internal/page"
	"github.com/ohler55/ojg/jp"
)

// PCRsForPath returns the keys of the path nodes (path class records)
// matched by the JSONPath-style expression expr, e.g. "$.shop.item",
// "$..price" or "$.shop.*". A step written as "@name" matches attributes.
// The position of the reader is unchanged.
func (r *Reader) PCRsForPath(expr string) (*roaring.Bitmap, error) {
	r.Node()
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, fmt.Errorf("parse path %q: %w", expr, err)
	}
	m := &pcrMatcher{r: r, frags: x, out: roaring.New(), names: map[node.Key]string{}}
	if err := m.match(node.DocumentRootKey, 0); err != nil {
		return nil, err
	}
	return m.out, nil
}

type pcrMatcher struct {
	r     *Reader
	frags jp.Expr
	out   *roaring.Bitmap
	names map[node.Key]string
}

func (m *pcrMatcher) children(key node.Key) []*node.PathNode {
	n, ok := m.r.mapping[key]
	if !ok {
		return nil
	}
	var out []*node.PathNode
	for k := n.Struct().FirstChild; k != node.NullKey; {
		c, ok := m.r.mapping[k].(*node.PathNode)
		if !ok {
			break
		}
		out = append(out, c)
		k = c.RightSibling
	}
	return out
}

func (m *pcrMatcher) localName(p *node.PathNode) (string, error) {
	if s, ok := m.names[p.Key]; ok {
		return s, nil
	}
	q, err := page.ResolveQName(m.r.trx, p.Name, p.PathKind)
	if err != nil {
		return "", err
	}
	m.names[p.Key] = q.Local
	return q.Local, nil
}

func (m *pcrMatcher) nameMatches(p *node.PathNode, want string) (bool, error) {
	if attr, ok := strings.CutPrefix(want, "@"); ok {
		if p.PathKind != node.Attribute {
			return false, nil
		}
		want = attr
	} else if p.PathKind != node.Element && p.PathKind != node.ObjectKey {
		return false, nil
	}
	local, err := m.localName(p)
	if err != nil {
		return false, err
	}
	return local == want, nil
}

func (m *pcrMatcher) add(key node.Key) error {
	if key < 0 || key > math.MaxUint32 {
		return fmt.Errorf("path node key %d out of range for a path class set", key)
	}
	m.out.Add(uint32(key))
	return nil
}

func (m *pcrMatcher) match(key node.Key, i int) error {
	if i == len(m.frags) {
		if key == node.DocumentRootKey {
			return nil
		}
		return m.add(key)
	}
	switch f := m.frags[i].(type) {
	case jp.Root, jp.At, jp.Bracket:
		return m.match(key, i+1)
	case jp.Child:
		return m.eachChild(key, i, func(p *node.PathNode) (bool, error) {
			return m.nameMatches(p, string(f))
		})
	case jp.Wildcard:
		return m.eachChild(key, i, func(*node.PathNode) (bool, error) { return true, nil })
	case jp.Nth:
		return m.eachChild(key, i, func(p *node.PathNode) (bool, error) {
			return p.PathKind == node.Array, nil
		})
	case jp.Union:
		return m.eachChild(key, i, func(p *node.PathNode) (bool, error) {
			for _, alt := range f {
				switch v := alt.(type) {
				case string:
					if ok, err := m.nameMatches(p, v); ok || err != nil {
						return ok, err
					}
				case int64:
					if p.PathKind == node.Array {
						return true, nil
					}
				}
			}
			return false, nil
		})
	case jp.Descent:
		// Zero steps, then one or more.
		if err := m.match(key, i+1); err != nil {
			return err
		}
		for _, c := range m.children(key) {
			if err := m.match(c.Key, i); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("path step %q is not supported", m.frags[i:i+1].String())
	}
}

func (m *pcrMatcher) eachChild(key node.Key, i int, accept func(*node.PathNode) (bool, error)) error {
	for _, c := range m.children(key) {
		ok, err := accept(c)
		if err != nil {
			return err
		}
		if ok {
			if err := m.match(c.Key, i+1); err != nil {
				return err
			}
		}
	}
	return nil
}
