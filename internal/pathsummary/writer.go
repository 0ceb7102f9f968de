package pathsummary

import (
	"errors"
	"fmt"

	"github.com/agentic-research/arbor/internal/node"
	"github.com/agentic-research/arbor/internal/page"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/cespare/xxhash/v2"
)

// ErrNegativeReferences is returned when a path loses more references than
// it holds.
var ErrNegativeReferences = errors.New("path references would become negative")

// Step is one component of a path: the kind of document record and its name.
type Step struct {
	Kind node.Kind
	Name node.QName
}

// Writer maintains the path summary inside one page write transaction. Every
// change is mirrored into its Reader's mapping in the same call.
type Writer struct {
	wtx    page.WriteTrx
	reader *Reader
}

// NewWriter opens the summary staged in wtx. The writer does not own wtx;
// committing and closing it is up to the caller.
func NewWriter(wtx page.WriteTrx, store page.Store, opts ...Option) (*Writer, error) {
	r, err := open(wtx, store, opts...)
	if err != nil {
		return nil, err
	}
	return &Writer{wtx: wtx, reader: r}, nil
}

// Reader returns the writer's reader. Its mapping always matches the staged
// summary.
func (w *Writer) Reader() *Reader { return w.reader }

// PathNodeKey returns the key of the child of parent that represents
// (kind, name), creating it if needed, and adds one reference to it.
func (w *Writer) PathNodeKey(parent node.Key, name node.QName, kind node.Kind) (node.Key, error) {
	key, err := w.findOrCreate(parent, Step{Kind: kind, Name: name})
	if err != nil {
		return node.NullKey, err
	}
	if err := w.adjustReferences(key, 1); err != nil {
		return node.NullKey, err
	}
	return key, nil
}

// AddPath makes sure every prefix of steps exists below the root and adds
// one reference to the last step only.
func (w *Writer) AddPath(steps []Step) (node.Key, error) {
	if len(steps) == 0 {
		return node.NullKey, fmt.Errorf("add path: no steps: %w", tree.ErrInvalidState)
	}
	key := node.DocumentRootKey
	for _, s := range steps {
		var err error
		if key, err = w.findOrCreate(key, s); err != nil {
			return node.NullKey, err
		}
	}
	if err := w.adjustReferences(key, 1); err != nil {
		return node.NullKey, err
	}
	return key, nil
}

// Remove drops one reference from key. A path node left without references
// and without children is unlinked, and so is every ancestor that ends up
// in the same state.
func (w *Writer) Remove(key node.Key) error {
	if err := w.adjustReferences(key, -1); err != nil {
		return err
	}
	return w.prune(key)
}

// Track records docKey as one of the document records on path key.
func (w *Writer) Track(key node.Key, docKey node.Key) error {
	p, err := w.pathNode(key)
	if err != nil {
		return err
	}
	p.Nodes.Add(uint64(docKey))
	return w.save(p)
}

// Untrack forgets docKey on path key.
func (w *Writer) Untrack(key node.Key, docKey node.Key) error {
	p, err := w.pathNode(key)
	if err != nil {
		return err
	}
	p.Nodes.Remove(uint64(docKey))
	return w.save(p)
}

func (w *Writer) pathNode(key node.Key) (*node.PathNode, error) {
	rec, err := w.wtx.Record(key, page.PathSummaryIndex)
	if err != nil {
		return nil, fmt.Errorf("path node %d: %w", key, err)
	}
	p, ok := rec.(*node.PathNode)
	if !ok {
		return nil, fmt.Errorf("path node %d is a %s: %w", key, rec.Kind(), tree.ErrInvalidState)
	}
	return p, nil
}

func (w *Writer) structNode(key node.Key) (node.StructNode, error) {
	return w.reader.fetch(key)
}

// save stages rec and mirrors it into the mapping.
func (w *Writer) save(rec node.StructNode) error {
	if err := w.wtx.ModifyRecord(rec, page.PathSummaryIndex); err != nil {
		return err
	}
	w.reader.putMapping(rec.NodeKey(), rec.Clone().(node.StructNode))
	return nil
}

func (w *Writer) adjustReferences(key node.Key, delta int64) error {
	p, err := w.pathNode(key)
	if err != nil {
		return err
	}
	if p.References+delta < 0 {
		return fmt.Errorf("path node %d has %d references: %w", key, p.References, ErrNegativeReferences)
	}
	p.References += delta
	if err := w.save(p); err != nil {
		return err
	}
	return w.reposition(key)
}

// reposition moves the reader onto key, reloading the staged record.
func (w *Writer) reposition(key node.Key) error {
	moved, err := w.reader.MoveTo(key)
	if err != nil {
		return err
	}
	if !moved {
		_, err = w.reader.MoveToDocumentRoot()
	}
	return err
}

// findChild returns the child of parent matching step, or NullKey.
func (w *Writer) findChild(parent node.StructNode, step Step) (node.Key, error) {
	for key := parent.Struct().FirstChild; key != node.NullKey; {
		p, err := w.pathNode(key)
		if err != nil {
			return node.NullKey, err
		}
		if p.PathKind == step.Kind {
			q, err := page.ResolveQName(w.wtx, p.Name, p.PathKind)
			if err != nil {
				return node.NullKey, err
			}
			if q == step.Name {
				return key, nil
			}
		}
		key = p.RightSibling
	}
	return node.NullKey, nil
}

func (w *Writer) findOrCreate(parentKey node.Key, step Step) (node.Key, error) {
	if !step.Kind.HasPath() {
		return node.NullKey, fmt.Errorf("%s records have no path: %w", step.Kind, tree.ErrInvalidState)
	}
	parent, err := w.structNode(parentKey)
	if err != nil {
		return node.NullKey, fmt.Errorf("path parent %d: %w", parentKey, err)
	}
	key, err := w.findChild(parent, step)
	if err != nil || key != node.NullKey {
		return key, err
	}
	return w.create(parent, step)
}

func stepHash(parentHash uint64, step Step) uint64 {
	d := xxhash.New()
	var buf [9]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(parentHash >> (8 * i))
	}
	buf[8] = byte(step.Kind)
	_, _ = d.Write(buf[:])
	_, _ = d.WriteString(step.Name.URI)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(step.Name.Local)
	return d.Sum64()
}

// create links a new path node as the first child of parent.
func (w *Writer) create(parent node.StructNode, step Step) (node.Key, error) {
	names, err := page.InternQName(w.wtx, step.Name, step.Kind)
	if err != nil {
		return node.NullKey, err
	}
	level := 1
	if pp, ok := parent.(*node.PathNode); ok {
		level = pp.Level + 1
	}

	ps := parent.Struct()
	n := node.NewPathNode(w.wtx.NewNodeKey(page.PathSummaryIndex), names, step.Kind, level)
	n.Parent = ps.Key
	n.RightSibling = ps.FirstChild
	n.Hash = stepHash(ps.Hash, step)
	if err := w.wtx.CreateRecord(n, page.PathSummaryIndex); err != nil {
		return node.NullKey, err
	}
	w.reader.putMapping(n.Key, n.Clone().(node.StructNode))

	if ps.FirstChild != node.NullKey {
		right, err := w.structNode(ps.FirstChild)
		if err != nil {
			return node.NullKey, err
		}
		right.Struct().LeftSibling = n.Key
		if err := w.save(right); err != nil {
			return node.NullKey, err
		}
	}
	ps.FirstChild = n.Key
	ps.ChildCount++
	if err := w.save(parent); err != nil {
		return node.NullKey, err
	}
	if err := w.adjustDescendants(ps.Key, 1); err != nil {
		return node.NullKey, err
	}
	return n.Key, w.reposition(n.Key)
}

// adjustDescendants adds delta to the descendant count of key and all of
// its ancestors.
func (w *Writer) adjustDescendants(key node.Key, delta int64) error {
	for key != node.NullKey {
		n, err := w.structNode(key)
		if err != nil {
			return err
		}
		n.Struct().DescendantCount += delta
		if err := w.save(n); err != nil {
			return err
		}
		key = n.Struct().Parent
	}
	return nil
}

func (w *Writer) prune(key node.Key) error {
	for key != node.DocumentRootKey {
		p, err := w.pathNode(key)
		if err != nil {
			return err
		}
		if p.References > 0 || p.HasFirstChild() {
			return w.reposition(key)
		}
		parent := p.Parent
		if err := w.unlink(p); err != nil {
			return err
		}
		key = parent
	}
	return w.reposition(node.DocumentRootKey)
}

// unlink removes a childless path node from the summary.
func (w *Writer) unlink(p *node.PathNode) error {
	if p.HasLeftSibling() {
		left, err := w.structNode(p.LeftSibling)
		if err != nil {
			return err
		}
		left.Struct().RightSibling = p.RightSibling
		if err := w.save(left); err != nil {
			return err
		}
	}
	if p.HasRightSibling() {
		right, err := w.structNode(p.RightSibling)
		if err != nil {
			return err
		}
		right.Struct().LeftSibling = p.LeftSibling
		if err := w.save(right); err != nil {
			return err
		}
	}
	parent, err := w.structNode(p.Parent)
	if err != nil {
		return err
	}
	ps := parent.Struct()
	if ps.FirstChild == p.Key {
		ps.FirstChild = p.RightSibling
	}
	ps.ChildCount--
	if err := w.save(parent); err != nil {
		return err
	}
	if err := w.adjustDescendants(p.Parent, -1); err != nil {
		return err
	}

	if err := w.wtx.RemoveRecord(p.Key, page.PathSummaryIndex); err != nil {
		return err
	}
	w.reader.removeMapping(p.Key)
	return page.ReleaseQName(w.wtx, p.Name, p.PathKind)
}
