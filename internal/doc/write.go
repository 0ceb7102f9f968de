package doc

import (
	"encoding/binary"
	"fmt"

	"github.com/agentic-research/arbor/internal/axis"
	"github.com/agentic-research/arbor/internal/node"
	"github.com/agentic-research/arbor/internal/page"
	"github.com/agentic-research/arbor/internal/pathsummary"
	"github.com/cespare/xxhash/v2"
)

// Position selects where Insert links the new node relative to the cursor.
type Position int

const (
	AsFirstChild Position = iota
	AsRightSibling
)

// WriteTrx stages changes to the document and keeps the path summary in
// step with them. It is single use: Commit or Rollback ends it.
type WriteTrx struct {
	*ReadTrx

	wtx      page.WriteTrx
	paths    *pathsummary.Writer
	onCommit func(int)
}

// NewWriteTrx starts editing the document staged in wtx. The transaction
// owns wtx.
func NewWriteTrx(wtx page.WriteTrx, store page.Store, opts ...Option) (*WriteTrx, error) {
	o := buildOptions(opts)
	r, err := newReadTrx(wtx, o)
	if err != nil {
		return nil, err
	}
	paths, err := pathsummary.NewWriter(wtx, store, pathsummary.WithLogger(o.log))
	if err != nil {
		return nil, err
	}
	return &WriteTrx{ReadTrx: r, wtx: wtx, paths: paths, onCommit: o.onCommit}, nil
}

// PathSummary returns the reader over the staged path summary.
func (w *WriteTrx) PathSummary() *pathsummary.Reader { return w.paths.Reader() }

func canHaveChildren(k node.Kind) bool {
	switch k {
	case node.Document, node.Element, node.Object, node.Array, node.ObjectKey:
		return true
	}
	return false
}

func insertable(k node.Kind) bool {
	return k.IsStructural() && k != node.Document && k != node.Attribute && k != node.Namespace
}

// contentHash covers the node's own content; Structure.Hash adds the
// content hashes of its descendants and attributes.
func contentHash(n *node.DocNode) uint64 {
	d := xxhash.New()
	var buf [13]byte
	buf[0] = byte(n.NodeKind)
	binary.LittleEndian.PutUint32(buf[1:], uint32(n.Name.URI))
	binary.LittleEndian.PutUint32(buf[5:], uint32(n.Name.Prefix))
	binary.LittleEndian.PutUint32(buf[9:], uint32(n.Name.Local))
	_, _ = d.Write(buf[:])
	_, _ = d.Write(n.Value)
	return d.Sum64()
}

func (w *WriteTrx) record(key node.Key) (node.StructNode, error) {
	return w.fetch(key)
}

func (w *WriteTrx) save(n node.StructNode) error {
	return w.wtx.ModifyRecord(n, page.DocumentIndex)
}

// propagate adds the count and hash deltas to key and every ancestor.
func (w *WriteTrx) propagate(key node.Key, descendants int64, hash uint64) error {
	for key != node.NullKey {
		n, err := w.record(key)
		if err != nil {
			return err
		}
		s := n.Struct()
		s.DescendantCount += descendants
		s.Hash += hash
		if err := w.save(n); err != nil {
			return err
		}
		key = s.Parent
	}
	return nil
}

// pathParent returns the path summary key of the nearest ancestor-or-self
// of key that has a path.
func (w *WriteTrx) pathParent(key node.Key) (node.Key, error) {
	for key != node.DocumentRootKey {
		n, err := w.record(key)
		if err != nil {
			return node.NullKey, err
		}
		if d, ok := n.(*node.DocNode); ok && d.PathNodeKey != node.NullKey {
			return d.PathNodeKey, nil
		}
		key = n.Struct().Parent
	}
	return node.DocumentRootKey, nil
}

func (w *WriteTrx) newNode(kind node.Kind, parent node.Key, name node.QName, value string) (*node.DocNode, error) {
	switch {
	case !kind.HasName():
		if !name.IsZero() {
			return nil, fmt.Errorf("%s cannot be named: %w", kind, ErrInvalidInsert)
		}
	case kind == node.Namespace:
		if name.URI == "" {
			return nil, fmt.Errorf("namespace needs a URI: %w", ErrInvalidInsert)
		}
	case kind == node.ObjectKey:
		// JSON allows the empty key.
	case name.Local == "":
		return nil, fmt.Errorf("%s needs a name: %w", kind, ErrInvalidInsert)
	}
	if !kind.HasValue() && value != "" {
		return nil, fmt.Errorf("%s cannot hold a value: %w", kind, ErrInvalidInsert)
	}

	n := node.NewDocNode(w.wtx.NewNodeKey(page.DocumentIndex), kind)
	n.Parent = parent
	if kind.HasValue() {
		n.Value = []byte(value)
	}
	if kind.HasName() {
		keys, err := page.InternQName(w.wtx, name, kind)
		if err != nil {
			return nil, err
		}
		n.Name = keys
	}
	if kind.HasPath() {
		pp, err := w.pathParent(parent)
		if err != nil {
			return nil, err
		}
		pk, err := w.paths.PathNodeKey(pp, name, kind)
		if err != nil {
			return nil, err
		}
		if err := w.paths.Track(pk, n.Key); err != nil {
			return nil, err
		}
		n.PathNodeKey = pk
	}
	n.Hash = contentHash(n)
	return n, nil
}

// Insert adds a node of kind relative to the cursor and moves onto it.
// Attributes and namespaces have their own insert methods.
func (w *WriteTrx) Insert(kind node.Kind, pos Position, name node.QName, value string) (node.Key, error) {
	if !insertable(kind) {
		return node.NullKey, fmt.Errorf("insert %s: %w", kind, ErrInvalidInsert)
	}
	cur := w.Node()

	var parent, left, right node.Key
	switch pos {
	case AsFirstChild:
		if !canHaveChildren(cur.Kind()) {
			return node.NullKey, fmt.Errorf("insert %s as child of %s: %w", kind, cur.Kind(), ErrInvalidInsert)
		}
		parent, left, right = cur.NodeKey(), node.NullKey, cur.Struct().FirstChild
	case AsRightSibling:
		if !insertable(cur.Kind()) {
			return node.NullKey, fmt.Errorf("insert %s as sibling of %s: %w", kind, cur.Kind(), ErrInvalidInsert)
		}
		parent, left, right = cur.Struct().Parent, cur.NodeKey(), cur.Struct().RightSibling
	default:
		return node.NullKey, fmt.Errorf("insert position %d: %w", pos, ErrInvalidInsert)
	}

	n, err := w.newNode(kind, parent, name, value)
	if err != nil {
		return node.NullKey, err
	}
	n.LeftSibling, n.RightSibling = left, right
	if err := w.wtx.CreateRecord(n, page.DocumentIndex); err != nil {
		return node.NullKey, err
	}

	if left != node.NullKey {
		l, err := w.record(left)
		if err != nil {
			return node.NullKey, err
		}
		l.Struct().RightSibling = n.Key
		if err := w.save(l); err != nil {
			return node.NullKey, err
		}
	}
	if right != node.NullKey {
		r, err := w.record(right)
		if err != nil {
			return node.NullKey, err
		}
		r.Struct().LeftSibling = n.Key
		if err := w.save(r); err != nil {
			return node.NullKey, err
		}
	}
	p, err := w.record(parent)
	if err != nil {
		return node.NullKey, err
	}
	if left == node.NullKey {
		p.Struct().FirstChild = n.Key
	}
	p.Struct().ChildCount++
	if err := w.save(p); err != nil {
		return node.NullKey, err
	}
	if err := w.propagate(parent, 1, n.Hash); err != nil {
		return node.NullKey, err
	}
	return n.Key, w.moveTo(n.Key)
}

func (w *WriteTrx) moveTo(key node.Key) error {
	moved, err := w.MoveTo(key)
	if err != nil {
		return err
	}
	if !moved {
		return fmt.Errorf("staged node %d unreachable", key)
	}
	return nil
}

func (w *WriteTrx) currentElement(what string) (*node.DocNode, error) {
	d := w.docNode()
	if d == nil || d.NodeKind != node.Element {
		return nil, fmt.Errorf("insert %s on %s: %w", what, w.Kind(), ErrInvalidInsert)
	}
	return d, nil
}

// InsertAttribute adds an attribute to the current element and moves onto
// it.
func (w *WriteTrx) InsertAttribute(name node.QName, value string) (node.Key, error) {
	elem, err := w.currentElement("attribute")
	if err != nil {
		return node.NullKey, err
	}
	if moved, err := w.MoveToAttributeByName(name); err != nil || moved {
		if moved {
			_ = w.moveTo(elem.Key)
			err = fmt.Errorf("duplicate attribute %s: %w", name, ErrInvalidInsert)
		}
		return node.NullKey, err
	}
	return w.attach(elem, node.Attribute, name, value)
}

// InsertNamespace declares prefix -> uri on the current element and moves
// onto the declaration.
func (w *WriteTrx) InsertNamespace(prefix, uri string) (node.Key, error) {
	elem, err := w.currentElement("namespace")
	if err != nil {
		return node.NullKey, err
	}
	return w.attach(elem, node.Namespace, node.QName{URI: uri, Prefix: prefix}, "")
}

func (w *WriteTrx) attach(elem *node.DocNode, kind node.Kind, name node.QName, value string) (node.Key, error) {
	n, err := w.newNode(kind, elem.Key, name, value)
	if err != nil {
		return node.NullKey, err
	}
	if err := w.wtx.CreateRecord(n, page.DocumentIndex); err != nil {
		return node.NullKey, err
	}
	rec, err := w.record(elem.Key)
	if err != nil {
		return node.NullKey, err
	}
	e := rec.(*node.DocNode)
	if kind == node.Attribute {
		e.Attributes = append(e.Attributes, n.Key)
	} else {
		e.Namespaces = append(e.Namespaces, n.Key)
	}
	if err := w.save(e); err != nil {
		return node.NullKey, err
	}
	if err := w.propagate(elem.Key, 0, n.Hash); err != nil {
		return node.NullKey, err
	}
	return n.Key, w.moveTo(n.Key)
}

// SetValue replaces the value of the current node.
func (w *WriteTrx) SetValue(value string) error {
	d := w.docNode()
	if d == nil || !d.NodeKind.HasValue() {
		return fmt.Errorf("set value of %s: %w", w.Kind(), ErrUnsupported)
	}
	before := contentHash(d)
	upd := *d
	upd.Value = []byte(value)
	after := contentHash(&upd)
	// Hash is a sum, so the difference wraps correctly.
	if err := w.propagate(d.Key, 0, after-before); err != nil {
		return err
	}
	rec, err := w.record(d.Key)
	if err != nil {
		return err
	}
	saved := rec.(*node.DocNode)
	saved.Value = upd.Value
	if err := w.save(saved); err != nil {
		return err
	}
	return w.moveTo(d.Key)
}

// Remove deletes the current node and its subtree, then moves to the right
// sibling, the left sibling or the parent, in that order of preference.
func (w *WriteTrx) Remove() error {
	cur := w.Node()
	d, ok := cur.(*node.DocNode)
	if !ok {
		return fmt.Errorf("remove %s: %w", cur.Kind(), ErrUnsupported)
	}
	if d.NodeKind == node.Attribute || d.NodeKind == node.Namespace {
		return w.detach(d)
	}

	var doomed []*node.DocNode
	it := axis.NewDescendant(w, axis.IncludeSelf)
	for it.Next() {
		n := w.docNode()
		doomed = append(doomed, n)
		for _, k := range append(append([]node.Key(nil), n.Attributes...), n.Namespaces...) {
			rec, err := w.record(k)
			if err != nil {
				return err
			}
			doomed = append(doomed, rec.(*node.DocNode))
		}
	}
	if err := it.Err(); err != nil {
		return err
	}

	next := d.RightSibling
	if next == node.NullKey {
		next = d.LeftSibling
	}
	if next == node.NullKey {
		next = d.Parent
	}

	if d.HasLeftSibling() {
		l, err := w.record(d.LeftSibling)
		if err != nil {
			return err
		}
		l.Struct().RightSibling = d.RightSibling
		if err := w.save(l); err != nil {
			return err
		}
	}
	if d.HasRightSibling() {
		r, err := w.record(d.RightSibling)
		if err != nil {
			return err
		}
		r.Struct().LeftSibling = d.LeftSibling
		if err := w.save(r); err != nil {
			return err
		}
	}
	p, err := w.record(d.Parent)
	if err != nil {
		return err
	}
	if p.Struct().FirstChild == d.Key {
		p.Struct().FirstChild = d.RightSibling
	}
	p.Struct().ChildCount--
	if err := w.save(p); err != nil {
		return err
	}
	if err := w.propagate(d.Parent, -(d.DescendantCount + 1), -d.Hash); err != nil {
		return err
	}

	for _, n := range doomed {
		if err := w.drop(n); err != nil {
			return err
		}
	}
	return w.moveTo(next)
}

// detach removes an attribute or namespace from its element and moves to
// the element.
func (w *WriteTrx) detach(d *node.DocNode) error {
	rec, err := w.record(d.Parent)
	if err != nil {
		return err
	}
	e := rec.(*node.DocNode)
	e.Attributes = without(e.Attributes, d.Key)
	e.Namespaces = without(e.Namespaces, d.Key)
	if err := w.save(e); err != nil {
		return err
	}
	if err := w.propagate(e.Key, 0, -d.Hash); err != nil {
		return err
	}
	if err := w.drop(d); err != nil {
		return err
	}
	return w.moveTo(e.Key)
}

func without(keys []node.Key, k node.Key) []node.Key {
	out := keys[:0:0]
	for _, x := range keys {
		if x != k {
			out = append(out, x)
		}
	}
	return out
}

// drop deletes one record and releases its name and path reference.
func (w *WriteTrx) drop(n *node.DocNode) error {
	if n.PathNodeKey != node.NullKey {
		if err := w.paths.Untrack(n.PathNodeKey, n.Key); err != nil {
			return err
		}
		if err := w.paths.Remove(n.PathNodeKey); err != nil {
			return err
		}
	}
	if n.NodeKind.HasName() {
		if err := page.ReleaseQName(w.wtx, n.Name, n.NodeKind); err != nil {
			return err
		}
	}
	return w.wtx.RemoveRecord(n.Key, page.DocumentIndex)
}

// Commit publishes the staged revision and ends the transaction.
func (w *WriteTrx) Commit() (int, error) {
	rev, err := w.wtx.Commit()
	_ = w.Cursor.Close()
	if err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	w.log.Debug().Int("revision", rev).Msg("committed")
	w.onCommit(rev)
	return rev, nil
}

// Rollback discards the staged changes and ends the transaction.
func (w *WriteTrx) Rollback() error {
	_ = w.Cursor.Close()
	return w.wtx.Rollback()
}

// Close rolls back unless the transaction was committed. It is idempotent.
func (w *WriteTrx) Close() error {
	if w.wtx.IsClosed() {
		_ = w.Cursor.Close()
		return nil
	}
	return w.Rollback()
}
