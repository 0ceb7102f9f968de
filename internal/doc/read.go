// Package doc provides read and write transactions over the document tree.
package doc

import (
	"errors"
	"fmt"
	"time"

	"github.com/agentic-research/arbor/internal/node"
	"github.com/agentic-research/arbor/internal/page"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/rs/zerolog"
)

var (
	// ErrUnsupported is returned by accessors that have no meaning for the
	// kind of the current node.
	ErrUnsupported = errors.New("operation not supported for node kind")
	// ErrInvalidInsert is returned when a node kind cannot be inserted at
	// the requested position.
	ErrInvalidInsert = errors.New("invalid insert")
)

// ReadTrx is a cursor over the document tree of one revision.
type ReadTrx struct {
	*tree.Cursor

	trx     page.ReadTrx
	ownsTrx bool
	log     zerolog.Logger
}

// Option configures a transaction.
type Option func(*options)

type options struct {
	log      zerolog.Logger
	onCommit func(revision int)
}

// WithLogger sets the logger used for storage faults.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// OnCommit registers fn to run after a write transaction commits.
func OnCommit(fn func(revision int)) Option {
	return func(o *options) { o.onCommit = fn }
}

func buildOptions(opts []Option) options {
	o := options{log: zerolog.Nop(), onCommit: func(int) {}}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// NewReadTrx opens the document of trx's revision, positioned at the
// document root. The returned transaction closes trx on Close.
func NewReadTrx(trx page.ReadTrx, opts ...Option) (*ReadTrx, error) {
	r, err := newReadTrx(trx, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	r.ownsTrx = true
	return r, nil
}

func newReadTrx(trx page.ReadTrx, o options) (*ReadTrx, error) {
	r := &ReadTrx{trx: trx, log: o.log}
	root, err := r.fetch(node.DocumentRootKey)
	if err != nil {
		return nil, fmt.Errorf("document root at revision %d: %w", trx.RevisionNumber(), err)
	}
	r.Cursor = tree.NewCursor(tree.FetcherFunc(r.fetch), root, node.DocumentRootKey, o.log)
	return r, nil
}

func (r *ReadTrx) fetch(key node.Key) (node.StructNode, error) {
	rec, err := r.trx.Record(key, page.DocumentIndex)
	if err != nil {
		return nil, err
	}
	n, ok := rec.(node.StructNode)
	if !ok {
		return nil, fmt.Errorf("document record %d has kind %s: %w", key, rec.Kind(), tree.ErrInvalidState)
	}
	return n, nil
}

func (r *ReadTrx) docNode() *node.DocNode {
	d, _ := r.Node().(*node.DocNode)
	return d
}

func (r *ReadTrx) Kind() node.Kind { return r.Node().Kind() }

// Name resolves the name of the current node. Unnamed kinds have the zero
// QName.
func (r *ReadTrx) Name() (node.QName, error) {
	d := r.docNode()
	if d == nil || !d.NodeKind.HasName() {
		return node.QName{}, nil
	}
	return page.ResolveQName(r.trx, d.Name, d.NodeKind)
}

// Value returns the value of text-like and atomic nodes.
func (r *ReadTrx) Value() (string, error) {
	d := r.docNode()
	if d == nil || !d.NodeKind.HasValue() {
		return "", fmt.Errorf("value of %s: %w", r.Kind(), ErrUnsupported)
	}
	return string(d.Value), nil
}

// PathNodeKey is the path summary key of the current node: the summary
// root for the document root and NullKey for kinds without a path.
func (r *ReadTrx) PathNodeKey() node.Key {
	if d := r.docNode(); d != nil {
		return d.PathNodeKey
	}
	return node.DocumentRootKey
}

func (r *ReadTrx) AttributeKeys() []node.Key {
	if d := r.docNode(); d != nil {
		return append([]node.Key(nil), d.Attributes...)
	}
	return nil
}

func (r *ReadTrx) NamespaceKeys() []node.Key {
	if d := r.docNode(); d != nil {
		return append([]node.Key(nil), d.Namespaces...)
	}
	return nil
}

func (r *ReadTrx) AttributeCount() int { return len(r.AttributeKeys()) }
func (r *ReadTrx) NamespaceCount() int { return len(r.NamespaceKeys()) }

// MoveToAttribute moves to the i-th attribute of the current element.
func (r *ReadTrx) MoveToAttribute(i int) (bool, error) {
	keys := r.AttributeKeys()
	if i < 0 || i >= len(keys) {
		return false, nil
	}
	return r.MoveTo(keys[i])
}

// MoveToAttributeByName moves to the attribute of the current element
// named q.
func (r *ReadTrx) MoveToAttributeByName(q node.QName) (bool, error) {
	for _, k := range r.AttributeKeys() {
		rec, err := r.fetch(k)
		if err != nil {
			r.log.Warn().Err(err).Int64("key", int64(k)).Msg("attribute unavailable")
			continue
		}
		a, ok := rec.(*node.DocNode)
		if !ok {
			continue
		}
		name, err := page.ResolveQName(r.trx, a.Name, node.Attribute)
		if err != nil {
			return false, err
		}
		if name == q {
			return r.MoveTo(k)
		}
	}
	return false, nil
}

// MoveToNamespace moves to the i-th namespace of the current element.
func (r *ReadTrx) MoveToNamespace(i int) (bool, error) {
	keys := r.NamespaceKeys()
	if i < 0 || i >= len(keys) {
		return false, nil
	}
	return r.MoveTo(keys[i])
}

func (r *ReadTrx) RevisionNumber() int {
	r.Node()
	return r.trx.RevisionNumber()
}

func (r *ReadTrx) RevisionTimestamp() time.Time {
	r.Node()
	return r.trx.RevisionTimestamp()
}

func (r *ReadTrx) MaxNodeKey() node.Key {
	r.Node()
	return r.trx.MaxNodeKey(page.DocumentIndex)
}

// Close is idempotent.
func (r *ReadTrx) Close() error {
	if r.IsClosed() {
		return nil
	}
	_ = r.Cursor.Close()
	if r.ownsTrx && !r.trx.IsClosed() {
		return r.trx.Close()
	}
	return nil
}
