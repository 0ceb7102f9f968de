// Package pathsummary maintains the path summary of a document tree: a trie
// holding one node per distinct root-to-node path, each counting the live
// document records that share it.
//
// A Reader is bound to one page transaction. It navigates like a document
// cursor and keeps an in-memory key -> node mapping of the whole summary,
// built once on open. A Writer owns the only Reader that is ever mutated and
// keeps that mapping current on every insert and removal.
package pathsummary

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentic-research/arbor/internal/axis"
	"github.com/agentic-research/arbor/internal/node"
	"github.com/agentic-research/arbor/internal/page"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/rs/zerolog"
)

// ErrRootUnavailable is returned when the summary root cannot be fetched.
// It indicates corrupted persisted state.
var ErrRootUnavailable = errors.New("path summary root unavailable")

// Reader is a read-only cursor over the path summary of one revision.
type Reader struct {
	*tree.Cursor

	trx     page.ReadTrx
	store   page.Store
	ownsTrx bool
	mapping map[node.Key]node.StructNode
	log     zerolog.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger used for storage faults.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Reader) { r.log = l }
}

// Open returns a reader positioned at the summary root. The reader takes
// ownership of trx and closes it on Close, or before returning an error.
// store is used by CloneInstance.
func Open(trx page.ReadTrx, store page.Store, opts ...Option) (*Reader, error) {
	r, err := open(trx, store, opts...)
	if err != nil {
		_ = trx.Close()
		return nil, err
	}
	r.ownsTrx = true
	return r, nil
}

func open(trx page.ReadTrx, store page.Store, opts ...Option) (*Reader, error) {
	r := &Reader{
		trx:     trx,
		store:   store,
		mapping: make(map[node.Key]node.StructNode),
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(r)
	}

	root, err := r.fetch(node.DocumentRootKey)
	if err != nil {
		r.log.Error().Err(err).Int("revision", trx.RevisionNumber()).Msg("path summary root unavailable")
		return nil, fmt.Errorf("revision %d: %w: %w", trx.RevisionNumber(), ErrRootUnavailable, err)
	}
	r.Cursor = tree.NewCursor(tree.FetcherFunc(r.fetch), root, node.DocumentRootKey, r.log)

	it := axis.NewDescendant(r, axis.IncludeSelf)
	for it.Next() {
		r.mapping[it.Key()] = r.Node()
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("build path summary mapping: %w", err)
	}
	if _, err := r.MoveToDocumentRoot(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) fetch(key node.Key) (node.StructNode, error) {
	rec, err := r.trx.Record(key, page.PathSummaryIndex)
	if err != nil {
		return nil, err
	}
	n, ok := rec.(node.StructNode)
	if !ok {
		return nil, fmt.Errorf("path summary record %d has kind %s: %w", key, rec.Kind(), tree.ErrInvalidState)
	}
	return n, nil
}

// putMapping and removeMapping are the only ways the mapping changes after
// open. Only Writer calls them.
func (r *Reader) putMapping(key node.Key, n node.StructNode) {
	r.mapping[key] = n
}

func (r *Reader) removeMapping(key node.Key) node.StructNode {
	n := r.mapping[key]
	delete(r.mapping, key)
	return n
}

// PathNodeForKey returns the cached node for key without moving the cursor.
// The root is returned as a *node.DocumentRoot.
func (r *Reader) PathNodeForKey(key node.Key) (node.StructNode, bool) {
	r.Node()
	n, ok := r.mapping[key]
	return n, ok
}

// MappingSize is the number of nodes in the summary, root included.
func (r *Reader) MappingSize() int {
	r.Node()
	return len(r.mapping)
}

// PathNode returns the current path node, or nil at the root.
func (r *Reader) PathNode() *node.PathNode {
	p, _ := r.Node().(*node.PathNode)
	return p
}

// Kind is Document at the root and Path everywhere else.
func (r *Reader) Kind() node.Kind { return r.Node().Kind() }

// PathKind is the kind of document record the current path step stands for.
func (r *Reader) PathKind() node.Kind {
	if p := r.PathNode(); p != nil {
		return p.PathKind
	}
	return node.Unknown
}

func (r *Reader) ParentKind() node.Kind {
	switch r.ParentKey() {
	case node.DocumentRootKey:
		return node.Document
	case node.NullKey:
		return node.Unknown
	}
	return node.Path
}

// Level is 0 for the root.
func (r *Reader) Level() int {
	if p := r.PathNode(); p != nil {
		return p.Level
	}
	return 0
}

// References is 1 for the root, which stands for the document itself.
func (r *Reader) References() int64 {
	if p := r.PathNode(); p != nil {
		return p.References
	}
	return 1
}

func (r *Reader) nameKeys() node.NameKeys {
	if p := r.PathNode(); p != nil {
		return p.Name
	}
	return node.NoNameKeys
}

func (r *Reader) URIKey() int32       { return r.nameKeys().URI }
func (r *Reader) PrefixKey() int32    { return r.nameKeys().Prefix }
func (r *Reader) LocalNameKey() int32 { return r.nameKeys().Local }

// Name resolves the current node's name. The root has the zero QName.
func (r *Reader) Name() (node.QName, error) {
	p := r.PathNode()
	if p == nil {
		return node.QName{}, nil
	}
	return page.ResolveQName(r.trx, p.Name, p.PathKind)
}

// NameForKey resolves key under the current path kind. It returns "" at
// the root or when the key is unknown.
func (r *Reader) NameForKey(key int32) string {
	p := r.PathNode()
	if p == nil {
		return ""
	}
	s, err := r.trx.Name(key, p.PathKind)
	if err != nil {
		return ""
	}
	return s
}

// KeyForName returns the preferred name key of name.
func (r *Reader) KeyForName(name string) int32 {
	r.Node()
	return page.NameKey(name)
}

// NameCount returns how many records use name under kind.
func (r *Reader) NameCount(name string, kind node.Kind) int {
	r.Node()
	return r.trx.NameCount(page.NameKey(name), kind)
}

// HasNode reports whether key exists in this revision. The position is
// unchanged.
func (r *Reader) HasNode(key node.Key) bool {
	start := r.NodeKey()
	moved, err := r.MoveTo(key)
	if err != nil || !moved {
		return false
	}
	_, _ = r.MoveTo(start)
	return true
}

func (r *Reader) MaxNodeKey() node.Key {
	r.Node()
	return r.trx.MaxNodeKey(page.PathSummaryIndex)
}

func (r *Reader) RevisionNumber() int {
	r.Node()
	return r.trx.RevisionNumber()
}

func (r *Reader) RevisionTimestamp() time.Time {
	r.Node()
	return r.trx.RevisionTimestamp()
}

// Store returns the store the reader was opened from.
func (r *Reader) Store() page.Store {
	r.Node()
	return r.store
}

// CloneInstance opens an independent reader on a fresh transaction at the
// same revision, positioned at the same node.
func (r *Reader) CloneInstance() (*Reader, error) {
	key := r.NodeKey()
	if r.store == nil {
		return nil, fmt.Errorf("clone path summary: no owning store: %w", tree.ErrInvalidState)
	}
	trx, err := r.store.BeginReadTrx(r.trx.RevisionNumber())
	if err != nil {
		return nil, fmt.Errorf("clone path summary: %w", err)
	}
	clone, err := Open(trx, r.store, WithLogger(r.log))
	if err != nil {
		return nil, err
	}
	if _, err := clone.MoveTo(key); err != nil {
		_ = clone.Close()
		return nil, err
	}
	return clone, nil
}

// Close releases the page transaction if the reader owns it. It is
// idempotent.
func (r *Reader) Close() error {
	if r.IsClosed() {
		return nil
	}
	_ = r.Cursor.Close()
	if r.ownsTrx && !r.trx.IsClosed() {
		return r.trx.Close()
	}
	return nil
}

func (r *Reader) String() string {
	if r.IsClosed() {
		return "pathsummary.Reader{closed}"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "pathsummary.Reader{revision=%d key=%d", r.trx.RevisionNumber(), r.NodeKey())
	if p := r.PathNode(); p != nil {
		q, err := r.Name()
		if err == nil {
			fmt.Fprintf(&b, " name=%s", q)
		}
		fmt.Fprintf(&b, " kind=%s level=%d references=%d", p.PathKind, p.Level, p.References)
	}
	b.WriteString("}")
	return b.String()
}
