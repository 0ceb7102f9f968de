// Package tree implements structural navigation shared by every tree kept in
// a revision: the document tree and the path summary. A Cursor only sees
// parent, child and sibling links, so axes and visitors written against
// Navigator work unmodified over either tree.
package tree

import (
	"errors"
	"fmt"

	"github.com/agentic-research/arbor/internal/node"
	"github.com/agentic-research/arbor/internal/page"
	"github.com/rs/zerolog"
)

var (
	// ErrClosed is returned (or panicked with, for pure accessors) when a
	// closed cursor is used.
	ErrClosed = errors.New("cursor closed")
	// ErrInvalidState reports a violated tree-shape assumption.
	ErrInvalidState = errors.New("invalid tree state")
)

// Fetcher resolves the structural record stored under key. It returns an
// error wrapping page.ErrNotFound when the key is not part of the tree.
type Fetcher interface {
	Fetch(key node.Key) (node.StructNode, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(key node.Key) (node.StructNode, error)

func (f FetcherFunc) Fetch(key node.Key) (node.StructNode, error) { return f(key) }

// Navigator is the navigation contract implemented by document and path
// summary transactions.
type Navigator interface {
	NodeKey() node.Key
	FirstChildKey() node.Key
	RightSiblingKey() node.Key
	MoveTo(key node.Key) (bool, error)
	MoveToDocumentRoot() (bool, error)
	MoveToParent() (bool, error)
	MoveToFirstChild() (bool, error)
	MoveToLastChild() (bool, error)
	MoveToLeftSibling() (bool, error)
	MoveToRightSibling() (bool, error)
	MoveToNext() (bool, error)
	MoveToPrevious() (bool, error)
	MoveToNextFollowing() (bool, error)
	HasFirstChild() bool
	HasRightSibling() bool
	HasParent() bool
}

// Cursor is a movable position over one tree at one revision. It is not
// safe for concurrent use.
type Cursor struct {
	fetch  Fetcher
	root   node.Key
	cur    node.StructNode
	closed bool
	log    zerolog.Logger
}

// NewCursor returns a cursor positioned at start. root is the key
// MoveToDocumentRoot returns to.
func NewCursor(f Fetcher, start node.StructNode, root node.Key, log zerolog.Logger) *Cursor {
	return &Cursor{fetch: f, root: root, cur: start, log: log}
}

func (c *Cursor) assertOpen() {
	if c.closed {
		panic(ErrClosed)
	}
}

// Node returns the record under the cursor.
func (c *Cursor) Node() node.StructNode {
	c.assertOpen()
	return c.cur
}

func (c *Cursor) NodeKey() node.Key {
	c.assertOpen()
	return c.cur.NodeKey()
}

func (c *Cursor) ParentKey() node.Key       { return c.Node().Struct().Parent }
func (c *Cursor) FirstChildKey() node.Key   { return c.Node().Struct().FirstChild }
func (c *Cursor) LeftSiblingKey() node.Key  { return c.Node().Struct().LeftSibling }
func (c *Cursor) RightSiblingKey() node.Key { return c.Node().Struct().RightSibling }
func (c *Cursor) ChildCount() int64         { return c.Node().Struct().ChildCount }
func (c *Cursor) DescendantCount() int64    { return c.Node().Struct().DescendantCount }
func (c *Cursor) Hash() uint64              { return c.Node().Struct().Hash }
func (c *Cursor) TypeKey() int32            { return c.Node().Struct().TypeKey }

func (c *Cursor) HasParent() bool       { return c.Node().Struct().HasParent() }
func (c *Cursor) HasFirstChild() bool   { return c.Node().Struct().HasFirstChild() }
func (c *Cursor) HasLeftSibling() bool  { return c.Node().Struct().HasLeftSibling() }
func (c *Cursor) HasRightSibling() bool { return c.Node().Struct().HasRightSibling() }

// MoveTo repositions the cursor at key. A missing key or a storage fault
// leaves the position unchanged and reports false; faults are logged.
func (c *Cursor) MoveTo(key node.Key) (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	if key == node.NullKey {
		return false, nil
	}
	n, err := c.fetch.Fetch(key)
	if err != nil {
		if !errors.Is(err, page.ErrNotFound) {
			c.log.Warn().Err(err).Int64("key", int64(key)).Msg("node unavailable")
		}
		return false, nil
	}
	if n == nil {
		return false, nil
	}
	c.cur = n
	return true, nil
}

// Refresh re-reads the current node, picking up modifications made through
// a write transaction over the same tree.
func (c *Cursor) Refresh() error {
	if c.closed {
		return ErrClosed
	}
	n, err := c.fetch.Fetch(c.cur.NodeKey())
	if err != nil {
		return fmt.Errorf("refresh node %d: %w", c.cur.NodeKey(), err)
	}
	c.cur = n
	return nil
}

func (c *Cursor) MoveToDocumentRoot() (bool, error) { return c.MoveTo(c.root) }

func (c *Cursor) MoveToParent() (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	return c.MoveTo(c.cur.Struct().Parent)
}

func (c *Cursor) MoveToFirstChild() (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	return c.MoveTo(c.cur.Struct().FirstChild)
}

func (c *Cursor) MoveToLeftSibling() (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	return c.MoveTo(c.cur.Struct().LeftSibling)
}

func (c *Cursor) MoveToRightSibling() (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	return c.MoveTo(c.cur.Struct().RightSibling)
}

// MoveToLastChild walks the right-sibling chain from the first child. If
// the chain breaks the cursor returns to where it started.
func (c *Cursor) MoveToLastChild() (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	start := c.cur
	moved, err := c.MoveToFirstChild()
	if err != nil || !moved {
		return moved, err
	}
	for c.cur.Struct().HasRightSibling() {
		moved, err := c.MoveToRightSibling()
		if err != nil {
			return false, err
		}
		if !moved {
			c.cur = start
			return false, nil
		}
	}
	return true, nil
}

// HasLastChild reports whether the current node has a reachable last child.
// The position is unchanged.
func (c *Cursor) HasLastChild() (bool, error) {
	key, err := c.LastChildKey()
	if err != nil {
		return false, err
	}
	return key != node.NullKey, nil
}

// LastChildKey returns the key of the last child, or node.NullKey. The
// position is unchanged.
func (c *Cursor) LastChildKey() (node.Key, error) {
	if c.closed {
		return node.NullKey, ErrClosed
	}
	start := c.cur
	defer func() { c.cur = start }()
	moved, err := c.MoveToLastChild()
	if err != nil || !moved {
		return node.NullKey, err
	}
	return c.cur.NodeKey(), nil
}

// MoveToNext steps forward in pre-order.
func (c *Cursor) MoveToNext() (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	if c.cur.Struct().HasFirstChild() {
		moved, err := c.MoveToFirstChild()
		if err != nil || moved {
			return moved, err
		}
	}
	return c.MoveToNextFollowing()
}

// MoveToNextFollowing moves to the next node in pre-order that is not a
// descendant of the current one. At the end of the tree the position is
// unchanged.
func (c *Cursor) MoveToNextFollowing() (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	start := c.cur
	for !c.cur.Struct().HasRightSibling() && c.cur.Struct().HasParent() {
		moved, err := c.MoveToParent()
		if err != nil {
			return false, err
		}
		if !moved {
			break
		}
	}
	moved, err := c.MoveToRightSibling()
	if err != nil {
		return false, err
	}
	if !moved {
		c.cur = start
	}
	return moved, nil
}

// MoveToPrevious steps backward in pre-order: to the rightmost descendant
// of the left sibling if there is one, otherwise to the parent.
func (c *Cursor) MoveToPrevious() (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	if c.cur.Struct().HasLeftSibling() {
		moved, err := c.MoveToLeftSibling()
		if err != nil || !moved {
			return moved, err
		}
		for c.cur.Struct().HasFirstChild() {
			moved, err := c.MoveToLastChild()
			if err != nil {
				return false, err
			}
			if !moved {
				break
			}
		}
		return true, nil
	}
	return c.MoveToParent()
}

// Close is idempotent.
func (c *Cursor) Close() error {
	c.closed = true
	return nil
}

func (c *Cursor) IsClosed() bool { return c.closed }
