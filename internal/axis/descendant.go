// Package axis provides iterators over tree positions and over the history
// of a node across revisions.
package axis

import (
	"fmt"

	"github.com/agentic-research/arbor/internal/node"
	"github.com/agentic-research/arbor/internal/tree"
)

// Self controls whether an axis yields its starting point.
type Self bool

const (
	IncludeSelf Self = true
	ExcludeSelf Self = false
)

// Descendant walks the subtree below the navigator's current node in
// pre-order. The navigator is positioned at each yielded node and returned
// to the start node once the walk ends.
type Descendant struct {
	nav   tree.Navigator
	start node.Key
	self  Self
	first bool
	stack []node.Key
	key   node.Key
	done  bool
	err   error
}

func NewDescendant(nav tree.Navigator, self Self) *Descendant {
	return &Descendant{
		nav:   nav,
		start: nav.NodeKey(),
		self:  self,
		first: true,
		key:   nav.NodeKey(),
	}
}

// Next advances to the next descendant.
func (d *Descendant) Next() bool {
	if d.done {
		return false
	}
	if d.first {
		d.first = false
		if d.self {
			return d.moveTo(d.start)
		}
	}
	if d.nav.NodeKey() != d.key {
		if !d.moveTo(d.key) {
			return false
		}
	}

	var next node.Key
	switch {
	case d.nav.HasFirstChild():
		if d.key != d.start && d.nav.HasRightSibling() {
			d.stack = append(d.stack, d.nav.RightSiblingKey())
		}
		next = d.nav.FirstChildKey()
	case d.key != d.start && d.nav.HasRightSibling():
		next = d.nav.RightSiblingKey()
	case len(d.stack) > 0:
		next = d.stack[len(d.stack)-1]
		d.stack = d.stack[:len(d.stack)-1]
	default:
		d.finish()
		return false
	}
	return d.moveTo(next)
}

func (d *Descendant) moveTo(key node.Key) bool {
	moved, err := d.nav.MoveTo(key)
	if err != nil {
		d.err = err
		d.done = true
		return false
	}
	if !moved {
		d.err = fmt.Errorf("descendant %d of %d unreachable: %w", key, d.start, tree.ErrInvalidState)
		d.finish()
		return false
	}
	d.key = key
	return true
}

func (d *Descendant) finish() {
	d.done = true
	_, _ = d.nav.MoveTo(d.start)
}

// Key is the node key of the current position.
func (d *Descendant) Key() node.Key { return d.key }

// Err reports a failure that ended the walk early.
func (d *Descendant) Err() error { return d.err }
