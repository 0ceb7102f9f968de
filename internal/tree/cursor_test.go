package tree

import (
	"errors"
	"testing"

	"github.com/agentic-research/arbor/internal/node"
	"github.com/agentic-research/arbor/internal/page"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapTree links records from a child -> parent table. Siblings are linked
// in the order given.
type mapTree struct {
	nodes map[node.Key]node.StructNode
	fail  map[node.Key]error
}

func buildTree(parents map[node.Key]node.Key, order []node.Key) *mapTree {
	t := &mapTree{nodes: map[node.Key]node.StructNode{}, fail: map[node.Key]error{}}
	t.nodes[node.DocumentRootKey] = node.NewDocumentRoot()
	for _, k := range order {
		n := node.NewDocNode(k, node.Element)
		n.Parent = parents[k]
		t.nodes[k] = n
	}
	lastChild := map[node.Key]node.Key{}
	for _, k := range order {
		p := parents[k]
		ps := t.nodes[p].Struct()
		if prev, ok := lastChild[p]; ok {
			t.nodes[prev].Struct().RightSibling = k
			t.nodes[k].Struct().LeftSibling = prev
		} else {
			ps.FirstChild = k
		}
		ps.ChildCount++
		lastChild[p] = k
	}
	return t
}

func (t *mapTree) Fetch(key node.Key) (node.StructNode, error) {
	if err, ok := t.fail[key]; ok {
		return nil, err
	}
	n, ok := t.nodes[key]
	if !ok {
		return nil, page.ErrNotFound
	}
	return n, nil
}

//	0
//	├── 1
//	│   ├── 2
//	│   └── 3
//	└── 4
//	    └── 5
func sampleCursor(t *testing.T) (*Cursor, *mapTree) {
	t.Helper()
	tr := buildTree(
		map[node.Key]node.Key{1: 0, 2: 1, 3: 1, 4: 0, 5: 4},
		[]node.Key{1, 2, 3, 4, 5},
	)
	return NewCursor(tr, tr.nodes[0], node.DocumentRootKey, zerolog.Nop()), tr
}

// mustMove is used as mustMove(t)(c.MoveToX()).
func mustMove(t *testing.T) func(bool, error) {
	return func(moved bool, err error) {
		t.Helper()
		require.NoError(t, err)
		require.True(t, moved)
	}
}

func TestCursor_PreOrder(t *testing.T) {
	c, _ := sampleCursor(t)

	var visited []node.Key
	for {
		visited = append(visited, c.NodeKey())
		moved, err := c.MoveToNext()
		require.NoError(t, err)
		if !moved {
			break
		}
	}
	assert.Equal(t, []node.Key{0, 1, 2, 3, 4, 5}, visited)
	assert.Equal(t, node.Key(5), c.NodeKey(), "position kept at the end")

	var back []node.Key
	for {
		back = append(back, c.NodeKey())
		moved, err := c.MoveToPrevious()
		require.NoError(t, err)
		if !moved {
			break
		}
	}
	assert.Equal(t, []node.Key{5, 4, 3, 2, 1, 0}, back)
}

func TestCursor_PreviousThenNextRoundTrip(t *testing.T) {
	c, _ := sampleCursor(t)
	for _, k := range []node.Key{1, 2, 3, 4, 5} {
		mustMove(t)(c.MoveTo(k))
		mustMove(t)(c.MoveToPrevious())
		mustMove(t)(c.MoveToNext())
		assert.Equal(t, k, c.NodeKey())
	}
}

func TestCursor_SiblingsAndChildren(t *testing.T) {
	c, _ := sampleCursor(t)

	mustMove(t)(c.MoveToLastChild())
	assert.Equal(t, node.Key(4), c.NodeKey())

	mustMove(t)(c.MoveToLeftSibling())
	assert.Equal(t, node.Key(1), c.NodeKey())

	moved, err := c.MoveToLeftSibling()
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, node.Key(1), c.NodeKey())

	mustMove(t)(c.MoveToLastChild())
	assert.Equal(t, node.Key(3), c.NodeKey())
	moved, err = c.MoveToFirstChild()
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, node.Key(3), c.NodeKey())

	mustMove(t)(c.MoveToParent())
	mustMove(t)(c.MoveToParent())
	assert.Equal(t, node.DocumentRootKey, c.NodeKey())
	moved, err = c.MoveToParent()
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestCursor_NextFollowing(t *testing.T) {
	c, _ := sampleCursor(t)
	mustMove(t)(c.MoveTo(3))
	mustMove(t)(c.MoveToNextFollowing())
	assert.Equal(t, node.Key(4), c.NodeKey())

	mustMove(t)(c.MoveTo(5))
	moved, err := c.MoveToNextFollowing()
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, node.Key(5), c.NodeKey())
}

func TestCursor_LastChildKeyKeepsPosition(t *testing.T) {
	c, _ := sampleCursor(t)
	mustMove(t)(c.MoveTo(1))

	key, err := c.LastChildKey()
	require.NoError(t, err)
	assert.Equal(t, node.Key(3), key)
	assert.Equal(t, node.Key(1), c.NodeKey())

	mustMove(t)(c.MoveTo(2))
	has, err := c.HasLastChild()
	require.NoError(t, err)
	assert.False(t, has)
	assert.Equal(t, node.Key(2), c.NodeKey())
}

func TestCursor_StorageFaultDegradesToNotMoved(t *testing.T) {
	c, tr := sampleCursor(t)
	tr.fail[4] = errors.New("disk on fire")

	mustMove(t)(c.MoveTo(1))
	moved, err := c.MoveToRightSibling()
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, node.Key(1), c.NodeKey())

	moved, err = c.MoveTo(99)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, node.Key(1), c.NodeKey())
}

func TestCursor_Closed(t *testing.T) {
	c, _ := sampleCursor(t)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "close is idempotent")
	assert.True(t, c.IsClosed())

	_, err := c.MoveTo(1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.MoveToNext()
	assert.ErrorIs(t, err, ErrClosed)
	assert.PanicsWithValue(t, ErrClosed, func() { c.NodeKey() })
}
