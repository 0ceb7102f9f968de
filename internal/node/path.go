package node

import (
	"github.com/RoaringBitmap/roaring/roaring64"
)

// PathNode is one entry of the path summary: a distinct root-to-node path.
type PathNode struct {
	Structure
	Name     NameKeys
	PathKind Kind
	// Level is the depth below the path summary root (root = 0).
	Level int
	// References counts live document records whose path is this path.
	References int64
	// Nodes holds the keys of those document records.
	Nodes *roaring64.Bitmap
}

// NewPathNode returns an unlinked path node.
func NewPathNode(key Key, name NameKeys, kind Kind, level int) *PathNode {
	return &PathNode{
		Structure: NewStructure(key),
		Name:      name,
		PathKind:  kind,
		Level:     level,
		Nodes:     roaring64.New(),
	}
}

func (p *PathNode) Kind() Kind         { return Path }
func (p *PathNode) NameKeys() NameKeys { return p.Name }

func (p *PathNode) Clone() Record {
	c := *p
	if p.Nodes != nil {
		c.Nodes = p.Nodes.Clone()
	} else {
		c.Nodes = roaring64.New()
	}
	return &c
}

// SameStep reports whether p represents the path step (kind, name).
func (p *PathNode) SameStep(kind Kind, name NameKeys) bool {
	return p.PathKind == kind && p.Name == name
}
