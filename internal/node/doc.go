package node

// DocNode is a non-root record of the document tree.
type DocNode struct {
	Structure
	NodeKind Kind
	Name     NameKeys
	// PathNodeKey links named records to their path summary entry.
	PathNodeKey Key
	Value       []byte
	Attributes  []Key
	Namespaces  []Key
}

// NewDocNode returns an unlinked document record.
func NewDocNode(key Key, kind Kind) *DocNode {
	return &DocNode{
		Structure:   NewStructure(key),
		NodeKind:    kind,
		Name:        NoNameKeys,
		PathNodeKey: NullKey,
	}
}

func (d *DocNode) Kind() Kind         { return d.NodeKind }
func (d *DocNode) NameKeys() NameKeys { return d.Name }

func (d *DocNode) Clone() Record {
	c := *d
	if d.Value != nil {
		c.Value = append([]byte(nil), d.Value...)
	}
	c.Attributes = append([]Key(nil), d.Attributes...)
	c.Namespaces = append([]Key(nil), d.Namespaces...)
	return &c
}
