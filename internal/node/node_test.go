package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_ParseRoundTrip(t *testing.T) {
	for _, k := range []Kind{Document, Element, Attribute, ObjectKey, Array, Path} {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("bogus")
	assert.Error(t, err)
}

func TestKind_Capabilities(t *testing.T) {
	assert.True(t, Element.HasPath())
	assert.True(t, Array.HasPath())
	assert.False(t, Text.HasPath())
	assert.False(t, Attribute.IsStructural())
	assert.True(t, Text.HasValue())
	assert.False(t, Element.HasValue())
	assert.True(t, ObjectKey.HasName())
}

func TestPathNode_CloneIsDeep(t *testing.T) {
	p := NewPathNode(3, NameKeys{URI: NoName, Prefix: NoName, Local: 7}, Element, 2)
	p.Nodes.Add(10)

	c := p.Clone().(*PathNode)
	c.Nodes.Add(11)
	c.References = 5
	c.FirstChild = 9

	assert.False(t, p.Nodes.Contains(11))
	assert.Equal(t, int64(0), p.References)
	assert.Equal(t, NullKey, p.FirstChild)
}

func TestCodec_PathNode(t *testing.T) {
	p := NewPathNode(4, NameKeys{URI: 1, Prefix: NoName, Local: 2}, Attribute, 3)
	p.Parent = 1
	p.References = 2
	p.Nodes.Add(40)
	p.Nodes.Add(41)

	data, err := Marshal(p)
	require.NoError(t, err)
	rec, err := Unmarshal(data)
	require.NoError(t, err)

	got, ok := rec.(*PathNode)
	require.True(t, ok)
	assert.Equal(t, p.Structure, got.Structure)
	assert.Equal(t, Attribute, got.PathKind)
	assert.Equal(t, int64(2), got.References)
	assert.Equal(t, []uint64{40, 41}, got.Nodes.ToArray())
}

func TestCodec_DocNodeKeepsKind(t *testing.T) {
	d := NewDocNode(5, Text)
	d.Parent = 2
	d.Value = []byte("hello")

	data, err := Marshal(d)
	require.NoError(t, err)
	rec, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, Text, rec.Kind())
	assert.Equal(t, []byte("hello"), rec.(*DocNode).Value)
}

func TestCodec_RejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	assert.Error(t, err)
}
