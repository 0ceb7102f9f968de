// Package node defines the structural record shapes shared by the document
// tree and the path summary tree.
package node

import (
	"fmt"
	"strings"
)

// Key identifies a record within one index. Keys are stable across revisions.
type Key int64

const (
	// NullKey marks an absent parent, child or sibling link.
	NullKey Key = -1
	// DocumentRootKey is the key of the root of every tree.
	DocumentRootKey Key = 0
)

// NoName marks an absent interned name part.
const NoName int32 = -1

// Kind is the kind of a record.
type Kind uint8

const (
	Unknown Kind = iota
	Document
	Element
	Attribute
	Namespace
	Text
	Comment
	ProcessingInstruction
	Object
	Array
	ObjectKey
	StringValue
	NumberValue
	BooleanValue
	NullValue
	Path
)

var kindNames = [...]string{
	Unknown:               "unknown",
	Document:              "document",
	Element:               "element",
	Attribute:             "attribute",
	Namespace:             "namespace",
	Text:                  "text",
	Comment:               "comment",
	ProcessingInstruction: "processing-instruction",
	Object:                "object",
	Array:                 "array",
	ObjectKey:             "object-key",
	StringValue:           "string",
	NumberValue:           "number",
	BooleanValue:          "boolean",
	NullValue:             "null",
	Path:                  "path",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return Unknown, fmt.Errorf("unknown node kind %q", s)
}

// IsStructural reports whether records of this kind take part in the
// first-child/right-sibling chain.
func (k Kind) IsStructural() bool {
	switch k {
	case Unknown, Attribute, Namespace:
		return false
	}
	return true
}

// HasName reports whether records of this kind carry interned name keys.
func (k Kind) HasName() bool {
	switch k {
	case Element, Attribute, Namespace, ObjectKey, ProcessingInstruction:
		return true
	}
	return false
}

// HasValue reports whether records of this kind carry a raw value.
func (k Kind) HasValue() bool {
	switch k {
	case Attribute, Text, Comment, ProcessingInstruction, StringValue, NumberValue, BooleanValue, NullValue:
		return true
	}
	return false
}

// HasPath reports whether a document record of this kind owns a path
// summary node.
func (k Kind) HasPath() bool {
	switch k {
	case Element, Attribute, Namespace, ObjectKey, Array:
		return true
	}
	return false
}

// Structure holds the links and counters every tree record shares.
type Structure struct {
	Key             Key    `json:"key"`
	Parent          Key    `json:"parent"`
	FirstChild      Key    `json:"first_child"`
	LeftSibling     Key    `json:"left_sibling"`
	RightSibling    Key    `json:"right_sibling"`
	ChildCount      int64  `json:"child_count"`
	DescendantCount int64  `json:"descendant_count"`
	Hash            uint64 `json:"hash"`
	TypeKey         int32  `json:"type_key"`
}

// NewStructure returns an unlinked structure for key.
func NewStructure(key Key) Structure {
	return Structure{
		Key:          key,
		Parent:       NullKey,
		FirstChild:   NullKey,
		LeftSibling:  NullKey,
		RightSibling: NullKey,
		TypeKey:      NoName,
	}
}

func (s *Structure) NodeKey() Key          { return s.Key }
func (s *Structure) Struct() *Structure    { return s }
func (s *Structure) HasParent() bool       { return s.Parent != NullKey }
func (s *Structure) HasFirstChild() bool   { return s.FirstChild != NullKey }
func (s *Structure) HasLeftSibling() bool  { return s.LeftSibling != NullKey }
func (s *Structure) HasRightSibling() bool { return s.RightSibling != NullKey }

// Record is anything stored in an index.
type Record interface {
	NodeKey() Key
	Kind() Kind
	// Clone returns a deep copy; records handed across transaction
	// boundaries are never shared.
	Clone() Record
}

// StructNode is a record with tree links.
type StructNode interface {
	Record
	Struct() *Structure
}

// NameNode is a structural record that carries interned name keys.
type NameNode interface {
	StructNode
	NameKeys() NameKeys
}

// NameKeys are the interned handles of a qualified name.
type NameKeys struct {
	URI    int32 `json:"uri"`
	Prefix int32 `json:"prefix"`
	Local  int32 `json:"local"`
}

// NoNameKeys has every part absent.
var NoNameKeys = NameKeys{URI: NoName, Prefix: NoName, Local: NoName}

// QName is a resolved qualified name.
type QName struct {
	URI    string
	Prefix string
	Local  string
}

// LocalName returns a QName without namespace.
func LocalName(local string) QName { return QName{Local: local} }

// IsZero reports whether q is the empty name.
func (q QName) IsZero() bool { return q == QName{} }

func (q QName) String() string {
	if q.Prefix == "" {
		return q.Local
	}
	return q.Prefix + ":" + q.Local
}

// DocumentRoot is the root of both the document tree and the path summary.
type DocumentRoot struct {
	Structure
}

// NewDocumentRoot returns an unlinked root record.
func NewDocumentRoot() *DocumentRoot {
	return &DocumentRoot{Structure: NewStructure(DocumentRootKey)}
}

func (d *DocumentRoot) Kind() Kind { return Document }

func (d *DocumentRoot) Clone() Record {
	c := *d
	return &c
}
