package node

import (
	"encoding/json"
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"
)

// envelope tags an encoded record with its kind so Unmarshal can pick the
// concrete type.
type envelope struct {
	Kind Kind            `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// pathWire is the persisted form of a PathNode; the document key bitmap is
// stored in roaring's portable serialization.
type pathWire struct {
	Structure
	Name       NameKeys `json:"name"`
	PathKind   Kind     `json:"path_kind"`
	Level      int      `json:"level"`
	References int64    `json:"references"`
	Nodes      []byte   `json:"nodes,omitempty"`
}

type docWire struct {
	Structure
	Name        NameKeys `json:"name"`
	PathNodeKey Key      `json:"path_node_key"`
	Value       []byte   `json:"value,omitempty"`
	Attributes  []Key    `json:"attributes,omitempty"`
	Namespaces  []Key    `json:"namespaces,omitempty"`
}

// Marshal encodes a record for a page store.
func Marshal(r Record) ([]byte, error) {
	var (
		body []byte
		err  error
	)
	switch v := r.(type) {
	case *DocumentRoot:
		body, err = json.Marshal(v.Structure)
	case *PathNode:
		w := pathWire{
			Structure:  v.Structure,
			Name:       v.Name,
			PathKind:   v.PathKind,
			Level:      v.Level,
			References: v.References,
		}
		if v.Nodes != nil && !v.Nodes.IsEmpty() {
			if w.Nodes, err = v.Nodes.MarshalBinary(); err != nil {
				return nil, fmt.Errorf("marshal path node %d bitmap: %w", v.Key, err)
			}
		}
		body, err = json.Marshal(w)
	case *DocNode:
		body, err = json.Marshal(docWire{
			Structure:   v.Structure,
			Name:        v.Name,
			PathNodeKey: v.PathNodeKey,
			Value:       v.Value,
			Attributes:  v.Attributes,
			Namespaces:  v.Namespaces,
		})
	default:
		return nil, fmt.Errorf("marshal: unsupported record type %T", r)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal record %d: %w", r.NodeKey(), err)
	}
	return json.Marshal(envelope{Kind: r.Kind(), Body: body})
}

// Unmarshal decodes a record produced by Marshal.
func Unmarshal(data []byte) (Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	switch env.Kind {
	case Document:
		root := &DocumentRoot{}
		if err := json.Unmarshal(env.Body, &root.Structure); err != nil {
			return nil, fmt.Errorf("unmarshal document root: %w", err)
		}
		return root, nil
	case Path:
		var w pathWire
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, fmt.Errorf("unmarshal path node: %w", err)
		}
		p := &PathNode{
			Structure:  w.Structure,
			Name:       w.Name,
			PathKind:   w.PathKind,
			Level:      w.Level,
			References: w.References,
			Nodes:      roaring64.New(),
		}
		if len(w.Nodes) > 0 {
			if err := p.Nodes.UnmarshalBinary(w.Nodes); err != nil {
				return nil, fmt.Errorf("unmarshal path node %d bitmap: %w", w.Key, err)
			}
		}
		return p, nil
	case Unknown:
		return nil, fmt.Errorf("unmarshal: record without kind")
	default:
		var w docWire
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, fmt.Errorf("unmarshal %s node: %w", env.Kind, err)
		}
		return &DocNode{
			Structure:   w.Structure,
			NodeKind:    env.Kind,
			Name:        w.Name,
			PathNodeKey: w.PathNodeKey,
			Value:       w.Value,
			Attributes:  w.Attributes,
			Namespaces:  w.Namespaces,
		}, nil
	}
}
