package page

import (
	"fmt"

	"github.com/agentic-research/arbor/internal/node"
	"github.com/cespare/xxhash/v2"
)

// NameKey returns the preferred interned key for name. CreateName probes
// upwards from it on collision, so callers resolve keys through the store
// rather than recomputing them.
func NameKey(name string) int32 {
	return int32(xxhash.Sum64String(name) & 0x7fffffff)
}

type nameEntry struct {
	Name  string
	Count int
}

func nameID(key int32, kind node.Kind) uint64 {
	return uint64(kind)<<32 | uint64(uint32(key))
}

type nameLookup func(id uint64) (nameEntry, bool, error)

// internName finds the slot for name, starting at NameKey(name), and
// returns the key plus the updated entry to store.
func internName(name string, kind node.Kind, lookup nameLookup) (int32, nameEntry, error) {
	key := NameKey(name)
	for probes := 0; probes < 1<<16; probes++ {
		e, ok, err := lookup(nameID(key, kind))
		if err != nil {
			return 0, nameEntry{}, err
		}
		if !ok || e.Count == 0 {
			return key, nameEntry{Name: name, Count: 1}, nil
		}
		if e.Name == name {
			e.Count++
			return key, e, nil
		}
		key = (key + 1) & 0x7fffffff
	}
	return 0, nameEntry{}, fmt.Errorf("name table full around %q", name)
}

func releaseName(key int32, kind node.Kind, lookup nameLookup) (nameEntry, error) {
	e, ok, err := lookup(nameID(key, kind))
	if err != nil {
		return nameEntry{}, err
	}
	if !ok || e.Count == 0 {
		return nameEntry{}, fmt.Errorf("release name %d (%s): %w", key, kind, ErrNotFound)
	}
	e.Count--
	return e, nil
}

// ResolveQName resolves interned name keys. The URI is interned under the
// namespace kind, prefix and local name under kind. NoName parts stay empty.
func ResolveQName(trx ReadTrx, keys node.NameKeys, kind node.Kind) (node.QName, error) {
	var q node.QName
	part := func(key int32, k node.Kind, dst *string) error {
		if key == node.NoName {
			return nil
		}
		s, err := trx.Name(key, k)
		if err != nil {
			return fmt.Errorf("resolve name %d: %w", key, err)
		}
		*dst = s
		return nil
	}
	if err := part(keys.URI, node.Namespace, &q.URI); err != nil {
		return q, err
	}
	if err := part(keys.Prefix, kind, &q.Prefix); err != nil {
		return q, err
	}
	if err := part(keys.Local, kind, &q.Local); err != nil {
		return q, err
	}
	return q, nil
}

// InternQName interns every non-empty part of q, the counterpart of
// ResolveQName.
func InternQName(wtx WriteTrx, q node.QName, kind node.Kind) (node.NameKeys, error) {
	keys := node.NoNameKeys
	var err error
	if q.URI != "" {
		if keys.URI, err = wtx.CreateName(q.URI, node.Namespace); err != nil {
			return keys, err
		}
	}
	if q.Prefix != "" {
		if keys.Prefix, err = wtx.CreateName(q.Prefix, kind); err != nil {
			return keys, err
		}
	}
	if q.Local != "" {
		if keys.Local, err = wtx.CreateName(q.Local, kind); err != nil {
			return keys, err
		}
	}
	return keys, nil
}

// ReleaseQName drops one use of each part interned by InternQName.
func ReleaseQName(wtx WriteTrx, keys node.NameKeys, kind node.Kind) error {
	if keys.URI != node.NoName {
		if err := wtx.RemoveName(keys.URI, node.Namespace); err != nil {
			return err
		}
	}
	if keys.Prefix != node.NoName {
		if err := wtx.RemoveName(keys.Prefix, kind); err != nil {
			return err
		}
	}
	if keys.Local != node.NoName {
		if err := wtx.RemoveName(keys.Local, kind); err != nil {
			return err
		}
	}
	return nil
}
