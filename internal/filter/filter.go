// Package filter holds the predicates evaluated by the temporal filtering
// axis. Each one inspects the node a snapshot is positioned on.
package filter

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/arbor/internal/axis"
	"github.com/agentic-research/arbor/internal/node"
	"github.com/agentic-research/arbor/internal/pathsummary"
	"github.com/ohler55/ojg/jp"
)

// Func adapts a function to axis.Filter.
type Func func(s axis.Snapshot) (bool, error)

func (f Func) Filter(s axis.Snapshot) (bool, error) { return f(s) }

// Kinds accepts nodes of any of the given kinds.
func Kinds(kinds ...node.Kind) axis.Filter {
	set := make(map[node.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return Func(func(s axis.Snapshot) (bool, error) {
		_, ok := set[s.Kind()]
		return ok, nil
	})
}

// LocalName accepts named nodes whose local name is name, in any namespace.
func LocalName(name string) axis.Filter {
	return Func(func(s axis.Snapshot) (bool, error) {
		if !s.Kind().HasName() {
			return false, nil
		}
		q, err := s.Name()
		if err != nil {
			return false, err
		}
		return q.Local == name, nil
	})
}

// Name accepts nodes whose qualified name equals q.
func Name(q node.QName) axis.Filter {
	return Func(func(s axis.Snapshot) (bool, error) {
		if !s.Kind().HasName() {
			return false, nil
		}
		got, err := s.Name()
		if err != nil {
			return false, err
		}
		return got == q, nil
	})
}

// Value accepts value-bearing nodes whose value equals v. Nodes without a
// value are rejected.
func Value(v string) axis.Filter {
	return Func(func(s axis.Snapshot) (bool, error) {
		if !s.Kind().HasValue() {
			return false, nil
		}
		got, err := s.Value()
		if err != nil {
			return false, err
		}
		return got == v, nil
	})
}

// PathClass accepts nodes whose path summary key is in keys, typically the
// result of pathsummary.Reader.PCRsForPath.
func PathClass(keys *roaring.Bitmap) axis.Filter {
	return Func(func(s axis.Snapshot) (bool, error) {
		k := s.PathNodeKey()
		if k < 0 || k > 1<<32-1 {
			return false, nil
		}
		return keys.Contains(uint32(k)), nil
	})
}

// SummaryOpener opens the path summary of one revision.
type SummaryOpener func(revision int) (*pathsummary.Reader, error)

// Path accepts nodes on a path matched by the JSONPath-style expression
// expr. Path node keys are not stable across revisions, so expr is resolved
// against the summary of each snapshot's own revision. Resolved keys are
// cached per revision for the life of the filter.
func Path(expr string, open SummaryOpener) (axis.Filter, error) {
	if _, err := jp.ParseString(expr); err != nil {
		return nil, fmt.Errorf("parse path %q: %w", expr, err)
	}
	resolved := make(map[int]axis.Filter)
	return Func(func(s axis.Snapshot) (bool, error) {
		rev := s.RevisionNumber()
		f, ok := resolved[rev]
		if !ok {
			ps, err := open(rev)
			if err != nil {
				return false, err
			}
			keys, err := ps.PCRsForPath(expr)
			_ = ps.Close()
			if err != nil {
				return false, err
			}
			f = PathClass(keys)
			resolved[rev] = f
		}
		return f.Filter(s)
	}), nil
}

// Not inverts f. Errors pass through.
func Not(f axis.Filter) axis.Filter {
	return Func(func(s axis.Snapshot) (bool, error) {
		ok, err := f.Filter(s)
		return !ok && err == nil, err
	})
}
