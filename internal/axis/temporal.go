package axis

import (
	"fmt"

	"github.com/agentic-research/arbor/internal/node"
)

// Coordinate identifies one node as of one stored revision.
type Coordinate struct {
	Revision int
	NodeKey  node.Key
}

func (c Coordinate) String() string {
	return fmt.Sprintf("r%d/%d", c.Revision, c.NodeKey)
}

// Snapshot is a read-only document transaction bound to one revision.
type Snapshot interface {
	MoveTo(key node.Key) (bool, error)
	Kind() node.Kind
	Name() (node.QName, error)
	Value() (string, error)
	PathNodeKey() node.Key
	RevisionNumber() int
	Close() error
}

// Resource opens snapshots of one resource.
type Resource interface {
	BeginSnapshot(revision int) (Snapshot, error)
	MostRecentRevision() int
}

// Prober is implemented by resources that can tell whether a node exists
// in a revision without opening a snapshot. The built-in axes use it when
// available.
type Prober interface {
	NodeExists(revision int, key node.Key) (bool, error)
}

// TemporalAxis yields the coordinates of one logical node across revisions.
// It is single pass.
type TemporalAxis interface {
	Next() bool
	Coordinate() Coordinate
	// Err reports the failure that ended iteration, if any.
	Err() error
	// Resource is the resource the coordinates belong to.
	Resource() Resource
}

// temporal yields key in each of revs where the node exists, stopping after
// limit yields when limit > 0. revs is fixed at construction, so revisions
// committed during iteration are not observed.
type temporal struct {
	res   Resource
	key   node.Key
	revs  []int
	limit int

	pos     int
	yielded int
	cur     Coordinate
	err     error
}

func (t *temporal) Next() bool {
	if t.err != nil || (t.limit > 0 && t.yielded >= t.limit) {
		return false
	}
	for t.pos < len(t.revs) {
		rev := t.revs[t.pos]
		t.pos++
		ok, err := t.exists(rev)
		if err != nil {
			t.err = err
			return false
		}
		if ok {
			t.cur = Coordinate{Revision: rev, NodeKey: t.key}
			t.yielded++
			return true
		}
	}
	return false
}

func (t *temporal) exists(rev int) (bool, error) {
	if p, ok := t.res.(Prober); ok {
		return p.NodeExists(rev, t.key)
	}
	snap, err := t.res.BeginSnapshot(rev)
	if err != nil {
		return false, fmt.Errorf("open revision %d: %w", rev, err)
	}
	defer func() { _ = snap.Close() }()
	return snap.MoveTo(t.key)
}

func (t *temporal) Coordinate() Coordinate { return t.cur }
func (t *temporal) Err() error             { return t.err }
func (t *temporal) Resource() Resource     { return t.res }

func ascending(from, to int) []int {
	if from < 0 {
		from = 0
	}
	var revs []int
	for r := from; r <= to; r++ {
		revs = append(revs, r)
	}
	return revs
}

func descending(from, to int) []int {
	if to < 0 {
		to = 0
	}
	var revs []int
	for r := from; r >= to; r-- {
		revs = append(revs, r)
	}
	return revs
}

// AllTime yields key in every revision where it exists, oldest first.
func AllTime(res Resource, key node.Key) TemporalAxis {
	return &temporal{res: res, key: key, revs: ascending(0, res.MostRecentRevision())}
}

// Past yields key in the revisions before revision, newest first.
func Past(res Resource, revision int, key node.Key, self Self) TemporalAxis {
	from := revision - 1
	if self {
		from = revision
	}
	if latest := res.MostRecentRevision(); from > latest {
		from = latest
	}
	return &temporal{res: res, key: key, revs: descending(from, 0)}
}

// Future yields key in the revisions after revision, oldest first.
func Future(res Resource, revision int, key node.Key, self Self) TemporalAxis {
	from := revision + 1
	if self {
		from = revision
	}
	return &temporal{res: res, key: key, revs: ascending(from, res.MostRecentRevision())}
}

// First yields key in the oldest revision where it exists.
func First(res Resource, key node.Key) TemporalAxis {
	return &temporal{res: res, key: key, revs: ascending(0, res.MostRecentRevision()), limit: 1}
}

// Last yields key in the most recent revision where it exists.
func Last(res Resource, key node.Key) TemporalAxis {
	return &temporal{res: res, key: key, revs: descending(res.MostRecentRevision(), 0), limit: 1}
}

// Previous yields key in revision-1 if it exists there.
func Previous(res Resource, revision int, key node.Key) TemporalAxis {
	var revs []int
	if revision > 0 {
		revs = []int{revision - 1}
	}
	return &temporal{res: res, key: key, revs: revs}
}

// Next yields key in revision+1 if that revision exists and holds the node.
func Next(res Resource, revision int, key node.Key) TemporalAxis {
	var revs []int
	if revision+1 <= res.MostRecentRevision() {
		revs = []int{revision + 1}
	}
	return &temporal{res: res, key: key, revs: revs}
}
