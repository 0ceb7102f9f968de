package page

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentic-research/arbor/internal/node"
	"github.com/tidwall/btree"
)

// memRevision is one published revision. Its maps are never mutated after
// publication; write transactions work on Copy()s, which share unchanged
// btree nodes with the revision they started from.
type memRevision struct {
	number    int
	timestamp time.Time
	records   [indexCount]*btree.Map[node.Key, node.Record]
	names     *btree.Map[uint64, nameEntry]
	maxKeys   [indexCount]node.Key
}

func (r *memRevision) copyForWrite(number int) *memRevision {
	next := &memRevision{
		number:  number,
		names:   r.names.Copy(),
		maxKeys: r.maxKeys,
	}
	for i := range r.records {
		next.records[i] = r.records[i].Copy()
	}
	return next
}

// MemStore is an in-memory Store. It is safe for concurrent use; at most one
// write transaction is active at a time.
type MemStore struct {
	mu        sync.RWMutex
	revisions []*memRevision
	writing   bool
	closed    bool
	now       func() time.Time
}

// MemOption configures a MemStore.
type MemOption func(*MemStore)

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) MemOption {
	return func(s *MemStore) { s.now = now }
}

// NewMemStore returns a store holding only the bootstrap revision 0.
func NewMemStore(opts ...MemOption) *MemStore {
	s := &MemStore{now: time.Now}
	for _, o := range opts {
		o(s)
	}
	rev := &memRevision{
		number:    0,
		timestamp: s.now(),
		names:     &btree.Map[uint64, nameEntry]{},
	}
	for i, root := range bootstrap() {
		m := &btree.Map[node.Key, node.Record]{}
		m.Set(root.NodeKey(), root)
		rev.records[i] = m
	}
	s.revisions = []*memRevision{rev}
	return s
}

func (s *MemStore) BeginReadTrx(revision int) (ReadTrx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if revision < 0 || revision >= len(s.revisions) {
		return nil, fmt.Errorf("revision %d: %w", revision, ErrRevisionNotFound)
	}
	return &memReadTrx{rev: s.revisions[revision]}, nil
}

func (s *MemStore) BeginWriteTrx() (WriteTrx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.writing {
		return nil, ErrWriteTrxActive
	}
	s.writing = true
	base := s.revisions[len(s.revisions)-1]
	return &memWriteTrx{
		memReadTrx: memReadTrx{rev: base.copyForWrite(base.number + 1)},
		store:      s,
	}, nil
}

func (s *MemStore) MostRecentRevision() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.revisions) - 1
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemStore) publish(rev *memRevision) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writing = false
	if s.closed {
		return 0, ErrClosed
	}
	rev.number = len(s.revisions)
	rev.timestamp = s.now()
	s.revisions = append(s.revisions, rev)
	return rev.number, nil
}

func (s *MemStore) release() {
	s.mu.Lock()
	s.writing = false
	s.mu.Unlock()
}

type memReadTrx struct {
	rev    *memRevision
	closed bool
}

func (t *memReadTrx) Record(key node.Key, index IndexKind) (node.Record, error) {
	if t.closed {
		return nil, ErrClosed
	}
	if err := checkIndex(index); err != nil {
		return nil, err
	}
	rec, ok := t.rev.records[index].Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (t *memReadTrx) RevisionNumber() int          { return t.rev.number }
func (t *memReadTrx) RevisionTimestamp() time.Time { return t.rev.timestamp }

func (t *memReadTrx) MaxNodeKey(index IndexKind) node.Key {
	if checkIndex(index) != nil {
		return node.NullKey
	}
	return t.rev.maxKeys[index]
}

func (t *memReadTrx) Name(key int32, kind node.Kind) (string, error) {
	if t.closed {
		return "", ErrClosed
	}
	e, ok := t.rev.names.Get(nameID(key, kind))
	if !ok || e.Count == 0 {
		return "", fmt.Errorf("name %d (%s): %w", key, kind, ErrNotFound)
	}
	return e.Name, nil
}

func (t *memReadTrx) NameCount(key int32, kind node.Kind) int {
	e, _ := t.rev.names.Get(nameID(key, kind))
	return e.Count
}

func (t *memReadTrx) Close() error {
	t.closed = true
	return nil
}

func (t *memReadTrx) IsClosed() bool { return t.closed }

type memWriteTrx struct {
	memReadTrx
	store *MemStore
}

func (t *memWriteTrx) NewNodeKey(index IndexKind) node.Key {
	t.rev.maxKeys[index]++
	return t.rev.maxKeys[index]
}

func (t *memWriteTrx) CreateRecord(rec node.Record, index IndexKind) error {
	if t.closed {
		return ErrClosed
	}
	if err := checkIndex(index); err != nil {
		return err
	}
	if _, exists := t.rev.records[index].Get(rec.NodeKey()); exists {
		return fmt.Errorf("create record %d in %s index: key in use", rec.NodeKey(), index)
	}
	if rec.NodeKey() > t.rev.maxKeys[index] {
		t.rev.maxKeys[index] = rec.NodeKey()
	}
	t.rev.records[index].Set(rec.NodeKey(), rec.Clone())
	return nil
}

func (t *memWriteTrx) ModifyRecord(rec node.Record, index IndexKind) error {
	if t.closed {
		return ErrClosed
	}
	if err := checkIndex(index); err != nil {
		return err
	}
	if _, exists := t.rev.records[index].Get(rec.NodeKey()); !exists {
		return fmt.Errorf("modify record %d in %s index: %w", rec.NodeKey(), index, ErrNotFound)
	}
	t.rev.records[index].Set(rec.NodeKey(), rec.Clone())
	return nil
}

func (t *memWriteTrx) RemoveRecord(key node.Key, index IndexKind) error {
	if t.closed {
		return ErrClosed
	}
	if err := checkIndex(index); err != nil {
		return err
	}
	if _, existed := t.rev.records[index].Delete(key); !existed {
		return fmt.Errorf("remove record %d in %s index: %w", key, index, ErrNotFound)
	}
	return nil
}

func (t *memWriteTrx) lookupName(id uint64) (nameEntry, bool, error) {
	e, ok := t.rev.names.Get(id)
	return e, ok, nil
}

func (t *memWriteTrx) CreateName(name string, kind node.Kind) (int32, error) {
	if t.closed {
		return 0, ErrClosed
	}
	key, e, err := internName(name, kind, t.lookupName)
	if err != nil {
		return 0, err
	}
	t.rev.names.Set(nameID(key, kind), e)
	return key, nil
}

func (t *memWriteTrx) RemoveName(key int32, kind node.Kind) error {
	if t.closed {
		return ErrClosed
	}
	e, err := releaseName(key, kind, t.lookupName)
	if err != nil {
		return err
	}
	t.rev.names.Set(nameID(key, kind), e)
	return nil
}

func (t *memWriteTrx) Commit() (int, error) {
	if t.closed {
		return 0, ErrClosed
	}
	t.closed = true
	return t.store.publish(t.rev)
}

func (t *memWriteTrx) Rollback() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.store.release()
	return nil
}

// Close on a write transaction discards uncommitted changes.
func (t *memWriteTrx) Close() error { return t.Rollback() }
