// Package page is the revisioned record store underneath the document tree
// and the path summary. Every commit publishes a new immutable revision;
// read transactions are bound to exactly one revision for their lifetime.
package page

import (
	"errors"
	"fmt"
	"time"

	"github.com/agentic-research/arbor/internal/node"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrClosed           = errors.New("transaction closed")
	ErrRevisionNotFound = errors.New("revision not found")
	ErrWriteTrxActive   = errors.New("write transaction already active")
	// ErrStorage wraps backend I/O failures.
	ErrStorage = errors.New("storage fault")
)

// IndexKind selects one of the record trees kept per revision.
type IndexKind uint8

const (
	DocumentIndex IndexKind = iota
	PathSummaryIndex

	indexCount = 2
)

func (i IndexKind) String() string {
	switch i {
	case DocumentIndex:
		return "document"
	case PathSummaryIndex:
		return "path-summary"
	}
	return fmt.Sprintf("index(%d)", uint8(i))
}

// ReadTrx is a read-only view of one revision.
type ReadTrx interface {
	// Record returns a private copy of the record, ErrNotFound if it does
	// not exist in this revision, or an error wrapping ErrStorage.
	Record(key node.Key, index IndexKind) (node.Record, error)
	RevisionNumber() int
	RevisionTimestamp() time.Time
	MaxNodeKey(index IndexKind) node.Key
	// Name resolves an interned name key.
	Name(key int32, kind node.Kind) (string, error)
	// NameCount returns how many records currently use the name.
	NameCount(key int32, kind node.Kind) int
	Close() error
	IsClosed() bool
}

// WriteTrx stages a new revision on top of the most recent one.
type WriteTrx interface {
	ReadTrx
	// NewNodeKey reserves the next free key of the index.
	NewNodeKey(index IndexKind) node.Key
	CreateRecord(rec node.Record, index IndexKind) error
	// ModifyRecord replaces the staged version of an existing record with a
	// copy of rec.
	ModifyRecord(rec node.Record, index IndexKind) error
	RemoveRecord(key node.Key, index IndexKind) error
	CreateName(name string, kind node.Kind) (int32, error)
	RemoveName(key int32, kind node.Kind) error
	// Commit publishes the staged revision and returns its number.
	Commit() (int, error)
	Rollback() error
}

// Store owns every revision of one resource.
type Store interface {
	BeginReadTrx(revision int) (ReadTrx, error)
	BeginWriteTrx() (WriteTrx, error)
	MostRecentRevision() int
	Close() error
}

func checkIndex(index IndexKind) error {
	if index >= indexCount {
		return fmt.Errorf("unknown index %d", uint8(index))
	}
	return nil
}

// bootstrap returns the records of revision 0: an empty document and an
// empty path summary, each consisting of its root only.
func bootstrap() [indexCount]node.Record {
	return [indexCount]node.Record{
		DocumentIndex:    node.NewDocumentRoot(),
		PathSummaryIndex: node.NewDocumentRoot(),
	}
}
