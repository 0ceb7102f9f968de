package page

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/agentic-research/arbor/internal/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeBackends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "store.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestStore_BootstrapRevision(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			assert.Equal(t, 0, s.MostRecentRevision())

			rtx, err := s.BeginReadTrx(0)
			require.NoError(t, err)
			defer func() { _ = rtx.Close() }()

			for _, idx := range []IndexKind{DocumentIndex, PathSummaryIndex} {
				rec, err := rtx.Record(node.DocumentRootKey, idx)
				require.NoError(t, err)
				assert.Equal(t, node.Document, rec.Kind())
				assert.Equal(t, node.DocumentRootKey, rtx.MaxNodeKey(idx))
			}

			_, err = s.BeginReadTrx(1)
			assert.ErrorIs(t, err, ErrRevisionNotFound)
		})
	}
}

func TestStore_CommitIsolation(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			before, err := s.BeginReadTrx(0)
			require.NoError(t, err)
			defer func() { _ = before.Close() }()

			wtx, err := s.BeginWriteTrx()
			require.NoError(t, err)
			assert.Equal(t, 1, wtx.RevisionNumber())

			key := wtx.NewNodeKey(DocumentIndex)
			assert.Equal(t, node.Key(1), key)
			n := node.NewDocNode(key, node.Element)
			n.Parent = node.DocumentRootKey
			require.NoError(t, wtx.CreateRecord(n, DocumentIndex))

			// Visible inside the writer before commit.
			got, err := wtx.Record(key, DocumentIndex)
			require.NoError(t, err)
			assert.Equal(t, node.Element, got.Kind())

			rev, err := wtx.Commit()
			require.NoError(t, err)
			assert.Equal(t, 1, rev)
			assert.Equal(t, 1, s.MostRecentRevision())

			_, err = before.Record(key, DocumentIndex)
			assert.ErrorIs(t, err, ErrNotFound, "revision 0 must not observe the commit")

			after, err := s.BeginReadTrx(1)
			require.NoError(t, err)
			defer func() { _ = after.Close() }()
			got, err = after.Record(key, DocumentIndex)
			require.NoError(t, err)
			assert.Equal(t, node.DocumentRootKey, got.(*node.DocNode).Parent)
			assert.Equal(t, node.Key(1), after.MaxNodeKey(DocumentIndex))
		})
	}
}

func TestStore_SingleWriter(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			wtx, err := s.BeginWriteTrx()
			require.NoError(t, err)

			_, err = s.BeginWriteTrx()
			assert.ErrorIs(t, err, ErrWriteTrxActive)

			require.NoError(t, wtx.Rollback())
			wtx2, err := s.BeginWriteTrx()
			require.NoError(t, err)
			require.NoError(t, wtx2.Close())
			assert.Equal(t, 0, s.MostRecentRevision())
		})
	}
}

func TestStore_RemoveAndModifyAreRevisioned(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)

			wtx, err := s.BeginWriteTrx()
			require.NoError(t, err)
			n := node.NewDocNode(wtx.NewNodeKey(DocumentIndex), node.Text)
			n.Value = []byte("v1")
			require.NoError(t, wtx.CreateRecord(n, DocumentIndex))
			_, err = wtx.Commit()
			require.NoError(t, err)

			wtx, err = s.BeginWriteTrx()
			require.NoError(t, err)
			n.Value = []byte("v2")
			require.NoError(t, wtx.ModifyRecord(n, DocumentIndex))
			_, err = wtx.Commit()
			require.NoError(t, err)

			wtx, err = s.BeginWriteTrx()
			require.NoError(t, err)
			require.NoError(t, wtx.RemoveRecord(n.Key, DocumentIndex))
			assert.ErrorIs(t, wtx.RemoveRecord(n.Key, DocumentIndex), ErrNotFound)
			_, err = wtx.Commit()
			require.NoError(t, err)

			want := map[int]string{1: "v1", 2: "v2"}
			for rev, value := range want {
				rtx, err := s.BeginReadTrx(rev)
				require.NoError(t, err)
				rec, err := rtx.Record(n.Key, DocumentIndex)
				require.NoError(t, err)
				assert.Equal(t, value, string(rec.(*node.DocNode).Value))
				require.NoError(t, rtx.Close())
			}

			rtx, err := s.BeginReadTrx(3)
			require.NoError(t, err)
			_, err = rtx.Record(n.Key, DocumentIndex)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_RecordsAreCopies(t *testing.T) {
	s := NewMemStore()
	rtx, err := s.BeginReadTrx(0)
	require.NoError(t, err)

	rec, err := rtx.Record(node.DocumentRootKey, DocumentIndex)
	require.NoError(t, err)
	rec.(*node.DocumentRoot).ChildCount = 42

	again, err := rtx.Record(node.DocumentRootKey, DocumentIndex)
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.(*node.DocumentRoot).ChildCount)
}

func TestStore_Names(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			wtx, err := s.BeginWriteTrx()
			require.NoError(t, err)

			k1, err := wtx.CreateName("item", node.Element)
			require.NoError(t, err)
			k2, err := wtx.CreateName("item", node.Element)
			require.NoError(t, err)
			assert.Equal(t, k1, k2)
			assert.Equal(t, NameKey("item"), k1)
			assert.Equal(t, 2, wtx.NameCount(k1, node.Element))

			// Same string under a different kind is a separate entry.
			_, err = wtx.Name(k1, node.Attribute)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, wtx.RemoveName(k1, node.Element))
			_, err = wtx.Commit()
			require.NoError(t, err)

			rtx, err := s.BeginReadTrx(1)
			require.NoError(t, err)
			got, err := rtx.Name(k1, node.Element)
			require.NoError(t, err)
			assert.Equal(t, "item", got)
			assert.Equal(t, 1, rtx.NameCount(k1, node.Element))
		})
	}
}

func TestStore_ClosedTrx(t *testing.T) {
	s := NewMemStore()
	rtx, err := s.BeginReadTrx(0)
	require.NoError(t, err)
	require.NoError(t, rtx.Close())
	assert.True(t, rtx.IsClosed())
	_, err = rtx.Record(node.DocumentRootKey, DocumentIndex)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemStore_Clock(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemStore(WithClock(func() time.Time { return at }))
	wtx, err := s.BeginWriteTrx()
	require.NoError(t, err)
	_, err = wtx.Commit()
	require.NoError(t, err)

	rtx, err := s.BeginReadTrx(1)
	require.NoError(t, err)
	assert.Equal(t, at, rtx.RevisionTimestamp())
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)

	wtx, err := s.BeginWriteTrx()
	require.NoError(t, err)
	n := node.NewDocNode(wtx.NewNodeKey(DocumentIndex), node.Comment)
	n.Value = []byte("persisted")
	require.NoError(t, wtx.CreateRecord(n, DocumentIndex))
	_, err = wtx.Commit()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, 1, s.MostRecentRevision())

	rtx, err := s.BeginReadTrx(1)
	require.NoError(t, err)
	rec, err := rtx.Record(n.Key, DocumentIndex)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(rec.(*node.DocNode).Value))
}
