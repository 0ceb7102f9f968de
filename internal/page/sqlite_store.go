package page

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentic-research/arbor/internal/node"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists revisions in a SQLite database.
//
// Records are fully versioned: every commit appends one row per created,
// modified or removed record, keyed by (index, node key, revision). Reading a
// record at revision R selects the newest row at or below R, so published
// revisions are never rewritten and a read transaction needs no locks.
// A NULL body marks a record removed in that revision.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string

	mu         sync.Mutex
	mostRecent int
	writing    bool
	closed     bool
	now        func() time.Time
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS revisions (
		revision INTEGER PRIMARY KEY,
		created INTEGER NOT NULL,
		max_document_key INTEGER NOT NULL,
		max_path_key INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS records (
		idx INTEGER NOT NULL,
		node_key INTEGER NOT NULL,
		revision INTEGER NOT NULL,
		body BLOB,
		PRIMARY KEY (idx, node_key, revision)
	) WITHOUT ROWID;
	CREATE TABLE IF NOT EXISTS names (
		kind INTEGER NOT NULL,
		name_key INTEGER NOT NULL,
		revision INTEGER NOT NULL,
		name TEXT NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (kind, name_key, revision)
	) WITHOUT ROWID;
`

// OpenSQLiteStore opens (creating if needed) the store at dbPath.
func OpenSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(4)

	// WAL lets read transactions proceed while a commit is being written.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &SQLiteStore{db: db, dbPath: dbPath, now: time.Now}

	var latest sql.NullInt64
	if err := db.QueryRow("SELECT MAX(revision) FROM revisions").Scan(&latest); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read latest revision: %w", err)
	}
	if !latest.Valid {
		if err := s.bootstrap(); err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	}
	s.mostRecent = int(latest.Int64)
	return s, nil
}

func (s *SQLiteStore) bootstrap() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin bootstrap: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	for idx, root := range bootstrap() {
		body, err := node.Marshal(root)
		if err != nil {
			return err
		}
		if _, err := tx.Exec("INSERT INTO records (idx, node_key, revision, body) VALUES (?, ?, 0, ?)",
			idx, int64(root.NodeKey()), body); err != nil {
			return fmt.Errorf("insert bootstrap root: %w", err)
		}
	}
	if _, err := tx.Exec("INSERT INTO revisions (revision, created, max_document_key, max_path_key) VALUES (0, ?, 0, 0)",
		s.now().UnixNano()); err != nil {
		return fmt.Errorf("insert bootstrap revision: %w", err)
	}
	return tx.Commit()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.dbPath }

func (s *SQLiteStore) BeginReadTrx(revision int) (ReadTrx, error) {
	s.mu.Lock()
	closed, latest := s.closed, s.mostRecent
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if revision < 0 || revision > latest {
		return nil, fmt.Errorf("revision %d: %w", revision, ErrRevisionNotFound)
	}
	return s.openRevision(revision)
}

func (s *SQLiteStore) openRevision(revision int) (*sqliteReadTrx, error) {
	var created, maxDoc, maxPath int64
	err := s.db.QueryRow("SELECT created, max_document_key, max_path_key FROM revisions WHERE revision = ?", revision).
		Scan(&created, &maxDoc, &maxPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("revision %d: %w", revision, ErrRevisionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read revision %d: %w: %w", revision, ErrStorage, err)
	}
	return &sqliteReadTrx{
		db:        s.db,
		revision:  revision,
		timestamp: time.Unix(0, created),
		maxKeys:   [indexCount]node.Key{node.Key(maxDoc), node.Key(maxPath)},
	}, nil
}

func (s *SQLiteStore) BeginWriteTrx() (WriteTrx, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.writing {
		s.mu.Unlock()
		return nil, ErrWriteTrxActive
	}
	s.writing = true
	base := s.mostRecent
	s.mu.Unlock()

	rtx, err := s.openRevision(base)
	if err != nil {
		s.release()
		return nil, err
	}
	w := &sqliteWriteTrx{
		base:  *rtx,
		store: s,
		names: make(map[uint64]nameEntry),
	}
	w.maxKeys = rtx.maxKeys
	for i := range w.records {
		w.records[i] = make(map[node.Key]node.Record)
	}
	return w, nil
}

func (s *SQLiteStore) MostRecentRevision() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mostRecent
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.db.Close()
}

func (s *SQLiteStore) release() {
	s.mu.Lock()
	s.writing = false
	s.mu.Unlock()
}

type sqliteReadTrx struct {
	db        *sql.DB
	revision  int
	timestamp time.Time
	maxKeys   [indexCount]node.Key
	closed    bool
}

func (t *sqliteReadTrx) Record(key node.Key, index IndexKind) (node.Record, error) {
	if t.closed {
		return nil, ErrClosed
	}
	if err := checkIndex(index); err != nil {
		return nil, err
	}
	return t.fetch(key, index)
}

func (t *sqliteReadTrx) fetch(key node.Key, index IndexKind) (node.Record, error) {
	var body []byte
	err := t.db.QueryRow(
		"SELECT body FROM records WHERE idx = ? AND node_key = ? AND revision <= ? ORDER BY revision DESC LIMIT 1",
		uint8(index), int64(key), t.revision,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read record %d in %s index: %w: %w", key, index, ErrStorage, err)
	}
	if body == nil {
		return nil, ErrNotFound
	}
	rec, err := node.Unmarshal(body)
	if err != nil {
		return nil, fmt.Errorf("decode record %d in %s index: %w: %w", key, index, ErrStorage, err)
	}
	return rec, nil
}

func (t *sqliteReadTrx) RevisionNumber() int          { return t.revision }
func (t *sqliteReadTrx) RevisionTimestamp() time.Time { return t.timestamp }

func (t *sqliteReadTrx) MaxNodeKey(index IndexKind) node.Key {
	if checkIndex(index) != nil {
		return node.NullKey
	}
	return t.maxKeys[index]
}

func (t *sqliteReadTrx) lookupName(id uint64) (nameEntry, bool, error) {
	var e nameEntry
	err := t.db.QueryRow(
		"SELECT name, count FROM names WHERE kind = ? AND name_key = ? AND revision <= ? ORDER BY revision DESC LIMIT 1",
		int64(id>>32), int64(int32(uint32(id))), t.revision,
	).Scan(&e.Name, &e.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return nameEntry{}, false, nil
	}
	if err != nil {
		return nameEntry{}, false, fmt.Errorf("read name: %w: %w", ErrStorage, err)
	}
	return e, true, nil
}

func (t *sqliteReadTrx) Name(key int32, kind node.Kind) (string, error) {
	if t.closed {
		return "", ErrClosed
	}
	e, ok, err := t.lookupName(nameID(key, kind))
	if err != nil {
		return "", err
	}
	if !ok || e.Count == 0 {
		return "", fmt.Errorf("name %d (%s): %w", key, kind, ErrNotFound)
	}
	return e.Name, nil
}

func (t *sqliteReadTrx) NameCount(key int32, kind node.Kind) int {
	e, _, _ := t.lookupName(nameID(key, kind))
	return e.Count
}

func (t *sqliteReadTrx) Close() error {
	t.closed = true
	return nil
}

func (t *sqliteReadTrx) IsClosed() bool { return t.closed }

// sqliteWriteTrx buffers every change in memory and writes them in a single
// SQL transaction on Commit. Reads consult the buffer before the database.
type sqliteWriteTrx struct {
	base    sqliteReadTrx
	store   *SQLiteStore
	records [indexCount]map[node.Key]node.Record // nil value: removed
	names   map[uint64]nameEntry
	maxKeys [indexCount]node.Key
	closed  bool
}

func (t *sqliteWriteTrx) Record(key node.Key, index IndexKind) (node.Record, error) {
	if t.closed {
		return nil, ErrClosed
	}
	if err := checkIndex(index); err != nil {
		return nil, err
	}
	if rec, staged := t.records[index][key]; staged {
		if rec == nil {
			return nil, ErrNotFound
		}
		return rec.Clone(), nil
	}
	return t.base.fetch(key, index)
}

func (t *sqliteWriteTrx) RevisionNumber() int          { return t.base.revision + 1 }
func (t *sqliteWriteTrx) RevisionTimestamp() time.Time { return t.store.now() }

func (t *sqliteWriteTrx) MaxNodeKey(index IndexKind) node.Key {
	if checkIndex(index) != nil {
		return node.NullKey
	}
	return t.maxKeys[index]
}

func (t *sqliteWriteTrx) lookupName(id uint64) (nameEntry, bool, error) {
	if e, ok := t.names[id]; ok {
		return e, true, nil
	}
	return t.base.lookupName(id)
}

func (t *sqliteWriteTrx) Name(key int32, kind node.Kind) (string, error) {
	if t.closed {
		return "", ErrClosed
	}
	e, ok, err := t.lookupName(nameID(key, kind))
	if err != nil {
		return "", err
	}
	if !ok || e.Count == 0 {
		return "", fmt.Errorf("name %d (%s): %w", key, kind, ErrNotFound)
	}
	return e.Name, nil
}

func (t *sqliteWriteTrx) NameCount(key int32, kind node.Kind) int {
	e, _, _ := t.lookupName(nameID(key, kind))
	return e.Count
}

func (t *sqliteWriteTrx) IsClosed() bool { return t.closed }

func (t *sqliteWriteTrx) NewNodeKey(index IndexKind) node.Key {
	t.maxKeys[index]++
	return t.maxKeys[index]
}

func (t *sqliteWriteTrx) exists(key node.Key, index IndexKind) (bool, error) {
	_, err := t.Record(key, index)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (t *sqliteWriteTrx) CreateRecord(rec node.Record, index IndexKind) error {
	if t.closed {
		return ErrClosed
	}
	ok, err := t.exists(rec.NodeKey(), index)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("create record %d in %s index: key in use", rec.NodeKey(), index)
	}
	if rec.NodeKey() > t.maxKeys[index] {
		t.maxKeys[index] = rec.NodeKey()
	}
	t.records[index][rec.NodeKey()] = rec.Clone()
	return nil
}

func (t *sqliteWriteTrx) ModifyRecord(rec node.Record, index IndexKind) error {
	if t.closed {
		return ErrClosed
	}
	ok, err := t.exists(rec.NodeKey(), index)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("modify record %d in %s index: %w", rec.NodeKey(), index, ErrNotFound)
	}
	t.records[index][rec.NodeKey()] = rec.Clone()
	return nil
}

func (t *sqliteWriteTrx) RemoveRecord(key node.Key, index IndexKind) error {
	if t.closed {
		return ErrClosed
	}
	ok, err := t.exists(key, index)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("remove record %d in %s index: %w", key, index, ErrNotFound)
	}
	t.records[index][key] = nil
	return nil
}

func (t *sqliteWriteTrx) CreateName(name string, kind node.Kind) (int32, error) {
	if t.closed {
		return 0, ErrClosed
	}
	key, e, err := internName(name, kind, t.lookupName)
	if err != nil {
		return 0, err
	}
	t.names[nameID(key, kind)] = e
	return key, nil
}

func (t *sqliteWriteTrx) RemoveName(key int32, kind node.Kind) error {
	if t.closed {
		return ErrClosed
	}
	e, err := releaseName(key, kind, t.lookupName)
	if err != nil {
		return err
	}
	t.names[nameID(key, kind)] = e
	return nil
}

func (t *sqliteWriteTrx) Commit() (int, error) {
	if t.closed {
		return 0, ErrClosed
	}
	t.closed = true
	defer t.store.release()

	rev := t.base.revision + 1
	tx, err := t.store.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin commit: %w: %w", ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	recStmt, err := tx.Prepare("INSERT INTO records (idx, node_key, revision, body) VALUES (?, ?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("prepare record insert: %w: %w", ErrStorage, err)
	}
	defer func() { _ = recStmt.Close() }()

	for idx, staged := range t.records {
		for key, rec := range staged {
			var body any // NULL marks removal
			if rec != nil {
				b, err := node.Marshal(rec)
				if err != nil {
					return 0, err
				}
				body = b
			}
			if _, err := recStmt.Exec(idx, int64(key), rev, body); err != nil {
				return 0, fmt.Errorf("insert record %d: %w: %w", key, ErrStorage, err)
			}
		}
	}

	nameStmt, err := tx.Prepare("INSERT INTO names (kind, name_key, revision, name, count) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("prepare name insert: %w: %w", ErrStorage, err)
	}
	defer func() { _ = nameStmt.Close() }()

	for id, e := range t.names {
		if _, err := nameStmt.Exec(int64(id>>32), int64(int32(uint32(id))), rev, e.Name, e.Count); err != nil {
			return 0, fmt.Errorf("insert name %q: %w: %w", e.Name, ErrStorage, err)
		}
	}

	if _, err := tx.Exec("INSERT INTO revisions (revision, created, max_document_key, max_path_key) VALUES (?, ?, ?, ?)",
		rev, t.store.now().UnixNano(), int64(t.maxKeys[DocumentIndex]), int64(t.maxKeys[PathSummaryIndex])); err != nil {
		return 0, fmt.Errorf("insert revision %d: %w: %w", rev, ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit revision %d: %w: %w", rev, ErrStorage, err)
	}

	t.store.mu.Lock()
	t.store.mostRecent = rev
	t.store.mu.Unlock()
	return rev, nil
}

func (t *sqliteWriteTrx) Rollback() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.store.release()
	return nil
}

func (t *sqliteWriteTrx) Close() error { return t.Rollback() }

// Verify interface compliance at compile time.
var (
	_ Store    = (*SQLiteStore)(nil)
	_ Store    = (*MemStore)(nil)
	_ WriteTrx = (*sqliteWriteTrx)(nil)
	_ WriteTrx = (*memWriteTrx)(nil)
)
