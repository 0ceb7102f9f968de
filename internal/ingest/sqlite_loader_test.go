package ingest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func createTestDB(t *testing.T, records []string) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "records.db")

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec("CREATE TABLE results (id TEXT PRIMARY KEY, record TEXT NOT NULL)")
	require.NoError(t, err)
	for i, rec := range records {
		// ids sort backwards so rowid order is observable
		_, err = db.Exec("INSERT INTO results (id, record) VALUES (?, ?)", string(rune('z'-i)), rec)
		require.NoError(t, err)
	}
	return dbPath
}

func TestLoadSQLite(t *testing.T) {
	t.Run("basic records", func(t *testing.T) {
		dbPath := createTestDB(t, []string{
			`{"item":{"name":"Alice","role":"admin"}}`,
			`{"item":{"name":"Bob","role":"user"}}`,
		})
		records, err := LoadSQLite(dbPath)
		require.NoError(t, err)
		require.Len(t, records, 2)

		first, ok := records[0].(map[string]any)
		require.True(t, ok)
		item, ok := first["item"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "Alice", item["name"])
	})

	t.Run("empty database", func(t *testing.T) {
		records, err := LoadSQLite(createTestDB(t, nil))
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("missing table", func(t *testing.T) {
		_, err := LoadSQLite(filepath.Join(t.TempDir(), "nothing.db"))
		require.Error(t, err)
	})

	t.Run("bad record", func(t *testing.T) {
		_, err := LoadSQLite(createTestDB(t, []string{`{"item":`}))
		require.Error(t, err)
	})
}

func TestStreamSQLite_Order(t *testing.T) {
	dbPath := createTestDB(t, []string{`1`, `2`, `3`})
	var ids []string
	require.NoError(t, StreamSQLite(dbPath, func(id, _ string) error {
		ids = append(ids, id)
		return nil
	}))
	assert.Equal(t, []string{"z", "y", "x"}, ids)
}
