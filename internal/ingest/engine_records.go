package ingest

import (
	"context"
	"fmt"

	"github.com/agentic-research/arbor/internal/doc"
)

// IngestRecords commits each record as its own revision, in order. Every
// revision holds exactly one record.
func (e *Engine) IngestRecords(ctx context.Context, source string, records []any) ([]int, error) {
	var revs []int
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return revs, err
		}
		r, err := e.commit(fmt.Sprintf("%s#%d", source, i), func(w *doc.WriteTrx) error { return ImportJSON(w, rec) })
		if err != nil {
			return revs, err
		}
		revs = append(revs, r...)
	}
	return revs, nil
}

// ingestRecords streams the results table of a SQLite database, committing
// one revision per row.
func (e *Engine) ingestRecords(ctx context.Context, dbPath string) ([]int, error) {
	var revs []int
	err := StreamSQLite(dbPath, func(id, raw string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := e.parseJSON([]byte(raw))
		if err != nil {
			return fmt.Errorf("parse record %s: %w", id, err)
		}
		r, err := e.commit(dbPath+"#"+id, func(w *doc.WriteTrx) error { return ImportJSON(w, v) })
		revs = append(revs, r...)
		return err
	})
	return revs, err
}
