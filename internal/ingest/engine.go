// Package ingest imports JSON and XML documents into a resource, one
// revision per document.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentic-research/arbor/internal/doc"
	"github.com/agentic-research/arbor/internal/node"
	"github.com/agentic-research/arbor/internal/resource"
	"github.com/ohler55/ojg/jp"
	"github.com/rs/zerolog"
)

// Engine drives imports into one resource.
type Engine struct {
	res      *resource.Manager
	selector jp.Expr
	log      zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithSelector imports only the values the JSONPath expression selects from
// each JSON document, gathered into an array.
func WithSelector(expr string) Option {
	return func(e *Engine) error {
		x, err := jp.ParseString(expr)
		if err != nil {
			return fmt.Errorf("invalid jsonpath %q: %w", expr, err)
		}
		e.selector = x
		return nil
	}
}

func NewEngine(res *resource.Manager, opts ...Option) (*Engine, error) {
	e := &Engine{res: res, log: res.Logger()}
	for _, o := range opts {
		if err := o(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Ingest imports a file, or every supported file below a directory, and
// returns the revisions committed in order. Unsupported files are skipped.
func (e *Engine) Ingest(ctx context.Context, path string) ([]int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return e.ingestFile(ctx, path)
	}

	var revs []int
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		r, err := e.ingestFile(ctx, p)
		revs = append(revs, r...)
		return err
	})
	return revs, err
}

func (e *Engine) ingestFile(ctx context.Context, path string) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		v, err := e.parseJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return e.commit(path, func(w *doc.WriteTrx) error { return ImportJSON(w, v) })
	case ".xml":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		return e.commit(path, func(w *doc.WriteTrx) error { return ImportXML(w, f) })
	case ".db":
		return e.ingestRecords(ctx, path)
	default:
		e.log.Debug().Str("path", path).Msg("skipping unsupported file")
		return nil, nil
	}
}

// commit replaces the document with whatever build inserts and commits it
// as a new revision.
func (e *Engine) commit(source string, build func(w *doc.WriteTrx) error) ([]int, error) {
	w, err := e.res.BeginNodeWriteTrx()
	if err != nil {
		return nil, err
	}
	defer func() { _ = w.Close() }()

	if err := clearDocument(w); err != nil {
		return nil, fmt.Errorf("clear document: %w", err)
	}
	if err := build(w); err != nil {
		return nil, fmt.Errorf("import %s: %w", source, err)
	}
	rev, err := w.Commit()
	if err != nil {
		return nil, err
	}
	e.log.Info().Str("source", source).Int("revision", rev).Msg("imported")
	return []int{rev}, nil
}

// clearDocument removes every top-level node and leaves the cursor on the
// root.
func clearDocument(w *doc.WriteTrx) error {
	for {
		if _, err := w.MoveToDocumentRoot(); err != nil {
			return err
		}
		moved, err := w.MoveToFirstChild()
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
		if err := w.Remove(); err != nil {
			return err
		}
	}
}

// insertAfter inserts below parent as the right sibling of last, or as the
// first child when last is NullKey.
func insertAfter(w *doc.WriteTrx, parent, last node.Key, kind node.Kind, name node.QName, value string) (node.Key, error) {
	at, pos := last, doc.AsRightSibling
	if last == node.NullKey {
		at, pos = parent, doc.AsFirstChild
	}
	if err := moveTo(w, at); err != nil {
		return node.NullKey, err
	}
	return w.Insert(kind, pos, name, value)
}

func moveTo(w *doc.WriteTrx, key node.Key) error {
	moved, err := w.MoveTo(key)
	if err != nil {
		return err
	}
	if !moved {
		return fmt.Errorf("node %d unreachable", key)
	}
	return nil
}
