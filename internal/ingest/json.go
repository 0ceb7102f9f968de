package ingest

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/agentic-research/arbor/internal/doc"
	"github.com/agentic-research/arbor/internal/node"
	"github.com/ohler55/ojg/oj"
)

func (e *Engine) parseJSON(data []byte) (any, error) {
	v, err := oj.Parse(data)
	if err != nil {
		return nil, err
	}
	if e.selector != nil {
		v = e.selector.Get(v)
	}
	return v, nil
}

// ImportJSON inserts v, a value as produced by oj.Parse, as the last child
// of the document root. Object members are inserted in key order.
func ImportJSON(w *doc.WriteTrx, v any) error {
	if _, err := w.MoveToDocumentRoot(); err != nil {
		return err
	}
	last := node.NullKey
	if w.HasFirstChild() {
		if _, err := w.MoveToLastChild(); err != nil {
			return err
		}
		last = w.NodeKey()
	}
	_, err := importValue(w, node.DocumentRootKey, last, v)
	return err
}

func importValue(w *doc.WriteTrx, parent, last node.Key, v any) (node.Key, error) {
	switch x := v.(type) {
	case map[string]any:
		obj, err := insertAfter(w, parent, last, node.Object, node.QName{}, "")
		if err != nil {
			return node.NullKey, err
		}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		prev := node.NullKey
		for _, k := range keys {
			member, err := insertAfter(w, obj, prev, node.ObjectKey, node.LocalName(k), "")
			if err != nil {
				return node.NullKey, err
			}
			if _, err := importValue(w, member, node.NullKey, x[k]); err != nil {
				return node.NullKey, err
			}
			prev = member
		}
		return obj, nil
	case []any:
		arr, err := insertAfter(w, parent, last, node.Array, node.QName{}, "")
		if err != nil {
			return node.NullKey, err
		}
		prev := node.NullKey
		for _, item := range x {
			if prev, err = importValue(w, arr, prev, item); err != nil {
				return node.NullKey, err
			}
		}
		return arr, nil
	}

	kind, value, err := atom(v)
	if err != nil {
		return node.NullKey, err
	}
	return insertAfter(w, parent, last, kind, node.QName{}, value)
}

func atom(v any) (node.Kind, string, error) {
	switch x := v.(type) {
	case nil:
		return node.NullValue, "null", nil
	case string:
		return node.StringValue, x, nil
	case bool:
		return node.BooleanValue, strconv.FormatBool(x), nil
	case int64:
		return node.NumberValue, strconv.FormatInt(x, 10), nil
	case float64:
		return node.NumberValue, strconv.FormatFloat(x, 'g', -1, 64), nil
	case fmt.Stringer:
		// Numbers too large for int64 or float64.
		return node.NumberValue, x.String(), nil
	}
	return node.Unknown, "", fmt.Errorf("unsupported json value %T", v)
}
