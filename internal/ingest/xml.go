package ingest

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/agentic-research/arbor/internal/doc"
	"github.com/agentic-research/arbor/internal/node"
)

type xmlFrame struct {
	key  node.Key
	last node.Key
}

// ImportXML inserts the XML document read from r below the document root.
// Whitespace-only text is dropped and element prefixes are replaced by the
// namespace URIs they resolve to.
func ImportXML(w *doc.WriteTrx, r io.Reader) error {
	if _, err := w.MoveToDocumentRoot(); err != nil {
		return err
	}
	stack := []xmlFrame{{key: node.DocumentRootKey, last: node.NullKey}}
	if w.HasFirstChild() {
		if _, err := w.MoveToLastChild(); err != nil {
			return err
		}
		stack[0].last = w.NodeKey()
	}

	add := func(kind node.Kind, name node.QName, value string) (node.Key, error) {
		top := &stack[len(stack)-1]
		k, err := insertAfter(w, top.key, top.last, kind, name, value)
		if err != nil {
			return node.NullKey, err
		}
		top.last = k
		return k, nil
	}

	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			k, err := add(node.Element, node.QName{URI: t.Name.Space, Local: t.Name.Local}, "")
			if err != nil {
				return err
			}
			if err := importAttrs(w, k, t.Attr); err != nil {
				return err
			}
			stack = append(stack, xmlFrame{key: k, last: node.NullKey})
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) == 1 || strings.TrimSpace(string(t)) == "" {
				continue
			}
			if _, err := add(node.Text, node.QName{}, string(t)); err != nil {
				return err
			}
		case xml.Comment:
			if _, err := add(node.Comment, node.QName{}, string(t)); err != nil {
				return err
			}
		case xml.ProcInst:
			if t.Target == "xml" {
				continue
			}
			if _, err := add(node.ProcessingInstruction, node.LocalName(t.Target), string(t.Inst)); err != nil {
				return err
			}
		}
	}
	if len(stack) != 1 {
		return fmt.Errorf("xml: %d unclosed elements", len(stack)-1)
	}
	return nil
}

func importAttrs(w *doc.WriteTrx, elem node.Key, attrs []xml.Attr) error {
	for _, a := range attrs {
		if err := moveTo(w, elem); err != nil {
			return err
		}
		var err error
		switch {
		case a.Value == "" && (a.Name.Space == "xmlns" || a.Name.Local == "xmlns"):
			// Undeclaring a default namespace binds nothing.
		case a.Name.Space == "xmlns":
			_, err = w.InsertNamespace(a.Name.Local, a.Value)
		case a.Name.Space == "" && a.Name.Local == "xmlns":
			_, err = w.InsertNamespace("", a.Value)
		default:
			_, err = w.InsertAttribute(node.QName{URI: a.Name.Space, Local: a.Name.Local}, a.Value)
		}
		if err != nil {
			return fmt.Errorf("attribute %s: %w", a.Name.Local, err)
		}
	}
	return nil
}
