package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentic-research/arbor/internal/axis"
	"github.com/agentic-research/arbor/internal/filter"
	"github.com/agentic-research/arbor/internal/node"
	"github.com/agentic-research/arbor/internal/page"
	"github.com/agentic-research/arbor/internal/pathsummary"
	"github.com/agentic-research/arbor/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shopJSON = `{"shop":{"item":[{"price":1},{"price":2.5}],"name":"corner"}}`

const shopXML = `<?xml version="1.0"?>
<shop xmlns:x="urn:x">
  <item id="1">apple</item>
  <item id="2" x:sale="yes"><!-- sold out --></item>
  <?audit daily?>
</shop>`

func setup(t *testing.T, opts ...Option) (*Engine, *resource.Manager) {
	t.Helper()
	m := resource.New("test", page.NewMemStore())
	e, err := NewEngine(m, opts...)
	require.NoError(t, err)
	return e, m
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func paths(t *testing.T, m *resource.Manager, rev int) map[string]int64 {
	t.Helper()
	ps, err := m.OpenPathSummary(rev)
	require.NoError(t, err)
	defer ps.Close()
	entries, err := pathsummary.Entries(ps)
	require.NoError(t, err)
	out := map[string]int64{}
	for _, e := range entries {
		out[e.Path] = e.References
	}
	return out
}

func TestIngest_JSON(t *testing.T) {
	e, m := setup(t)
	path := writeFile(t, t.TempDir(), "shop.json", shopJSON)

	revs, err := e.Ingest(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, revs)
	assert.Equal(t, map[string]int64{
		"/shop":               1,
		"/shop/item":          1,
		"/shop/item/[]":       1,
		"/shop/item/[]/price": 2,
		"/shop/name":          1,
	}, paths(t, m, 1))

	r, err := m.BeginNodeReadTrx(1)
	require.NoError(t, err)
	defer r.Close()
	var kinds []node.Kind
	var values []string
	it := axis.NewDescendant(r, axis.ExcludeSelf)
	for it.Next() {
		kinds = append(kinds, r.Kind())
		if r.Kind().HasValue() {
			v, err := r.Value()
			require.NoError(t, err)
			values = append(values, v)
		}
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []node.Kind{
		node.Object, node.ObjectKey, node.Object,
		node.ObjectKey, node.Array,
		node.Object, node.ObjectKey, node.NumberValue,
		node.Object, node.ObjectKey, node.NumberValue,
		node.ObjectKey, node.StringValue,
	}, kinds)
	assert.Equal(t, []string{"1", "2.5", "corner"}, values)
}

func TestIngest_ReimportReplacesDocument(t *testing.T) {
	e, m := setup(t)
	path := writeFile(t, t.TempDir(), "shop.json", shopJSON)
	for i := 0; i < 2; i++ {
		_, err := e.Ingest(context.Background(), path)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, m.MostRecentRevision())
	assert.Equal(t, paths(t, m, 1), paths(t, m, 2))

	r, err := m.BeginNodeReadTrx(2)
	require.NoError(t, err)
	defer r.Close()
	assert.EqualValues(t, 1, r.ChildCount())
}

func TestIngest_XML(t *testing.T) {
	e, m := setup(t)
	path := writeFile(t, t.TempDir(), "shop.xml", shopXML)
	_, err := e.Ingest(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, map[string]int64{
		"/shop":            1,
		"/shop/xmlns:x":    1,
		"/shop/item":       2,
		"/shop/item/@id":   2,
		"/shop/item/@sale": 1,
	}, paths(t, m, 1))

	r, err := m.BeginNodeReadTrx(1)
	require.NoError(t, err)
	defer r.Close()
	var kinds []node.Kind
	it := axis.NewDescendant(r, axis.ExcludeSelf)
	for it.Next() {
		kinds = append(kinds, r.Kind())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []node.Kind{
		node.Element,
		node.Element, node.Text,
		node.Element, node.Comment,
		node.ProcessingInstruction,
	}, kinds)

	mustMove := func(moved bool, err error) {
		require.NoError(t, err)
		require.True(t, moved)
	}
	mustMove(r.MoveToFirstChild())
	mustMove(r.MoveToFirstChild())
	mustMove(r.MoveToRightSibling())
	mustMove(r.MoveToAttributeByName(node.QName{URI: "urn:x", Local: "sale"}))
	v, err := r.Value()
	require.NoError(t, err)
	assert.Equal(t, "yes", v)
}

func TestIngest_BadXMLCommitsNothing(t *testing.T) {
	e, m := setup(t)
	path := writeFile(t, t.TempDir(), "bad.xml", "<a><b></a>")
	_, err := e.Ingest(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, 0, m.MostRecentRevision())

	w, err := m.BeginNodeWriteTrx()
	require.NoError(t, err, "the failed import released the writer")
	require.NoError(t, w.Close())
}

func TestIngest_Directory(t *testing.T) {
	e, m := setup(t)
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"a":true}`)
	writeFile(t, dir, "b.xml", "<b/>")
	writeFile(t, dir, "c.txt", "ignored")

	revs, err := e.Ingest(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, revs)
	assert.Equal(t, map[string]int64{"/a": 1}, paths(t, m, 1))
	assert.Equal(t, map[string]int64{"/b": 1}, paths(t, m, 2))
}

func TestIngest_Cancelled(t *testing.T) {
	e, _ := setup(t)
	path := writeFile(t, t.TempDir(), "shop.json", shopJSON)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Ingest(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngest_Selector(t *testing.T) {
	e, m := setup(t, WithSelector("$.shop.item[*].price"))
	path := writeFile(t, t.TempDir(), "shop.json", shopJSON)
	_, err := e.Ingest(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"/[]": 1}, paths(t, m, 1))

	_, err = NewEngine(m, WithSelector("$["))
	assert.Error(t, err)
}

func TestIngest_RecordsBuildHistory(t *testing.T) {
	e, m := setup(t)
	dbPath := createTestDB(t, []string{`"a"`, `"b"`, `"a"`})

	revs, err := e.Ingest(context.Background(), dbPath)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, revs)

	// Each revision replaces the single value, so the value node key moves
	// on. Look up the key of the first revision's value.
	r, err := m.BeginNodeReadTrx(1)
	require.NoError(t, err)
	moved, err := r.MoveToFirstChild()
	require.NoError(t, err)
	require.True(t, moved)
	key := r.NodeKey()
	require.NoError(t, r.Close())

	coords, err := axis.Collect(m.Filter(axis.AllTime(m, key), filter.Value("a")))
	require.NoError(t, err)
	assert.Equal(t, []axis.Coordinate{{Revision: 1, NodeKey: key}}, coords)
}

func TestImportJSON_Atoms(t *testing.T) {
	_, m := setup(t)
	w, err := m.BeginNodeWriteTrx()
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, ImportJSON(w, []any{nil, true, int64(-3), 1e21, "s", map[string]any{"": "empty key"}}))

	var values []string
	_, err = w.MoveToDocumentRoot()
	require.NoError(t, err)
	it := axis.NewDescendant(w, axis.ExcludeSelf)
	for it.Next() {
		if w.Kind().HasValue() {
			v, err := w.Value()
			require.NoError(t, err)
			values = append(values, v)
		}
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"null", "true", "-3", "1e+21", "s", "empty key"}, values)

	err = ImportJSON(w, struct{}{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unsupported json value"))
}

func TestIngestRecords(t *testing.T) {
	e, m := setup(t)
	records, err := LoadSQLite(createTestDB(t, []string{`{"v":1}`, `{"w":2}`}))
	require.NoError(t, err)

	revs, err := e.IngestRecords(context.Background(), "mem", records)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, revs)
	assert.Equal(t, map[string]int64{"/v": 1}, paths(t, m, 1))
	assert.Equal(t, map[string]int64{"/w": 1}, paths(t, m, 2))
}
