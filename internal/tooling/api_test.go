package tooling

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtext-lang/rtext/internal/completion"
	"github.com/rtext-lang/rtext/internal/metamodel"
	"github.com/rtext-lang/rtext/internal/wire"
	"github.com/rtext-lang/rtext/internal/workspace"
)

const (
	fileA = `Root r {
  Widget w1, color: red
  Gadget g1, ref: /r/w1 {
    Part p1
  }
}
`
	fileB = `Root s {
  Widget w2, ref: /r/w1
}
`
)

type fixture struct {
	api  *API
	root string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	schema, err := metamodel.LoadSchema("../metamodel/testdata/test_schema.yml")
	require.NoError(t, err)
	desc := metamodel.NewAdapter(schema)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.rt"), []byte(fileA), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.rt"), []byte(fileB), 0o644))

	model, err := workspace.New(desc, dir, []string{"*.rt"})
	require.NoError(t, err)
	t.Cleanup(func() { model.Close() })

	api := NewAPI(desc, model)
	_, err = api.LoadModel(context.Background(), nil)
	require.NoError(t, err)
	return fixture{api: api, root: model.Root()}
}

func (f fixture) file(name string) string {
	return filepath.Join(f.root, name)
}

func TestAPI_LoadModel(t *testing.T) {
	f := newFixture(t)

	var progress []int
	res, err := f.api.LoadModel(context.Background(), func(p int) { progress = append(progress, p) })
	require.NoError(t, err)
	assert.Equal(t, []int{50, 100}, progress)
	assert.Equal(t, []wire.FileProblems{}, res.Problems)
	assert.Zero(t, res.TotalProblems)

	require.NoError(t, os.WriteFile(f.file("b.rt"), []byte("Root s {\n  Widgit w2, ref: /r/none\n"), 0o644))
	f.api.Invalidate([]string{f.file("b.rt")})
	res, err = f.api.LoadModel(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, res.Problems, 1)
	assert.Equal(t, 2, res.TotalProblems)
}

func TestAPI_Complete(t *testing.T) {
	f := newFixture(t)

	got := f.api.Complete([]string{"Root r {", "  Widget w, ref: "}, 18)
	assert.Equal(t, []completion.Option{
		{Text: "/r/g1", Extra: "Gadget"},
		{Text: "/r/w1", Extra: "Widget"},
		{Text: "/s/w2", Extra: "Widget"},
	}, got)

	got = f.api.Complete([]string{"  Ro"}, 99)
	assert.Equal(t, []completion.Option{{Text: "Root", Extra: "<name>"}}, got)

	got = f.api.Complete(nil, 0)
	assert.Len(t, got, 3)
}

func TestAPI_LinkTargets_Reference(t *testing.T) {
	f := newFixture(t)
	lines := []string{"Root r {", "  Gadget g1, ref: /r/w1 {"}

	for _, col := range []int{18, 20, 23} {
		link, ok := f.api.LinkTargets(lines, col)
		require.True(t, ok, "col %d", col)
		assert.Equal(t, 18, link.Begin)
		assert.Equal(t, 23, link.End)
		assert.Equal(t, []wire.Target{{File: f.file("a.rt"), Line: 2, Display: "Widget /r/w1"}}, link.Targets)
	}
}

func TestAPI_LinkTargets_Name(t *testing.T) {
	f := newFixture(t)

	link, ok := f.api.LinkTargets([]string{"Root r {", "  Widget w1, color: red"}, 10)
	require.True(t, ok)
	assert.Equal(t, 9, link.Begin)
	assert.Equal(t, 11, link.End)
	assert.Equal(t, []wire.Target{
		{File: f.file("a.rt"), Line: 3, Display: "Gadget /r/g1"},
		{File: f.file("b.rt"), Line: 2, Display: "Widget /s/w2"},
	}, link.Targets)
}

func TestAPI_References(t *testing.T) {
	f := newFixture(t)
	want := []wire.Target{
		{File: f.file("a.rt"), Line: 3, Display: "Gadget /r/g1"},
		{File: f.file("b.rt"), Line: 2, Display: "Widget /s/w2"},
	}

	link, ok := f.api.References([]string{"Root s {", "  Widget w2, ref: /r/w1"}, 20)
	require.True(t, ok)
	assert.Equal(t, 18, link.Begin)
	assert.Equal(t, want, link.Targets)

	link, ok = f.api.References([]string{"Root r {", "  Widget w1, color: red"}, 10)
	require.True(t, ok)
	assert.Equal(t, want, link.Targets)

	_, ok = f.api.References([]string{"Root r {", "  Widget w1, color: red"}, 21)
	assert.False(t, ok)
}

func TestAPI_LinkTargets_NoLink(t *testing.T) {
	f := newFixture(t)
	line := []string{"Root r {", "  Widget w1, color: red, ref: /r/g1"}

	tests := []struct {
		name string
		col  int
	}{
		{"enum value", 21},
		{"label", 15},
		{"command", 4},
		{"whitespace", 1},
		{"comma", 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := f.api.LinkTargets(line, tt.col)
			assert.False(t, ok)
		})
	}
}

func TestAPI_LinkTargets_UnknownTarget(t *testing.T) {
	f := newFixture(t)

	link, ok := f.api.LinkTargets([]string{"Widget x, ref: /nowhere"}, 20)
	require.True(t, ok)
	assert.Empty(t, link.Targets)
}

func TestAPI_Hover(t *testing.T) {
	f := newFixture(t)
	lines := []string{"Root r {", "  Widget w1, color: red"}

	h, ok := f.api.Hover(lines, 4)
	require.True(t, ok)
	assert.Contains(t, h.Contents, "Widget <name> < Item")
	assert.Equal(t, 2, h.Begin)
	assert.Equal(t, 8, h.End)

	h, ok = f.api.Hover(lines, 15)
	require.True(t, ok)
	assert.Contains(t, h.Contents, "color: Color (attribute)")
	assert.Contains(t, h.Contents, "*In class:* `Widget`")

	h, ok = f.api.Hover([]string{"TestNode x, others: [/a"}, 14)
	require.True(t, ok)
	assert.Contains(t, h.Contents, "others: [TestNode] (reference)")

	_, ok = f.api.Hover(lines, 0)
	assert.False(t, ok)
}

func TestAPI_FindElements(t *testing.T) {
	f := newFixture(t)

	got, total, err := f.api.FindElements(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []wire.Target{{File: f.file("a.rt"), Line: 3, Display: "Gadget /r/g1"}}, got)

	assert.Len(t, f.api.DocumentElements(f.file("a.rt")), 4)
}

func TestAPI_Documents(t *testing.T) {
	f := newFixture(t)

	doc := f.api.OpenDocument("file:///a.rt", "Root r {\r\n  Wid\n}", 1)
	assert.Equal(t, []string{"Root r {", "  Wid", "}"}, doc.Lines)

	lines, err := f.api.ContextLines("file:///a.rt", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Root r {", "  Wid"}, lines)

	_, err = f.api.ContextLines("file:///a.rt", 3)
	assert.Error(t, err)

	same := f.api.UpdateDocument("file:///a.rt", doc.Content, 2)
	assert.Same(t, doc, same)
	assert.Equal(t, 2, same.Version)

	changed := f.api.UpdateDocument("file:///a.rt", "Pair p", 3)
	assert.Equal(t, []string{"Pair p"}, changed.Lines)

	f.api.CloseDocument("file:///a.rt")
	_, ok := f.api.GetDocument("file:///a.rt")
	assert.False(t, ok)
	_, err = f.api.ContextLines("file:///a.rt", 0)
	assert.Error(t, err)
}

func TestOffsets(t *testing.T) {
	assert.Equal(t, 0, ByteOffset("äb", 0))
	assert.Equal(t, 2, ByteOffset("äb", 1))
	assert.Equal(t, 3, ByteOffset("äb", 2))
	assert.Equal(t, 3, ByteOffset("äb", 9))

	assert.Equal(t, 1, CharOffset("äb", 2))
	assert.Equal(t, 2, CharOffset("äb", 3))
	assert.Equal(t, 2, CharOffset("äb", 99))
}
