package completion

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtext-lang/rtext/internal/metamodel"
)

// complete runs the resolver and the engine on a snippet whose last line is
// the text before the cursor
func complete(t *testing.T, src string, refs ReferenceProvider) []Option {
	t.Helper()
	d := loadTestDescriptor(t)
	lines := contextLines(src)
	ctx := Resolve(d, LinesFetcher(lines))
	return NewEngine(d).Complete(lines[len(lines)-1], ctx, refs)
}

func texts(options []Option) []string {
	out := make([]string, 0, len(options))
	for _, o := range options {
		out = append(out, o.Text)
	}
	return out
}

func TestComplete_AfterCommand(t *testing.T) {
	got := complete(t, "TestNode ", nil)

	assert.Equal(t, []Option{
		{Text: "<unlabled1>", Extra: "<String>"},
		{Text: "text:", Extra: "<String>"},
		{Text: "nums:", Extra: "<Integer>"},
		{Text: "related:", Extra: "<TestNode>"},
		{Text: "others:", Extra: "<TestNode>"},
	}, got)
}

func TestComplete_UnlabeledProgression(t *testing.T) {
	got := complete(t, `TestNode "bla", `, nil)
	assert.Equal(t, []string{"<unlabled2>", "text:", "nums:", "related:", "others:"}, texts(got))
	assert.Equal(t, "<Integer>", got[0].Extra)

	got = complete(t, `TestNode "bla", 1, `, nil)
	assert.Equal(t, []string{"text:", "nums:", "related:", "others:"}, texts(got))
}

func TestComplete_NoPositionalAfterLabel(t *testing.T) {
	got := complete(t, `TestNode text: "x", `, nil)
	assert.Equal(t, []string{"text:", "nums:", "related:", "others:"}, texts(got))
}

func TestComplete_LabelPrefix(t *testing.T) {
	assert.Equal(t, []string{"nums:"}, texts(complete(t, "TestNode nu", nil)))
	assert.Equal(t, []string{"<unlabled1>"}, texts(complete(t, "TestNode unl", nil)))
	assert.Empty(t, complete(t, "TestNode xyz", nil))
}

func TestComplete_UnknownCommand(t *testing.T) {
	assert.Empty(t, complete(t, "Nothing ", nil))
	assert.Empty(t, complete(t, "Nothing text: ", nil))
}

func TestComplete_ValuePalettes(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{"string", "TestNode text: ", []string{`""`}},
		{"string with prefix", `TestNode text: "a`, []string{}},
		{"integer", "TestNode nums: ", []string{"0", "1", "2", "3", "4"}},
		{"integer prefix", "TestNode nums: 3", []string{"3"}},
		{"integer no match", "TestNode nums: 7", []string{}},
		{"array open", "TestNode nums: [", []string{"0", "1", "2", "3", "4"}},
		{"array after value", "TestNode nums: [1, ", []string{"0", "1", "2", "3", "4"}},
		{"array prefix", "TestNode nums: [1, 2", []string{"2"}},
		{"array closed", "TestNode nums: [1, 2]", []string{}},
		{"after closed array comma", "TestNode nums: [1], ", []string{"text:", "nums:", "related:", "others:"}},
		{"float", "Widget w, ratio: ", []string{"0.0", "1.0", "2.0", "3.0", "4.0"}},
		{"float prefix", "Widget w, ratio: 2", []string{"2.0"}},
		{"boolean", "Widget w, active: ", []string{"true", "false"}},
		{"boolean prefix", "Widget w, active: t", []string{"true"}},
		{"enum", "Widget w, color: ", []string{"red", "green", "blue"}},
		{"enum prefix", "Widget w, color: g", []string{"green"}},
		{"label without space", "TestNode text:", []string{}},
		{"complete value without comma", `TestNode "bla"`, []string{}},
		{"positional value prefix", `TestNode "bl`, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := complete(t, tt.line, nil)
			assert.Equal(t, tt.want, texts(got))
		})
	}
}

func TestComplete_References(t *testing.T) {
	assert.Empty(t, complete(t, "TestNode related: ", nil), "no provider means no options")

	var gotFeature *metamodel.Feature
	provider := ReferenceProviderFunc(func(f *metamodel.Feature, ctx Context) []Option {
		gotFeature = f
		return []Option{
			{Text: "/My/Target", Extra: "TestNode"},
			{Text: "/MyOther/Target", Extra: "TestNode"},
			{Text: "/Another", Extra: "TestNode"},
		}
	})

	got := complete(t, "TestNode related: ", provider)
	assert.Equal(t, []string{"/My/Target", "/MyOther/Target", "/Another"}, texts(got))
	require.NotNil(t, gotFeature)
	assert.Equal(t, "related", gotFeature.Name)

	got = complete(t, "TestNode related: /My/", provider)
	assert.Equal(t, []Option{{Text: "/My/Target", Extra: "TestNode"}}, got)

	got = complete(t, "TestNode others: [/My/Target, /MyO", provider)
	assert.Equal(t, []string{"/MyOther/Target"}, texts(got))
}

func TestComplete_CommandAtRoot(t *testing.T) {
	got := complete(t, "", nil)
	assert.Equal(t, []Option{
		{Text: "Group", Extra: ""},
		{Text: "Pair", Extra: ""},
		{Text: "Root", Extra: "<name>"},
	}, got)

	assert.Equal(t, []string{"Pair"}, texts(complete(t, "  Pa", nil)))
	assert.Empty(t, complete(t, "pa", nil), "prefix matching is case sensitive")
}

func TestComplete_CommandInsideBlock(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{"unambiguous children", "Root r {\n  ", []string{"Gadget", "Note", "Widget"}},
		{"ambiguous excluded", "Group g {\n  ", []string{"Note"}},
		{"all ambiguous", "Pair p {\n  ", []string{}},
		{"role selects type", "Pair p {\n  left:\n    ", []string{"Part"}},
		{"array role", "Root r {\n  items: [\n    Widget a\n    ", []string{"Gadget", "Widget"}},
		{"role prefix", "Root r {\n  items: [\n    G", []string{"Gadget"}},
		{"unknown role", "Root r {\n  bogus:\n    ", []string{}},
		{"recursive containment", "TestNode {\n  ", []string{"TestNode"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := complete(t, tt.src, nil)
			assert.Equal(t, tt.want, texts(got))
		})
	}
}

func TestComplete_CommandOptionsSorted(t *testing.T) {
	prefixes := []string{"", "G", "N", "W", "Z"}
	for _, p := range prefixes {
		got := texts(complete(t, "Root r {\n  "+p, nil))
		assert.True(t, sort.StringsAreSorted(got), "prefix %q: %v", p, got)
		for _, name := range got {
			assert.True(t, strings.HasPrefix(name, p))
		}
	}
}

func TestScanLine(t *testing.T) {
	tests := []struct {
		line string
		want LineState
	}{
		{"", LineState{Position: PositionCommand}},
		{"  Wid", LineState{Position: PositionCommand, Prefix: "Wid", PrefixStart: 2}},
		{"Widget{", LineState{}},
		{"  role:", LineState{}},
		{"Widget w, ", LineState{Position: PositionLabel, Command: "Widget", Unlabeled: 1, PrefixStart: 10}},
		{"Widget w, co", LineState{Position: PositionLabel, Command: "Widget", Unlabeled: 1, Prefix: "co", PrefixStart: 10}},
		{"Widget w, ref: /a", LineState{Position: PositionValue, Command: "Widget", Unlabeled: 1, Labeled: true, Label: "ref", Prefix: "/a", PrefixStart: 15}},
		{"T x: [1, ", LineState{Position: PositionValue, Command: "T", Labeled: true, Label: "x", InArray: true, PrefixStart: 9}},
		{`T "a\"b`, LineState{Position: PositionValue, Command: "T", Prefix: `"a\"b`, PrefixStart: 2}},
		{"T a b", LineState{}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, ScanLine(tt.line))
		})
	}
}
