package completion

import (
	"sort"
	"strings"

	"github.com/rtext-lang/rtext/internal/metamodel"
)

// Option is a single completion candidate. Extra is an optional display
// annotation and is empty when there is none.
type Option struct {
	Text  string
	Extra string
}

// ReferenceProvider supplies candidates for reference-valued features.
// It is the only completion input that needs a loaded model.
type ReferenceProvider interface {
	ReferenceOptions(f *metamodel.Feature, ctx Context) []Option
}

// ReferenceProviderFunc adapts a function to ReferenceProvider
type ReferenceProviderFunc func(f *metamodel.Feature, ctx Context) []Option

// ReferenceOptions calls fn
func (fn ReferenceProviderFunc) ReferenceOptions(f *metamodel.Feature, ctx Context) []Option {
	return fn(f, ctx)
}

var (
	integerPalette = []string{"0", "1", "2", "3", "4"}
	floatPalette   = []string{"0.0", "1.0", "2.0", "3.0", "4.0"}
	booleanPalette = []string{"true", "false"}
)

// Engine computes completion options from a resolved context
type Engine struct {
	desc metamodel.Descriptor
}

// NewEngine creates a completion engine over a schema descriptor
func NewEngine(desc metamodel.Descriptor) *Engine {
	return &Engine{desc: desc}
}

// Complete returns the options for the text before the cursor, in the order
// they should be shown. refs may be nil, in which case reference features
// get no options.
func (e *Engine) Complete(lineBeforeCursor string, ctx Context, refs ReferenceProvider) []Option {
	st := ScanLine(lineBeforeCursor)

	switch st.Position {
	case PositionCommand:
		return e.commandOptions(st.Prefix, ctx)
	case PositionLabel:
		return e.labelOptions(st)
	case PositionValue:
		return e.valueOptions(st, ctx, refs)
	default:
		return []Option{}
	}
}

// CandidateClasses returns the classes a command at ctx may instantiate
func (e *Engine) CandidateClasses(ctx Context) []*metamodel.Class {
	switch {
	case ctx.Class != nil && ctx.Role != "":
		f, ok := e.desc.ContainmentFeature(ctx.Class, ctx.Role)
		if !ok {
			return nil
		}
		return e.desc.ConcreteSubtypes(f.Type.Class)

	case ctx.Class != nil:
		byTarget := e.desc.SingleContainmentFeaturesByTargetType(ctx.Class)
		classes := make([]*metamodel.Class, 0, len(byTarget))
		for c := range byTarget {
			classes = append(classes, c)
		}
		return classes

	default:
		return e.desc.RootClasses()
	}
}

func (e *Engine) commandOptions(prefix string, ctx Context) []Option {
	var classes []*metamodel.Class
	for _, c := range e.CandidateClasses(ctx) {
		if strings.HasPrefix(c.Name, prefix) {
			classes = append(classes, c)
		}
	}
	sort.Slice(classes, func(i, j int) bool {
		return classes[i].Name < classes[j].Name
	})

	options := make([]Option, 0, len(classes))
	for _, c := range classes {
		placeholders := make([]string, 0)
		for _, f := range e.desc.UnlabeledFeatures(c) {
			placeholders = append(placeholders, "<"+f.Name+">")
		}
		options = append(options, Option{
			Text:  c.Name,
			Extra: strings.Join(placeholders, ", "),
		})
	}
	return options
}

func (e *Engine) labelOptions(st LineState) []Option {
	class, ok := e.desc.ClassByCommand(st.Command)
	if !ok {
		return []Option{}
	}

	options := make([]Option, 0)

	// Positional values are only allowed before the first label
	if !st.Labeled {
		unlabeled := e.desc.UnlabeledFeatures(class)
		if st.Unlabeled < len(unlabeled) {
			f := unlabeled[st.Unlabeled]
			if strings.HasPrefix(f.Name, st.Prefix) {
				options = append(options, Option{
					Text:  "<" + f.Name + ">",
					Extra: typeTag(f),
				})
			}
		}
	}

	for _, f := range e.desc.LabeledFeatures(class) {
		if strings.HasPrefix(f.Name, st.Prefix) {
			options = append(options, Option{
				Text:  f.Name + ":",
				Extra: typeTag(f),
			})
		}
	}

	return options
}

func (e *Engine) valueOptions(st LineState, ctx Context, refs ReferenceProvider) []Option {
	if st.Label == "" {
		return []Option{}
	}

	class, ok := e.desc.ClassByCommand(st.Command)
	if !ok {
		return []Option{}
	}

	f, ok := e.labeledFeature(class, st.Label)
	if !ok {
		return []Option{}
	}

	return ValueOptions(f, st.Prefix, ctx, refs)
}

func (e *Engine) labeledFeature(class *metamodel.Class, name string) (*metamodel.Feature, bool) {
	for _, f := range e.desc.LabeledFeatures(class) {
		if f.Name == name {
			return f, true
		}
	}
	for _, f := range e.desc.UnlabeledFeatures(class) {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// ValueOptions returns the value palette of a feature filtered by prefix
func ValueOptions(f *metamodel.Feature, prefix string, ctx Context, refs ReferenceProvider) []Option {
	switch f.Type.Kind {
	case metamodel.KindClass:
		if f.Kind == metamodel.Containment || refs == nil {
			return []Option{}
		}
		options := make([]Option, 0)
		for _, o := range refs.ReferenceOptions(f, ctx) {
			if strings.HasPrefix(o.Text, prefix) {
				options = append(options, o)
			}
		}
		return options

	case metamodel.KindEnum:
		return literalOptions(f.Type.Enum.Literals, prefix)

	case metamodel.KindString:
		if prefix != "" {
			return []Option{}
		}
		return []Option{{Text: `""`}}

	case metamodel.KindInteger:
		return literalOptions(integerPalette, prefix)

	case metamodel.KindFloat:
		return literalOptions(floatPalette, prefix)

	case metamodel.KindBoolean:
		return literalOptions(booleanPalette, prefix)

	default:
		return []Option{}
	}
}

func literalOptions(values []string, prefix string) []Option {
	options := make([]Option, 0, len(values))
	for _, v := range values {
		if strings.HasPrefix(v, prefix) {
			options = append(options, Option{Text: v})
		}
	}
	return options
}

func typeTag(f *metamodel.Feature) string {
	return "<" + f.Type.Name() + ">"
}
