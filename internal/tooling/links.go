package tooling

import (
	"strings"
	"unicode/utf8"

	"github.com/rtext-lang/rtext/internal/completion"
	"github.com/rtext-lang/rtext/internal/metamodel"
	"github.com/rtext-lang/rtext/internal/wire"
	"github.com/rtext-lang/rtext/internal/workspace"
)

// Link is the result of a link_targets query. Begin and End are byte
// offsets of the linked token in the current line, End exclusive.
type Link struct {
	Begin   int
	End     int
	Targets []wire.Target
}

// cursorToken describes the identifier under the cursor
type cursorToken struct {
	Text    string
	Begin   int
	End     int
	Class   *metamodel.Class
	Feature *metamodel.Feature
	Label   bool
	Command bool
}

// LinkTargets resolves the token under the cursor. A reference value links
// to the referenced elements; the name of an element links to the elements
// referring to it.
func (a *API) LinkTargets(lines []string, col int) (Link, bool) {
	lines = normalizeLines(lines)
	tok, ok := a.tokenAt(lines[len(lines)-1], col)
	if !ok || tok.Feature == nil || tok.Label {
		return Link{}, false
	}

	var targets []wire.Target
	switch {
	case tok.Feature.IsReference():
		targets = a.model.ReferenceTargets(tok.Text)
	case tok.Feature.Name == "name":
		ident := a.enclosingIdentifier(lines) + "/" + tok.Text
		targets = a.model.ReferencingElements(ident)
	default:
		return Link{}, false
	}

	return Link{Begin: tok.Begin, End: tok.End, Targets: targets}, true
}

// References returns the elements referring to the element under the
// cursor. The cursor is either on the element's name or on a reference to it.
func (a *API) References(lines []string, col int) (Link, bool) {
	lines = normalizeLines(lines)
	tok, ok := a.tokenAt(lines[len(lines)-1], col)
	if !ok || tok.Feature == nil || tok.Label {
		return Link{}, false
	}

	var ident string
	switch {
	case tok.Feature.IsReference():
		ident = tok.Text
	case tok.Feature.Name == "name":
		ident = a.enclosingIdentifier(lines) + "/" + tok.Text
	default:
		return Link{}, false
	}

	return Link{Begin: tok.Begin, End: tok.End, Targets: a.model.ReferencingElements(ident)}, true
}

func (a *API) tokenAt(line string, col int) (cursorToken, bool) {
	col = clamp(col, 0, len(line))

	begin := col
	for begin > 0 {
		r, size := utf8.DecodeLastRuneInString(line[:begin])
		if !workspace.IsIdentifierRune(r) {
			break
		}
		begin -= size
	}
	end := col
	for end < len(line) {
		r, size := utf8.DecodeRuneInString(line[end:])
		if !workspace.IsIdentifierRune(r) {
			break
		}
		end += size
	}
	if begin == end {
		return cursorToken{}, false
	}

	tok := cursorToken{Text: line[begin:end], Begin: begin, End: end}
	st := completion.ScanLine(line[:end])

	switch st.Position {
	case completion.PositionCommand:
		class, ok := a.desc.ClassByCommand(tok.Text)
		if !ok {
			return cursorToken{}, false
		}
		tok.Class = class
		tok.Command = true
		return tok, true

	case completion.PositionLabel, completion.PositionValue:
		class, ok := a.desc.ClassByCommand(st.Command)
		if !ok {
			return cursorToken{}, false
		}
		tok.Class = class

		rest := strings.TrimLeft(line[end:], " \t")
		if st.Position == completion.PositionLabel && strings.HasPrefix(rest, ":") {
			tok.Feature = a.featureByName(class, tok.Text)
			tok.Label = true
		} else if st.Label != "" {
			tok.Feature = a.featureByName(class, st.Label)
		} else if !st.Labeled {
			unlabeled := a.desc.UnlabeledFeatures(class)
			if st.Unlabeled < len(unlabeled) {
				tok.Feature = unlabeled[st.Unlabeled]
			}
		}
		return tok, tok.Feature != nil
	}
	return cursorToken{}, false
}

func (a *API) featureByName(class *metamodel.Class, name string) *metamodel.Feature {
	for _, f := range a.desc.LabeledFeatures(class) {
		if f.Name == name {
			return f
		}
	}
	for _, f := range a.desc.UnlabeledFeatures(class) {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// enclosingIdentifier builds the qualified identifier of the element whose
// block contains the current line from the names of the enclosing commands
func (a *API) enclosingIdentifier(lines []string) string {
	fetch := completion.LinesFetcher(lines)

	var names []string
	depth := 0
	for k := 1; ; k++ {
		line, ok := fetch(k)
		if !ok {
			break
		}
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "}":
			depth++
		case strings.HasSuffix(trimmed, "{"):
			if depth > 0 {
				depth--
				continue
			}
			if name, ok := a.elementName(trimmed); ok {
				names = append(names, name)
			}
		}
	}

	var b strings.Builder
	for i := len(names) - 1; i >= 0; i-- {
		b.WriteString("/")
		b.WriteString(names[i])
	}
	return b.String()
}

// elementName extracts the value of the name feature from a command line
func (a *API) elementName(line string) (string, bool) {
	st, err := workspace.ParseStatement(line)
	if err != nil || st.Kind != workspace.StatementCommand {
		return "", false
	}
	class, ok := a.desc.ClassByCommand(st.Command)
	if !ok {
		return "", false
	}

	unlabeled := a.desc.UnlabeledFeatures(class)
	next := 0
	for _, arg := range st.Args {
		var f *metamodel.Feature
		if arg.Label == "" {
			if next >= len(unlabeled) {
				return "", false
			}
			f = unlabeled[next]
			next++
		} else {
			f = a.featureByName(class, arg.Label)
		}
		if f != nil && f.Name == "name" && len(arg.Values) == 1 {
			return arg.Values[0].Value(), true
		}
	}
	return "", false
}

// ByteOffset converts a 0-based character column of line to a byte offset
func ByteOffset(line string, chars int) int {
	if chars <= 0 {
		return 0
	}
	n := 0
	for i := range line {
		if n == chars {
			return i
		}
		n++
	}
	return len(line)
}

// CharOffset converts a byte offset of line to a 0-based character column
func CharOffset(line string, offset int) int {
	offset = clamp(offset, 0, len(line))
	return utf8.RuneCountInString(line[:offset])
}
