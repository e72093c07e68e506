package tooling

import (
	"fmt"
	"strings"

	"github.com/rtext-lang/rtext/internal/metamodel"
)

// Hover describes the command or feature under the cursor
type Hover struct {
	// Contents is the hover text (markdown formatted)
	Contents string
	Begin    int
	End      int
}

// Hover returns hover information for the cursor at byte offset col of the
// last context line
func (a *API) Hover(lines []string, col int) (Hover, bool) {
	lines = normalizeLines(lines)
	tok, ok := a.tokenAt(lines[len(lines)-1], col)
	if !ok {
		return Hover{}, false
	}

	var content strings.Builder
	content.WriteString("```rtext\n")
	if tok.Command {
		content.WriteString(classSignature(tok.Class, a.desc.UnlabeledFeatures(tok.Class)))
	} else {
		content.WriteString(featureSignature(tok.Feature))
	}
	content.WriteString("\n```\n")

	if !tok.Command {
		fmt.Fprintf(&content, "\n*In class:* `%s`\n", tok.Class.Name)
	}

	return Hover{Contents: content.String(), Begin: tok.Begin, End: tok.End}, true
}

func classSignature(c *metamodel.Class, unlabeled []*metamodel.Feature) string {
	var b strings.Builder
	b.WriteString(c.Name)
	for i, f := range unlabeled {
		if i == 0 {
			b.WriteString(" ")
		} else {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "<%s>", f.Name)
	}
	if len(c.Supertypes) > 0 {
		names := make([]string, len(c.Supertypes))
		for i, s := range c.Supertypes {
			names[i] = s.Name
		}
		fmt.Fprintf(&b, " < %s", strings.Join(names, ", "))
	}
	return b.String()
}

func featureSignature(f *metamodel.Feature) string {
	typ := f.Type.Name()
	if f.Many {
		typ = "[" + typ + "]"
	}
	return fmt.Sprintf("%s: %s (%s)", f.Name, typ, f.Kind)
}
