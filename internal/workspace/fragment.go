package workspace

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/rtext-lang/rtext/internal/completion"
	"github.com/rtext-lang/rtext/internal/metamodel"
	"github.com/rtext-lang/rtext/internal/util/fuzzy"
	"github.com/rtext-lang/rtext/internal/wire"
)

// Problem severities
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Element is one instantiated command
type Element struct {
	Class      *metamodel.Class
	Name       string
	Identifier string
	File       string
	Line       int
	Parent     *Element
}

// Display is the text shown for the element in pickers and link lists
func (e *Element) Display() string {
	if e.Identifier == "" {
		return e.Class.Name
	}
	return e.Class.Name + " " + e.Identifier
}

// Reference is an unresolved reference value
type Reference struct {
	Source  *Element
	Feature *metamodel.Feature
	Target  string
	Line    int
}

// Fragment is everything parsed from one file
type Fragment struct {
	File       string
	Elements   []*Element
	References []Reference
	Problems   []wire.Problem
}

// Parser turns model text into fragments
type Parser struct {
	desc   *metamodel.Adapter
	engine *completion.Engine
}

// NewParser creates a parser for a schema
func NewParser(desc *metamodel.Adapter) *Parser {
	return &Parser{desc: desc, engine: completion.NewEngine(desc)}
}

type frame struct {
	array bool
	class *metamodel.Class
	elem  *Element
	role  string
	line  int
}

type fragmentBuilder struct {
	*Parser
	frag        *Fragment
	stack       []*frame
	pendingRole string
}

// Parse parses content read from file. It never fails; syntax and schema
// errors are reported as problems of the fragment.
func (p *Parser) Parse(file string, content []byte) *Fragment {
	b := &fragmentBuilder{Parser: p, frag: &Fragment{File: file}}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	var pending string
	pendingLine := 0
	for scanner.Scan() {
		lineNo++
		text := scanner.Text()
		if pending != "" {
			text = pending + " " + strings.TrimSpace(text)
		} else {
			pendingLine = lineNo
		}

		// arguments may continue on the next line after a trailing comma
		if trimmed := strings.TrimSpace(text); strings.HasSuffix(trimmed, ",") && !strings.HasPrefix(trimmed, "#") {
			pending = text
			continue
		}
		pending = ""
		b.line(pendingLine, text)
	}
	if pending != "" {
		b.line(pendingLine, pending)
	}
	if err := scanner.Err(); err != nil {
		b.problem(SeverityError, lineNo, "failed to read file: %v", err)
	}

	for i := len(b.stack) - 1; i >= 0; i-- {
		f := b.stack[i]
		if f.array {
			b.problem(SeverityError, f.line, "unclosed array '%s'", f.role)
		} else {
			b.problem(SeverityError, f.line, "unclosed block")
		}
	}

	sort.SliceStable(b.frag.Problems, func(i, j int) bool {
		return b.frag.Problems[i].Line < b.frag.Problems[j].Line
	})
	return b.frag
}

func (b *fragmentBuilder) problem(severity string, line int, format string, args ...any) {
	b.frag.Problems = append(b.frag.Problems, wire.Problem{
		Severity: severity,
		Line:     line,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (b *fragmentBuilder) top() *frame {
	if len(b.stack) == 0 {
		return nil
	}
	return b.stack[len(b.stack)-1]
}

// block returns the innermost block frame, skipping arrays
func (b *fragmentBuilder) block() *frame {
	for i := len(b.stack) - 1; i >= 0; i-- {
		if !b.stack[i].array {
			return b.stack[i]
		}
	}
	return nil
}

func (b *fragmentBuilder) line(lineNo int, text string) {
	st, err := ParseStatement(text)
	if err != nil {
		b.problem(SeverityError, lineNo, "syntax error: %v", err)
		return
	}

	switch st.Kind {
	case StatementEmpty:
	case StatementCommand:
		b.command(lineNo, st)
		b.pendingRole = ""
	case StatementRole, StatementRoleArray:
		b.role(lineNo, st)
	case StatementCloseArray:
		if top := b.top(); top == nil || !top.array {
			b.problem(SeverityError, lineNo, "unexpected ']'")
			return
		}
		b.stack = b.stack[:len(b.stack)-1]
	case StatementCloseBlock:
		b.pendingRole = ""
		top := b.top()
		if top == nil {
			b.problem(SeverityError, lineNo, "unexpected '}'")
			return
		}
		if top.array {
			b.problem(SeverityError, top.line, "unclosed array '%s'", top.role)
			b.stack = b.stack[:len(b.stack)-1]
			if b.top() == nil {
				return
			}
		}
		b.stack = b.stack[:len(b.stack)-1]
	}
}

func (b *fragmentBuilder) role(lineNo int, st Statement) {
	top := b.top()
	switch {
	case top == nil:
		b.problem(SeverityError, lineNo, "role '%s' outside of a block", st.Role)
		return
	case top.array:
		b.problem(SeverityError, lineNo, "role '%s' inside an array", st.Role)
		return
	}

	if top.class != nil {
		if _, ok := b.desc.ContainmentFeature(top.class, st.Role); !ok {
			var roles []string
			for _, f := range b.desc.ContainmentFeatures(top.class) {
				roles = append(roles, f.Name)
			}
			b.problem(SeverityError, lineNo, "unknown role '%s' in '%s'%s",
				st.Role, top.class.Name, didYouMean(st.Role, roles))
		}
	}

	if st.Kind == StatementRoleArray {
		b.stack = append(b.stack, &frame{array: true, class: top.class, role: st.Role, line: lineNo})
		return
	}
	b.pendingRole = st.Role
}

func (b *fragmentBuilder) command(lineNo int, st Statement) {
	var (
		ctx      completion.Context
		parent   *Element
		validate = true
	)
	if top := b.top(); top != nil {
		enclosing := b.block()
		parent = enclosing.elem
		validate = enclosing.class != nil
		if top.array {
			ctx = completion.Context{Class: enclosing.class, Role: top.role, InArray: true}
		} else {
			ctx = completion.Context{Class: enclosing.class, Role: b.pendingRole}
		}
	}

	class, ok := b.desc.ClassByCommand(st.Command)
	if !ok || class.Abstract {
		if ok {
			b.problem(SeverityError, lineNo, "abstract class '%s' cannot be instantiated", st.Command)
		} else {
			b.problem(SeverityError, lineNo, "unknown command '%s'%s", st.Command, didYouMean(st.Command, b.commandNames()))
		}
		if st.OpensBlock {
			b.stack = append(b.stack, &frame{line: lineNo})
		}
		return
	}

	if validate {
		b.checkPlacement(lineNo, class, ctx)
	}

	elem := &Element{Class: class, File: b.frag.File, Line: lineNo, Parent: parent}
	b.arguments(lineNo, elem, st.Args)

	if elem.Name != "" {
		elem.Identifier = qualifiedPrefix(parent) + "/" + elem.Name
	}
	b.frag.Elements = append(b.frag.Elements, elem)

	if st.OpensBlock {
		b.stack = append(b.stack, &frame{class: class, elem: elem, line: lineNo})
	}
}

// qualifiedPrefix is the identifier of the nearest named ancestor
func qualifiedPrefix(e *Element) string {
	for ; e != nil; e = e.Parent {
		if e.Identifier != "" {
			return e.Identifier
		}
	}
	return ""
}

func (b *fragmentBuilder) checkPlacement(lineNo int, class *metamodel.Class, ctx completion.Context) {
	if ctx.IsRoot() {
		return
	}

	if ctx.Role != "" {
		f, ok := b.desc.ContainmentFeature(ctx.Class, ctx.Role)
		if ok && !class.ConformsTo(f.Type.Class) {
			b.problem(SeverityError, lineNo, "'%s' is not allowed in role '%s'", class.Name, ctx.Role)
		}
		return
	}

	for _, c := range b.engine.CandidateClasses(ctx) {
		if c == class {
			return
		}
	}

	for _, f := range b.desc.ContainmentFeatures(ctx.Class) {
		if class.ConformsTo(f.Type.Class) {
			b.problem(SeverityError, lineNo, "role of '%s' in '%s' is ambiguous, use a role label", class.Name, ctx.Class.Name)
			return
		}
	}
	b.problem(SeverityError, lineNo, "'%s' is not allowed in '%s'", class.Name, ctx.Class.Name)
}

func (b *fragmentBuilder) arguments(lineNo int, elem *Element, args []Argument) {
	class := elem.Class
	unlabeled := b.desc.UnlabeledFeatures(class)
	next := 0

	for _, arg := range args {
		var f *metamodel.Feature
		if arg.Label == "" {
			if next >= len(unlabeled) {
				b.problem(SeverityError, lineNo, "too many unlabeled arguments for '%s'", class.Name)
				return
			}
			f = unlabeled[next]
			next++
		} else {
			var ok bool
			if f, ok = b.labeled(class, arg.Label); !ok {
				var labels []string
				for _, lf := range b.desc.LabeledFeatures(class) {
					labels = append(labels, lf.Name)
				}
				b.problem(SeverityError, lineNo, "unknown label '%s' for '%s'%s",
					arg.Label, class.Name, didYouMean(arg.Label, labels))
				continue
			}
		}

		b.values(lineNo, elem, f, arg)
	}
}

func (b *fragmentBuilder) labeled(class *metamodel.Class, name string) (*metamodel.Feature, bool) {
	for _, f := range b.desc.LabeledFeatures(class) {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

func (b *fragmentBuilder) values(lineNo int, elem *Element, f *metamodel.Feature, arg Argument) {
	if arg.Array && !f.Many {
		b.problem(SeverityError, lineNo, "feature '%s' takes a single value", f.Name)
		return
	}

	for _, v := range arg.Values {
		if !validValue(f, v) {
			b.problem(SeverityError, lineNo, "invalid value '%s' for feature '%s', expected %s", v.Text, f.Name, f.Type.Name())
			continue
		}

		if f.IsReference() {
			b.frag.References = append(b.frag.References, Reference{
				Source:  elem,
				Feature: f,
				Target:  v.Value(),
				Line:    lineNo,
			})
			continue
		}
		if f.Name == "name" && f.Type.Kind == metamodel.KindString && !f.Many {
			elem.Name = v.Value()
		}
	}
}

func validValue(f *metamodel.Feature, v Token) bool {
	switch f.Type.Kind {
	case metamodel.KindString, metamodel.KindClass:
		return v.Kind == TokenString || v.Kind == TokenWord
	case metamodel.KindInteger:
		return v.Kind == TokenInteger
	case metamodel.KindFloat:
		return v.Kind == TokenFloat || v.Kind == TokenInteger
	case metamodel.KindBoolean:
		return v.Kind == TokenWord && (v.Text == "true" || v.Text == "false")
	case metamodel.KindEnum:
		if v.Kind != TokenWord && v.Kind != TokenString {
			return false
		}
		for _, l := range f.Type.Enum.Literals {
			if l == v.Value() {
				return true
			}
		}
	}
	return false
}

func (b *fragmentBuilder) commandNames() []string {
	var names []string
	for _, c := range b.desc.Schema().Classes() {
		if !c.Abstract {
			names = append(names, c.Name)
		}
	}
	return names
}

func didYouMean(target string, candidates []string) string {
	match := fuzzy.FindBestMatch(target, candidates, nil)
	if match == "" {
		return ""
	}
	return fmt.Sprintf(", did you mean '%s'?", match)
}
