// Package completion infers the syntactic context at a cursor position and
// produces the completion options valid there.
//
// Context resolution never builds a parse tree. It scans upward from the
// cursor line counting block and array nesting, so it always answers, even
// over text that does not parse.
package completion

import (
	"regexp"
	"strings"

	"github.com/rtext-lang/rtext/internal/metamodel"
)

// LineFetcher returns the line k positions above the current line, starting
// at k = 1. It reports false once the start of the file is reached.
type LineFetcher func(k int) (string, bool)

// LinesFetcher serves a LineFetcher from context lines whose last entry is
// the current line
func LinesFetcher(lines []string) LineFetcher {
	return func(k int) (string, bool) {
		i := len(lines) - 1 - k
		if k < 1 || i < 0 {
			return "", false
		}
		return lines[i], true
	}
}

// Context is the enclosing class and structural role at the cursor.
// The zero value is the document root.
type Context struct {
	Class   *metamodel.Class
	Role    string
	InArray bool
}

// IsRoot reports whether the cursor is outside any block
func (c Context) IsRoot() bool {
	return c.Class == nil
}

// RawContext is the textual result of the upward scan before command words
// are resolved against a schema
type RawContext struct {
	Command string
	Role    string
	InArray bool
}

var (
	roleLine      = regexp.MustCompile(`^(\w+):$`)
	roleArrayLine = regexp.MustCompile(`^(\w+):\s*\[$`)
	leadingWord   = regexp.MustCompile(`^(\w+)`)
)

// Scan walks upward from the current line and finds the innermost enclosing
// block. The role candidate is only taken from a "role:" line that is the
// first non-empty line above the cursor; an open "role: [" anywhere on the
// way marks the cursor as inside that role's array.
func Scan(fetch LineFetcher) RawContext {
	var (
		role         string
		inArray      bool
		seen         bool
		blockNesting int
		arrayNesting int
	)

	for k := 1; ; k++ {
		line, ok := fetch(k)
		if !ok {
			return RawContext{}
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		switch {
		case roleLine.MatchString(trimmed):
			if !seen && role == "" {
				role = roleLine.FindStringSubmatch(trimmed)[1]
			}
		case roleArrayLine.MatchString(trimmed):
			arrayNesting--
			if arrayNesting < 0 && role == "" {
				role = roleArrayLine.FindStringSubmatch(trimmed)[1]
				inArray = true
			}
		case trimmed == "]":
			arrayNesting++
		case trimmed == "}":
			blockNesting++
		case strings.HasSuffix(trimmed, "{"):
			blockNesting--
			if blockNesting < 0 {
				m := leadingWord.FindStringSubmatch(trimmed)
				if m == nil {
					return RawContext{}
				}
				return RawContext{Command: m[1], Role: role, InArray: inArray}
			}
		}

		seen = true
	}
}

// Resolve scans upward from the current line and resolves the enclosing
// command against the schema. An unknown enclosing command yields the root
// context.
func Resolve(d metamodel.Descriptor, fetch LineFetcher) Context {
	raw := Scan(fetch)
	if raw.Command == "" {
		return Context{}
	}

	class, ok := d.ClassByCommand(raw.Command)
	if !ok {
		return Context{}
	}

	return Context{Class: class, Role: raw.Role, InArray: raw.InArray}
}
