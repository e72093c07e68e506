package workspace

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenKind classifies a lexical token of a statement line
type TokenKind int

const (
	TokenWord TokenKind = iota
	TokenString
	TokenInteger
	TokenFloat
	TokenPunct
)

// Token is one lexical unit. Col is the 0-based byte offset in the line.
type Token struct {
	Kind TokenKind
	Text string
	Col  int
}

// Value returns the token text with string quotes and escapes removed
func (t Token) Value() string {
	if t.Kind != TokenString {
		return t.Text
	}
	if s, err := strconv.Unquote(t.Text); err == nil {
		return s
	}
	return strings.TrimSuffix(strings.TrimPrefix(t.Text, `"`), `"`)
}

// StatementKind classifies a whole line
type StatementKind int

const (
	StatementEmpty StatementKind = iota
	StatementCommand
	StatementRole
	StatementRoleArray
	StatementCloseBlock
	StatementCloseArray
)

// Argument is one comma separated argument of a command
type Argument struct {
	Label  string
	Values []Token
	Array  bool
}

// Statement is the parsed form of one logical line
type Statement struct {
	Kind       StatementKind
	Command    string
	Role       string
	Args       []Argument
	OpensBlock bool
}

// ParseStatement parses one logical line of model text
func ParseStatement(line string) (Statement, error) {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "@"):
		return Statement{Kind: StatementEmpty}, nil
	case trimmed == "}":
		return Statement{Kind: StatementCloseBlock}, nil
	case trimmed == "]":
		return Statement{Kind: StatementCloseArray}, nil
	}

	tokens, err := tokenize(line)
	if err != nil {
		return Statement{}, err
	}

	if len(tokens) >= 2 && tokens[0].Kind == TokenWord && isPunct(tokens[1], ":") {
		switch {
		case len(tokens) == 2:
			return Statement{Kind: StatementRole, Role: tokens[0].Text}, nil
		case len(tokens) == 3 && isPunct(tokens[2], "["):
			return Statement{Kind: StatementRoleArray, Role: tokens[0].Text}, nil
		case len(tokens) == 4 && isPunct(tokens[2], "[") && isPunct(tokens[3], "]"):
			return Statement{Kind: StatementEmpty, Role: tokens[0].Text}, nil
		}
	}

	p := &statementParser{tokens: tokens}
	return p.command()
}

type statementParser struct {
	tokens []Token
	pos    int
}

func (p *statementParser) command() (Statement, error) {
	first := p.next()
	if first.Kind != TokenWord || !isCommandWord(first.Text) {
		return Statement{}, fmt.Errorf("expected command, found '%s'", first.Text)
	}
	st := Statement{Kind: StatementCommand, Command: first.Text}

	if matched, opens := p.blockSuffix(); matched {
		st.OpensBlock = opens
		return st, nil
	}

	for !p.eof() {
		arg, err := p.argument()
		if err != nil {
			return Statement{}, err
		}
		st.Args = append(st.Args, arg)

		if p.eof() {
			break
		}
		if matched, opens := p.blockSuffix(); matched {
			st.OpensBlock = opens
			break
		}
		if t := p.next(); !isPunct(t, ",") {
			return Statement{}, fmt.Errorf("unexpected '%s'", t.Text)
		}
		if p.eof() {
			return Statement{}, fmt.Errorf("missing argument after ','")
		}
	}
	return st, nil
}

// blockSuffix consumes a trailing "{" or an empty "{ }" block
func (p *statementParser) blockSuffix() (matched, opens bool) {
	rest := p.tokens[p.pos:]
	switch {
	case len(rest) == 1 && isPunct(rest[0], "{"):
		p.pos++
		return true, true
	case len(rest) == 2 && isPunct(rest[0], "{") && isPunct(rest[1], "}"):
		p.pos += 2
		return true, false
	}
	return false, false
}

func (p *statementParser) argument() (Argument, error) {
	var arg Argument
	if p.pos+1 < len(p.tokens) && p.tokens[p.pos].Kind == TokenWord && isPunct(p.tokens[p.pos+1], ":") {
		arg.Label = p.tokens[p.pos].Text
		p.pos += 2
		if p.eof() {
			return Argument{}, fmt.Errorf("missing value for '%s'", arg.Label)
		}
	}

	if isPunct(p.peek(), "[") {
		p.pos++
		arg.Array = true
		arg.Values = []Token{}
		if isPunct(p.peek(), "]") {
			p.pos++
			return arg, nil
		}
		for {
			v, err := p.scalar()
			if err != nil {
				return Argument{}, err
			}
			arg.Values = append(arg.Values, v)

			t := p.next()
			if isPunct(t, "]") {
				return arg, nil
			}
			if !isPunct(t, ",") {
				if t.Text == "" {
					return Argument{}, fmt.Errorf("missing ']'")
				}
				return Argument{}, fmt.Errorf("unexpected '%s' in array", t.Text)
			}
		}
	}

	v, err := p.scalar()
	if err != nil {
		return Argument{}, err
	}
	arg.Values = []Token{v}
	return arg, nil
}

func (p *statementParser) scalar() (Token, error) {
	t := p.next()
	switch t.Kind {
	case TokenWord, TokenString, TokenInteger, TokenFloat:
		return t, nil
	}
	if t.Text == "" {
		return Token{}, fmt.Errorf("missing value")
	}
	return Token{}, fmt.Errorf("unexpected '%s'", t.Text)
}

func (p *statementParser) eof() bool {
	return p.pos >= len(p.tokens)
}

func (p *statementParser) peek() Token {
	if p.eof() {
		return Token{Kind: TokenPunct}
	}
	return p.tokens[p.pos]
}

func (p *statementParser) next() Token {
	t := p.peek()
	if !p.eof() {
		p.pos++
	}
	return t
}

func isPunct(t Token, s string) bool {
	return t.Kind == TokenPunct && t.Text == s
}

func isCommandWord(s string) bool {
	for _, r := range s {
		if !isWordRune(r) {
			return false
		}
	}
	return s != ""
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// IsIdentifierRune reports whether r may appear in a reference or name
func IsIdentifierRune(r rune) bool {
	return isWordRune(r) || r == '/' || r == '.' || r == '-'
}

func tokenize(line string) ([]Token, error) {
	var tokens []Token
	i := 0
	for i < len(line) {
		r, size := utf8.DecodeRuneInString(line[i:])
		if r == '-' || (r >= '0' && r <= '9') {
			if end, kind := numberEnd(line, i); end > i {
				tokens = append(tokens, Token{Kind: kind, Text: line[i:end], Col: i})
				i = end
				continue
			}
		}

		switch {
		case unicode.IsSpace(r):
			i += size

		case r == '#':
			return tokens, nil

		case strings.ContainsRune(",:[]{}", r):
			tokens = append(tokens, Token{Kind: TokenPunct, Text: string(r), Col: i})
			i += size

		case r == '"':
			end, ok := stringEnd(line, i)
			if !ok {
				return nil, fmt.Errorf("unterminated string")
			}
			tokens = append(tokens, Token{Kind: TokenString, Text: line[i:end], Col: i})
			i = end

		case IsIdentifierRune(r):
			start := i
			for i < len(line) {
				r, size := utf8.DecodeRuneInString(line[i:])
				if !IsIdentifierRune(r) {
					break
				}
				i += size
			}
			tokens = append(tokens, Token{Kind: TokenWord, Text: line[start:i], Col: start})

		default:
			return nil, fmt.Errorf("unexpected '%c'", r)
		}
	}
	return tokens, nil
}

func stringEnd(line string, start int) (int, bool) {
	for i := start + 1; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case '"':
			return i + 1, true
		}
	}
	return 0, false
}

func numberEnd(line string, start int) (int, TokenKind) {
	i := start
	if line[i] == '-' {
		i++
	}
	digits := i
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == digits {
		return start, TokenInteger
	}
	kind := TokenInteger
	if i+1 < len(line) && line[i] == '.' && line[i+1] >= '0' && line[i+1] <= '9' {
		kind = TokenFloat
		i++
		for i < len(line) && line[i] >= '0' && line[i] <= '9' {
			i++
		}
	}
	// a number glued to identifier characters is a word, e.g. 3d or 1.2.3
	if i < len(line) {
		if r, _ := utf8.DecodeRuneInString(line[i:]); IsIdentifierRune(r) {
			return start, TokenInteger
		}
	}
	return i, kind
}
