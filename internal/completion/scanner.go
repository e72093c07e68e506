package completion

// Position classifies what the text before the cursor is waiting for
type Position int

const (
	// PositionNone means no completion applies
	PositionNone Position = iota
	// PositionCommand is the start of a line, where a command word goes
	PositionCommand
	// PositionLabel is the start of an argument, where a label or the next
	// positional value goes
	PositionLabel
	// PositionValue is inside a value, after a label or a positional slot
	PositionValue
)

func (p Position) String() string {
	switch p {
	case PositionCommand:
		return "command"
	case PositionLabel:
		return "label"
	case PositionValue:
		return "value"
	default:
		return "none"
	}
}

// LineState is the result of scanning the text before the cursor
type LineState struct {
	Position Position

	// Command is the command word of the line, empty at PositionCommand
	Command string

	// Prefix is the partial word or value being typed and PrefixStart its
	// byte offset in the line
	Prefix      string
	PrefixStart int

	// Unlabeled counts the positional values completed before the cursor
	Unlabeled int

	// Labeled is set once a labeled argument has been seen
	Labeled bool

	// Label is the label owning the value at PositionValue; empty for a
	// positional value
	Label string

	// InArray is set when the value sits inside "[ ... ]"
	InArray bool
}

type lineScanner struct {
	src string
	pos int
}

type scalarResult int

const (
	scalarComplete scalarResult = iota
	scalarAtEOF
	scalarInvalid
)

// ScanLine classifies the text before the cursor.
// The grammar is "command (value,)* (label: value,)*" where a value is a
// quoted string, a bare token or a bracketed list of those.
func ScanLine(line string) LineState {
	s := &lineScanner{src: line}
	s.skipSpace()

	start := s.pos
	cmd := s.word()
	if s.eof() {
		return LineState{Position: PositionCommand, Prefix: cmd, PrefixStart: start}
	}
	if cmd == "" || !s.atSpace() {
		return LineState{}
	}

	st := LineState{Command: cmd}
	for {
		s.skipSpace()
		if s.eof() {
			st.Position = PositionLabel
			st.PrefixStart = s.pos
			return st
		}

		argStart := s.pos
		w := s.word()
		if w != "" && s.eof() {
			st.Position = PositionLabel
			st.Prefix = w
			st.PrefixStart = argStart
			return st
		}

		if w != "" && s.peek() == ':' {
			s.pos++
			if s.eof() || !s.atSpace() {
				return LineState{}
			}
			s.skipSpace()
			st.Label = w
			st.Labeled = true
		} else {
			s.pos = argStart
			st.Label = ""
		}

		switch s.value(&st) {
		case scalarAtEOF:
			st.Position = PositionValue
			return st
		case scalarInvalid:
			return LineState{}
		}

		if st.Label == "" {
			st.Unlabeled++
		}
		st.Label = ""

		s.skipSpace()
		if s.eof() || s.peek() != ',' {
			return LineState{}
		}
		s.pos++
	}
}

// value consumes a scalar or an array. On scalarAtEOF the prefix fields of
// st describe the unfinished value.
func (s *lineScanner) value(st *LineState) scalarResult {
	if s.eof() {
		st.PrefixStart = s.pos
		return scalarAtEOF
	}
	if s.peek() != '[' {
		return s.scalar(st)
	}

	s.pos++
	st.InArray = true
	for {
		s.skipSpace()
		if s.eof() {
			st.Prefix = ""
			st.PrefixStart = s.pos
			return scalarAtEOF
		}
		if s.peek() == ']' {
			s.pos++
			st.InArray = false
			return scalarComplete
		}

		switch s.scalar(st) {
		case scalarAtEOF:
			return scalarAtEOF
		case scalarInvalid:
			return scalarInvalid
		}

		s.skipSpace()
		if s.eof() {
			return scalarInvalid
		}
		switch s.peek() {
		case ',':
			s.pos++
		case ']':
			s.pos++
			st.InArray = false
			return scalarComplete
		default:
			return scalarInvalid
		}
	}
}

func (s *lineScanner) scalar(st *LineState) scalarResult {
	start := s.pos

	if s.peek() == '"' {
		s.pos++
		for !s.eof() {
			switch s.src[s.pos] {
			case '\\':
				s.pos += 2
				continue
			case '"':
				s.pos++
				return scalarComplete
			}
			s.pos++
		}
		if s.pos > len(s.src) {
			s.pos = len(s.src)
		}
		st.Prefix = s.src[start:]
		st.PrefixStart = start
		return scalarAtEOF
	}

	for !s.eof() && !isDelimiter(s.src[s.pos]) {
		s.pos++
	}
	if s.pos == start {
		return scalarInvalid
	}
	if s.eof() {
		st.Prefix = s.src[start:]
		st.PrefixStart = start
		return scalarAtEOF
	}
	return scalarComplete
}

func (s *lineScanner) word() string {
	start := s.pos
	for !s.eof() && isWordChar(s.src[s.pos]) {
		s.pos++
	}
	return s.src[start:s.pos]
}

func (s *lineScanner) skipSpace() {
	for !s.eof() && isSpace(s.src[s.pos]) {
		s.pos++
	}
}

func (s *lineScanner) eof() bool {
	return s.pos >= len(s.src)
}

func (s *lineScanner) peek() byte {
	return s.src[s.pos]
}

func (s *lineScanner) atSpace() bool {
	return !s.eof() && isSpace(s.src[s.pos])
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r'
}

func isWordChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func isDelimiter(b byte) bool {
	switch b {
	case ' ', '\t', '\r', ',', '[', ']', '{', '}', '"':
		return true
	}
	return false
}
