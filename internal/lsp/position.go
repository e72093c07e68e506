package lsp

import "unicode/utf16"

// LSP characters are UTF-16 code units.

// byteOffset converts a UTF-16 column of line to a byte offset. A column
// inside a surrogate pair resolves to the start of that rune.
func byteOffset(line string, units int) int {
	n := 0
	for i, r := range line {
		w := utf16.RuneLen(r)
		if w < 0 {
			w = 1
		}
		if n+w > units {
			return i
		}
		n += w
	}
	return len(line)
}

// utf16Column converts a byte offset of line to a UTF-16 column
func utf16Column(line string, offset int) uint32 {
	offset = max(0, min(offset, len(line)))
	n := 0
	for _, r := range line[:offset] {
		w := utf16.RuneLen(r)
		if w < 0 {
			w = 1
		}
		n += w
	}
	return uint32(n)
}
