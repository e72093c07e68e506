package lsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.lsp.dev/protocol"

	"github.com/rtext-lang/rtext/internal/completion"
)

func TestCompletionKind(t *testing.T) {
	tests := []struct {
		name     string
		position completion.Position
		text     string
		expected protocol.CompletionItemKind
	}{
		{"command", completion.PositionCommand, "Widget", protocol.CompletionItemKindClass},
		{"label", completion.PositionLabel, "color:", protocol.CompletionItemKindField},
		{"placeholder", completion.PositionLabel, "<name>", protocol.CompletionItemKindValue},
		{"reference", completion.PositionValue, "/r/w1", protocol.CompletionItemKindReference},
		{"literal", completion.PositionValue, "true", protocol.CompletionItemKindValue},
		{"none", completion.PositionNone, "x", protocol.CompletionItemKindText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := completionKind(tt.position, completion.Option{Text: tt.text})
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestConvertSeverity(t *testing.T) {
	assert.Equal(t, protocol.DiagnosticSeverityError, convertSeverity("error"))
	assert.Equal(t, protocol.DiagnosticSeverityWarning, convertSeverity("warning"))
	assert.Equal(t, protocol.DiagnosticSeverityError, convertSeverity(""))
}

func TestLineRange(t *testing.T) {
	assert.Equal(t, uint32(4), lineRange(5).Start.Line)
	assert.Equal(t, uint32(0), lineRange(0).Start.Line)
	assert.Equal(t, lineRange(3).Start, lineRange(3).End)
}

func TestPositionConversion(t *testing.T) {
	const line = "a\u00e4\U0001F600b"

	tests := []struct {
		name  string
		units int
		bytes int
	}{
		{"start", 0, 0},
		{"after ascii", 1, 1},
		{"after two byte rune", 2, 3},
		{"inside surrogate pair", 3, 3},
		{"after surrogate pair", 4, 7},
		{"end", 5, 8},
		{"past end", 40, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.bytes, byteOffset(line, tt.units))
		})
	}

	assert.Equal(t, uint32(0), utf16Column(line, 0))
	assert.Equal(t, uint32(2), utf16Column(line, 3))
	assert.Equal(t, uint32(4), utf16Column(line, 7))
	assert.Equal(t, uint32(5), utf16Column(line, len(line)))
	assert.Equal(t, uint32(5), utf16Column(line, 99))
}
