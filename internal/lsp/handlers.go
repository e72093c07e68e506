package lsp

import (
	"context"
	"encoding/json"
	"strings"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap"

	"github.com/rtext-lang/rtext/internal/completion"
	"github.com/rtext-lang/rtext/internal/wire"
)

// cursor is a document position converted to context lines and a byte
// offset into the last one
type cursor struct {
	lines []string
	col   int
	line  uint32
}

func (s *Server) cursorAt(u protocol.DocumentURI, pos protocol.Position) (cursor, error) {
	lines, err := s.api.ContextLines(string(u), int(pos.Line))
	if err != nil {
		return cursor{}, err
	}
	cur := lines[len(lines)-1]
	return cursor{
		lines: lines,
		col:   byteOffset(cur, int(pos.Character)),
		line:  pos.Line,
	}, nil
}

// span converts a byte range of the cursor line to an LSP range
func (c cursor) span(begin, end int) protocol.Range {
	cur := c.lines[len(c.lines)-1]
	return protocol.Range{
		Start: protocol.Position{Line: c.line, Character: utf16Column(cur, begin)},
		End:   protocol.Position{Line: c.line, Character: utf16Column(cur, end)},
	}
}

func (s *Server) handleTextDocumentCompletion(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.CompletionParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return s.replyWithError(ctx, reply, jsonrpc2.InvalidParams, "Failed to parse completion params")
	}

	c, err := s.cursorAt(params.TextDocument.URI, params.Position)
	if err != nil {
		s.logger.Debug("completion without document", zap.Error(err))
		return reply(ctx, protocol.CompletionList{Items: []protocol.CompletionItem{}}, nil)
	}

	options := s.api.Complete(c.lines, c.col)
	cur := c.lines[len(c.lines)-1]
	position := completion.ScanLine(cur[:c.col]).Position

	items := make([]protocol.CompletionItem, 0, len(options))
	for _, o := range options {
		items = append(items, protocol.CompletionItem{
			Label:            o.Text,
			Kind:             completionKind(position, o),
			Detail:           o.Extra,
			InsertText:       o.Text,
			InsertTextFormat: protocol.InsertTextFormatPlainText,
		})
	}

	return reply(ctx, protocol.CompletionList{IsIncomplete: false, Items: items}, nil)
}

func completionKind(position completion.Position, o completion.Option) protocol.CompletionItemKind {
	switch position {
	case completion.PositionCommand:
		return protocol.CompletionItemKindClass
	case completion.PositionLabel:
		if strings.HasPrefix(o.Text, "<") {
			return protocol.CompletionItemKindValue
		}
		return protocol.CompletionItemKindField
	case completion.PositionValue:
		if strings.HasPrefix(o.Text, "/") {
			return protocol.CompletionItemKindReference
		}
		return protocol.CompletionItemKindValue
	default:
		return protocol.CompletionItemKindText
	}
}

func (s *Server) handleTextDocumentHover(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.HoverParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return s.replyWithError(ctx, reply, jsonrpc2.InvalidParams, "Failed to parse hover params")
	}

	c, err := s.cursorAt(params.TextDocument.URI, params.Position)
	if err != nil {
		return reply(ctx, nil, nil)
	}
	hover, ok := s.api.Hover(c.lines, c.col)
	if !ok {
		return reply(ctx, nil, nil)
	}

	rng := c.span(hover.Begin, hover.End)
	return reply(ctx, protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.Markdown,
			Value: hover.Contents,
		},
		Range: &rng,
	}, nil)
}

// handleTextDocumentDefinition answers with the link targets of the token
// under the cursor
func (s *Server) handleTextDocumentDefinition(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DefinitionParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return s.replyWithError(ctx, reply, jsonrpc2.InvalidParams, "Failed to parse definition params")
	}

	c, err := s.cursorAt(params.TextDocument.URI, params.Position)
	if err != nil {
		return reply(ctx, nil, nil)
	}
	link, ok := s.api.LinkTargets(c.lines, c.col)
	if !ok {
		return reply(ctx, nil, nil)
	}
	return reply(ctx, locations(link.Targets), nil)
}

func (s *Server) handleTextDocumentReferences(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.ReferenceParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return s.replyWithError(ctx, reply, jsonrpc2.InvalidParams, "Failed to parse references params")
	}

	c, err := s.cursorAt(params.TextDocument.URI, params.Position)
	if err != nil {
		return reply(ctx, []protocol.Location{}, nil)
	}
	link, ok := s.api.References(c.lines, c.col)
	if !ok {
		return reply(ctx, []protocol.Location{}, nil)
	}
	return reply(ctx, locations(link.Targets), nil)
}

func (s *Server) handleTextDocumentDocumentSymbol(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DocumentSymbolParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return s.replyWithError(ctx, reply, jsonrpc2.InvalidParams, "Failed to parse document symbol params")
	}

	elements := s.api.DocumentElements(uri.URI(params.TextDocument.URI).Filename())

	symbols := make([]protocol.DocumentSymbol, 0, len(elements))
	for _, e := range elements {
		name := e.Name
		if name == "" {
			name = e.Class.Name
		}
		rng := lineRange(e.Line)
		symbols = append(symbols, protocol.DocumentSymbol{
			Name:           name,
			Detail:         e.Display(),
			Kind:           protocol.SymbolKindObject,
			Range:          rng,
			SelectionRange: rng,
		})
	}

	return reply(ctx, symbols, nil)
}

func (s *Server) handleWorkspaceSymbol(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.WorkspaceSymbolParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return s.replyWithError(ctx, reply, jsonrpc2.InvalidParams, "Failed to parse workspace symbol params")
	}

	targets, _, err := s.api.FindElements(ctx, params.Query)
	if err != nil {
		s.logger.Warn("element search failed", zap.Error(err))
		return s.replyWithError(ctx, reply, jsonrpc2.InternalError, "Failed to search elements")
	}

	symbols := make([]protocol.SymbolInformation, 0, len(targets))
	for _, t := range targets {
		symbols = append(symbols, protocol.SymbolInformation{
			Name:     t.Display,
			Kind:     protocol.SymbolKindObject,
			Location: location(t),
		})
	}

	return reply(ctx, symbols, nil)
}

func locations(targets []wire.Target) []protocol.Location {
	out := make([]protocol.Location, 0, len(targets))
	for _, t := range targets {
		out = append(out, location(t))
	}
	return out
}

func location(t wire.Target) protocol.Location {
	return protocol.Location{
		URI:   protocol.DocumentURI(uri.File(t.File)),
		Range: lineRange(t.Line),
	}
}

// lineRange is the start of a 1-based model line
func lineRange(line int) protocol.Range {
	pos := protocol.Position{Line: uint32(max(line-1, 0))}
	return protocol.Range{Start: pos, End: pos}
}
