package lsp

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/rtext-lang/rtext/internal/metamodel"
	"github.com/rtext-lang/rtext/internal/tooling"
	"github.com/rtext-lang/rtext/internal/workspace"
)

const (
	fileA = `Root r {
  Widget w1, color: red
  Gadget g1, ref: /r/w1 {
    Part p1
  }
}
`
	fileB = "Root s {\n  Widgit w2\n}\n"
)

type session struct {
	t           *testing.T
	root        string
	conn        jsonrpc2.Conn
	diagnostics chan protocol.PublishDiagnosticsParams
	done        chan error
}

func startSession(t *testing.T) *session {
	t.Helper()
	schema, err := metamodel.LoadSchema("../metamodel/testdata/test_schema.yml")
	require.NoError(t, err)
	desc := metamodel.NewAdapter(schema)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.rt"), []byte(fileA), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.rt"), []byte(fileB), 0o644))

	model, err := workspace.New(desc, dir, []string{"*.rt"})
	require.NoError(t, err)
	t.Cleanup(func() { model.Close() })

	serverEnd, clientEnd := net.Pipe()
	srv := NewServer(tooling.NewAPI(desc, model), WithStream(serverEnd))

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		t:           t,
		root:        model.Root(),
		diagnostics: make(chan protocol.PublishDiagnosticsParams, 16),
		done:        make(chan error, 1),
	}
	go func() { s.done <- srv.Run(ctx) }()

	s.conn = jsonrpc2.NewConn(jsonrpc2.NewStream(clientEnd))
	s.conn.Go(ctx, func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		if req.Method() == protocol.MethodTextDocumentPublishDiagnostics {
			var p protocol.PublishDiagnosticsParams
			if err := json.Unmarshal(req.Params(), &p); err == nil {
				s.diagnostics <- p
			}
		}
		return reply(ctx, nil, nil)
	})

	t.Cleanup(func() {
		cancel()
		s.conn.Close()
	})
	return s
}

func (s *session) uri(name string) protocol.DocumentURI {
	return protocol.DocumentURI(uri.File(filepath.Join(s.root, name)))
}

func (s *session) call(method string, params, result any) {
	s.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.conn.Call(ctx, method, params, result)
	require.NoError(s.t, err, method)
}

func (s *session) notify(method string, params any) {
	s.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(s.t, s.conn.Notify(ctx, method, params), method)
}

func (s *session) nextDiagnostics() protocol.PublishDiagnosticsParams {
	s.t.Helper()
	select {
	case p := <-s.diagnostics:
		return p
	case <-time.After(5 * time.Second):
		s.t.Fatal("no diagnostics published")
		return protocol.PublishDiagnosticsParams{}
	}
}

func (s *session) initialize() {
	s.t.Helper()
	var result protocol.InitializeResult
	s.call(protocol.MethodInitialize, protocol.InitializeParams{RootURI: protocol.DocumentURI(uri.File(s.root))}, &result)
	require.NotNil(s.t, result.ServerInfo)
	assert.Equal(s.t, "rtext-lsp", result.ServerInfo.Name)
	assert.NotNil(s.t, result.Capabilities.CompletionProvider)

	s.notify(protocol.MethodInitialized, protocol.InitializedParams{})
}

func position(u protocol.DocumentURI, line, char uint32) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: u},
		Position:     protocol.Position{Line: line, Character: char},
	}
}

func TestServer_InitializePublishesDiagnostics(t *testing.T) {
	s := startSession(t)
	s.initialize()

	p := s.nextDiagnostics()
	assert.Equal(t, s.uri("b.rt"), p.URI)
	require.Len(t, p.Diagnostics, 1)

	d := p.Diagnostics[0]
	assert.Equal(t, uint32(1), d.Range.Start.Line)
	assert.Equal(t, protocol.DiagnosticSeverityError, d.Severity)
	assert.Contains(t, d.Message, "unknown command 'Widgit'")
	assert.Equal(t, "rtext", d.Source)
}

func TestServer_DidSaveClearsDiagnostics(t *testing.T) {
	s := startSession(t)
	s.initialize()
	s.nextDiagnostics()

	fixed := "Root s {\n  Widget w2, ref: /r/w1\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(s.root, "b.rt"), []byte(fixed), 0o644))
	s.notify(protocol.MethodTextDocumentDidSave, protocol.DidSaveTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: s.uri("b.rt")},
	})

	p := s.nextDiagnostics()
	assert.Equal(t, s.uri("b.rt"), p.URI)
	assert.Empty(t, p.Diagnostics)

	s.notify(protocol.MethodTextDocumentDidOpen, protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: s.uri("a.rt"), LanguageID: "rtext", Version: 1, Text: fileA},
	})

	var refs []protocol.Location
	s.call(protocol.MethodTextDocumentReferences, protocol.ReferenceParams{
		TextDocumentPositionParams: position(s.uri("a.rt"), 1, 10),
	}, &refs)
	require.Len(t, refs, 2)
	assert.Equal(t, s.uri("a.rt"), refs[0].URI)
	assert.Equal(t, uint32(2), refs[0].Range.Start.Line)
	assert.Equal(t, s.uri("b.rt"), refs[1].URI)
	assert.Equal(t, uint32(1), refs[1].Range.Start.Line)
}

func TestServer_DocumentQueries(t *testing.T) {
	s := startSession(t)
	s.initialize()
	s.nextDiagnostics()

	a := s.uri("a.rt")
	s.notify(protocol.MethodTextDocumentDidOpen, protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: a, LanguageID: "rtext", Version: 1, Text: fileA},
	})

	t.Run("completion", func(t *testing.T) {
		var list protocol.CompletionList
		s.call(protocol.MethodTextDocumentCompletion, protocol.CompletionParams{
			TextDocumentPositionParams: position(a, 1, 20),
		}, &list)

		labels := make([]string, 0, len(list.Items))
		for _, item := range list.Items {
			labels = append(labels, item.Label)
			assert.Equal(t, protocol.CompletionItemKindValue, item.Kind)
		}
		assert.Equal(t, []string{"red", "green", "blue"}, labels)
	})

	t.Run("hover", func(t *testing.T) {
		var hover protocol.Hover
		s.call(protocol.MethodTextDocumentHover, protocol.HoverParams{
			TextDocumentPositionParams: position(a, 1, 4),
		}, &hover)

		assert.Contains(t, hover.Contents.Value, "Widget <name> < Item")
		require.NotNil(t, hover.Range)
		assert.Equal(t, uint32(2), hover.Range.Start.Character)
		assert.Equal(t, uint32(8), hover.Range.End.Character)
	})

	t.Run("definition", func(t *testing.T) {
		var locs []protocol.Location
		s.call(protocol.MethodTextDocumentDefinition, protocol.DefinitionParams{
			TextDocumentPositionParams: position(a, 2, 20),
		}, &locs)

		require.Len(t, locs, 1)
		assert.Equal(t, a, locs[0].URI)
		assert.Equal(t, uint32(1), locs[0].Range.Start.Line)
	})

	t.Run("document symbols", func(t *testing.T) {
		var symbols []protocol.DocumentSymbol
		s.call(protocol.MethodTextDocumentDocumentSymbol, protocol.DocumentSymbolParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: a},
		}, &symbols)

		names := make([]string, 0, len(symbols))
		for _, sym := range symbols {
			names = append(names, sym.Name)
		}
		assert.ElementsMatch(t, []string{"r", "w1", "g1", "p1"}, names)
	})

	t.Run("workspace symbols", func(t *testing.T) {
		var symbols []protocol.SymbolInformation
		s.call(protocol.MethodWorkspaceSymbol, protocol.WorkspaceSymbolParams{Query: "w1"}, &symbols)

		require.Len(t, symbols, 1)
		assert.Equal(t, "Widget /r/w1", symbols[0].Name)
		assert.Equal(t, a, symbols[0].Location.URI)
		assert.Equal(t, uint32(1), symbols[0].Location.Range.Start.Line)
	})

	t.Run("closed document", func(t *testing.T) {
		s.notify(protocol.MethodTextDocumentDidClose, protocol.DidCloseTextDocumentParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: a},
		})

		var list protocol.CompletionList
		s.call(protocol.MethodTextDocumentCompletion, protocol.CompletionParams{
			TextDocumentPositionParams: position(a, 1, 20),
		}, &list)
		assert.Empty(t, list.Items)
	})
}

func TestServer_PositionsAreUTF16(t *testing.T) {
	s := startSession(t)
	s.initialize()
	s.nextDiagnostics()

	a := s.uri("a.rt")
	text := "Root r {\n  Widget \"w\U0001F600\", color: green\n}\n"
	s.notify(protocol.MethodTextDocumentDidOpen, protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: a, LanguageID: "rtext", Version: 1, Text: text},
	})

	// the emoji takes two UTF-16 units, so column 23 is the start of the value
	var list protocol.CompletionList
	s.call(protocol.MethodTextDocumentCompletion, protocol.CompletionParams{
		TextDocumentPositionParams: position(a, 1, 23),
	}, &list)

	labels := make([]string, 0, len(list.Items))
	for _, item := range list.Items {
		labels = append(labels, item.Label)
	}
	assert.Equal(t, []string{"red", "green", "blue"}, labels)
}

func TestServer_UnknownMethod(t *testing.T) {
	s := startSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.conn.Call(ctx, "rtext/bogus", nil, nil)
	assert.Error(t, err)
}

func TestServer_Exit(t *testing.T) {
	s := startSession(t)
	s.initialize()

	s.call(protocol.MethodShutdown, nil, nil)
	s.notify(protocol.MethodExit, nil)

	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not exit")
	}
}
