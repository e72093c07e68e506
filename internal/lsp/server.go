// Package lsp exposes the completion engine and model queries through the
// Language Server Protocol over a JSON-RPC stream.
package lsp

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap"

	"github.com/rtext-lang/rtext/internal/logger"
	"github.com/rtext-lang/rtext/internal/tooling"
	"github.com/rtext-lang/rtext/internal/wire"
)

// Server implements the LSP server
type Server struct {
	// api answers all model queries
	api *tooling.API

	rwc    io.ReadWriteCloser
	conn   jsonrpc2.Conn
	client protocol.Client
	logger *zap.Logger

	workspaceRoot string
	capabilities  protocol.ServerCapabilities

	// published holds the URIs that currently have diagnostics
	published map[protocol.DocumentURI]bool

	cancel context.CancelFunc
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger.Component(l, "lsp")
	}
}

// WithStream replaces stdin/stdout as the transport
func WithStream(rwc io.ReadWriteCloser) Option {
	return func(s *Server) {
		s.rwc = rwc
	}
}

// NewServer creates a new LSP server instance
func NewServer(api *tooling.API, opts ...Option) *Server {
	s := &Server{
		api:       api,
		rwc:       stdrwc{},
		logger:    zap.NewNop(),
		published: make(map[protocol.DocumentURI]bool),
		capabilities: protocol.ServerCapabilities{
			TextDocumentSync: protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.TextDocumentSyncKindFull,
				Save: &protocol.SaveOptions{
					IncludeText: false,
				},
			},
			CompletionProvider: &protocol.CompletionOptions{
				TriggerCharacters: []string{" ", ",", "[", "/"},
				ResolveProvider:   false,
			},
			HoverProvider: true,
			DefinitionProvider: &protocol.DefinitionOptions{
				WorkDoneProgressOptions: protocol.WorkDoneProgressOptions{
					WorkDoneProgress: false,
				},
			},
			ReferencesProvider:      true,
			DocumentSymbolProvider:  true,
			WorkspaceSymbolProvider: true,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run serves requests until exit, ctx cancellation or the stream closes
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting language server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel

	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(s.rwc))
	s.conn = conn
	s.client = protocol.ClientDispatcher(conn, s.logger)

	conn.Go(ctx, s.handler())

	select {
	case <-ctx.Done():
	case <-conn.Done():
	}

	s.logger.Info("shutting down language server")
	return conn.Close()
}

// handler returns the JSON-RPC handler function
func (s *Server) handler() jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		s.logger.Debug("received", zap.String("method", req.Method()))

		switch req.Method() {
		case protocol.MethodInitialize:
			return s.handleInitialize(ctx, reply, req)
		case protocol.MethodInitialized:
			return s.handleInitialized(ctx, reply, req)
		case protocol.MethodShutdown:
			return reply(ctx, nil, nil)
		case protocol.MethodExit:
			return s.handleExit(ctx, reply, req)
		case protocol.MethodTextDocumentDidOpen:
			return s.handleTextDocumentDidOpen(ctx, reply, req)
		case protocol.MethodTextDocumentDidChange:
			return s.handleTextDocumentDidChange(ctx, reply, req)
		case protocol.MethodTextDocumentDidClose:
			return s.handleTextDocumentDidClose(ctx, reply, req)
		case protocol.MethodTextDocumentDidSave:
			return s.handleTextDocumentDidSave(ctx, reply, req)
		case protocol.MethodTextDocumentCompletion:
			return s.handleTextDocumentCompletion(ctx, reply, req)
		case protocol.MethodTextDocumentHover:
			return s.handleTextDocumentHover(ctx, reply, req)
		case protocol.MethodTextDocumentDefinition:
			return s.handleTextDocumentDefinition(ctx, reply, req)
		case protocol.MethodTextDocumentReferences:
			return s.handleTextDocumentReferences(ctx, reply, req)
		case protocol.MethodTextDocumentDocumentSymbol:
			return s.handleTextDocumentDocumentSymbol(ctx, reply, req)
		case protocol.MethodWorkspaceSymbol:
			return s.handleWorkspaceSymbol(ctx, reply, req)
		default:
			return reply(ctx, nil, jsonrpc2.ErrMethodNotFound)
		}
	}
}

func (s *Server) handleInitialize(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.InitializeParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return s.replyWithError(ctx, reply, jsonrpc2.InvalidParams, "Failed to parse initialize params")
	}

	if len(params.WorkspaceFolders) > 0 {
		s.workspaceRoot = uri.URI(params.WorkspaceFolders[0].URI).Filename()
	} else if params.RootURI != "" {
		s.workspaceRoot = uri.URI(params.RootURI).Filename()
	} else if params.RootPath != "" {
		s.workspaceRoot = params.RootPath
	}
	s.logger.Info("initialize", zap.String("workspace_root", s.workspaceRoot))

	result := protocol.InitializeResult{
		Capabilities: s.capabilities,
		ServerInfo: &protocol.ServerInfo{
			Name:    "rtext-lsp",
			Version: "0.1.0",
		},
	}
	return reply(ctx, result, nil)
}

// handleInitialized loads the model and publishes its diagnostics
func (s *Server) handleInitialized(ctx context.Context, reply jsonrpc2.Replier, _ jsonrpc2.Request) error {
	s.reload(ctx)
	return reply(ctx, nil, nil)
}

func (s *Server) handleExit(ctx context.Context, reply jsonrpc2.Replier, _ jsonrpc2.Request) error {
	if err := reply(ctx, nil, nil); err != nil {
		s.logger.Debug("reply to exit failed", zap.Error(err))
	}
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *Server) handleTextDocumentDidOpen(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidOpenTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return s.replyWithError(ctx, reply, jsonrpc2.InvalidParams, "Failed to parse didOpen params")
	}

	s.api.OpenDocument(string(params.TextDocument.URI), params.TextDocument.Text, int(params.TextDocument.Version))
	return reply(ctx, nil, nil)
}

func (s *Server) handleTextDocumentDidChange(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidChangeTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return s.replyWithError(ctx, reply, jsonrpc2.InvalidParams, "Failed to parse didChange params")
	}
	if len(params.ContentChanges) == 0 {
		return reply(ctx, nil, nil)
	}

	// Full sync: the last change holds the whole text
	content := params.ContentChanges[len(params.ContentChanges)-1].Text
	s.api.UpdateDocument(string(params.TextDocument.URI), content, int(params.TextDocument.Version))
	return reply(ctx, nil, nil)
}

func (s *Server) handleTextDocumentDidClose(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidCloseTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return s.replyWithError(ctx, reply, jsonrpc2.InvalidParams, "Failed to parse didClose params")
	}

	s.api.CloseDocument(string(params.TextDocument.URI))
	return reply(ctx, nil, nil)
}

// handleTextDocumentDidSave reloads the saved file and republishes all
// diagnostics, since references across files may have changed
func (s *Server) handleTextDocumentDidSave(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidSaveTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		return s.replyWithError(ctx, reply, jsonrpc2.InvalidParams, "Failed to parse didSave params")
	}

	path := uri.URI(params.TextDocument.URI).Filename()
	s.api.Invalidate([]string{path})
	s.reload(ctx)
	return reply(ctx, nil, nil)
}

func (s *Server) reload(ctx context.Context) {
	res, err := s.api.LoadModel(ctx, nil)
	if err != nil {
		s.logger.Error("failed to load model", zap.Error(err))
		return
	}

	current := make(map[protocol.DocumentURI]bool, len(res.Problems))
	for _, fp := range res.Problems {
		u := protocol.DocumentURI(uri.File(fp.File))
		s.publishDiagnostics(ctx, u, s.diagnostics(u, fp.Problems))
		current[u] = true
	}
	for u := range s.published {
		if !current[u] {
			s.publishDiagnostics(ctx, u, []protocol.Diagnostic{})
		}
	}
	s.published = current
}

func (s *Server) diagnostics(u protocol.DocumentURI, problems []wire.Problem) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(problems))
	for _, p := range problems {
		line := uint32(max(p.Line-1, 0))
		out = append(out, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{Line: line},
				End:   protocol.Position{Line: line, Character: s.lineLength(u, int(line))},
			},
			Severity: convertSeverity(p.Severity),
			Source:   "rtext",
			Message:  p.Message,
		})
	}
	return out
}

// lineLength is the UTF-16 length of a line of an open document, zero
// for documents the editor has not opened
func (s *Server) lineLength(u protocol.DocumentURI, line int) uint32 {
	doc, ok := s.api.GetDocument(string(u))
	if !ok || line >= len(doc.Lines) {
		return 0
	}
	l := doc.Lines[line]
	return utf16Column(l, len(l))
}

func (s *Server) publishDiagnostics(ctx context.Context, u protocol.DocumentURI, diagnostics []protocol.Diagnostic) {
	params := protocol.PublishDiagnosticsParams{
		URI:         u,
		Diagnostics: diagnostics,
	}
	if err := s.client.PublishDiagnostics(ctx, &params); err != nil {
		s.logger.Warn("failed to publish diagnostics", zap.String(logger.FieldFile, string(u)), zap.Error(err))
	}
}

// replyWithError sends an LSP-compliant error response
func (s *Server) replyWithError(ctx context.Context, reply jsonrpc2.Replier, code jsonrpc2.Code, message string) error {
	return reply(ctx, nil, &jsonrpc2.Error{
		Code:    code,
		Message: message,
	})
}

func convertSeverity(severity string) protocol.DiagnosticSeverity {
	if severity == "warning" {
		return protocol.DiagnosticSeverityWarning
	}
	return protocol.DiagnosticSeverityError
}

// stdrwc implements io.ReadWriteCloser for stdin/stdout
type stdrwc struct{}

func (stdrwc) Read(p []byte) (int, error) {
	return os.Stdin.Read(p)
}

func (stdrwc) Write(p []byte) (int, error) {
	return os.Stdout.Write(p)
}

func (stdrwc) Close() error {
	if err := os.Stdin.Close(); err != nil {
		return err
	}
	return os.Stdout.Close()
}
