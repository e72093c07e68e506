// Package tooling is the editor-facing API shared by the backend service and
// the LSP bridge. It combines the schema descriptor, the completion engine
// and the loaded model, and keeps the text of documents open in an editor.
package tooling

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rtext-lang/rtext/internal/completion"
	"github.com/rtext-lang/rtext/internal/metamodel"
	"github.com/rtext-lang/rtext/internal/wire"
	"github.com/rtext-lang/rtext/internal/workspace"
)

// Model is the loaded workspace the API queries
type Model interface {
	completion.ReferenceProvider
	Load(ctx context.Context, progress func(percent int)) ([]wire.FileProblems, error)
	Invalidate(paths []string)
	ReferenceTargets(ident string) []wire.Target
	ReferencingElements(ident string) []wire.Target
	ElementChoices(ctx context.Context, pattern string, limit int) ([]wire.Target, int, error)
	FileElements(file string) []*workspace.Element
}

// API provides thread-safe access to completion, navigation and search
type API struct {
	desc   metamodel.Descriptor
	engine *completion.Engine
	model  Model
	config *Config

	documents map[string]*Document
	docsMutex sync.RWMutex
}

// Config holds configuration for the tooling API
type Config struct {
	// MaxSearchResults caps the elements returned by FindElements
	MaxSearchResults int
}

// Document is the editor's current text of a file
type Document struct {
	URI     string
	Content string
	Version int
	Lines   []string
}

// LoadResult is the outcome of loading the model
type LoadResult struct {
	Problems      []wire.FileProblems
	TotalProblems int
}

// NewAPI creates an API over a descriptor and a model
func NewAPI(desc metamodel.Descriptor, model Model) *API {
	return NewAPIWithConfig(desc, model, &Config{MaxSearchResults: 100})
}

// NewAPIWithConfig creates an API with custom configuration
func NewAPIWithConfig(desc metamodel.Descriptor, model Model, config *Config) *API {
	return &API{
		desc:      desc,
		engine:    completion.NewEngine(desc),
		model:     model,
		config:    config,
		documents: make(map[string]*Document),
	}
}

// LoadModel loads the whole model and counts its problems
func (a *API) LoadModel(ctx context.Context, progress func(percent int)) (LoadResult, error) {
	problems, err := a.model.Load(ctx, progress)
	if err != nil {
		return LoadResult{}, fmt.Errorf("failed to load model: %w", err)
	}

	total := 0
	for _, fp := range problems {
		total += len(fp.Problems)
	}
	if problems == nil {
		problems = []wire.FileProblems{}
	}
	return LoadResult{Problems: problems, TotalProblems: total}, nil
}

// Invalidate forgets cached state for changed files
func (a *API) Invalidate(paths []string) {
	a.model.Invalidate(paths)
}

// Complete returns the completion options for the cursor at byte offset col
// of the last context line
func (a *API) Complete(lines []string, col int) []completion.Option {
	lines = normalizeLines(lines)
	cur := lines[len(lines)-1]
	col = clamp(col, 0, len(cur))

	ctx := completion.Resolve(a.desc, completion.LinesFetcher(lines))
	return a.engine.Complete(cur[:col], ctx, a.model)
}

// FindElements searches model elements by name
func (a *API) FindElements(ctx context.Context, pattern string) ([]wire.Target, int, error) {
	return a.model.ElementChoices(ctx, pattern, a.config.MaxSearchResults)
}

// DocumentElements returns the elements loaded from file
func (a *API) DocumentElements(file string) []*workspace.Element {
	return a.model.FileElements(file)
}

// OpenDocument starts tracking an editor document
func (a *API) OpenDocument(uri, content string, version int) *Document {
	doc := newDocument(uri, content, version)

	a.docsMutex.Lock()
	a.documents[uri] = doc
	a.docsMutex.Unlock()
	return doc
}

// UpdateDocument replaces the text of a tracked document
func (a *API) UpdateDocument(uri, content string, version int) *Document {
	a.docsMutex.Lock()
	defer a.docsMutex.Unlock()

	if old, ok := a.documents[uri]; ok && old.Content == content {
		old.Version = version
		return old
	}

	doc := newDocument(uri, content, version)
	a.documents[uri] = doc
	return doc
}

// GetDocument retrieves a tracked document
func (a *API) GetDocument(uri string) (*Document, bool) {
	a.docsMutex.RLock()
	defer a.docsMutex.RUnlock()

	doc, ok := a.documents[uri]
	return doc, ok
}

// CloseDocument stops tracking a document
func (a *API) CloseDocument(uri string) {
	a.docsMutex.Lock()
	defer a.docsMutex.Unlock()

	delete(a.documents, uri)
}

// ContextLines returns the lines of a document up to and including line
func (a *API) ContextLines(uri string, line int) ([]string, error) {
	doc, ok := a.GetDocument(uri)
	if !ok {
		return nil, fmt.Errorf("document not found: %s", uri)
	}
	if line < 0 || line >= len(doc.Lines) {
		return nil, fmt.Errorf("line %d out of range in %s", line, uri)
	}
	return doc.Lines[:line+1], nil
}

func newDocument(uri, content string, version int) *Document {
	return &Document{
		URI:     uri,
		Content: content,
		Version: version,
		Lines:   strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n"),
	}
}

func normalizeLines(lines []string) []string {
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
