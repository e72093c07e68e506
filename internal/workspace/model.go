// Package workspace loads the model files of a workspace and answers the
// model queries behind completion, navigation and search: reference
// candidates, reference targets, referencing elements and element choices.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/rtext-lang/rtext/internal/cache"
	"github.com/rtext-lang/rtext/internal/completion"
	"github.com/rtext-lang/rtext/internal/index"
	"github.com/rtext-lang/rtext/internal/logger"
	"github.com/rtext-lang/rtext/internal/metamodel"
	"github.com/rtext-lang/rtext/internal/wire"
)

// Model is the loaded state of a workspace
type Model struct {
	parser   *Parser
	root     string
	patterns []string
	cache    *cache.FragmentCache[*Fragment]
	hasher   *cache.FileHasher
	index    *index.Store
	ownIndex bool
	logger   *zap.Logger

	mu        sync.RWMutex
	fragments []*Fragment
	byIdent   map[string][]*Element
}

// Option configures a Model
type Option func(*Model)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Model) {
		m.logger = logger.Component(l, "workspace")
	}
}

// WithIndex uses an existing element index instead of a private one
func WithIndex(s *index.Store) Option {
	return func(m *Model) {
		m.index = s
	}
}

// New creates a model over the files below root whose base name matches
// one of patterns. Nothing is read until Load.
func New(desc *metamodel.Adapter, root string, patterns []string, opts ...Option) (*Model, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	for _, p := range patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid file pattern %q: %w", p, err)
		}
	}

	m := &Model{
		parser:   NewParser(desc),
		root:     abs,
		patterns: patterns,
		cache:    cache.NewFragmentCache[*Fragment](),
		hasher:   cache.NewFileHasher(),
		logger:   zap.NewNop(),
		byIdent:  make(map[string][]*Element),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.index == nil {
		store, err := index.Open()
		if err != nil {
			return nil, err
		}
		m.index = store
		m.ownIndex = true
	}
	return m, nil
}

// Close releases the element index if the model opened it
func (m *Model) Close() error {
	if m.ownIndex {
		return m.index.Close()
	}
	return nil
}

// Root returns the absolute workspace root
func (m *Model) Root() string {
	return m.root
}

// Matches reports whether path is a model file of this workspace
func (m *Model) Matches(path string) bool {
	base := filepath.Base(path)
	for _, p := range m.patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}

// Files lists the model files in lexical order
func (m *Model) Files() ([]string, error) {
	var files []string
	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != m.root && len(d.Name()) > 1 && d.Name()[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		if m.Matches(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list model files: %w", err)
	}
	return files, nil
}

// Invalidate drops cached fragments so the next Load parses the files again
func (m *Model) Invalidate(paths []string) {
	for _, p := range paths {
		m.cache.Invalidate(p)
	}
}

// Load reads every model file, resolves references and rebuilds the element
// index. progress is called with strictly increasing percentages. The
// returned problems are grouped per file, files in lexical order.
func (m *Model) Load(ctx context.Context, progress func(percent int)) ([]wire.FileProblems, error) {
	files, err := m.Files()
	if err != nil {
		return nil, err
	}

	fragments := make([]*Fragment, 0, len(files))
	keep := make(map[string]bool, len(files))
	last := 0
	reused := 0
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frag, hit, err := m.fragment(file)
		if err != nil {
			return nil, err
		}
		if hit {
			reused++
		}
		fragments = append(fragments, frag)
		keep[file] = true

		if pct := (i + 1) * 100 / len(files); progress != nil && pct > last {
			progress(pct)
			last = pct
		}
	}
	m.cache.Retain(keep)

	byIdent := make(map[string][]*Element)
	var rows []index.Element
	for _, frag := range fragments {
		for _, e := range frag.Elements {
			if e.Identifier == "" {
				continue
			}
			byIdent[e.Identifier] = append(byIdent[e.Identifier], e)
			rows = append(rows, index.Element{
				Identifier: e.Identifier,
				Name:       e.Name,
				Class:      e.Class.Name,
				Display:    e.Display(),
				File:       e.File,
				Line:       e.Line,
			})
		}
	}

	if err := m.index.Replace(ctx, rows); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.fragments = fragments
	m.byIdent = byIdent
	m.mu.Unlock()

	m.logger.Info("model loaded",
		zap.Int(logger.FieldCount, len(files)),
		zap.Int("reused", reused),
		zap.Int("elements", len(rows)))

	return m.problems(fragments, byIdent), nil
}

func (m *Model) fragment(file string) (*Fragment, bool, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", file, err)
	}
	hash := m.hasher.HashContent(content)
	if frag, ok := m.cache.Lookup(file, hash); ok {
		return frag, true, nil
	}

	frag := m.parser.Parse(file, content)
	m.cache.Set(file, frag, hash)
	return frag, false, nil
}

// problems merges parse problems with unresolved references. Cached
// fragments are never modified.
func (m *Model) problems(fragments []*Fragment, byIdent map[string][]*Element) []wire.FileProblems {
	var out []wire.FileProblems
	for _, frag := range fragments {
		problems := append([]wire.Problem(nil), frag.Problems...)
		for _, ref := range frag.References {
			if !resolves(byIdent[ref.Target], ref.Feature) {
				problems = append(problems, wire.Problem{
					Severity: SeverityWarning,
					Line:     ref.Line,
					Message:  fmt.Sprintf("unresolved reference '%s'", ref.Target),
				})
			}
		}
		if len(problems) == 0 {
			continue
		}
		sort.SliceStable(problems, func(i, j int) bool {
			return problems[i].Line < problems[j].Line
		})
		out = append(out, wire.FileProblems{File: frag.File, Problems: problems})
	}
	return out
}

func resolves(candidates []*Element, f *metamodel.Feature) bool {
	for _, e := range candidates {
		if f.Type.Class == nil || e.Class.ConformsTo(f.Type.Class) {
			return true
		}
	}
	return false
}

// ReferenceOptions lists the identifiers a reference feature may point to
func (m *Model) ReferenceOptions(f *metamodel.Feature, _ completion.Context) []completion.Option {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idents := make([]string, 0)
	for ident, elems := range m.byIdent {
		if resolves(elems, f) {
			idents = append(idents, ident)
		}
	}
	sort.Strings(idents)

	options := make([]completion.Option, 0, len(idents))
	for _, ident := range idents {
		options = append(options, completion.Option{Text: ident, Extra: m.byIdent[ident][0].Class.Name})
	}
	return options
}

// ReferenceTargets returns the elements an identifier refers to
func (m *Model) ReferenceTargets(ident string) []wire.Target {
	m.mu.RLock()
	defer m.mu.RUnlock()

	targets := make([]wire.Target, 0)
	for _, e := range m.byIdent[ident] {
		targets = append(targets, wire.Target{File: e.File, Line: e.Line, Display: e.Display()})
	}
	sortTargets(targets)
	return targets
}

// ReferencingElements returns the places that refer to ident
func (m *Model) ReferencingElements(ident string) []wire.Target {
	m.mu.RLock()
	defer m.mu.RUnlock()

	targets := make([]wire.Target, 0)
	for _, frag := range m.fragments {
		for _, ref := range frag.References {
			if ref.Target == ident {
				targets = append(targets, wire.Target{File: frag.File, Line: ref.Line, Display: ref.Source.Display()})
			}
		}
	}
	sortTargets(targets)
	return targets
}

// ElementChoices searches the element index
func (m *Model) ElementChoices(ctx context.Context, pattern string, limit int) ([]wire.Target, int, error) {
	found, total, err := m.index.Search(ctx, pattern, limit)
	if err != nil {
		return nil, 0, err
	}
	targets := make([]wire.Target, 0, len(found))
	for _, e := range found {
		targets = append(targets, wire.Target{File: e.File, Line: e.Line, Display: e.Display})
	}
	return targets, total, nil
}

// FileElements returns the elements parsed from file, in line order
func (m *Model) FileElements(file string) []*Element {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, frag := range m.fragments {
		if frag.File == file {
			return frag.Elements
		}
	}
	return nil
}

func sortTargets(targets []wire.Target) {
	sort.SliceStable(targets, func(i, j int) bool {
		if targets[i].File != targets[j].File {
			return targets[i].File < targets[j].File
		}
		return targets[i].Line < targets[j].Line
	})
}
