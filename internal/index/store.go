// Package index keeps a searchable table of model elements for the
// find_elements command.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rtext-lang/rtext/internal/util/fuzzy"
)

// Element is one row of the index
type Element struct {
	Identifier string
	Name       string
	Class      string
	Display    string
	File       string
	Line       int
}

// Store is the SQLite backed element index
type Store struct {
	db *sql.DB
}

// Open creates a private in-memory index
func Open() (*Store, error) {
	dsn := fmt.Sprintf("file:rtext-%s?mode=memory&cache=shared", uuid.NewString())
	return open(dsn)
}

// OpenFile opens an on-disk index at path
func OpenFile(path string) (*Store, error) {
	return open(path + "?_journal_mode=WAL&_busy_timeout=5000")
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	// an in-memory database lives exactly as long as its connection
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping index: %w", err)
	}

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing connection. The caller runs Migrate.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the elements table. Idempotent.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS elements (
  id          INTEGER PRIMARY KEY,
  identifier  TEXT NOT NULL,
  name        TEXT NOT NULL,
  class       TEXT NOT NULL,
  display     TEXT NOT NULL,
  file        TEXT NOT NULL,
  line        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_elements_name ON elements(name);
CREATE INDEX IF NOT EXISTS idx_elements_identifier ON elements(identifier);
`

// Replace swaps the whole content of the index in one transaction
func (s *Store) Replace(ctx context.Context, elements []Element) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM elements`); err != nil {
		return fmt.Errorf("clear elements: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO elements (identifier, name, class, display, file, line) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range elements {
		if _, err = stmt.ExecContext(ctx, e.Identifier, e.Name, e.Class, e.Display, e.File, e.Line); err != nil {
			return fmt.Errorf("insert element %s: %w", e.Identifier, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// Count returns the number of indexed elements
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM elements`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count elements: %w", err)
	}
	return n, nil
}

// Search returns elements whose name contains the runes of pattern in
// order, ignoring case. Results are ranked by edit distance between name and
// pattern, then by display text. At most limit results are returned
// (limit <= 0 means no limit) together with the total number of matches.
// An empty pattern matches nothing.
func (s *Store) Search(ctx context.Context, pattern string, limit int) ([]Element, int, error) {
	if pattern == "" {
		return nil, 0, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT identifier, name, class, display, file, line FROM elements WHERE name LIKE ? ESCAPE '\'`,
		subsequenceLike(pattern))
	if err != nil {
		return nil, 0, fmt.Errorf("search elements: %w", err)
	}
	defer rows.Close()

	type ranked struct {
		Element
		distance int
	}
	var matches []ranked
	for rows.Next() {
		var e Element
		if err := rows.Scan(&e.Identifier, &e.Name, &e.Class, &e.Display, &e.File, &e.Line); err != nil {
			return nil, 0, fmt.Errorf("scan element: %w", err)
		}
		// LIKE folds ASCII case only
		if !fuzzy.IsSubsequence(pattern, e.Name) {
			continue
		}
		matches = append(matches, ranked{Element: e, distance: fuzzy.Distance(e.Name, pattern, false)})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate elements: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].distance != matches[j].distance {
			return matches[i].distance < matches[j].distance
		}
		if matches[i].Display != matches[j].Display {
			return matches[i].Display < matches[j].Display
		}
		return matches[i].Identifier < matches[j].Identifier
	})

	total := len(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]Element, len(matches))
	for i, m := range matches {
		out[i] = m.Element
	}
	return out, total, nil
}

// subsequenceLike turns "abc" into "%a%b%c%"
func subsequenceLike(pattern string) string {
	var b strings.Builder
	b.WriteByte('%')
	for _, r := range pattern {
		switch r {
		case '%', '_', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
		b.WriteByte('%')
	}
	return b.String()
}
