package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// RTextFile is the name of the frontend configuration file
const RTextFile = ".rtext"

// ErrNoConfig is returned when no .rtext section matches a file
var ErrNoConfig = errors.New("no .rtext configuration found")

// Section of a .rtext file: the backend command for files matching one of
// the patterns. The command runs in Dir, the directory of the .rtext file.
type Section struct {
	Patterns []string
	Command  string
	Dir      string
}

// Matches reports whether the base name of file matches a pattern
func (s Section) Matches(file string) bool {
	base := filepath.Base(file)
	for _, p := range s.Patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}

// ParseRText reads .rtext sections. A section is a line of comma separated
// patterns ending in ':' followed by the command line.
func ParseRText(r io.Reader, dir string) ([]Section, error) {
	var sections []Section
	var current *Section
	lineNo := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if current == nil {
			if !strings.HasSuffix(line, ":") {
				return nil, fmt.Errorf("line %d: expected file patterns ending in ':'", lineNo)
			}
			patterns, err := splitPatterns(strings.TrimSuffix(line, ":"))
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			current = &Section{Patterns: patterns, Dir: dir}
			continue
		}

		current.Command = line
		sections = append(sections, *current)
		current = nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if current != nil {
		return nil, fmt.Errorf("line %d: missing command for patterns %s", lineNo, strings.Join(current.Patterns, ", "))
	}
	return sections, nil
}

func splitPatterns(s string) ([]string, error) {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, errors.New("no file patterns")
	}
	return out, nil
}

// FindConfig walks up from the directory of file and returns the first
// .rtext section matching it
func FindConfig(file string) (Section, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return Section{}, err
	}

	dir := filepath.Dir(abs)
	for {
		path := filepath.Join(dir, RTextFile)
		f, err := os.Open(path)
		if err == nil {
			sections, err := ParseRText(f, dir)
			f.Close()
			if err != nil {
				return Section{}, fmt.Errorf("%s: %w", path, err)
			}
			for _, s := range sections {
				if s.Matches(abs) {
					return s, nil
				}
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Section{}, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Section{}, fmt.Errorf("%w for %s", ErrNoConfig, file)
		}
		dir = parent
	}
}

// WriteRText formats sections in .rtext syntax
func WriteRText(w io.Writer, sections []Section) error {
	for _, s := range sections {
		if _, err := fmt.Fprintf(w, "%s:\n%s\n", strings.Join(s.Patterns, ", "), s.Command); err != nil {
			return err
		}
	}
	return nil
}
