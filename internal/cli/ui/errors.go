package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/rtext-lang/rtext/internal/wire"
)

// ErrorLevel represents the severity of a message
type ErrorLevel int

const (
	ErrorLevelError ErrorLevel = iota
	ErrorLevelWarning
	ErrorLevelInfo
)

// ErrorOptions configures the error message formatting
type ErrorOptions struct {
	Level        ErrorLevel
	Context      string
	Problem      string
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

// FormatError creates a standardized error message
//
// Example output:
//
//	❌ NO CONFIGURATION: no .rtext configuration found for a.rt
//
//	   → Create one: rtext init
func FormatError(opts ErrorOptions) string {
	var b strings.Builder

	headerColor, bodyColor, symbol := levelStyle(opts.Level)
	if opts.NoColor {
		headerColor.DisableColor()
		bodyColor.DisableColor()
	}

	if opts.Context != "" {
		headerColor.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(opts.Context), opts.Problem)
	} else {
		headerColor.Fprintf(&b, "%s %s\n", symbol, opts.Problem)
	}

	if len(opts.Suggestions) > 0 {
		b.WriteString("\n")
		bodyColor.Fprintf(&b, "   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	}

	if len(opts.HelpCommands) > 0 {
		b.WriteString("\n")
		cyan := color.New(color.FgCyan)
		if opts.NoColor {
			cyan.DisableColor()
		}
		for _, cmd := range opts.HelpCommands {
			cyan.Fprintf(&b, "   → %s\n", cmd)
		}
	}

	return b.String()
}

func levelStyle(level ErrorLevel) (*color.Color, *color.Color, string) {
	switch level {
	case ErrorLevelWarning:
		return color.New(color.FgYellow, color.Bold), color.New(color.FgYellow), "⚠️"
	case ErrorLevelInfo:
		return color.New(color.FgCyan, color.Bold), color.New(color.FgCyan), "ℹ️"
	default:
		return color.New(color.FgRed, color.Bold), color.New(color.FgRed), "❌"
	}
}

// WriteError writes a formatted error message to the writer
func WriteError(w io.Writer, opts ErrorOptions) {
	fmt.Fprint(w, FormatError(opts))
}

// FormatSuccess creates a success message
func FormatSuccess(message string, noColor bool) string {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	return green.Sprintf("✓ %s", message)
}

// WriteSuccess writes a success message to the writer
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}

// NoConfigError explains that no .rtext file covers a model file
func NoConfigError(file string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:   ErrorLevelError,
		Context: "no configuration",
		Problem: fmt.Sprintf("No .rtext section matches '%s'.", file),
		HelpCommands: []string{
			"Create one: rtext init",
			"Get help: rtext request --help",
		},
		NoColor: noColor,
	})
}

// BackendError explains that the backend could not be reached
func BackendError(message string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:   ErrorLevelError,
		Context: "backend unavailable",
		Problem: message,
		HelpCommands: []string{
			"Check the backend command in .rtext",
			"Run it directly: rtext serve --log-level debug",
		},
		NoColor: noColor,
	})
}

// FormatProblem renders one diagnostic as file:line: severity: message
func FormatProblem(file string, p wire.Problem, noColor bool) string {
	c := color.New(color.FgRed)
	if p.Severity == "warning" {
		c = color.New(color.FgYellow)
	}
	if noColor {
		c.DisableColor()
	}
	return fmt.Sprintf("%s:%d: %s %s", file, p.Line, c.Sprint(p.Severity+":"), p.Message)
}

// WriteProblems writes every diagnostic followed by a summary line
func WriteProblems(w io.Writer, problems []wire.FileProblems, total int, noColor bool) {
	for _, fp := range problems {
		for _, p := range fp.Problems {
			fmt.Fprintln(w, FormatProblem(fp.File, p, noColor))
		}
	}
	if total == 0 {
		WriteSuccess(w, "No problems found", noColor)
		return
	}
	fmt.Fprint(w, FormatError(ErrorOptions{
		Level:   ErrorLevelWarning,
		Problem: fmt.Sprintf("%d problem(s) in %d file(s)", total, len(problems)),
		NoColor: noColor,
	}))
}
