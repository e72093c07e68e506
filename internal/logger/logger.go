// Package logger builds the zap loggers used across rtext. Output always
// goes to stderr; stdout is reserved for the service banner.
package logger

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Standard field names for structured logging
const (
	FieldComponent    = "component"
	FieldConn         = "conn"
	FieldCommand      = "command"
	FieldInvocationID = "invocation_id"
	FieldPort         = "port"
	FieldFile         = "file"
	FieldError        = "error"
	FieldState        = "state"
	FieldCount        = "count"
	FieldDurationMS   = "duration_ms"
)

// New returns a logger at the given level writing to stderr. Development
// loggers use the console encoder; production ones emit JSON.
func New(level string, development bool) (*zap.Logger, error) {
	return NewWithWriter(level, development, os.Stderr)
}

// NewWithWriter is New with an explicit destination
func NewWithWriter(level string, development bool, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var encoder zapcore.Encoder
	if development {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
	} else {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), zap.NewAtomicLevelAt(lvl))
	opts := []zap.Option{zap.ErrorOutput(zapcore.AddSync(os.Stderr))}
	if development {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(core, opts...), nil
}

// Component returns l tagged with a component name, or a no-op logger when l is nil
func Component(l *zap.Logger, name string) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.With(zap.String(FieldComponent, name))
}
