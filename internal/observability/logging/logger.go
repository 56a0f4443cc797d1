// Package logging provides the structured logger used across the engine.
// Components receive a Logger at construction; the process entry point owns
// its lifecycle. There is no package-level mutable logger state.
package logging

import (
	"context"
	"io"
	"os"
)

// Logger is the logging contract handed to components. Fields are alternating
// key/value pairs.
type Logger interface {
	Debug(component, msg string, fields ...any)
	Info(component, msg string, fields ...any)
	Warn(component, msg string, fields ...any)
	Error(component, msg string, fields ...any)
	Event(ctx context.Context, event string, fields map[string]any)
	Close() error
}

type loggerKey struct{}

// WithLogger stores l in the context for code paths that only receive a
// context (CLI command plumbing).
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// From retrieves the context logger, or a noop logger when none is set.
func From(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return l
	}
	return Noop()
}

// Noop returns a logger that discards everything.
func Noop() Logger {
	return &noopLogger{}
}

// NewLogger builds a logger from cfg. Unknown formats degrade to noop so a
// misconfigured log format never takes the process down.
func NewLogger(cfg Config) (Logger, error) {
	var w io.Writer
	var closer io.Closer

	switch cfg.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		w = f
		closer = f
	}

	if cfg.Format == FormatJSONL {
		return &jsonlLogger{
			writer:   w,
			closer:   closer,
			minLevel: levelPriority(cfg.Level),
		}, nil
	}

	return &noopLogger{closer: closer}, nil
}

type noopLogger struct {
	closer io.Closer
}

func (n *noopLogger) Debug(component, msg string, fields ...any)                     {}
func (n *noopLogger) Info(component, msg string, fields ...any)                      {}
func (n *noopLogger) Warn(component, msg string, fields ...any)                      {}
func (n *noopLogger) Error(component, msg string, fields ...any)                     {}
func (n *noopLogger) Event(ctx context.Context, event string, fields map[string]any) {}
func (n *noopLogger) Close() error {
	if n.closer != nil {
		return n.closer.Close()
	}
	return nil
}
