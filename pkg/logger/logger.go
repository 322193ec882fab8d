package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Format represents logger output format.
type Format string

const (
	// FormatJSON outputs structured logs for production log aggregation.
	FormatJSON Format = "json"
	// FormatText outputs human-readable logs for development debugging.
	FormatText Format = "text"
)

type cfg struct {
	level  slog.Level
	format Format
	output io.Writer
	attrs  []slog.Attr
}

// Option configures logger creation.
type Option func(*cfg)

// WithLevel sets the minimum log level.
func WithLevel(l slog.Level) Option {
	return func(c *cfg) { c.level = l }
}

// WithFormat sets the output format. Panics on an unknown format so a
// misconfigured process fails at startup instead of at first log call.
func WithFormat(f Format) Option {
	return func(c *cfg) {
		switch f {
		case FormatJSON, FormatText:
			c.format = f
		default:
			panic(fmt.Errorf("invalid log format %q: must be %q or %q", f, FormatJSON, FormatText))
		}
	}
}

// WithOutput sets a custom output destination; nil writers are ignored.
func WithOutput(w io.Writer) Option {
	return func(c *cfg) {
		if w != nil {
			c.output = w
		}
	}
}

// WithAttr adds static attributes to every log record.
func WithAttr(attrs ...slog.Attr) Option {
	return func(c *cfg) {
		if len(attrs) > 0 {
			c.attrs = append(c.attrs, attrs...)
		}
	}
}

// WithDevelopment configures text output at debug level for local work.
func WithDevelopment(service string) Option {
	return func(c *cfg) {
		c.level = slog.LevelDebug
		c.format = FormatText
		if service != "" {
			c.attrs = append(c.attrs, slog.String("service", service))
		}
	}
}

// WithProduction configures JSON output at info level.
func WithProduction(service string) Option {
	return func(c *cfg) {
		c.level = slog.LevelInfo
		c.format = FormatJSON
		if service != "" {
			c.attrs = append(c.attrs, slog.String("service", service))
		}
	}
}

// New creates a configured slog.Logger. Defaults are production-safe:
// JSON format at info level on stdout.
func New(opts ...Option) *slog.Logger {
	c := &cfg{
		level:  slog.LevelInfo,
		format: FormatJSON,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}

	handlerOpts := &slog.HandlerOptions{Level: c.level}

	var handler slog.Handler
	if c.format == FormatText {
		handler = slog.NewTextHandler(c.output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(c.output, handlerOpts)
	}

	if len(c.attrs) > 0 {
		handler = handler.WithAttrs(c.attrs)
	}

	return slog.New(handler)
}

// SetAsDefault installs the logger as the process-wide slog default.
func SetAsDefault(l *slog.Logger) {
	slog.SetDefault(l)
}
