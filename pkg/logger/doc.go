// Package logger builds configured log/slog loggers with sane defaults:
// JSON at info level for production, text at debug level for development.
// Every component in this module accepts a *slog.Logger and falls back to
// slog.Default() when given nil.
package logger
