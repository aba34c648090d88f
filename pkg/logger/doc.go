// Package logger builds configured slog loggers with sane defaults for
// production (JSON, info) and development (text, debug), static service
// attributes, and context-driven attribute injection for request-scoped
// values such as request or user identifiers.
package logger
