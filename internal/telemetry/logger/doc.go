// Package logger configures structured logging on top of log/slog.
//
//   - logger.go: handler construction and the process-wide level
//   - context.go: carrying a logger and an operation id in a context
//   - redact.go: masking of API keys and other secrets
//
// Components receive a *slog.Logger and tag it with a component
// attribute; nothing outside this package builds handlers.
package logger
