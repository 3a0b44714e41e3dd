// Package logger builds the process slog.Logger (JSON on stdout for the
// server, any writer for the CLI) and carries request- or job-scoped loggers
// through a context.
package logger
