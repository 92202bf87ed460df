// Package logging assembles structured slog loggers used across queueflow.
//
// It owns the console and JSON handlers, level parsing, and optional JSON
// file output for the daemon. Context helpers tag log lines with request
// correlation ids and agent ids. The package also provides a no-op logger for
// tests and wiring code that cannot fail.
package logging
