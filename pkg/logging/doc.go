// Package logging wires the process-wide logger for the CLI.
//
// It is a thin layer over Go's slog: InitForCLI installs a text handler with
// the chosen minimum level as the slog default, so library packages that log
// through slog.Default pick up the CLI's verbosity automatically. The
// package-level helpers add a subsystem attribute so log lines can be
// filtered by origin (Config, Session, Login, Token).
package logging
