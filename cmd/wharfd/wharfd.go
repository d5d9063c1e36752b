package main

import (
	"log/slog"
	"os"

	"github.com/wharfworks/wharfd/internal"
	"github.com/wharfworks/wharfd/internal/cli"
)

// The entry point for wharfd.
//
// Initializes logging, displays startup information, and executes the root
// command. If any error occurs during execution, it exits with a non-zero code.
func main() {
	slog.SetDefault(logger())

	slog.Debug("build", "version", internal.VersionString())

	slog.Debug("wharfd is running",
		"pid", os.Getpid(),
		"cwd", cwd(),
		"args", os.Args,
	)

	if err := cli.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// Creates a logger seeded from build-time linker flags.
//
// The level is held in a shared [slog.LevelVar] so the CLI can reconfigure
// it after flag parsing.
func logger() *slog.Logger {
	internal.LogLevel.Set(logLevel())
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: internal.LogLevel,
	})
	return slog.New(handler).With("app", internal.Name)
}

// Returns the log level derived from build-time linker flags.
func logLevel() slog.Level {
	if internal.IsDebug() {
		return slog.LevelDebug
	}
	if internal.IsQuiet() {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// Returns the current working directory or "(unknown)".
func cwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "(unknown)"
	}
	return cwd
}
