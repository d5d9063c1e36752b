package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/wharfworks/wharfd/internal"
)

// Represents the root command for wharfd.
var RootCmd struct {
	Quiet   bool       `short:"q" help:"Suppress informational output."`
	Verbose bool       `short:"v" help:"Enable verbose output."`
	Debug   bool       `short:"d" help:"Enable debug output."`
	Socket  string     `short:"s" help:"Override the default Unix socket path." placeholder:"PATH"`
	Build   BuildCmd   `cmd:"" help:"Execute a pipeline manifest."`
	Start   StartCmd   `cmd:"" help:"Start the daemon."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("The wharf build daemon.\n\nExecutes two-stage pipelines that fetch, compile, and package a service binary into a minimal runtime image."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
		buildVars(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Adjusts the global logger based on CLI flags.
//
// Flags are merged with the build-time defaults, which are written back so
// the rest of the program sees the effective modes.
func configureLogger() {
	debug := RootCmd.Debug || internal.IsDebug()
	quiet := RootCmd.Quiet || internal.IsQuiet()
	verbose := RootCmd.Verbose || internal.IsVerbose()

	internal.SetDebug(debug)
	internal.SetQuiet(quiet)
	internal.SetVerbose(verbose)

	if debug {
		internal.LogLevel.Set(slog.LevelDebug)
	} else if quiet {
		internal.LogLevel.Set(slog.LevelWarn)
	} else {
		internal.LogLevel.Set(slog.LevelInfo)
	}

	// Verbose output additionally records the source location of each entry.
	if verbose {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level:     internal.LogLevel,
			AddSource: true,
		})
		slog.SetDefault(slog.New(handler).With("app", internal.Name))
	}
}
