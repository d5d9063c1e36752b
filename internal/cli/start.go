package cli

import (
	"context"
	"log/slog"

	"github.com/wharfworks/wharfd/internal/server"
)

// Represents the 'wharfd start' command.
type StartCmd struct {
	Containerd string `default:"${containerd_address}" help:"Containerd socket address." placeholder:"PATH"`
	Namespace  string `default:"${containerd_namespace}" help:"Containerd namespace." placeholder:"NS"`
}

// Executes the start command.
//
// Starts the daemon on a Unix domain socket and blocks until the context
// is cancelled (e.g. via SIGINT or SIGTERM).
func (c *StartCmd) Run(ctx context.Context) error {
	srv, err := server.New(server.Config{
		SocketPath:          RootCmd.Socket,
		ContainerdAddress:   c.Containerd,
		ContainerdNamespace: c.Namespace,
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}

	slog.Info("wharfd is running")

	// The server can also stop on its own when a shutdown command arrives
	// over the socket.
	stopped := make(chan struct{})
	go func() {
		srv.Wait()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		return srv.Stop()
	case <-stopped:
		return nil
	}
}
