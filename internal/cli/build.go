package cli

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/wharfworks/wharfd/internal/build"
	"github.com/wharfworks/wharfd/internal/pipeline"
	"github.com/wharfworks/wharfd/internal/runtime"
	"github.com/wharfworks/wharfd/internal/server"
)

// Represents the 'wharfd build' command.
//
// Runs one pipeline directly against containerd, without going through the
// daemon socket.
type BuildCmd struct {
	File       string `short:"f" default:"pipeline.yaml" help:"Pipeline manifest to execute." placeholder:"PATH"`
	Output     string `short:"o" default:"dist" help:"Directory for the exported image." placeholder:"DIR"`
	Platform   string `short:"p" help:"Target platform (e.g., linux/amd64). Overrides the manifest." placeholder:"OS/ARCH"`
	Name       string `short:"n" help:"Build name for container IDs. Defaults to the manifest file name." placeholder:"NAME"`
	Containerd string `default:"${containerd_address}" help:"Containerd socket address." placeholder:"PATH"`
	Namespace  string `default:"${containerd_namespace}" help:"Containerd namespace." placeholder:"NS"`
}

// Executes the build command.
func (c *BuildCmd) Run(ctx context.Context) error {
	p, err := pipeline.Load(c.File)
	if err != nil {
		return err
	}

	rt, err := runtime.New(c.Containerd, c.Namespace)
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := build.Run(ctx, rt, build.Options{
		Pipeline: p,
		Name:     c.buildName(),
		Output:   c.Output,
		Platform: c.Platform,
	})
	if err != nil {
		return err
	}

	slog.Info("build complete", "output", result.Output, "commit", result.Commit)
	return nil
}

// Derives a build name from the manifest file name when none is given.
func (c *BuildCmd) buildName() string {
	if c.Name != "" {
		return c.Name
	}

	base := filepath.Base(c.File)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." {
		return "build"
	}
	return name
}

// Default values shared with kong's interpolation.
func buildVars() kong.Vars {
	return kong.Vars{
		"containerd_address":   server.DefaultContainerdAddress,
		"containerd_namespace": server.DefaultContainerdNamespace,
	}
}
