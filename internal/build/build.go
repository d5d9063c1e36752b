package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/wharfworks/wharfd/internal/paths"
	"github.com/wharfworks/wharfd/internal/pipeline"
	"github.com/wharfworks/wharfd/internal/runtime"
)

// Controls pipeline execution.
type Options struct {
	Pipeline *pipeline.Pipeline // Pipeline to execute.
	Name     string             // Build name, used as a prefix for container IDs and staging directories.
	Output   string             // Directory for the exported image.
	Platform string             // Target platform override. Empty uses the pipeline's, then the host's.
}

// Returned after successful pipeline execution.
type Result struct {
	Output string // Directory containing the exported image.
	Commit string // Source commit the binary was built from.
}

// Executes a pipeline against the container runtime.
//
// The source is fetched first, then the builder stage compiles it into a
// single binary, then the runtime stage packages that binary into a minimal
// image exported to the output directory. The stages run strictly in order;
// the first failure aborts the whole pipeline and no image is produced.
func Run(ctx context.Context, rt *runtime.Runtime, opts Options) (*Result, error) {
	platform := resolvePlatform(opts.Platform, opts.Pipeline.Platform)

	slog.Info("executing pipeline",
		"name", opts.Name,
		"output", opts.Output,
		"source", opts.Pipeline.Source.URL,
		"platform", platform,
	)

	if err := os.MkdirAll(opts.Output, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}

	b := &build{
		rt:        rt,
		pipeline:  opts.Pipeline,
		name:      opts.Name,
		output:    opts.Output,
		platform:  platform,
		checkouts: paths.Checkouts(),
	}
	return b.run(ctx)
}

// Picks the effective target platform.
//
// The override wins over the pipeline's declaration; with neither set, the
// host platform is used. Whatever value wins is used for both stages.
func resolvePlatform(override, declared string) string {
	if override != "" {
		return override
	}
	if declared != "" {
		return declared
	}
	return runtime.DefaultPlatform()
}
