package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/wharfworks/wharfd/internal/fetch"
	"github.com/wharfworks/wharfd/internal/paths"
	"github.com/wharfworks/wharfd/internal/pipeline"
	"github.com/wharfworks/wharfd/internal/runtime"
)

const (

	// Shell used for provisioning, build, and trust-root commands.
	defaultShell = "/bin/sh"

	// Directory in the builder container the source subtree is copied to.
	// The build command runs here.
	sourceWorkdir = "/wharf/src"

	// Shallow clone depth for source fetches. History beyond the build
	// commit is never needed.
	fetchDepth = 1
)

// Holds shared state for one pipeline execution.
type build struct {
	rt         *runtime.Runtime     // Container runtime for image and container operations.
	pipeline   *pipeline.Pipeline   // Pipeline being executed.
	name       string               // Build name, used as a prefix for container IDs.
	output     string               // Output directory for the exported image.
	platform   string               // Target platform for both stages.
	checkouts  string               // Root directory for checkout staging.
	containers []*runtime.Container // Stage containers, destroyed when the build completes.
}

// Runs the pipeline end-to-end.
//
// The fetched checkout and both stage containers are torn down when the
// build finishes, successfully or not. Only the exported archive in the
// output directory survives.
func (b *build) run(ctx context.Context) (*Result, error) {
	defer b.destroyContainers(ctx)

	src, cleanup, err := b.fetchSource(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}
	defer cleanup()

	builder, err := b.builderStage(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("%w: builder stage: %w", ErrBuild, err)
	}

	if err := b.runtimeStage(ctx, builder); err != nil {
		return nil, fmt.Errorf("%w: runtime stage: %w", ErrBuild, err)
	}

	return &Result{Output: b.output, Commit: src.Commit}, nil
}

// Fetches the pipeline's source subtree into a fresh staging directory.
//
// The returned cleanup removes the whole checkout; it is safe to call even
// when the fetch failed.
func (b *build) fetchSource(ctx context.Context) (*fetch.Result, func(), error) {
	if err := os.MkdirAll(b.checkouts, paths.DefaultDirMode); err != nil {
		return nil, func() {}, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}

	dir, err := os.MkdirTemp(b.checkouts, b.name+"-*")
	if err != nil {
		return nil, func() {}, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	src, err := fetch.Checkout(ctx, dir, fetch.Options{
		URL:    b.pipeline.Source.URL,
		Ref:    b.pipeline.Source.Ref,
		Subdir: b.pipeline.Source.Subdir,
		Depth:  fetchDepth,
	})
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}

	return src, cleanup, nil
}

// Builds the builder stage: provisions the toolchain, copies the source in,
// and compiles the release binary.
//
// The returned container holds the compiled binary at [build.binaryPath]
// and stays alive until the cross-stage copy in the runtime stage is done.
func (b *build) builderStage(ctx context.Context, src *fetch.Result) (*runtime.Container, error) {
	slog.Info("building stage", "stage", "builder", "platform", b.platform)

	ctr, err := b.startContainer(ctx, b.pipeline.Builder.Image, "builder")
	if err != nil {
		return nil, err
	}

	env := b.environ()
	for i, cmd := range b.pipeline.Builder.Provision {
		slog.Debug("provision", "step", i+1, "command", cmd)
		if err := b.execStep(ctx, ctr, cmd, "/", env, ErrProvision); err != nil {
			return nil, err
		}
	}

	if err := copyTree(ctx, ctr, src.Path, path.Dir(sourceWorkdir), path.Base(sourceWorkdir)); err != nil {
		return nil, err
	}

	slog.Debug("compile", "command", b.pipeline.Builder.Build, "workdir", sourceWorkdir)
	if err := b.execStep(ctx, ctr, b.pipeline.Builder.Build, sourceWorkdir, env, ErrCompile); err != nil {
		return nil, err
	}

	return ctr, nil
}

// Builds the runtime stage: provisions trust roots, takes ownership of the
// compiled binary, and exports the minimal image.
//
// The builder container is only read from; after the copy, the runtime
// stage owns its copy of the binary independently.
func (b *build) runtimeStage(ctx context.Context, builder *runtime.Container) error {
	slog.Info("building stage", "stage", "runtime", "platform", b.platform)

	rt := b.pipeline.Runtime

	ctr, err := b.startContainer(ctx, rt.Image, "runtime")
	if err != nil {
		return err
	}

	if rt.TrustRoots != "" {
		slog.Debug("trust roots", "command", rt.TrustRoots)
		if err := b.execStep(ctx, ctr, rt.TrustRoots, "/", nil, ErrProvision); err != nil {
			return err
		}
	}

	if err := b.handOff(ctx, builder, ctr); err != nil {
		return err
	}

	if err := ctr.Stop(ctx); err != nil {
		return err
	}

	return ctr.Export(ctx, b.output, runtime.ExportOptions{
		Entrypoint:   rt.Entrypoint(),
		ExposedPorts: []string{rt.PortSpec()},
	})
}

// Transfers the compiled binary from the builder container to its install
// path in the runtime container.
//
// The binary must exist at the declared output path; a missing binary means
// the builder stage's output assumption is violated and the hand-off fails.
func (b *build) handOff(ctx context.Context, builder, ctr *runtime.Container) error {
	binary := b.binaryPath()

	ok, err := builder.FileExists(ctx, binary)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}
	if !ok {
		return fmt.Errorf("%w: binary missing at %s", ErrCopy, binary)
	}

	install := b.pipeline.Runtime.InstallPath
	if err := ctr.MkdirAll(ctx, path.Dir(install)); err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	if err := copyBetween(ctx, builder, ctr, binary, path.Dir(install)); err != nil {
		return err
	}

	// The tar stream lands under the binary's own base name; align it with
	// the install path when the two differ.
	if extracted, ok := renameAfterCopy(binary, install); ok {
		if err := ctr.Rename(ctx, extracted, install); err != nil {
			return fmt.Errorf("%w: %w", ErrCopy, err)
		}
	}

	return nil
}

// Returns where the cross-stage tar copy leaves the binary inside the
// runtime container, and whether it has to be renamed to the install path.
func renameAfterCopy(binary, install string) (string, bool) {
	extracted := path.Join(path.Dir(install), path.Base(binary))
	return extracted, extracted != install
}

// Starts a stage container from an OCI archive.
func (b *build) startContainer(ctx context.Context, image, stage string) (*runtime.Container, error) {
	ctr, err := b.rt.StartContainer(ctx, image, b.containerID(stage), b.platform)
	if err != nil {
		return nil, err
	}
	b.containers = append(b.containers, ctr)
	return ctr, nil
}

// Runs a stage command, mapping a non-zero exit to the given sentinel.
//
// env applies only to this execution; the builder stage passes the
// pipeline's build environment, the runtime stage runs with the image's
// own environment.
func (b *build) execStep(ctx context.Context, ctr *runtime.Container, command, workdir string, env []string, sentinel error) error {
	result, err := ctr.Exec(ctx, defaultShell, command, env, workdir)
	if err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%w: %q exited %d: %s", sentinel, command, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// Destroys all stage containers.
func (b *build) destroyContainers(ctx context.Context) {
	for _, ctr := range b.containers {
		ctr.Destroy(ctx)
	}
}

// Returns the absolute path of the compiled binary inside the builder
// container.
func (b *build) binaryPath() string {
	return path.Join(sourceWorkdir, b.pipeline.Builder.Binary)
}

// Returns a unique container ID for a stage, scoped to this build and
// platform.
func (b *build) containerID(stage string) string {
	return fmt.Sprintf("%s-%s-stage-%s", b.name, platformSlug(b.platform), stage)
}

// Formats the pipeline's build environment as "key=value" pairs, sorted so
// repeated builds see identical process environments.
func (b *build) environ() []string {
	env := make([]string, 0, len(b.pipeline.Builder.Env))
	for k, v := range b.pipeline.Builder.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// Converts a platform string to a filesystem-safe slug.
//
// Replaces slashes with dashes (e.g., "linux/amd64" becomes "linux-amd64").
func platformSlug(platform string) string {
	return strings.ReplaceAll(platform, "/", "-")
}
