package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Counter backing exec process identifiers.
var execSeq atomic.Uint64

// Returns an exec process identifier unique within this daemon process.
func nextExecID() string {
	return fmt.Sprintf("wharfd-exec-%d", execSeq.Add(1))
}

// Output of a command execution inside a container.
type ExecResult struct {
	ExitCode int    // Exit code of the process.
	Stdout   string // Captured standard output.
	Stderr   string // Captured standard error.
}

// Runs a shell command inside the container.
//
// The command string is handed to the shell as "shell -c command", so
// pipeline steps can use shell syntax (&&, pipes, redirects). env entries
// and workdir override the container's OCI spec for this execution only;
// the spec itself is never modified.
func (c *Container) Exec(ctx context.Context, shell, command string, env []string, workdir string) (*ExecResult, error) {
	var stdout bytes.Buffer
	exitCode, stderr, err := c.execCommand(ctx, nil, &stdout, env, workdir, shell, "-c", command)
	if err != nil {
		return nil, err
	}

	return &ExecResult{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr,
	}, nil
}

// Derives an OCI process spec for one exec from the container's own spec.
//
// The container's process entry supplies the baseline (user, capabilities,
// PATH and the rest of the image env); args always replace the command, and
// env/workdir are layered on top when provided.
func (c *Container) buildProcessSpec(ctx context.Context, env []string, workdir string, args ...string) (*specs.Process, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, err
	}

	spec, err := ctr.Spec(ctx)
	if err != nil {
		return nil, err
	}

	pspec := *spec.Process
	pspec.Terminal = false
	pspec.Args = args

	if len(env) > 0 {
		pspec.Env = mergeEnv(pspec.Env, env)
	}
	if workdir != "" {
		pspec.Cwd = workdir
	}

	return &pspec, nil
}

// Merges override env entries on top of a base "key=value" slice. Later
// keys win; entries without an equals sign are dropped.
func mergeEnv(base, overrides []string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, entry := range base {
		if k, v, ok := strings.Cut(entry, "="); ok {
			merged[k] = v
		}
	}
	for _, entry := range overrides {
		if k, v, ok := strings.Cut(entry, "="); ok {
			merged[k] = v
		}
	}

	result := make([]string, 0, len(merged))
	for k, v := range merged {
		result = append(result, k+"="+v)
	}
	return result
}

// Runs args inside the container and returns the exit code plus captured
// stderr. A non-zero exit code is not an error here; callers decide what a
// failing step means.
func (c *Container) execCommand(ctx context.Context, stdin io.Reader, stdout io.Writer, env []string, workdir string, args ...string) (int, string, error) {
	pspec, err := c.buildProcessSpec(ctx, env, workdir, args...)
	if err != nil {
		return 0, "", wrapRuntime(err)
	}

	var stderr bytes.Buffer
	exitCode, err := c.execProcess(ctx, pspec, stdin, stdout, &stderr)
	if err != nil {
		return 0, "", err
	}
	return exitCode, stderr.String(), nil
}

// Attaches a process to the container's running task and waits for it.
//
// The process runs as an additional exec alongside the task's primary
// process, which must already be running. Nil stdout/stderr are discarded;
// nil stdin leaves the stream disconnected. When stdin is provided, it is
// wrapped so the container's stdin can be explicitly closed once the reader
// hits EOF: the containerd shim keeps both ends of the stdin FIFO open and
// will not forward EOF on its own, which would leave tar extraction steps
// blocked forever.
func (c *Container) execProcess(ctx context.Context, pspec *specs.Process, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	task, err := c.loadTask(ctx)
	if err != nil {
		return 0, err
	}

	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	var stdinDone <-chan struct{}
	if stdin != nil {
		dr := newDoneReader(stdin)
		stdin = dr
		stdinDone = dr.done
	}

	process, err := task.Exec(ctx, nextExecID(), pspec, cio.NewCreator(
		cio.WithStreams(stdin, stdout, stderr),
	))
	if err != nil {
		return 0, wrapRuntime(err)
	}

	return awaitProcess(ctx, process, stdinDone)
}

// Loads the container's running task.
func (c *Container) loadTask(ctx context.Context) (containerd.Task, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, wrapRuntime(err)
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return nil, wrapRuntime(err)
	}

	return task, nil
}

// Starts an exec process, waits for it to exit, and returns the exit code.
//
// When stdinDone is non-nil, the process's stdin is closed as soon as the
// channel fires so the process observes EOF. The process record is deleted
// before returning on every path.
func awaitProcess(ctx context.Context, process containerd.Process, stdinDone <-chan struct{}) (int, error) {
	statusC, err := process.Wait(ctx)
	if err != nil {
		process.Delete(ctx)
		return 0, wrapRuntime(err)
	}

	if err := process.Start(ctx); err != nil {
		process.Delete(ctx)
		return 0, wrapRuntime(err)
	}

	if stdinDone != nil {
		go func() {
			<-stdinDone
			process.CloseIO(ctx, containerd.WithStdinCloser)
		}()
	}

	exitStatus := <-statusC
	process.Delete(ctx)

	code, _, err := exitStatus.Result()
	if err != nil {
		return 0, wrapRuntime(err)
	}

	return int(code), nil
}
