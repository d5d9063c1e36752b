package runtime

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
)

// Creates a directory inside the container, including parents.
func (c *Container) MkdirAll(ctx context.Context, path string) error {
	return c.mustExec(ctx, "mkdir", nil, nil, "mkdir", "-p", path)
}

// Copies a tar stream into the container's filesystem.
//
// The contents of r are extracted into destDir by piping them to "tar xf - -C
// destDir" inside the container.
func (c *Container) CopyTo(ctx context.Context, r io.Reader, destDir string) error {
	return c.mustExec(ctx, "tar extract", r, nil, "tar", "xf", "-", "-C", destDir)
}

// Copies a path from the container's filesystem as a tar stream.
//
// The file or directory at path is archived by running "tar cf - -C <dir>
// <base>" inside the container and streaming the output to w.
func (c *Container) CopyFrom(ctx context.Context, w io.Writer, path string) error {
	return c.mustExec(ctx, "tar archive", nil, w, "tar", "cf", "-", "-C", filepath.Dir(path), filepath.Base(path))
}

// Moves a file inside the container.
//
// Operands are passed to mv as explicit arguments, never through a shell,
// so paths containing spaces or metacharacters are safe.
func (c *Container) Rename(ctx context.Context, oldpath, newpath string) error {
	return c.mustExec(ctx, "mv", nil, nil, "mv", oldpath, newpath)
}

// Reports whether a regular file exists at path inside the container.
func (c *Container) FileExists(ctx context.Context, path string) (bool, error) {
	exitCode, _, err := c.execCommand(ctx, nil, nil, nil, "", "test", "-f", path)
	if err != nil {
		return false, err
	}
	return exitCode == 0, nil
}

// Helper method that runs a command inside the container, returning an error
// that includes desc if the process exits with a non-zero code.
func (c *Container) mustExec(ctx context.Context, desc string, stdin io.Reader, stdout io.Writer, args ...string) error {
	exitCode, stderr, err := c.execCommand(ctx, stdin, stdout, nil, "", args...)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("%w: %s failed with exit code %d (%s)", ErrRuntime, desc, exitCode, stderr)
	}
	return nil
}
