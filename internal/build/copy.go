package build

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/wharfworks/wharfd/internal/runtime"
)

// Streams a host directory tree into a container.
//
// The tree rooted at hostDir is written as a tar stream with entries rooted
// at prefix and extracted into destDir, so the result lands at
// destDir/prefix inside the container.
func copyTree(ctx context.Context, ctr *runtime.Container, hostDir, destDir, prefix string) error {
	if err := ctr.MkdirAll(ctx, destDir); err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	pr, pw := io.Pipe()

	go func() {
		tw := tar.NewWriter(pw)
		err := writeDirToTar(tw, hostDir, prefix)
		tw.Close()
		pw.CloseWithError(err)
	}()

	if err := ctr.CopyTo(ctx, pr, destDir); err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	return nil
}

// Produces a tar stream of a path inside a container.
type tarSource interface {
	CopyFrom(ctx context.Context, w io.Writer, path string) error
}

// Extracts a tar stream into a directory inside a container.
type tarSink interface {
	CopyTo(ctx context.Context, r io.Reader, destDir string) error
}

// Copies a path from one container into another.
//
// The tar stream is piped directly from the source container's CopyFrom
// to the target container's CopyTo; the bytes never touch the host
// filesystem. When the sink fails mid-stream, the read side of the pipe is
// closed so the producer goroutine unblocks instead of writing into an
// abandoned pipe forever.
func copyBetween(ctx context.Context, from tarSource, to tarSink, srcPath, destDir string) error {
	pr, pw := io.Pipe()

	errc := make(chan error, 1)
	go func() {
		err := from.CopyFrom(ctx, pw, srcPath)
		pw.CloseWithError(err)
		errc <- err
	}()

	if err := to.CopyTo(ctx, pr, destDir); err != nil {
		pr.CloseWithError(err)
		<-errc
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	if err := <-errc; err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	return nil
}

// Writes a directory tree to a tar writer rooted at the given archive prefix.
func writeDirToTar(tw *tar.Writer, hostDir, prefix string) error {
	return filepath.WalkDir(hostDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(hostDir, path)
		if err != nil {
			return err
		}

		archivePath := filepath.ToSlash(filepath.Join(prefix, relPath))
		return writeTarEntry(tw, path, archivePath, d)
	})
}

// Writes a single file or directory entry to a tar writer.
func writeTarEntry(tw *tar.Writer, hostPath, archivePath string, d os.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = archivePath

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if info.Mode().IsRegular() {
		f, err := os.Open(hostPath)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	}

	return nil
}
