package build

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

// Streams a fixed payload, optionally failing after the write.
type stubTarSource struct {
	payload []byte
	err     error
}

func (s *stubTarSource) CopyFrom(ctx context.Context, w io.Writer, path string) error {
	if _, err := w.Write(s.payload); err != nil {
		return err
	}
	return s.err
}

// Drains the stream into a buffer.
type bufferTarSink struct {
	buf bytes.Buffer
}

func (s *bufferTarSink) CopyTo(ctx context.Context, r io.Reader, destDir string) error {
	_, err := io.Copy(&s.buf, r)
	return err
}

// Fails immediately without consuming the stream.
type failingTarSink struct {
	err error
}

func (s *failingTarSink) CopyTo(ctx context.Context, r io.Reader, destDir string) error {
	return s.err
}

func TestCopyBetween(t *testing.T) {
	src := &stubTarSource{payload: []byte("binary bytes")}
	sink := &bufferTarSink{}

	if err := copyBetween(context.Background(), src, sink, "/wharf/src/server", "/usr/local/bin"); err != nil {
		t.Fatalf("copyBetween: %v", err)
	}
	if sink.buf.String() != "binary bytes" {
		t.Fatalf("sink received %q", sink.buf.String())
	}
}

func TestCopyBetweenSinkFailure(t *testing.T) {
	// The sink fails without reading anything, so the producer's write
	// blocks until the pipe is released. The call must return, not hang.
	src := &stubTarSource{payload: []byte("never consumed")}
	sink := &failingTarSink{err: errors.New("extract failed")}

	err := copyBetween(context.Background(), src, sink, "/wharf/src/server", "/usr/local/bin")
	if !errors.Is(err, ErrCopy) {
		t.Fatalf("err = %v, want ErrCopy", err)
	}
}

func TestCopyBetweenSourceFailure(t *testing.T) {
	src := &stubTarSource{payload: []byte("truncated"), err: errors.New("archive failed")}
	sink := &bufferTarSink{}

	err := copyBetween(context.Background(), src, sink, "/wharf/src/server", "/usr/local/bin")
	if !errors.Is(err, ErrCopy) {
		t.Fatalf("err = %v, want ErrCopy", err)
	}
}

func TestWriteDirToTar(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"Cargo.toml":  "[package]\n",
		"src/main.rs": "fn main() {}\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := writeDirToTar(tw, dir, "src"); err != nil {
		t.Fatalf("writeDirToTar: %v", err)
	}
	tw.Close()

	got := make(map[string]string)
	tr := tar.NewReader(&buf)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading archive: %v", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}
		got[header.Name] = string(content)
	}

	if got["src/Cargo.toml"] != files["Cargo.toml"] {
		t.Fatalf("src/Cargo.toml = %q", got["src/Cargo.toml"])
	}
	if got["src/src/main.rs"] != files["src/main.rs"] {
		t.Fatalf("src/src/main.rs = %q", got["src/src/main.rs"])
	}
	for name := range got {
		if filepath.Dir(name) == "." {
			t.Fatalf("entry %q not rooted under the prefix", name)
		}
	}
}

func TestWriteDirToTarPreservesMode(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "server")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := writeDirToTar(tw, dir, "out"); err != nil {
		t.Fatal(err)
	}
	tw.Close()

	tr := tar.NewReader(&buf)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if header.Name == "out/server" {
			if header.FileInfo().Mode().Perm() != 0o755 {
				t.Fatalf("mode = %v, want 0755", header.FileInfo().Mode().Perm())
			}
			return
		}
	}
	t.Fatal("out/server not found in archive")
}
