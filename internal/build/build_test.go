package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wharfworks/wharfd/internal/fetch"
	"github.com/wharfworks/wharfd/internal/pipeline"
	"github.com/wharfworks/wharfd/internal/runtime"
)

func TestResolvePlatform(t *testing.T) {
	tests := []struct {
		name     string
		override string
		declared string
		want     string
	}{
		{
			name:     "override wins",
			override: "linux/arm64",
			declared: "linux/amd64",
			want:     "linux/arm64",
		},
		{
			name:     "declared when no override",
			declared: "linux/amd64",
			want:     "linux/amd64",
		},
		{
			name: "host fallback",
			want: runtime.DefaultPlatform(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolvePlatform(tt.override, tt.declared); got != tt.want {
				t.Fatalf("resolvePlatform = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunFetchFailureGatesStages(t *testing.T) {
	b := &build{
		pipeline: &pipeline.Pipeline{
			Source: pipeline.Source{
				URL:    filepath.Join(t.TempDir(), "no-such-repo"),
				Subdir: "server",
			},
		},
		name:      "gate",
		output:    t.TempDir(),
		platform:  "linux/amd64",
		checkouts: t.TempDir(),
	}

	_, err := b.run(context.Background())
	if !errors.Is(err, ErrBuild) {
		t.Fatalf("err = %v, want ErrBuild", err)
	}
	if !errors.Is(err, fetch.ErrFetch) {
		t.Fatalf("err = %v, want fetch.ErrFetch cause", err)
	}

	// Neither stage may start when the fetch fails.
	if len(b.containers) != 0 {
		t.Fatalf("stage containers created despite fetch failure: %d", len(b.containers))
	}

	// And no image, partial or otherwise, may appear in the output.
	entries, readErr := os.ReadDir(b.output)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("output not empty after failed build: %v", entries)
	}

	// The staging directory is removed on failure too.
	staged, readErr := os.ReadDir(b.checkouts)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(staged) != 0 {
		t.Fatalf("checkout staging not cleaned up: %v", staged)
	}
}

func TestRenameAfterCopy(t *testing.T) {
	tests := []struct {
		name    string
		binary  string
		install string
		want    string
		ok      bool
	}{
		{
			name:    "base names differ",
			binary:  "target/release/server",
			install: "/usr/local/bin/svc",
			want:    "/usr/local/bin/server",
			ok:      true,
		},
		{
			name:    "base names match",
			binary:  "target/release/server",
			install: "/usr/local/bin/server",
			ok:      false,
		},
		{
			name:    "space in binary name",
			binary:  "out/my server",
			install: "/opt/app/service",
			want:    "/opt/app/my server",
			ok:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := renameAfterCopy(tt.binary, tt.install)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Fatalf("extracted = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContainerID(t *testing.T) {
	b := &build{name: "factory", platform: "linux/amd64"}

	if got := b.containerID("builder"); got != "factory-linux-amd64-stage-builder" {
		t.Fatalf("containerID = %q", got)
	}
	if b.containerID("builder") == b.containerID("runtime") {
		t.Fatal("stage containers share an ID")
	}
}

func TestPlatformSlug(t *testing.T) {
	if got := platformSlug("linux/arm/v7"); got != "linux-arm-v7" {
		t.Fatalf("platformSlug = %q", got)
	}
	if strings.ContainsRune(platformSlug("linux/amd64"), '/') {
		t.Fatal("slug contains a path separator")
	}
}

func TestBinaryPath(t *testing.T) {
	b := &build{pipeline: &pipeline.Pipeline{
		Builder: pipeline.Builder{Binary: "target/release/server"},
	}}

	if got := b.binaryPath(); got != "/wharf/src/target/release/server" {
		t.Fatalf("binaryPath = %q", got)
	}
}

func TestEnviron(t *testing.T) {
	b := &build{pipeline: &pipeline.Pipeline{
		Builder: pipeline.Builder{Env: map[string]string{
			"CARGO_TERM_COLOR": "never",
			"A":                "1",
		}},
	}}

	env := b.environ()
	if len(env) != 2 {
		t.Fatalf("len(environ) = %d, want 2", len(env))
	}
	// Sorted, so the order is stable across builds.
	if env[0] != "A=1" || env[1] != "CARGO_TERM_COLOR=never" {
		t.Fatalf("environ = %v", env)
	}
}

func TestEnvironEmpty(t *testing.T) {
	b := &build{pipeline: &pipeline.Pipeline{}}
	if len(b.environ()) != 0 {
		t.Fatalf("environ = %v, want empty", b.environ())
	}
}
