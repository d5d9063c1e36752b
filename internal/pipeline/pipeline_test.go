package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validManifest = `
platform: linux/amd64
source:
  url: https://example.com/factory.git
  ref: main
  subdir: server
builder:
  image: images/toolchain.tar
  provision:
    - apt-get update
    - apt-get install -y pkg-config libssl-dev build-essential
  build: cargo build --release
  binary: target/release/server
  env:
    CARGO_TERM_COLOR: never
runtime:
  image: images/base.tar
  trust_roots: apt-get update && apt-get install -y ca-certificates
  install_path: /usr/local/bin/server
  port: 1847
`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	p, err := Load(writeManifest(t, validManifest))
	require.NoError(t, err)

	assert.Equal(t, "linux/amd64", p.Platform)
	assert.Equal(t, "server", p.Source.Subdir)
	assert.Len(t, p.Builder.Provision, 2)
	assert.Equal(t, "target/release/server", p.Builder.Binary)
	assert.Equal(t, "never", p.Builder.Env["CARGO_TERM_COLOR"])
	assert.Equal(t, 1847, p.Runtime.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, ErrManifest)
}

func TestLoadUnknownField(t *testing.T) {
	_, err := Load(writeManifest(t, validManifest+"\nextra: true\n"))
	require.ErrorIs(t, err, ErrManifest)
}

func TestValidate(t *testing.T) {
	base := func() *Pipeline {
		p, err := Load(writeManifest(t, validManifest))
		require.NoError(t, err)
		return p
	}

	tests := []struct {
		name   string
		mutate func(*Pipeline)
	}{
		{"bad platform", func(p *Pipeline) { p.Platform = "not-a-platform/x/y/z" }},
		{"missing url", func(p *Pipeline) { p.Source.URL = "" }},
		{"missing subdir", func(p *Pipeline) { p.Source.Subdir = "" }},
		{"absolute subdir", func(p *Pipeline) { p.Source.Subdir = "/server" }},
		{"escaping subdir", func(p *Pipeline) { p.Source.Subdir = "../server" }},
		{"missing builder image", func(p *Pipeline) { p.Builder.Image = "" }},
		{"missing build command", func(p *Pipeline) { p.Builder.Build = "" }},
		{"missing binary", func(p *Pipeline) { p.Builder.Binary = "" }},
		{"absolute binary", func(p *Pipeline) { p.Builder.Binary = "/target/release/server" }},
		{"missing runtime image", func(p *Pipeline) { p.Runtime.Image = "" }},
		{"relative install path", func(p *Pipeline) { p.Runtime.InstallPath = "bin/server" }},
		{"port zero", func(p *Pipeline) { p.Runtime.Port = 0 }},
		{"port too large", func(p *Pipeline) { p.Runtime.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base()
			tt.mutate(p)
			assert.ErrorIs(t, p.Validate(), ErrInvalid)
		})
	}
}

func TestValidateHostPlatformDefault(t *testing.T) {
	p, err := Load(writeManifest(t, validManifest))
	require.NoError(t, err)

	p.Platform = ""
	assert.NoError(t, p.Validate())
}

func TestPortSpec(t *testing.T) {
	r := Runtime{Port: 1847}
	assert.Equal(t, "1847/tcp", r.PortSpec())
}

func TestEntrypoint(t *testing.T) {
	r := Runtime{InstallPath: "/usr/local/bin/server"}
	assert.Equal(t, []string{"/usr/local/bin/server"}, r.Entrypoint())
}
