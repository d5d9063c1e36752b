package pipeline

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/containerd/platforms"
	"gopkg.in/yaml.v3"
)

// Describes one two-stage build pipeline.
//
// A pipeline names an external source location, a builder stage that compiles
// it into a single release binary, and a runtime stage that packages only
// that binary. The target platform applies to both stages; the stages never
// diverge on architecture.
type Pipeline struct {
	Platform string  `yaml:"platform" json:"platform"` // Target OCI platform (e.g., "linux/amd64"). Empty means host.
	Source   Source  `yaml:"source" json:"source"`
	Builder  Builder `yaml:"builder" json:"builder"`
	Runtime  Runtime `yaml:"runtime" json:"runtime"`
}

// Identifies the external source tree to fetch.
type Source struct {
	URL    string `yaml:"url" json:"url"`       // Repository URL or local path.
	Ref    string `yaml:"ref" json:"ref"`       // Branch or tag. Empty means the remote default branch.
	Subdir string `yaml:"subdir" json:"subdir"` // Subdirectory holding the buildable project; the checkout is restricted to it.
}

// Configures the builder stage.
type Builder struct {
	Image     string            `yaml:"image" json:"image"`         // OCI archive of the builder base image (toolchain image).
	Provision []string          `yaml:"provision" json:"provision"` // Commands installing native build dependencies.
	Build     string            `yaml:"build" json:"build"`         // Release-mode build command, run in the source subdirectory.
	Binary    string            `yaml:"binary" json:"binary"`       // Path of the produced binary, relative to the source subdirectory.
	Env       map[string]string `yaml:"env" json:"env"`             // Extra environment for provision and build commands.
}

// Configures the runtime stage.
type Runtime struct {
	Image       string `yaml:"image" json:"image"`               // OCI archive of the minimal runtime base image.
	TrustRoots  string `yaml:"trust_roots" json:"trust_roots"`   // Command installing root TLS certificates. Empty skips the step.
	InstallPath string `yaml:"install_path" json:"install_path"` // Absolute path the binary is installed to and invoked from.
	Port        int    `yaml:"port" json:"port"`                 // TCP port the service is expected to listen on. Metadata only.
}

// Reads and validates a pipeline manifest from a YAML file.
//
// Unknown fields are rejected so that typos in manifests fail loudly instead
// of silently dropping a step.
func Load(path string) (*Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifest, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var p Pipeline
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrManifest, path, err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &p, nil
}

// Checks that the pipeline declares everything both stages need.
func (p *Pipeline) Validate() error {
	if p.Platform != "" {
		if _, err := platforms.Parse(p.Platform); err != nil {
			return fmt.Errorf("%w: platform %q: %w", ErrInvalid, p.Platform, err)
		}
	}

	if err := p.Source.validate(); err != nil {
		return err
	}
	if err := p.Builder.validate(); err != nil {
		return err
	}
	return p.Runtime.validate()
}

func (s Source) validate() error {
	if s.URL == "" {
		return fmt.Errorf("%w: source url is required", ErrInvalid)
	}
	if s.Subdir == "" {
		return fmt.Errorf("%w: source subdir is required", ErrInvalid)
	}
	if path.IsAbs(s.Subdir) || s.Subdir != path.Clean(s.Subdir) ||
		s.Subdir == ".." || strings.HasPrefix(s.Subdir, "../") {
		return fmt.Errorf("%w: source subdir %q must be a clean relative path inside the repository", ErrInvalid, s.Subdir)
	}
	return nil
}

func (b Builder) validate() error {
	if b.Image == "" {
		return fmt.Errorf("%w: builder image is required", ErrInvalid)
	}
	if b.Build == "" {
		return fmt.Errorf("%w: builder build command is required", ErrInvalid)
	}
	if b.Binary == "" {
		return fmt.Errorf("%w: builder binary path is required", ErrInvalid)
	}
	if path.IsAbs(b.Binary) {
		return fmt.Errorf("%w: builder binary %q must be relative to the source subdir", ErrInvalid, b.Binary)
	}
	return nil
}

func (r Runtime) validate() error {
	if r.Image == "" {
		return fmt.Errorf("%w: runtime image is required", ErrInvalid)
	}
	if r.InstallPath == "" || !path.IsAbs(r.InstallPath) {
		return fmt.Errorf("%w: runtime install_path %q must be absolute", ErrInvalid, r.InstallPath)
	}
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("%w: runtime port %d out of range", ErrInvalid, r.Port)
	}
	return nil
}

// Returns the exposed-port entry for the OCI image config (e.g., "1847/tcp").
func (r Runtime) PortSpec() string {
	return fmt.Sprintf("%d/tcp", r.Port)
}

// Returns the image entrypoint: the installed binary, no implicit arguments.
func (r Runtime) Entrypoint() []string {
	return []string{r.InstallPath}
}
