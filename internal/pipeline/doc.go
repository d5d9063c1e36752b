// Package pipeline defines the YAML manifest describing a two-stage build.
//
// A manifest names the external source repository (narrowed to one
// subdirectory), the builder stage that provisions a toolchain and compiles
// the release binary, and the runtime stage that packages the binary into a
// minimal image with trust roots, an exposed port, and an entrypoint. The
// target platform is declared once and applies to both stages.
//
// Manifests are loaded with [Load], which rejects unknown fields and
// validates the result before any build work starts.
package pipeline
