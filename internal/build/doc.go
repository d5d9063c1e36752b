// Package build orchestrates two-stage pipeline execution against the
// container runtime.
//
// A pipeline is executed strictly in order: the source subtree is fetched
// into a staging directory, the builder stage provisions a toolchain and
// compiles the release binary inside a container, and the runtime stage
// packages only that binary (plus trust roots and port/entrypoint metadata)
// into a minimal image exported as an OCI archive. The runtime stage never
// starts before the builder stage has fully succeeded, and the first
// failure aborts the whole pipeline without producing an image.
//
// Container operations are delegated to the runtime package; source fetches
// to the fetch package. Stage containers and the checkout are torn down when
// the build completes, so nothing from the builder environment survives into
// the output.
//
// Example usage:
//
//	result, err := build.Run(ctx, rt, build.Options{
//	    Pipeline: p,
//	    Name:     "factory-server",
//	    Output:   "dist",
//	    Platform: "linux/amd64",
//	})
//	if err != nil {
//	    return err
//	}
package build
