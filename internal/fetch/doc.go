// Package fetch materializes partial source checkouts for builds.
//
// A checkout clones the pipeline's repository without touching the worktree,
// then sparse-checks-out exactly the subdirectory holding the buildable
// project. The checkout is staging state: it lives in a per-build directory
// on the host, is copied into the builder container, and is discarded when
// the build completes. Nothing from it reaches the final image.
package fetch
