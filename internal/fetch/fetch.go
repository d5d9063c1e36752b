package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/wharfworks/wharfd/internal/paths"
)

// Controls a source checkout.
type Options struct {
	URL    string // Repository URL or local path.
	Ref    string // Branch name or fully-qualified ref. Empty uses the remote default branch.
	Subdir string // Subdirectory the checkout is restricted to.
	Depth  int    // Shallow clone depth. Zero fetches full history.
}

// Describes a completed checkout.
type Result struct {
	Dir    string // Checkout root on the host.
	Path   string // Absolute path of the requested subdirectory.
	Commit string // Resolved HEAD commit hash.
}

// Materializes a partial copy of a repository into dir.
//
// The repository is cloned without a checkout (shallow when Depth > 0), then
// a sparse checkout restricted to exactly the requested subdirectory is
// performed. Files outside the subdirectory never reach the worktree. The
// subdirectory must exist at the resolved commit; a sparse checkout that
// yields nothing is a fetch failure, not an empty success.
func Checkout(ctx context.Context, dir string, opts Options) (*Result, error) {
	if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	slog.Info("fetching source", "url", opts.URL, "subdir", opts.Subdir, "ref", opts.Ref)

	repo, err := clone(ctx, dir, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, opts.URL, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	if err := wt.Checkout(&git.CheckoutOptions{
		SparseCheckoutDirectories: []string{opts.Subdir},
	}); err != nil {
		return nil, fmt.Errorf("%w: sparse checkout: %w", ErrFetch, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	subdir := filepath.Join(dir, filepath.FromSlash(opts.Subdir))
	if info, err := os.Stat(subdir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %q at %s", ErrSubdir, opts.Subdir, head.Hash())
	}

	slog.Debug("source fetched", "commit", head.Hash().String(), "path", subdir)

	return &Result{
		Dir:    dir,
		Path:   subdir,
		Commit: head.Hash().String(),
	}, nil
}

// Clones the repository into dir with blob checkout deferred.
//
// The object store lives under dir/.git on the same filesystem as the
// worktree, so a single directory removal discards the whole checkout.
func clone(ctx context.Context, dir string, opts Options) (*git.Repository, error) {
	wtFS := osfs.New(dir)

	dotgit, err := wtFS.Chroot(git.GitDirName)
	if err != nil {
		return nil, err
	}
	storer := filesystem.NewStorage(dotgit, cache.NewObjectLRUDefault())

	cloneOpts := &git.CloneOptions{
		URL:        opts.URL,
		Depth:      opts.Depth,
		NoCheckout: true,
		Tags:       git.NoTags,
	}
	if opts.Ref != "" {
		cloneOpts.ReferenceName = refName(opts.Ref)
		cloneOpts.SingleBranch = true
	}

	return git.CloneContext(ctx, storer, wtFS, cloneOpts)
}

// Expands a short branch name to a fully-qualified reference.
//
// Refs already in "refs/..." form are passed through, so tags and other ref
// types can be requested explicitly.
func refName(ref string) plumbing.ReferenceName {
	if strings.HasPrefix(ref, "refs/") {
		return plumbing.ReferenceName(ref)
	}
	return plumbing.NewBranchReferenceName(ref)
}
