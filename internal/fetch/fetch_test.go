package fetch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Creates a local origin repository with a buildable subdirectory and
// unrelated content outside it. Returns the repository path and the commit
// hash of the initial commit.
func initOrigin(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	files := map[string]string{
		"server/Cargo.toml":  "[package]\nname = \"server\"\n",
		"server/src/main.rs": "fn main() {}\n",
		"client/client.lua":  "-- not part of the build\n",
		"README.md":          "top-level\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(".")
	require.NoError(t, err)

	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	return dir, hash.String()
}

func TestCheckout(t *testing.T) {
	origin, commit := initOrigin(t)

	dir := filepath.Join(t.TempDir(), "checkout")
	result, err := Checkout(context.Background(), dir, Options{
		URL:    origin,
		Subdir: "server",
	})
	require.NoError(t, err)

	assert.Equal(t, dir, result.Dir)
	assert.Equal(t, filepath.Join(dir, "server"), result.Path)
	assert.Equal(t, commit, result.Commit)

	assert.FileExists(t, filepath.Join(dir, "server", "Cargo.toml"))
	assert.FileExists(t, filepath.Join(dir, "server", "src", "main.rs"))

	// Sparse scope: content outside the subdirectory must be absent.
	assert.NoDirExists(t, filepath.Join(dir, "client"))
	assert.NoFileExists(t, filepath.Join(dir, "README.md"))
}

func TestCheckoutBranchRef(t *testing.T) {
	origin, _ := initOrigin(t)

	repo, err := git.PlainOpen(origin)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	head, err := repo.Head()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{
		Branch: "refs/heads/dev",
		Create: true,
	}))

	require.NoError(t, os.WriteFile(filepath.Join(origin, "server", "dev.txt"), []byte("dev\n"), 0o644))
	_, err = wt.Add(".")
	require.NoError(t, err)
	_, err = wt.Commit("dev change", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	result, err := Checkout(context.Background(), filepath.Join(t.TempDir(), "checkout"), Options{
		URL:    origin,
		Ref:    "dev",
		Subdir: "server",
	})
	require.NoError(t, err)

	assert.NotEqual(t, head.Hash().String(), result.Commit)
	assert.FileExists(t, filepath.Join(result.Path, "dev.txt"))
}

func TestCheckoutSubdirMissing(t *testing.T) {
	origin, _ := initOrigin(t)

	_, err := Checkout(context.Background(), filepath.Join(t.TempDir(), "checkout"), Options{
		URL:    origin,
		Subdir: "does-not-exist",
	})
	require.ErrorIs(t, err, ErrSubdir)
}

func TestCheckoutUnreachable(t *testing.T) {
	_, err := Checkout(context.Background(), filepath.Join(t.TempDir(), "checkout"), Options{
		URL:    filepath.Join(t.TempDir(), "no-such-repo"),
		Subdir: "server",
	})
	require.ErrorIs(t, err, ErrFetch)
}

func TestRefName(t *testing.T) {
	assert.Equal(t, "refs/heads/main", refName("main").String())
	assert.Equal(t, "refs/tags/v1.2.3", refName("refs/tags/v1.2.3").String())
}
