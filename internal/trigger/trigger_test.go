package trigger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func initRepo(t *testing.T) (string, *git.Repository, string) {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pipeline.yaml"), []byte("name: p\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("pipeline.yaml")
	require.NoError(t, err)

	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{
			Name:  "dev",
			Email: "dev@example.com",
			When:  time.Now(),
		},
	})
	require.NoError(t, err)

	return dir, repo, hash.String()
}

func TestResolveReadsBranchAndCommit(t *testing.T) {
	dir, _, commit := initRepo(t)

	trig := Resolve(dir, zap.NewNop())
	require.Equal(t, "master", trig.Branch)
	require.Equal(t, commit, trig.Commit)
	require.Empty(t, trig.Tag)
}

func TestResolveDetectsDotGitFromSubdirectory(t *testing.T) {
	dir, _, commit := initRepo(t)
	sub := filepath.Join(dir, "services", "api")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	trig := Resolve(sub, zap.NewNop())
	require.Equal(t, commit, trig.Commit)
	require.Equal(t, "master", trig.Branch)
}

func TestResolveFindsLightweightTag(t *testing.T) {
	dir, repo, commit := initRepo(t)

	head, err := repo.Head()
	require.NoError(t, err)
	_, err = repo.CreateTag("v1.0.0", head.Hash(), nil)
	require.NoError(t, err)

	trig := Resolve(dir, zap.NewNop())
	require.Equal(t, "v1.0.0", trig.Tag)
	require.Equal(t, commit, trig.Commit)
}

func TestResolveDereferencesAnnotatedTag(t *testing.T) {
	dir, repo, _ := initRepo(t)

	head, err := repo.Head()
	require.NoError(t, err)
	_, err = repo.CreateTag("v2.0.0", head.Hash(), &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "dev",
			Email: "dev@example.com",
			When:  time.Now(),
		},
		Message: "release",
	})
	require.NoError(t, err)

	trig := Resolve(dir, zap.NewNop())
	require.Equal(t, "v2.0.0", trig.Tag)
}

func TestResolveWithoutRepositoryIsEmpty(t *testing.T) {
	trig := Resolve(t.TempDir(), zap.NewNop())
	require.Empty(t, trig.Branch)
	require.Empty(t, trig.Tag)
	require.Empty(t, trig.Commit)
}
