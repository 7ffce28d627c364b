package gitinfo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a repository with one commit and an origin remote,
// returning the repository, its path and the commit hash.
func initRepo(t *testing.T) (*git.Repository, string, plumbing.Hash) {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	_, err = repo.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{"git@github.com:arenadata/adcm_bundle.git"},
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("version: 1\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("config.yaml")
	require.NoError(t, err)

	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return repo, dir, hash
}

// detach points HEAD directly at hash.
func detach(t *testing.T, repo *git.Repository, hash plumbing.Hash) {
	t.Helper()
	require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference(plumbing.HEAD, hash)))
}

func TestDiscover_NotARepository(t *testing.T) {
	data, err := Discover(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestDiscover_Branch(t *testing.T) {
	repo, dir, _ := initRepo(t)

	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName("feature/new-thing"),
		Create: true,
	}))

	data, err := Discover(dir)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "adcm_bundle", data.RepoName)
	assert.Equal(t, "arenadata", data.RepoOwner)
	assert.Equal(t, "feature/new-thing", data.Branch)
	assert.False(t, data.IsPullRequest())
}

// TestDiscover_PullRequest verifies that a detached HEAD at a fetched
// pull request ref is reported as that pull request.
func TestDiscover_PullRequest(t *testing.T) {
	repo, dir, hash := initRepo(t)
	require.NoError(t, repo.Storer.SetReference(
		plumbing.NewHashReference("refs/remotes/origin/pr/42", hash)))
	detach(t, repo, hash)

	data, err := Discover(dir)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "42", data.PullRequest)
	assert.Equal(t, "", data.Branch)
	assert.True(t, data.IsPullRequest())
}

func TestDiscover_PullRequestWinsOverBranch(t *testing.T) {
	repo, dir, hash := initRepo(t)
	require.NoError(t, repo.Storer.SetReference(
		plumbing.NewHashReference("refs/origin/pr/7", hash)))

	data, err := Discover(dir)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "7", data.PullRequest)
}

// TestDiscover_TagOnRemoteBranch verifies that a detached tag checkout is
// attributed to the origin branch containing it.
func TestDiscover_TagOnRemoteBranch(t *testing.T) {
	repo, dir, hash := initRepo(t)
	require.NoError(t, repo.Storer.SetReference(
		plumbing.NewHashReference("refs/remotes/origin/release", hash)))
	_, err := repo.CreateTag("v1.0", hash, nil)
	require.NoError(t, err)
	detach(t, repo, hash)

	data, err := Discover(dir)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "release", data.Branch)
}

func TestDiscover_DetachedWithoutRefs(t *testing.T) {
	repo, dir, hash := initRepo(t)
	detach(t, repo, hash)

	data, err := Discover(dir)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, DetachedHead, data.Branch)
}

func TestDiscover_UnbornBranch(t *testing.T) {
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	data, err := Discover(dir)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "master", data.Branch)
	assert.Equal(t, "", data.RepoName, "no origin remote")
}

func TestParseRemoteURL(t *testing.T) {
	tests := []struct {
		url   string
		name  string
		owner string
	}{
		{"git@github.com:arenadata/adcm.git", "adcm", "arenadata"},
		{"https://github.com/arenadata/adcm.git", "adcm", "arenadata"},
		{"https://gitlab.example.org/group/bundle", "bundle", "group"},
		{"bundle.git", "bundle", ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			name, owner := ParseRemoteURL(tt.url)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.owner, owner)
		})
	}
}
