// Package gitinfo discovers the git state of a bundle working copy: which
// branch or pull request it was built from and which repository it
// belongs to. The packer turns this into the build id of the tarball.
//
// Repositories are read with go-git, so no git binary is required on the
// build host.
package gitinfo

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// DetachedHead is reported as the branch when HEAD is detached and no
// branch or pull request can be attributed to it.
const DetachedHead = "HEAD"

// Pull request refs, as fetched by CI with
// +refs/pull/*:refs/origin/pr/* (or into refs/remotes/origin/pr/*).
var pullRequestPrefixes = []string{"refs/origin/pr/", "refs/remotes/origin/pr/"}

const originPrefix = "refs/remotes/origin/"

// Data is the git state of a working copy. Exactly one of Branch and
// PullRequest is set.
type Data struct {
	RepoName    string
	RepoOwner   string
	Branch      string
	PullRequest string
}

// IsPullRequest reports whether the working copy was built from a pull
// request.
func (d *Data) IsPullRequest() bool {
	return d.PullRequest != ""
}

// Discover reads the git state of the repository rooted at path. It
// returns nil data and no error when path is not a git repository. Parent
// directories are not searched.
func Discover(path string) (*Data, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open git repository at %s: %w", path, err)
	}

	data := &Data{}
	remote, err := repo.Remote("origin")
	switch {
	case err == nil:
		if urls := remote.Config().URLs; len(urls) > 0 {
			data.RepoName, data.RepoOwner = ParseRemoteURL(urls[0])
		}
	case errors.Is(err, git.ErrRemoteNotFound):
	default:
		return nil, fmt.Errorf("failed to read origin remote: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// Unborn branch: HEAD is symbolic but has no commit yet.
			data.Branch = unbornBranch(repo)
			return data, nil
		}
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	refs, err := sortedRefs(repo)
	if err != nil {
		return nil, err
	}

	if pr := pullRequestAt(refs, head.Hash()); pr != "" {
		data.PullRequest = pr
		return data, nil
	}

	if head.Name().IsBranch() {
		data.Branch = head.Name().Short()
		return data, nil
	}

	tagged, err := tagAt(repo, head.Hash())
	if err != nil {
		return nil, err
	}
	if tagged {
		branch, err := remoteBranchContaining(repo, refs, head.Hash())
		if err != nil {
			return nil, err
		}
		if branch != "" {
			data.Branch = branch
			return data, nil
		}
	}

	data.Branch = DetachedHead
	return data, nil
}

// ParseRemoteURL extracts the repository name and owner from a remote URL
// such as "git@github.com:owner/repo.git" or
// "https://github.com/owner/repo.git".
func ParseRemoteURL(url string) (name, owner string) {
	parts := strings.Split(strings.TrimSuffix(url, "/"), "/")
	name, _, _ = strings.Cut(parts[len(parts)-1], ".git")
	if len(parts) >= 2 {
		segment := parts[len(parts)-2]
		if i := strings.LastIndex(segment, ".com:"); i >= 0 {
			segment = segment[i+len(".com:"):]
		}
		owner = segment
	}
	return name, owner
}

func unbornBranch(repo *git.Repository) string {
	ref, err := repo.Reference(plumbing.HEAD, false)
	if err != nil || ref.Type() != plumbing.SymbolicReference {
		return DetachedHead
	}
	return ref.Target().Short()
}

// sortedRefs lists all references ordered by name.
func sortedRefs(repo *git.Repository) ([]*plumbing.Reference, error) {
	iter, err := repo.References()
	if err != nil {
		return nil, fmt.Errorf("failed to list references: %w", err)
	}
	var refs []*plumbing.Reference
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() == plumbing.HashReference {
			refs = append(refs, ref)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list references: %w", err)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name() < refs[j].Name() })
	return refs, nil
}

// pullRequestAt returns the number of a pull request ref pointing at hash.
func pullRequestAt(refs []*plumbing.Reference, hash plumbing.Hash) string {
	for _, ref := range refs {
		if ref.Hash() != hash {
			continue
		}
		for _, prefix := range pullRequestPrefixes {
			if rest, ok := strings.CutPrefix(ref.Name().String(), prefix); ok {
				number, _, _ := strings.Cut(rest, "/")
				if number != "" {
					return number
				}
			}
		}
	}
	return ""
}

// tagAt reports whether a lightweight or annotated tag points at hash.
func tagAt(repo *git.Repository, hash plumbing.Hash) (bool, error) {
	iter, err := repo.Tags()
	if err != nil {
		return false, fmt.Errorf("failed to list tags: %w", err)
	}
	found := false
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		target := ref.Hash()
		if tag, err := repo.TagObject(ref.Hash()); err == nil {
			commit, err := tag.Commit()
			if err != nil {
				return nil
			}
			target = commit.Hash
		}
		if target == hash {
			found = true
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to list tags: %w", err)
	}
	return found, nil
}

// remoteBranchContaining returns the first origin branch whose history
// contains hash.
func remoteBranchContaining(repo *git.Repository, refs []*plumbing.Reference, hash plumbing.Hash) (string, error) {
	for _, ref := range refs {
		branch, ok := strings.CutPrefix(ref.Name().String(), originPrefix)
		if !ok || branch == "HEAD" || strings.HasPrefix(branch, "pr/") {
			continue
		}

		contains, err := historyContains(repo, ref.Hash(), hash)
		if err != nil {
			return "", err
		}
		if contains {
			return branch, nil
		}
	}
	return "", nil
}

func historyContains(repo *git.Repository, from, hash plumbing.Hash) (bool, error) {
	iter, err := repo.Log(&git.LogOptions{From: from})
	if err != nil {
		return false, fmt.Errorf("failed to read history of %s: %w", from, err)
	}
	defer iter.Close()

	found := false
	err = iter.ForEach(func(c *object.Commit) error {
		if c.Hash == hash {
			found = true
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to read history of %s: %w", from, err)
	}
	return found, nil
}
