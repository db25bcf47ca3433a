// Package gitclient commits export output into the git repository that contains it.
package gitclient

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var (
	ErrNotARepository = errors.New("not inside a git repository")
	// ErrOtherStagedChanges is returned by CommitFiles when the index holds
	// staged changes to paths other than the ones to commit.
	ErrOtherStagedChanges = errors.New("other changes are staged")
)

// Committer stages and commits files of a local, non-bare repository.
type Committer struct {
	repo *git.Repository
	wt   *git.Worktree
	root string
}

// Open finds the repository containing dir, searching parent directories.
func Open(dir string) (*Committer, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotARepository, dir)
		}
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	root, err := filepath.EvalSymlinks(wt.Filesystem.Root())
	if err != nil {
		return nil, err
	}
	return &Committer{repo: repo, wt: wt, root: root}, nil
}

// Root returns the worktree root directory.
func (c *Committer) Root() string {
	return c.root
}

// relPath returns path relative to the worktree root, in slash form.
func (c *Committer) relPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if abs, err = filepath.EvalSymlinks(abs); err != nil {
		return "", err
	}
	rel, err := filepath.Rel(c.root, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside of repository %s", path, c.root)
	}
	return filepath.ToSlash(rel), nil
}

// Signature returns an author signature for name and email at the current time.
func Signature(name, email string) *object.Signature {
	return &object.Signature{Name: name, Email: email, When: time.Now()}
}

// CommitFiles stages paths and commits them with message.
// If none of the paths has changed since HEAD, nothing is committed and
// committed is false. If other paths are already staged, CommitFiles stages
// nothing and fails with ErrOtherStagedChanges.
func (c *Committer) CommitFiles(message string, author *object.Signature, paths ...string) (hash plumbing.Hash, committed bool, err error) {
	var rels []string
	for _, p := range paths {
		rel, err := c.relPath(p)
		if err != nil {
			return plumbing.ZeroHash, false, err
		}
		rels = append(rels, rel)
	}

	status, err := c.wt.Status()
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("failed to get worktree status: %w", err)
	}
	var others []string
	for path, fs := range status {
		if isStaged(fs) && !slices.Contains(rels, path) {
			others = append(others, path)
		}
	}
	if len(others) > 0 {
		slices.Sort(others)
		return plumbing.ZeroHash, false, fmt.Errorf("%w: %s", ErrOtherStagedChanges, strings.Join(others, ", "))
	}

	for _, rel := range rels {
		if _, err := c.wt.Add(rel); err != nil {
			return plumbing.ZeroHash, false, fmt.Errorf("failed to stage %s: %w", rel, err)
		}
	}
	if status, err = c.wt.Status(); err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("failed to get worktree status: %w", err)
	}
	changed := false
	for _, rel := range rels {
		if fs, ok := status[rel]; ok && isStaged(fs) {
			changed = true
			break
		}
	}
	if !changed {
		return plumbing.ZeroHash, false, nil
	}

	hash, err = c.wt.Commit(message, &git.CommitOptions{Author: author})
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("failed to commit: %w", err)
	}
	return hash, true, nil
}

func isStaged(fs *git.FileStatus) bool {
	return fs.Staging != git.Unmodified && fs.Staging != git.Untracked
}
