// Package workspace locates the root a codemod target belongs to and
// reports which files have uncommitted git changes.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-git/v5"
)

// Workspace is the directory tree cases are displayed relative to.
type Workspace struct {
	Root string
	repo *git.Repository
}

// Detect finds the git worktree containing target. Outside a repository the
// target itself (or its directory, for a file) is the root.
func Detect(target string) (*Workspace, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", target, err)
	}
	dir := abs
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		dir = filepath.Dir(abs)
	}

	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return &Workspace{Root: dir}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	wt, err := repo.Worktree()
	if errors.Is(err, git.ErrIsBareRepository) {
		return &Workspace{Root: dir}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting worktree: %w", err)
	}
	return &Workspace{Root: wt.Filesystem.Root(), repo: repo}, nil
}

// InRepository reports whether the root is a git worktree.
func (w *Workspace) InRepository() bool {
	return w.repo != nil
}

// Dirty returns the absolute paths of files with staged, unstaged or
// untracked changes.
func (w *Workspace) Dirty() ([]string, error) {
	if w.repo == nil {
		return nil, nil
	}
	wt, err := w.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("getting worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("getting status: %w", err)
	}

	var paths []string
	for rel, s := range status {
		if s.Worktree == git.Unmodified && s.Staging == git.Unmodified {
			continue
		}
		paths = append(paths, filepath.Join(w.Root, filepath.FromSlash(rel)))
	}
	sort.Strings(paths)
	return paths, nil
}

// DirtyAmong returns the members of paths that have uncommitted changes.
func (w *Workspace) DirtyAmong(paths []string) ([]string, error) {
	dirty, err := w.Dirty()
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(dirty))
	for _, p := range dirty {
		set[p] = true
	}
	var out []string
	for _, p := range paths {
		if set[filepath.Clean(p)] {
			out = append(out, p)
		}
	}
	return out, nil
}
