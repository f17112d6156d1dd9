// Package worktree resolves the git checkout a session works in and
// reclaims stale session worktrees.
package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/opencode-ai/threadbridge/internal/vcs"
	"github.com/opencode-ai/threadbridge/pkg/types"
)

// Repo describes the checkout containing a directory.
type Repo struct {
	// Root is the top level of the checkout.
	Root string
	// GitDir is the checkout's git directory. For a linked worktree this is
	// the private directory under the main repository's .git/worktrees.
	GitDir string
	// Linked is set when .git is a file pointing elsewhere.
	Linked bool
}

// MainRoot returns the top level of the main repository of a linked
// worktree, or Root otherwise.
func (r *Repo) MainRoot() string {
	if !r.Linked {
		return r.Root
	}
	// <main>/.git/worktrees/<name>
	return filepath.Dir(filepath.Dir(filepath.Dir(r.GitDir)))
}

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]*Repo)
)

// Find returns the checkout containing dir, or nil if dir is not inside
// a git repository.
func Find(dir string) (*Repo, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	cacheMu.RLock()
	if repo, ok := cache[dir]; ok {
		cacheMu.RUnlock()
		return repo, nil
	}
	cacheMu.RUnlock()

	root, gitDir, linked := findGitDir(dir)
	if gitDir == "" {
		return nil, nil
	}

	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = root
	if out, err := cmd.Output(); err == nil {
		root = strings.TrimSpace(string(out))
	}

	repo := &Repo{Root: root, GitDir: gitDir, Linked: linked}
	cacheMu.Lock()
	cache[dir] = repo
	cacheMu.Unlock()
	return repo, nil
}

// Bind returns the worktree binding for a session working in dir, or nil
// outside git.
func Bind(dir string) (*types.WorktreeBinding, error) {
	repo, err := Find(dir)
	if err != nil || repo == nil {
		return nil, err
	}
	return &types.WorktreeBinding{
		RepoRoot: repo.MainRoot(),
		Path:     repo.Root,
		Branch:   vcs.GetBranch(repo.Root),
	}, nil
}

// ClearCache forgets every resolved directory.
func ClearCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache = make(map[string]*Repo)
}

// findGitDir walks up from start looking for .git. It returns the
// directory holding .git, the resolved git directory, and whether .git
// was a gitdir file.
func findGitDir(start string) (root, gitDir string, linked bool) {
	current := start
	for {
		gitPath := filepath.Join(current, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() {
				return current, gitPath, false
			}
			if content, err := os.ReadFile(gitPath); err == nil {
				line := strings.TrimSpace(string(content))
				if strings.HasPrefix(line, "gitdir: ") {
					dir := strings.TrimPrefix(line, "gitdir: ")
					if !filepath.IsAbs(dir) {
						dir = filepath.Join(current, dir)
					}
					return current, filepath.Clean(dir), true
				}
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", "", false
		}
		current = parent
	}
}
