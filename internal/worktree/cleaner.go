package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/threadbridge/internal/clock"
	"github.com/opencode-ai/threadbridge/internal/logging"
)

// DefaultMaxAge is how long an unbound worktree survives.
const DefaultMaxAge = 24 * time.Hour

// Cleaner removes session worktrees under Root that are older than MaxAge
// and no longer bound to a live session.
type Cleaner struct {
	Root   string
	MaxAge time.Duration
	// InUse reports whether a live session is bound to path.
	InUse func(path string) bool
	Clock clock.Clock

	log zerolog.Logger
}

// NewCleaner returns a Cleaner for root. A zero maxAge means DefaultMaxAge.
func NewCleaner(root string, maxAge time.Duration, inUse func(string) bool, clk clock.Clock) *Cleaner {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if clk == nil {
		clk = clock.Real()
	}
	if inUse == nil {
		inUse = func(string) bool { return false }
	}
	return &Cleaner{
		Root:   root,
		MaxAge: maxAge,
		InUse:  inUse,
		Clock:  clk,
		log:    logging.Component("worktree").With().Str("root", root).Logger(),
	}
}

// Clean removes stale worktrees and returns the removed paths, sorted.
// A missing Root is not an error. Failures to remove one entry are logged
// and do not stop the pass.
func (c *Cleaner) Clean(ctx context.Context) ([]string, error) {
	if c.Root == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(c.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read worktree root: %w", err)
	}

	cutoff := c.Clock.Now().Add(-c.MaxAge)
	var removed []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.Root, entry.Name())
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if c.InUse(path) {
			continue
		}
		if err := c.remove(ctx, path); err != nil {
			c.log.Warn().Err(err).Str("path", path).Msg("failed to remove stale worktree")
			continue
		}
		c.log.Info().Str("path", path).Dur("age", c.Clock.Now().Sub(info.ModTime())).Msg("removed stale worktree")
		removed = append(removed, path)
	}
	sort.Strings(removed)
	return removed, nil
}

// remove detaches a linked worktree from its repository before deleting
// it, so the main repository does not keep a dangling entry.
func (c *Cleaner) remove(ctx context.Context, path string) error {
	root, gitDir, linked := findGitDir(path)
	if linked && root == path {
		repo := &Repo{Root: path, GitDir: gitDir, Linked: true}
		cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", path)
		cmd.Dir = repo.MainRoot()
		if out, err := cmd.CombinedOutput(); err != nil {
			c.log.Debug().Err(err).Str("output", string(out)).Msg("git worktree remove failed, deleting directory")
		} else {
			return nil
		}
		defer func() {
			prune := exec.CommandContext(ctx, "git", "worktree", "prune")
			prune.Dir = repo.MainRoot()
			_ = prune.Run()
		}()
	}
	return os.RemoveAll(path)
}
