// Package vcs tracks the git branch of a session's working directory.
package vcs

import (
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/threadbridge/internal/event"
	"github.com/opencode-ai/threadbridge/internal/logging"
)

// Watcher watches for git branch changes by monitoring the git directory.
type Watcher struct {
	watcher       *fsnotify.Watcher
	workDir       string
	gitDir        string
	currentBranch string
	bus           *event.Bus
	onChange      func(branch string)
	log           zerolog.Logger
	stopCh        chan struct{}
	doneCh        chan struct{}
	started       bool
	mu            sync.RWMutex
}

// NewWatcher creates a watcher for workDir. Returns nil if the directory is
// not a git repository. bus and onChange are both optional; on a branch
// change the event is published first, then onChange runs.
func NewWatcher(workDir string, bus *event.Bus, onChange func(branch string)) (*Watcher, error) {
	log := logging.Component("vcs").With().Str("workDir", workDir).Logger()

	gitDir := findGitDir(workDir)
	if gitDir == "" {
		log.Debug().Msg("not a git repository, branch watcher disabled")
		return nil, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watching HEAD directly misses the rename git does on checkout.
	if err := w.Add(gitDir); err != nil {
		w.Close()
		return nil, err
	}

	branch := getCurrentBranch(workDir)
	log.Debug().Str("branch", branch).Str("gitDir", gitDir).Msg("branch watcher initialized")

	return &Watcher{
		watcher:       w,
		workDir:       workDir,
		gitDir:        gitDir,
		currentBranch: branch,
		bus:           bus,
		onChange:      onChange,
		log:           log,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

// Start begins watching for branch changes.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Base(ev.Name) == "HEAD" {
				w.checkBranchChange()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("branch watcher error")
		}
	}
}

func (w *Watcher) checkBranchChange() {
	newBranch := getCurrentBranch(w.workDir)

	w.mu.Lock()
	oldBranch := w.currentBranch
	changed := newBranch != oldBranch
	if changed {
		w.currentBranch = newBranch
	}
	w.mu.Unlock()

	if !changed {
		return
	}
	w.log.Info().Str("from", oldBranch).Str("to", newBranch).Msg("branch changed")

	if w.bus != nil {
		w.bus.PublishSync(event.Event{
			Type: event.BranchChanged,
			Data: event.BranchChangedData{Path: w.workDir, Branch: newBranch},
		})
	}
	if w.onChange != nil {
		w.onChange(newBranch)
	}
}

// CurrentBranch returns the currently tracked branch name.
func (w *Watcher) CurrentBranch() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currentBranch
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	select {
	case <-w.stopCh:
		w.mu.Unlock()
		return nil
	default:
		close(w.stopCh)
	}
	w.mu.Unlock()

	if started {
		<-w.doneCh
	}
	return w.watcher.Close()
}

// findGitDir finds the git directory for workDir. Linked worktrees, whose
// .git is a file, resolve to their private git directory.
func findGitDir(workDir string) string {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}

	gitDir := strings.TrimSpace(string(out))
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(workDir, gitDir)
	}
	return gitDir
}

func getCurrentBranch(workDir string) string {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// GetBranch returns the current branch of workDir, or "" outside a repo.
func GetBranch(workDir string) string {
	return getCurrentBranch(workDir)
}
