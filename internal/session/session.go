package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/threadbridge/internal/agent"
	"github.com/opencode-ai/threadbridge/internal/clock"
	"github.com/opencode-ai/threadbridge/internal/message"
	"github.com/opencode-ai/threadbridge/internal/platform"
	"github.com/opencode-ai/threadbridge/internal/vcs"
	"github.com/opencode-ai/threadbridge/pkg/types"
)

// Key identifies the thread a session is bound to.
type Key struct {
	PlatformID string
	ThreadID   string
}

func (k Key) String() string { return k.PlatformID + "/" + k.ThreadID }

// Session binds one chat thread to one agent process. Its fields are
// guarded by mu; the Manager is the only writer.
type Session struct {
	id       string
	key      Key
	workDir  string
	platform platform.Client
	created  time.Time

	mu           sync.Mutex
	state        State
	proc         agent.Process
	msgs         *message.Manager
	startedBy    string
	allowed      map[string]bool
	worktree     *types.WorktreeBinding
	headerPostID string
	status       types.SessionStatus
	lastActivity time.Time
	posts        map[string]struct{}
	history      history

	idleTimer *clock.Timer
	warnTimer *clock.Timer
	watcher   *vcs.Watcher
	closed    bool
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Key returns the thread the session is bound to.
func (s *Session) Key() Key { return s.key }

// ThreadID returns the platform thread ID.
func (s *Session) ThreadID() string { return s.key.ThreadID }

// WorkDir returns the agent's working directory.
func (s *Session) WorkDir() string { return s.workDir }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns the session's operation pipeline.
func (s *Session) Messages() *message.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs
}

// Process returns the bound agent process.
func (s *Session) Process() agent.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// LastActivity returns when the session last saw user or agent activity.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// IsAllowed reports whether userID may talk to the agent in this thread.
func (s *Session) IsAllowed(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowed[userID]
}

// AllowedUsers returns the allow-listed users, sorted.
func (s *Session) AllowedUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowedLocked()
}

func (s *Session) allowedLocked() []string {
	users := make([]string, 0, len(s.allowed))
	for u := range s.allowed {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// History returns the recent session events, oldest first.
func (s *Session) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.list()
}

// Status returns the model and usage summary.
func (s *Session) Status() types.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Info returns the public view of the session.
func (s *Session) Info() types.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

func (s *Session) infoLocked() types.SessionInfo {
	return types.SessionInfo{
		ID:           s.id,
		PlatformID:   s.key.PlatformID,
		ThreadID:     s.key.ThreadID,
		WorkDir:      s.workDir,
		State:        string(s.state),
		StartedBy:    s.startedBy,
		AllowedUsers: s.allowedLocked(),
		Worktree:     s.worktree,
		Status:       s.status,
		Time: types.SessionTime{
			Created: s.created.UnixMilli(),
			Updated: s.lastActivity.UnixMilli(),
		},
		LastActivity: s.lastActivity.UnixMilli(),
	}
}

func (s *Session) record(now time.Time, kind, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.add(HistoryEntry{Time: now, Kind: kind, Detail: detail})
}

func (s *Session) snapshotLocked(now time.Time) types.SessionSnapshot {
	snap := types.SessionSnapshot{
		PlatformID:   s.key.PlatformID,
		ThreadID:     s.key.ThreadID,
		SessionID:    s.id,
		WorkDir:      s.workDir,
		StartedBy:    s.startedBy,
		AllowedUsers: s.allowedLocked(),
		Worktree:     s.worktree,
		HeaderPostID: s.headerPostID,
		Time: types.SessionTime{
			Created: s.created.UnixMilli(),
			Updated: now.UnixMilli(),
		},
	}
	if s.proc != nil {
		snap.ResumeToken = s.proc.ResumeToken()
	}
	return snap
}

// renderHeader renders the persistent post at the top of the thread.
func (s *Session) renderHeader() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	b.WriteString("🤖 **Agent session** `")
	b.WriteString(s.id)
	b.WriteString("`\n")
	b.WriteString("📂 `")
	b.WriteString(s.workDir)
	b.WriteString("`")
	branch := s.status.Branch
	if branch == "" && s.worktree != nil {
		branch = s.worktree.Branch
	}
	if branch != "" {
		b.WriteString(" · 🌿 `")
		b.WriteString(branch)
		b.WriteString("`")
	}
	b.WriteString("\n")
	if s.status.Model != "" {
		b.WriteString("🧠 ")
		b.WriteString(s.status.Model)
		b.WriteString(" · ")
	}
	b.WriteString("🪙 ")
	b.WriteString(formatTokens(s.status.InputTokens + s.status.OutputTokens))
	b.WriteString(" tokens")
	if s.status.ContextTokens > 0 {
		b.WriteString(" · context ")
		b.WriteString(formatTokens(s.status.ContextTokens))
	}
	if s.status.CostUSD > 0 {
		b.WriteString(" · $")
		b.WriteString(strings.TrimRight(strings.TrimRight(formatCost(s.status.CostUSD), "0"), "."))
	}
	b.WriteString("\n👥 ")
	for i, u := range s.allowedLocked() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("@")
		b.WriteString(u)
	}
	b.WriteString(" · ")
	b.WriteString(string(s.state))
	return b.String()
}
