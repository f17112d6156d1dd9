package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opencode-ai/threadbridge/internal/agent"
	"github.com/opencode-ai/threadbridge/internal/breaker"
	"github.com/opencode-ai/threadbridge/internal/clock"
	"github.com/opencode-ai/threadbridge/internal/event"
	"github.com/opencode-ai/threadbridge/internal/executor"
	"github.com/opencode-ai/threadbridge/internal/formatter"
	"github.com/opencode-ai/threadbridge/internal/logging"
	"github.com/opencode-ai/threadbridge/internal/message"
	"github.com/opencode-ai/threadbridge/internal/platform"
	"github.com/opencode-ai/threadbridge/internal/posttracker"
	"github.com/opencode-ai/threadbridge/internal/storage"
	"github.com/opencode-ai/threadbridge/internal/vcs"
	"github.com/opencode-ai/threadbridge/internal/worktree"
	"github.com/opencode-ai/threadbridge/pkg/types"
)

// DefaultMaxSessions is the concurrency limit when Config leaves it unset.
const DefaultMaxSessions = 5

// Config configures a Manager.
type Config struct {
	MaxSessions      int
	SessionTimeout   time.Duration
	WarningBefore    time.Duration
	ReclaimInterval  time.Duration
	SubagentInterval time.Duration
	Thresholds       breaker.Thresholds

	// AllowedUsers may start sessions. Empty means anyone.
	AllowedUsers []string
	// WorkDir is the agent's working directory when a start request has none.
	WorkDir string

	WorktreeRoot   string
	WorktreeMaxAge time.Duration
	// WatchBranches starts a git branch watcher per session for the header.
	WatchBranches bool

	Spawner agent.Spawner
	// Snapshots persists resume state. Nil disables pause/resume persistence.
	Snapshots  *storage.Snapshots
	Bus        *event.Bus
	Clock      clock.Clock
	Formatters *formatter.Registry
}

// StartRequest describes a new session.
type StartRequest struct {
	Platform platform.Client
	ThreadID string
	UserID   string
	Prompt   string
	WorkDir  string

	// Resume restores a paused session instead of starting fresh.
	Resume *types.SessionSnapshot
}

// postRef locates a tracked post across platforms.
type postRef struct {
	platformID string
	postID     string
}

// Manager is the registry of live sessions.
type Manager struct {
	cfg     Config
	clock   clock.Clock
	log     zerolog.Logger
	cleaner *worktree.Cleaner

	mu        sync.RWMutex
	sessions  map[string]*Session
	byThread  map[Key]*Session
	byPost    map[postRef]*Session
	platforms map[string]platform.Client
	allowed   map[string]bool
	// pinned are directories bound by paused sessions' snapshots.
	pinned []string
}

var _ platform.Handler = (*Manager)(nil)

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Minute
	}
	if cfg.WarningBefore <= 0 || cfg.WarningBefore >= cfg.SessionTimeout {
		cfg.WarningBefore = cfg.SessionTimeout / 6
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Formatters == nil {
		cfg.Formatters = formatter.NewRegistry()
	}

	m := &Manager{
		cfg:       cfg,
		clock:     cfg.Clock,
		log:       logging.Component("session"),
		sessions:  make(map[string]*Session),
		byThread:  make(map[Key]*Session),
		byPost:    make(map[postRef]*Session),
		platforms: make(map[string]platform.Client),
		allowed:   make(map[string]bool),
	}
	for _, u := range cfg.AllowedUsers {
		m.allowed[u] = true
	}
	m.cleaner = worktree.NewCleaner(cfg.WorktreeRoot, cfg.WorktreeMaxAge, m.worktreeInUse, cfg.Clock)
	return m
}

// AddPlatform registers a platform so its inbound events can be routed.
func (m *Manager) AddPlatform(c platform.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.platforms[c.ID()] = c
}

// MaxSessions returns the concurrency limit.
func (m *Manager) MaxSessions() int { return m.cfg.MaxSessions }

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Get returns a live session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// FindByThread returns the live session bound to a thread.
func (m *Manager) FindByThread(platformID, threadID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byThread[Key{PlatformID: platformID, ThreadID: threadID}]
	return s, ok
}

// FindByPost returns the live session owning an interactive post.
func (m *Manager) FindByPost(platformID, postID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byPost[postRef{platformID: platformID, postID: postID}]
	return s, ok
}

// List returns the public view of every live session, oldest first.
func (m *Manager) List() []types.SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]types.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sortInfos(out)
	return out
}

// Start creates a session for a thread and spawns its agent process. It
// fails with a *CapacityError when MaxSessions sessions are live.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Session, error) {
	if req.Platform == nil {
		return nil, errors.New("start session: no platform")
	}
	key := Key{PlatformID: req.Platform.ID(), ThreadID: req.ThreadID}
	now := m.clock.Now()

	s := &Session{
		id:           ulid.Make().String(),
		key:          key,
		workDir:      req.WorkDir,
		platform:     req.Platform,
		created:      now,
		state:        StateStarting,
		startedBy:    req.UserID,
		allowed:      map[string]bool{req.UserID: true},
		lastActivity: now,
		posts:        make(map[string]struct{}),
	}
	if s.workDir == "" {
		s.workDir = m.cfg.WorkDir
	}
	resumeToken := ""
	if snap := req.Resume; snap != nil {
		if snap.WorkDir != "" {
			s.workDir = snap.WorkDir
		}
		if snap.StartedBy != "" {
			s.startedBy = snap.StartedBy
			s.allowed[snap.StartedBy] = true
		}
		for _, u := range snap.AllowedUsers {
			s.allowed[u] = true
		}
		s.worktree = snap.Worktree
		s.headerPostID = snap.HeaderPostID
		resumeToken = snap.ResumeToken
	}

	// Reserve the slot before spawning so concurrent starts cannot overshoot.
	if err := m.reserve(s); err != nil {
		return nil, err
	}
	s.record(now, "created", req.UserID)

	log := m.log.With().Str("session", s.id).Str("thread", key.String()).Logger()

	if s.worktree == nil {
		if binding, err := worktree.Bind(s.workDir); err == nil {
			s.mu.Lock()
			s.worktree = binding
			s.mu.Unlock()
		}
	}

	proc, err := m.cfg.Spawner.Spawn(ctx, agent.SpawnRequest{
		SessionID:   s.id,
		WorkDir:     s.workDir,
		ResumeToken: resumeToken,
		Prompt:      req.Prompt,
	})
	if err != nil {
		m.release(s)
		return nil, fmt.Errorf("spawn agent: %w", err)
	}

	msgs := m.newPipeline(s)
	s.mu.Lock()
	s.proc = proc
	s.msgs = msgs
	s.mu.Unlock()

	if snap := req.Resume; snap != nil {
		if err := msgs.Restore(ctx, snap.PendingQuestions, snap.PendingApproval); err != nil {
			log.Warn().Err(err).Msg("restore pending interactions")
		}
	}

	m.startWatcher(s)
	m.writeHeader(ctx, s)
	m.armTimers(s)
	go m.pump(s, proc, msgs)

	initial := StateActive
	if req.Prompt != "" {
		initial = StateProcessing
	}
	if err := m.transitionTo(s, initial); err != nil {
		log.Warn().Err(err).Msg("initial transition")
	}

	if req.Resume != nil {
		_ = msgs.PostSystem(ctx, types.LevelInfo, "Session resumed.", false)
		if m.cfg.Snapshots != nil {
			if err := m.cfg.Snapshots.Delete(ctx, key.PlatformID, key.ThreadID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				log.Warn().Err(err).Msg("delete resume snapshot")
			}
		}
	}

	m.publish(event.SessionCreated, event.SessionInfoData{Info: s.Info()})
	log.Info().
		Str("workDir", s.workDir).
		Bool("resumed", req.Resume != nil).
		Msg("session started")
	return s, nil
}

func (m *Manager) reserve(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byThread[s.key]; ok {
		return ErrSessionExists
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		return &CapacityError{Active: len(m.sessions), Limit: m.cfg.MaxSessions}
	}
	m.sessions[s.id] = s
	m.byThread[s.key] = s
	return nil
}

// release removes s and its post index entries. Capacity is available
// again as soon as it returns.
func (m *Manager) release(s *Session) {
	s.mu.Lock()
	posts := make([]string, 0, len(s.posts))
	for id := range s.posts {
		posts = append(posts, id)
	}
	s.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.id] != s {
		return
	}
	delete(m.sessions, s.id)
	if m.byThread[s.key] == s {
		delete(m.byThread, s.key)
	}
	for _, id := range posts {
		ref := postRef{platformID: s.key.PlatformID, postID: id}
		if m.byPost[ref] == s {
			delete(m.byPost, ref)
		}
	}
}

func (m *Manager) newPipeline(s *Session) *message.Manager {
	return message.New(message.Config{
		SessionID:        s.id,
		ThreadID:         s.key.ThreadID,
		Platform:         s.platform,
		Thresholds:       m.cfg.Thresholds,
		Formatters:       m.cfg.Formatters,
		Clock:            m.clock,
		SubagentInterval: m.cfg.SubagentInterval,
		Events: message.Events{
			OnStatus:            func(u types.StatusUpdate) { m.onStatus(s, u) },
			OnLifecycle:         func(ev types.LifecycleEvent) { m.onLifecycle(s, ev) },
			OnQuestionsComplete: func(done executor.QuestionsComplete) { m.onQuestionsComplete(s, done) },
			OnApprovalComplete:  func(done executor.ApprovalComplete) { m.onApprovalComplete(s, done) },
			OnPostTracked: func(postID string, _ posttracker.Info, removed bool) {
				m.indexPost(s, postID, removed)
			},
		},
	})
}

func (m *Manager) indexPost(s *Session, postID string, removed bool) {
	ref := postRef{platformID: s.key.PlatformID, postID: postID}
	s.mu.Lock()
	if removed {
		delete(s.posts, postID)
	} else {
		s.posts[postID] = struct{}{}
	}
	s.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if removed {
		if m.byPost[ref] == s {
			delete(m.byPost, ref)
		}
		return
	}
	if m.sessions[s.id] == s {
		m.byPost[ref] = s
	}
}

// transitionTo is the only place a session's state changes.
func (m *Manager) transitionTo(s *Session, to State) error {
	_, err := m.move(s, to, false)
	return err
}

// move applies a transition. With exclusive set it reports false, without
// error, when the session is already in to or has been torn down, so only
// one caller wins a pause or an end.
func (m *Manager) move(s *Session, to State, exclusive bool) (bool, error) {
	s.mu.Lock()
	from := s.state
	if exclusive && (from == to || s.closed) {
		s.mu.Unlock()
		return false, nil
	}
	if !CanTransition(from, to) {
		s.mu.Unlock()
		return false, transitionError(from, to)
	}
	s.state = to
	s.mu.Unlock()

	if from == to {
		return true, nil
	}
	s.record(m.clock.Now(), "state", string(to))
	m.log.Debug().
		Str("session", s.id).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("session transition")
	m.publish(event.SessionStatus, event.SessionStatusData{SessionID: s.id, From: string(from), To: string(to)})
	return true, nil
}

// pump feeds the agent's operations into the pipeline in arrival order and
// handles the process exit.
func (m *Manager) pump(s *Session, proc agent.Process, msgs *message.Manager) {
	ctx := context.Background()
	for op := range proc.Operations() {
		m.touch(s)
		if op.SessionID == "" {
			op.SessionID = s.id
		}
		s.record(m.clock.Now(), "op", string(op.Kind()))
		if err := msgs.Execute(ctx, op); err != nil {
			break
		}
	}
	// The pipeline is closed; keep reading so the process can be reaped.
	for range proc.Operations() {
	}
	<-proc.Done()

	// A restart swaps the process; only the current one may report loss.
	s.mu.Lock()
	current := s.proc == proc
	state := s.state
	s.mu.Unlock()
	if !current || state.Deliberate() {
		return
	}

	err := proc.Err()
	if err == nil {
		err = agent.ErrProcessLost
	}
	m.log.Warn().Err(err).Str("session", s.id).Msg("agent process lost")
	m.publish(event.SessionError, event.SessionErrorData{SessionID: s.id, Error: err.Error()})
	_ = msgs.PostSystem(ctx, types.LevelWarning, "The agent process exited unexpectedly. The session is paused; mention me in this thread to resume.", false)
	m.pause(ctx, s, "process lost")
}

// touch records activity and pushes the idle deadline back.
func (m *Manager) touch(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = m.clock.Now()
	if s.closed {
		return
	}
	if s.warnTimer != nil {
		s.warnTimer.Reset(m.cfg.SessionTimeout - m.cfg.WarningBefore)
	}
	if s.idleTimer != nil {
		s.idleTimer.Reset(m.cfg.SessionTimeout)
	}
}

func (m *Manager) armTimers(s *Session) {
	warn := m.clock.AfterFunc(m.cfg.SessionTimeout-m.cfg.WarningBefore, func() { m.onIdleWarning(s) })
	idle := m.clock.AfterFunc(m.cfg.SessionTimeout, func() { m.onIdleTimeout(s) })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnTimer = warn
	s.idleTimer = idle
}

func (m *Manager) onIdleWarning(s *Session) {
	msgs := s.Messages()
	if msgs == nil {
		return
	}
	text := fmt.Sprintf("This session will pause after %s of inactivity. Send a message to keep it alive.", formatDuration(m.cfg.WarningBefore))
	_ = msgs.Submit(context.Background(), types.NewOperation(s.id, types.SystemMessage{
		Level:     types.LevelWarning,
		Text:      text,
		Ephemeral: true,
	}))
}

func (m *Manager) onIdleTimeout(s *Session) {
	m.log.Info().Str("session", s.id).Msg("session idle, pausing")
	ctx := context.Background()
	if msgs := s.Messages(); msgs != nil {
		_ = msgs.PostSystem(ctx, types.LevelInfo, "Session paused after inactivity. Mention me in this thread to resume.", false)
	}
	m.pause(ctx, s, "idle timeout")
}

func (m *Manager) startWatcher(s *Session) {
	if !m.cfg.WatchBranches {
		return
	}
	w, err := vcs.NewWatcher(s.workDir, m.cfg.Bus, func(branch string) {
		s.mu.Lock()
		s.status.Branch = branch
		msgs := s.msgs
		s.mu.Unlock()
		if msgs != nil {
			msgs.Schedule(func(ctx context.Context) { m.updateHeader(ctx, s) })
		}
	})
	if err != nil {
		m.log.Warn().Err(err).Str("session", s.id).Msg("branch watcher")
		return
	}
	if w == nil {
		return
	}
	s.mu.Lock()
	s.watcher = w
	s.status.Branch = w.CurrentBranch()
	s.mu.Unlock()
	w.Start()
}

// writeHeader creates the header post, or rewrites the one a resumed
// session already has. It runs on the pipeline so it precedes agent output.
func (m *Manager) writeHeader(ctx context.Context, s *Session) {
	err := s.Messages().Do(ctx, func(ctx context.Context) {
		s.mu.Lock()
		existing := s.headerPostID
		s.mu.Unlock()
		if existing != "" {
			m.updateHeader(ctx, s)
			return
		}
		id, err := s.platform.CreatePost(ctx, s.key.ThreadID, s.renderHeader())
		if err != nil {
			m.log.Warn().Err(platform.Wrap("create", "", err)).Str("session", s.id).Msg("session header")
			return
		}
		s.mu.Lock()
		s.headerPostID = id
		s.mu.Unlock()
	})
	if err != nil {
		m.log.Warn().Err(err).Str("session", s.id).Msg("session header")
	}
}

// updateHeader must run on the session's pipeline worker.
func (m *Manager) updateHeader(ctx context.Context, s *Session) {
	s.mu.Lock()
	id := s.headerPostID
	s.mu.Unlock()
	if id == "" {
		return
	}
	if err := s.platform.UpdatePost(ctx, id, s.renderHeader()); err != nil {
		m.log.Warn().Err(platform.Wrap("update", id, err)).Str("session", s.id).Msg("session header")
	}
}

// Pipeline event handlers. They run on the session's worker goroutine.

func (m *Manager) onStatus(s *Session, u types.StatusUpdate) {
	s.mu.Lock()
	s.status.Apply(u)
	s.mu.Unlock()
	m.updateHeader(context.Background(), s)
	m.publish(event.SessionUpdated, event.SessionInfoData{Info: s.Info()})
}

func (m *Manager) onLifecycle(s *Session, ev types.LifecycleEvent) {
	s.record(m.clock.Now(), "lifecycle", string(ev))
	var err error
	switch ev {
	case types.LifecycleTurnStarted:
		err = m.transitionTo(s, StateProcessing)
	case types.LifecycleTurnCompleted:
		if s.State() == StateProcessing || s.State() == StateInterrupted {
			err = m.transitionTo(s, StateActive)
		}
	}
	if err != nil {
		m.log.Debug().Err(err).Str("session", s.id).Str("event", string(ev)).Msg("lifecycle transition skipped")
	}
	m.updateHeader(context.Background(), s)
}

func (m *Manager) onQuestionsComplete(s *Session, done executor.QuestionsComplete) {
	s.record(m.clock.Now(), "questions", done.ToolUseID)
	m.sendAsync(s, answersInstruction(done))
}

func (m *Manager) onApprovalComplete(s *Session, done executor.ApprovalComplete) {
	s.record(m.clock.Now(), "approval", fmt.Sprintf("%s approved=%t", done.ToolUseID, done.Approved))
	m.sendAsync(s, approvalInstruction(done))
}

// sendAsync delivers an instruction off the worker, which must not block
// on the agent's stdin.
func (m *Manager) sendAsync(s *Session, text string) {
	proc := s.Process()
	if proc == nil {
		return
	}
	go func() {
		if err := m.send(context.Background(), s, proc, text); err != nil {
			m.log.Warn().Err(err).Str("session", s.id).Msg("send to agent")
		}
	}()
}

func (m *Manager) send(ctx context.Context, s *Session, proc agent.Process, text string) error {
	m.touch(s)
	if st := s.State(); st == StateActive || st == StateInterrupted {
		if err := m.transitionTo(s, StateProcessing); err != nil {
			return err
		}
	}
	return proc.Send(ctx, text)
}

// Stop ends a session gracefully: a goodbye is posted, ephemeral notices
// are cleaned up and the agent is terminated.
func (m *Manager) Stop(ctx context.Context, id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	if err := m.transitionTo(s, StateCancelling); err != nil {
		return err
	}
	if msgs := s.Messages(); msgs != nil {
		if err := msgs.CleanupEphemeralPosts(ctx); err != nil {
			m.log.Warn().Err(err).Str("session", s.id).Msg("cleanup ephemeral posts")
		}
		_ = msgs.PostSystem(ctx, types.LevelSuccess, "Session ended.", false)
	}
	m.end(ctx, s, "stopped")
	return nil
}

// Kill ends a session immediately. Its capacity is free when Kill returns.
func (m *Manager) Kill(ctx context.Context, id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	m.end(ctx, s, "killed")
	return nil
}

// Interrupt asks the agent to abandon its current turn.
func (m *Manager) Interrupt(ctx context.Context, id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	proc := s.Process()
	if proc == nil {
		return ErrNotFound
	}
	if err := proc.Interrupt(); err != nil {
		return fmt.Errorf("interrupt agent: %w", err)
	}
	if err := m.transitionTo(s, StateInterrupted); err != nil {
		return err
	}
	if msgs := s.Messages(); msgs != nil {
		_ = msgs.PostSystem(ctx, types.LevelInfo, "Interrupted. Send a message to continue.", false)
	}
	return nil
}

// Restart replaces the agent process, resuming its conversation.
func (m *Manager) Restart(ctx context.Context, id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	if err := m.transitionTo(s, StateRestarting); err != nil {
		return err
	}
	s.mu.Lock()
	old := s.proc
	msgs := s.msgs
	s.mu.Unlock()

	token := ""
	if old != nil {
		token = old.ResumeToken()
		_ = old.Kill()
		select {
		case <-old.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	proc, err := m.cfg.Spawner.Spawn(ctx, agent.SpawnRequest{
		SessionID:   s.id,
		WorkDir:     s.workDir,
		ResumeToken: token,
	})
	if err != nil {
		_ = msgs.PostSystem(ctx, types.LevelError, "Restart failed: "+err.Error(), false)
		m.end(ctx, s, "restart failed")
		return fmt.Errorf("spawn agent: %w", err)
	}

	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()
	go m.pump(s, proc, msgs)
	m.touch(s)

	if err := m.transitionTo(s, StateActive); err != nil {
		return err
	}
	_ = msgs.PostSystem(ctx, types.LevelSuccess, "Agent restarted.", false)
	return nil
}

// Pause suspends a session: its pending state is persisted, the agent is
// terminated and the capacity freed. The next message in the thread
// resumes it.
func (m *Manager) Pause(ctx context.Context, id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	m.pause(ctx, s, "paused")
	return nil
}

func (m *Manager) pause(ctx context.Context, s *Session, reason string) {
	if ok, err := m.move(s, StatePaused, true); !ok {
		if err != nil {
			m.log.Debug().Err(err).Str("session", s.id).Msg("pause skipped")
		}
		return
	}
	m.persist(ctx, s)
	m.teardown(ctx, s, reason)
}

// end terminates a session for good and drops its resume snapshot.
func (m *Manager) end(ctx context.Context, s *Session, reason string) {
	if ok, err := m.move(s, StateEnding, true); !ok {
		if err != nil {
			m.log.Debug().Err(err).Str("session", s.id).Msg("end skipped")
		}
		return
	}
	m.teardown(ctx, s, reason)
	if m.cfg.Snapshots != nil {
		if err := m.cfg.Snapshots.Delete(ctx, s.key.PlatformID, s.key.ThreadID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			m.log.Warn().Err(err).Str("session", s.id).Msg("delete snapshot")
		}
	}
}

func (m *Manager) persist(ctx context.Context, s *Session) {
	if m.cfg.Snapshots == nil {
		return
	}
	s.mu.Lock()
	snap := s.snapshotLocked(m.clock.Now())
	msgs := s.msgs
	s.mu.Unlock()

	if msgs != nil {
		q, a, err := msgs.Snapshot(ctx)
		if err != nil {
			m.log.Warn().Err(err).Str("session", s.id).Msg("snapshot pending interactions")
		}
		snap.PendingQuestions, snap.PendingApproval = q, a
	}
	if err := m.cfg.Snapshots.Save(ctx, snap); err != nil {
		m.log.Error().Err(err).Str("session", s.id).Msg("save snapshot")
	}
}

// teardown cancels timers, stops the pipeline and the agent, and frees the
// session's slot. In-flight platform calls are left to finish.
func (m *Manager) teardown(_ context.Context, s *Session, reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	if s.warnTimer != nil {
		s.warnTimer.Stop()
	}
	watcher := s.watcher
	proc := s.proc
	msgs := s.msgs
	s.mu.Unlock()

	m.release(s)

	if watcher != nil {
		_ = watcher.Stop()
	}
	if proc != nil {
		if err := proc.Kill(); err != nil {
			m.log.Warn().Err(err).Str("session", s.id).Msg("kill agent")
		}
	}
	if msgs != nil {
		msgs.Close()
	}

	s.record(m.clock.Now(), "teardown", reason)
	m.publish(event.SessionDeleted, event.SessionInfoData{Info: s.Info()})
	m.log.Info().Str("session", s.id).Str("reason", reason).Msg("session closed")
}

// Reclaim pauses sessions idle longer than the timeout and removes stale
// worktrees. It returns the IDs of the paused sessions.
func (m *Manager) Reclaim(ctx context.Context) ([]string, error) {
	now := m.clock.Now()
	m.mu.RLock()
	var idle []*Session
	for _, s := range m.sessions {
		if now.Sub(s.LastActivity()) >= m.cfg.SessionTimeout {
			idle = append(idle, s)
		}
	}
	m.mu.RUnlock()

	ids := make([]string, 0, len(idle))
	for _, s := range idle {
		m.log.Info().Str("session", s.id).Msg("reclaiming idle session")
		m.pause(ctx, s, "reclaimed")
		ids = append(ids, s.id)
	}

	if err := m.pinSnapshotDirs(ctx); err != nil {
		// Without the snapshot bindings nothing is provably stale.
		return ids, fmt.Errorf("list snapshots: %w", err)
	}
	removed, err := m.cleaner.Clean(ctx)
	if len(removed) > 0 {
		m.log.Info().Strs("worktrees", removed).Msg("removed stale worktrees")
	}
	return ids, err
}

// Run reclaims idle sessions every ReclaimInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.cfg.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Reclaim(ctx); err != nil {
				m.log.Warn().Err(err).Msg("reclaim")
			}
		}
	}
}

// Shutdown pauses every live session in parallel so each can resume after
// a restart.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		g.Go(func() error {
			if msgs := s.Messages(); msgs != nil {
				_ = msgs.PostSystem(gctx, types.LevelInfo, "Server shutting down. Mention me in this thread to resume.", false)
			}
			m.pause(gctx, s, "shutdown")
			return nil
		})
	}
	return g.Wait()
}

// pinSnapshotDirs records the directories paused sessions will resume in.
func (m *Manager) pinSnapshotDirs(ctx context.Context) error {
	var dirs []string
	if m.cfg.Snapshots != nil {
		snaps, err := m.cfg.Snapshots.All(ctx)
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			dirs = append(dirs, snap.WorkDir)
			if snap.Worktree != nil {
				dirs = append(dirs, snap.Worktree.Path)
			}
		}
	}
	m.mu.Lock()
	m.pinned = dirs
	m.mu.Unlock()
	return nil
}

// worktreeInUse reports whether a live session or a stored snapshot works
// in path or below it.
func (m *Manager) worktreeInUse(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		s.mu.Lock()
		dir := s.workDir
		wt := s.worktree
		s.mu.Unlock()
		if within(dir, path) || (wt != nil && within(wt.Path, path)) {
			return true
		}
	}
	for _, dir := range m.pinned {
		if within(dir, path) {
			return true
		}
	}
	return false
}

func within(dir, root string) bool {
	if dir == "" {
		return false
	}
	rel, err := filepath.Rel(root, dir)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (m *Manager) publish(t event.EventType, data any) {
	if m.cfg.Bus == nil {
		return
	}
	m.cfg.Bus.Publish(event.Event{Type: t, Data: data})
}

func sortInfos(infos []types.SessionInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Time.Created != infos[j].Time.Created {
			return infos[i].Time.Created < infos[j].Time.Created
		}
		return infos[i].ID < infos[j].ID
	})
}

func formatDuration(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int(d/time.Minute))
	}
	return d.String()
}
