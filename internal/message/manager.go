// Package message sequences the operations of one session onto its
// executors.
//
// Each Manager owns a single worker goroutine. Operations, reactions and
// internal ticks are queued and run one at a time in arrival order, so no
// operation starts before the previous one's platform calls have finished
// and a reaction's post lookup and state change happen without interleaving.
package message

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/threadbridge/internal/breaker"
	"github.com/opencode-ai/threadbridge/internal/clock"
	"github.com/opencode-ai/threadbridge/internal/executor"
	"github.com/opencode-ai/threadbridge/internal/formatter"
	"github.com/opencode-ai/threadbridge/internal/logging"
	"github.com/opencode-ai/threadbridge/internal/platform"
	"github.com/opencode-ai/threadbridge/internal/posttracker"
	"github.com/opencode-ai/threadbridge/pkg/types"
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("message manager closed")

// Events are the notifications a Manager delivers to the session layer.
// They run on the worker goroutine and must not call Execute or Do.
type Events struct {
	OnStatus            func(types.StatusUpdate)
	OnLifecycle         func(types.LifecycleEvent)
	OnQuestionsComplete func(executor.QuestionsComplete)
	OnApprovalComplete  func(executor.ApprovalComplete)
	// OnPostTracked mirrors post tracker changes.
	OnPostTracked posttracker.Observer
}

// Config configures a Manager.
type Config struct {
	SessionID        string
	ThreadID         string
	Platform         platform.Client
	Thresholds       breaker.Thresholds
	Formatters       *formatter.Registry
	Clock            clock.Clock
	SubagentInterval time.Duration
	Events           Events
}

type task struct {
	ctx  context.Context
	op   *types.Operation
	fn   func(ctx context.Context)
	done chan struct{}
}

// Manager is the per-session operation sequencer.
type Manager struct {
	sessionID string
	clock     clock.Clock
	logger    zerolog.Logger
	events    Events
	tracker   *posttracker.Tracker

	content     *executor.ContentExecutor
	taskList    *executor.TaskListExecutor
	system      *executor.SystemExecutor
	interactive *executor.InteractiveExecutor
	subagents   *executor.SubagentExecutor

	mu     sync.Mutex
	queue  []*task
	wake   chan struct{}
	closed bool
	seq    uint64
	exited chan struct{}
}

// New creates a Manager and starts its worker.
func New(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	logger := logging.Component("message").With().
		Str("session", cfg.SessionID).
		Logger()

	m := &Manager{
		sessionID: cfg.SessionID,
		clock:     cfg.Clock,
		logger:    logger,
		events:    cfg.Events,
		tracker:   posttracker.New(cfg.Events.OnPostTracked),
		wake:      make(chan struct{}, 1),
		exited:    make(chan struct{}),
	}

	deps := executor.Deps{
		Platform: cfg.Platform,
		ThreadID: cfg.ThreadID,
		Tracker:  m.tracker,
		Clock:    cfg.Clock,
		Logger:   &m.logger,
	}
	// The task list only needs to know about posts made by the others.
	m.taskList = executor.NewTaskListExecutor(deps)
	deps.AfterCreate = m.taskList.NoteCreated

	m.content = executor.NewContentExecutor(deps, breaker.New(cfg.Thresholds), cfg.Formatters)
	m.system = executor.NewSystemExecutor(deps, cfg.Events.OnStatus, cfg.Events.OnLifecycle)
	m.interactive = executor.NewInteractiveExecutor(deps, cfg.Events.OnQuestionsComplete, cfg.Events.OnApprovalComplete)
	m.subagents = executor.NewSubagentExecutor(deps, cfg.SubagentInterval, m.Schedule)

	go m.run()
	return m
}

// Execute queues op and waits until its executor has finished. Executor
// failures are logged, not returned; the error is only ErrClosed or the
// context's error.
func (m *Manager) Execute(ctx context.Context, op types.Operation) error {
	t := &task{ctx: ctx, op: &op, done: make(chan struct{})}
	if err := m.enqueue(t); err != nil {
		return err
	}
	return m.wait(ctx, t)
}

// Submit queues op without waiting.
func (m *Manager) Submit(ctx context.Context, op types.Operation) error {
	return m.enqueue(&task{ctx: ctx, op: &op})
}

// Schedule queues fn to run on the worker. It never blocks; after Close
// fn is dropped.
func (m *Manager) Schedule(fn func(ctx context.Context)) {
	_ = m.enqueue(&task{ctx: context.Background(), fn: fn})
}

// Do runs fn on the worker and waits for it.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context)) error {
	t := &task{ctx: ctx, fn: fn, done: make(chan struct{})}
	if err := m.enqueue(t); err != nil {
		return err
	}
	return m.wait(ctx, t)
}

// HandleReaction routes a reaction change to the executor that owns the
// post. It reports false for untracked posts, unknown emoji and
// interactions that are already resolved.
func (m *Manager) HandleReaction(ctx context.Context, r platform.Reaction) (bool, error) {
	var handled bool
	err := m.Do(ctx, func(ctx context.Context) {
		handled = m.react(ctx, r)
	})
	return handled, err
}

// Tracked reports whether postID belongs to this session's interactions.
func (m *Manager) Tracked(postID string) bool {
	_, ok := m.tracker.Lookup(postID)
	return ok
}

// Snapshot returns the pending interactive state.
func (m *Manager) Snapshot(ctx context.Context) (*types.PendingQuestionSet, *types.PendingApproval, error) {
	var (
		q *types.PendingQuestionSet
		a *types.PendingApproval
	)
	err := m.Do(ctx, func(context.Context) {
		q, a = m.interactive.Pending()
	})
	return q, a, err
}

// Restore reinstates pending interactive state from a snapshot.
func (m *Manager) Restore(ctx context.Context, q *types.PendingQuestionSet, a *types.PendingApproval) error {
	var restoreErr error
	if err := m.Do(ctx, func(ctx context.Context) {
		restoreErr = m.interactive.Restore(ctx, q, a)
	}); err != nil {
		return err
	}
	return restoreErr
}

// PostSystem posts a system message through the pipeline.
func (m *Manager) PostSystem(ctx context.Context, level types.MessageLevel, text string, ephemeral bool) error {
	return m.Execute(ctx, types.NewOperation(m.sessionID, types.SystemMessage{Level: level, Text: text, Ephemeral: ephemeral}))
}

// CleanupEphemeralPosts deletes the ephemeral system messages posted so far.
func (m *Manager) CleanupEphemeralPosts(ctx context.Context) error {
	var cerr error
	err := m.Do(ctx, func(ctx context.Context) {
		cerr = m.system.CleanupEphemeralPosts(ctx)
	})
	if err != nil {
		return err
	}
	return cerr
}

// Close stops accepting work, waits for the running task, drops the rest
// and stops the subagent ticker. Close must not be called from an Events
// callback.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		<-m.exited
		return
	}
	m.closed = true
	m.mu.Unlock()
	m.signal()
	<-m.exited
}

func (m *Manager) enqueue(t *task) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if t.op != nil {
		m.seq++
		if t.op.Seq == 0 {
			t.op.Seq = m.seq
		}
		if t.op.SessionID == "" {
			t.op.SessionID = m.sessionID
		}
		if t.op.Time.IsZero() {
			t.op.Time = m.clock.Now()
		}
	}
	m.queue = append(m.queue, t)
	m.mu.Unlock()
	m.signal()
	return nil
}

func (m *Manager) wait(ctx context.Context, t *task) error {
	select {
	case <-t.done:
		return nil
	case <-m.exited:
		select {
		case <-t.done:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) next() (*task, bool) {
	for {
		m.mu.Lock()
		if m.closed {
			m.queue = nil
			m.mu.Unlock()
			return nil, false
		}
		if len(m.queue) > 0 {
			t := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return t, true
		}
		m.mu.Unlock()
		<-m.wake
	}
}

func (m *Manager) run() {
	defer close(m.exited)
	defer m.subagents.Stop()

	for {
		t, ok := m.next()
		if !ok {
			return
		}
		// Platform calls already started are allowed to finish even if
		// the submitter gives up.
		ctx := context.WithoutCancel(t.ctx)
		if t.op != nil {
			m.dispatch(ctx, *t.op)
		} else {
			m.runFunc(ctx, t.fn)
		}
		m.bump(ctx)
		if t.done != nil {
			close(t.done)
		}
	}
}

func (m *Manager) runFunc(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Msg("task panicked")
		}
	}()
	fn(ctx)
}

func (m *Manager) bump(ctx context.Context) {
	if err := m.taskList.Bump(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("task list bump failed")
	}
}
