package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/threadbridge/internal/agent/agenttest"
	"github.com/opencode-ai/threadbridge/internal/clock"
	"github.com/opencode-ai/threadbridge/internal/platform"
	"github.com/opencode-ai/threadbridge/internal/platform/platformtest"
	"github.com/opencode-ai/threadbridge/internal/storage"
	"github.com/opencode-ai/threadbridge/pkg/types"
)

const waitFor = 2 * time.Second

var ctx = context.Background()

type fixture struct {
	mgr       *Manager
	rec       *platformtest.Recorder
	spawner   *agenttest.Spawner
	clock     *clock.Fake
	snapshots *storage.Snapshots
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		rec:       platformtest.New(),
		spawner:   &agenttest.Spawner{},
		clock:     clock.NewFake(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
		snapshots: storage.NewSnapshots(storage.New(t.TempDir())),
	}
	cfg := Config{
		MaxSessions:      5,
		SessionTimeout:   30 * time.Minute,
		WarningBefore:    5 * time.Minute,
		SubagentInterval: 5 * time.Second,
		WorkDir:          t.TempDir(),
		Spawner:          f.spawner,
		Snapshots:        f.snapshots,
		Clock:            f.clock,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	f.mgr = NewManager(cfg)
	f.mgr.AddPlatform(f.rec)
	t.Cleanup(func() { _ = f.mgr.Shutdown(context.Background()) })
	return f
}

func (f *fixture) message(thread, user, text string) platform.InboundMessage {
	return platform.InboundMessage{PlatformID: f.rec.ID(), ThreadID: thread, UserID: user, Text: text}
}

func (f *fixture) start(t *testing.T, thread string) (*Session, *agenttest.Process) {
	t.Helper()
	s, err := f.mgr.Start(ctx, StartRequest{Platform: f.rec, ThreadID: thread, UserID: "alice"})
	require.NoError(t, err)
	return s, f.spawner.Last()
}

// postWith waits for a created post whose text contains substr.
func (f *fixture) postWith(t *testing.T, substr string) platformtest.Call {
	t.Helper()
	var found platformtest.Call
	require.Eventually(t, func() bool {
		for _, c := range f.rec.Calls() {
			if (c.Op == "create" || c.Op == "create_interactive") && strings.Contains(c.Text, substr) {
				found = c
				return true
			}
		}
		return false
	}, waitFor, 5*time.Millisecond, "no post containing %q", substr)
	return found
}

func sentContains(p *agenttest.Process, substr string) func() bool {
	return func() bool {
		for _, s := range p.Sent() {
			if strings.Contains(s, substr) {
				return true
			}
		}
		return false
	}
}

func twoQuestions() types.Question {
	return types.Question{
		ToolUseID: "tu-q",
		Questions: []types.QuestionItem{
			{Header: "Q1", Prompt: "Pick one", Options: []types.QuestionOption{{Label: "OptA"}, {Label: "OptB"}}},
			{Header: "Q2", Prompt: "Pick another", Options: []types.QuestionOption{{Label: "OptC"}, {Label: "OptD"}}},
		},
	}
}

func TestManager_RejectsSessionOverCapacity(t *testing.T) {
	f := newFixture(t)

	var sessions []*Session
	for i := 0; i < 5; i++ {
		s, _ := f.start(t, fmt.Sprintf("thread-%d", i))
		sessions = append(sessions, s)
	}

	_, err := f.mgr.Start(ctx, StartRequest{Platform: f.rec, ThreadID: "thread-5", UserID: "alice"})
	require.Error(t, err)
	assert.True(t, IsCapacityExceeded(err))
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 5, capErr.Limit)
	assert.Len(t, f.spawner.Processes(), 5, "no process spawned for a refused start")

	require.NoError(t, f.mgr.Kill(ctx, sessions[2].ID()))
	assert.Equal(t, 4, f.mgr.Count(), "capacity is reclaimed when Kill returns")

	_, err = f.mgr.Start(ctx, StartRequest{Platform: f.rec, ThreadID: "thread-5", UserID: "alice"})
	require.NoError(t, err)
}

func TestManager_CapacityNoticePostedInThread(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxSessions = 1 })
	f.start(t, "busy")

	err := f.mgr.HandleMessage(ctx, f.message("new", "bob", "hello"))
	require.Error(t, err)
	assert.True(t, IsCapacityExceeded(err))

	c := f.postWith(t, "Too many active sessions")
	assert.Equal(t, "new", c.ThreadID)
}

func TestManager_StartRejectsDuplicateThread(t *testing.T) {
	f := newFixture(t)
	f.start(t, "t1")

	_, err := f.mgr.Start(ctx, StartRequest{Platform: f.rec, ThreadID: "t1", UserID: "bob"})
	assert.ErrorIs(t, err, ErrSessionExists)
	assert.Equal(t, 1, f.mgr.Count())
}

func TestManager_SpawnFailureReleasesSlot(t *testing.T) {
	f := newFixture(t)
	f.spawner.Fail = fmt.Errorf("no such binary")

	_, err := f.mgr.Start(ctx, StartRequest{Platform: f.rec, ThreadID: "t1", UserID: "alice"})
	require.Error(t, err)
	assert.Equal(t, 0, f.mgr.Count())
	_, ok := f.mgr.FindByThread(f.rec.ID(), "t1")
	assert.False(t, ok)
}

func TestManager_MessageStartsSessionWithPrompt(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.mgr.HandleMessage(ctx, f.message("t1", "alice", "fix the build")))

	s, ok := f.mgr.FindByThread(f.rec.ID(), "t1")
	require.True(t, ok)
	assert.Equal(t, StateProcessing, s.State())
	proc := f.spawner.Last()
	assert.Equal(t, []string{"fix the build"}, proc.Sent())
	assert.Equal(t, s.WorkDir(), proc.Request.WorkDir)

	f.postWith(t, "Agent session")
}

func TestManager_ForwardsFollowUpsWithAttachments(t *testing.T) {
	f := newFixture(t)
	_, proc := f.start(t, "t1")

	msg := f.message("t1", "alice", "look at this")
	msg.Attachments = []platform.Attachment{{Name: "trace.log", URL: "https://files/trace.log"}}
	require.NoError(t, f.mgr.HandleMessage(ctx, msg))

	sent := proc.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "look at this")
	assert.Contains(t, sent[0], "trace.log (https://files/trace.log)")
}

func TestManager_IgnoresUsersOutsideAllowList(t *testing.T) {
	f := newFixture(t)
	_, proc := f.start(t, "t1")

	require.NoError(t, f.mgr.HandleMessage(ctx, f.message("t1", "mallory", "rm -rf /")))
	assert.Empty(t, proc.Sent())
	f.postWith(t, "@mallory is not allowed")

	require.NoError(t, f.mgr.HandleMessage(ctx, f.message("t1", "alice", "!invite @mallory")))
	require.NoError(t, f.mgr.HandleMessage(ctx, f.message("t1", "mallory", "hello")))
	assert.Equal(t, []string{"hello"}, proc.Sent())

	require.NoError(t, f.mgr.HandleMessage(ctx, f.message("t1", "alice", "!kick mallory")))
	require.NoError(t, f.mgr.HandleMessage(ctx, f.message("t1", "mallory", "again")))
	assert.Equal(t, []string{"hello"}, proc.Sent())
}

func TestManager_GlobalAllowListGatesNewSessions(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.AllowedUsers = []string{"alice"} })

	require.NoError(t, f.mgr.HandleMessage(ctx, f.message("t1", "eve", "hi")))
	assert.Equal(t, 0, f.mgr.Count())

	require.NoError(t, f.mgr.HandleMessage(ctx, f.message("t1", "alice", "hi")))
	assert.Equal(t, 1, f.mgr.Count())
}

func TestManager_UnknownPlatform(t *testing.T) {
	f := newFixture(t)
	err := f.mgr.HandleMessage(ctx, platform.InboundMessage{PlatformID: "slack", ThreadID: "t", UserID: "u", Text: "hi"})
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}

func TestManager_QuestionAnswersReachAgent(t *testing.T) {
	f := newFixture(t)
	s, proc := f.start(t, "t1")

	proc.Emit(types.NewOperation(s.ID(), twoQuestions()))
	first := f.postWith(t, "Pick one")

	got, ok := f.mgr.FindByPost(f.rec.ID(), first.PostID)
	require.True(t, ok)
	assert.Same(t, s, got)

	require.NoError(t, f.mgr.HandleReaction(ctx, platform.Reaction{
		PlatformID: f.rec.ID(), PostID: first.PostID, Emoji: "one", UserID: "alice", Added: true,
	}))
	second := f.postWith(t, "Pick another")
	assert.NotEqual(t, first.PostID, second.PostID)

	require.NoError(t, f.mgr.HandleReaction(ctx, platform.Reaction{
		PlatformID: f.rec.ID(), PostID: second.PostID, Emoji: "two", UserID: "alice", Added: true,
	}))

	require.Eventually(t, sentContains(proc, "- Q1: OptA\n- Q2: OptD"), waitFor, 5*time.Millisecond)
}

func TestManager_ReactionsFromOutsidersIgnored(t *testing.T) {
	f := newFixture(t)
	s, proc := f.start(t, "t1")

	proc.Emit(types.NewOperation(s.ID(), types.Approval{ToolUseID: "tu-a", Type: types.ApprovalPlan, Detail: "1. do it"}))
	post := f.postWith(t, "1. do it")

	require.NoError(t, f.mgr.HandleReaction(ctx, platform.Reaction{
		PlatformID: f.rec.ID(), PostID: post.PostID, Emoji: "+1", UserID: "mallory", Added: true,
	}))
	require.NoError(t, f.mgr.HandleReaction(ctx, platform.Reaction{
		PlatformID: f.rec.ID(), PostID: post.PostID, Emoji: "-1", UserID: "alice", Added: true,
	}))
	require.Eventually(t, sentContains(proc, "rejected the plan"), waitFor, 5*time.Millisecond)
	assert.False(t, sentContains(proc, "approved")())
}

func TestManager_StatusUpdatesRewriteHeader(t *testing.T) {
	f := newFixture(t)
	s, proc := f.start(t, "t1")
	header := f.postWith(t, "Agent session")

	model := "sonnet"
	in, out := 1200, 300
	proc.Emit(types.NewOperation(s.ID(), types.StatusUpdate{Model: &model, InputTokens: &in, OutputTokens: &out}))

	require.Eventually(t, func() bool {
		text, _ := f.rec.Text(header.PostID)
		return strings.Contains(text, "sonnet") && strings.Contains(text, "1.5k tokens")
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, "sonnet", s.Status().Model)
}

func TestManager_LifecycleDrivesProcessingState(t *testing.T) {
	f := newFixture(t)
	s, proc := f.start(t, "t1")
	assert.Equal(t, StateActive, s.State())

	proc.Emit(types.NewOperation(s.ID(), types.Lifecycle{Event: types.LifecycleTurnStarted}))
	require.Eventually(t, func() bool { return s.State() == StateProcessing }, waitFor, 5*time.Millisecond)

	proc.Emit(types.NewOperation(s.ID(), types.Lifecycle{Event: types.LifecycleTurnCompleted}))
	require.Eventually(t, func() bool { return s.State() == StateActive }, waitFor, 5*time.Millisecond)
}

func TestManager_ProcessLostPausesAndResumes(t *testing.T) {
	f := newFixture(t)
	s, proc := f.start(t, "t1")

	proc.Emit(types.NewOperation(s.ID(), twoQuestions()))
	first := f.postWith(t, "Pick one")
	require.NoError(t, f.mgr.HandleReaction(ctx, platform.Reaction{
		PlatformID: f.rec.ID(), PostID: first.PostID, Emoji: "one", UserID: "alice", Added: true,
	}))
	second := f.postWith(t, "Pick another")

	proc.Exit()
	require.Eventually(t, func() bool { return f.mgr.Count() == 0 }, waitFor, 5*time.Millisecond)
	f.postWith(t, "exited unexpectedly")
	assert.Equal(t, StatePaused, s.State())

	snap, err := f.snapshots.Load(ctx, f.rec.ID(), "t1")
	require.NoError(t, err)
	assert.Equal(t, proc.ResumeToken(), snap.ResumeToken)
	require.NotNil(t, snap.PendingQuestions)
	assert.Equal(t, 1, snap.PendingQuestions.CurrentIndex)
	require.NotNil(t, snap.PendingQuestions.Questions[0].Answer)
	assert.Equal(t, "OptA", *snap.PendingQuestions.Questions[0].Answer)

	require.NoError(t, f.mgr.HandleMessage(ctx, f.message("t1", "alice", "are you there?")))
	resumed, ok := f.mgr.FindByThread(f.rec.ID(), "t1")
	require.True(t, ok)
	assert.NotEqual(t, s.ID(), resumed.ID())
	next := f.spawner.Last()
	assert.Equal(t, proc.ResumeToken(), next.Request.ResumeToken)

	_, err = f.snapshots.Load(ctx, f.rec.ID(), "t1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "a snapshot resumes once")

	// The restored question still takes its answer on the old post.
	got, ok := f.mgr.FindByPost(f.rec.ID(), second.PostID)
	require.True(t, ok)
	assert.Same(t, resumed, got)
	require.NoError(t, f.mgr.HandleReaction(ctx, platform.Reaction{
		PlatformID: f.rec.ID(), PostID: second.PostID, Emoji: "two", UserID: "alice", Added: true,
	}))
	require.Eventually(t, sentContains(next, "- Q1: OptA\n- Q2: OptD"), waitFor, 5*time.Millisecond)
}

func TestManager_ResumeRequiresSnapshot(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.Resume(ctx, f.rec.ID(), "t1", "alice", "hello")
	assert.ErrorIs(t, err, ErrNotFound)

	s, proc := f.start(t, "t1")
	require.NoError(t, f.mgr.Pause(ctx, s.ID()))
	assert.Equal(t, 0, f.mgr.Count())

	resumed, err := f.mgr.Resume(ctx, f.rec.ID(), "t1", "bob", "continue")
	require.NoError(t, err)
	assert.Equal(t, "alice", resumed.Info().StartedBy, "the original owner keeps the session")
	assert.True(t, resumed.IsAllowed("bob"))
	next := f.spawner.Last()
	assert.Equal(t, proc.ResumeToken(), next.Request.ResumeToken)
	assert.Equal(t, []string{"continue"}, next.Sent())
	f.postWith(t, "Session resumed.")
}

func TestManager_IdleWarningThenPause(t *testing.T) {
	f := newFixture(t)
	s, proc := f.start(t, "t1")

	f.clock.Advance(25 * time.Minute)
	f.postWith(t, "will pause after 5m")
	assert.Equal(t, 1, f.mgr.Count())

	f.clock.Advance(5 * time.Minute)
	assert.Equal(t, 0, f.mgr.Count())
	assert.Equal(t, StatePaused, s.State())
	assert.True(t, proc.Exited())

	_, err := f.snapshots.Load(ctx, f.rec.ID(), "t1")
	require.NoError(t, err)
}

func TestManager_ActivityResetsIdleTimer(t *testing.T) {
	f := newFixture(t)
	s, _ := f.start(t, "t1")

	f.clock.Advance(20 * time.Minute)
	require.NoError(t, f.mgr.HandleMessage(ctx, f.message("t1", "alice", "still here")))
	f.clock.Advance(20 * time.Minute)

	assert.Equal(t, 1, f.mgr.Count())
	assert.True(t, s.State().Alive())
	assert.Equal(t, f.clock.Now().Add(-20*time.Minute), s.LastActivity())
}

func TestManager_ReclaimPausesIdleSessions(t *testing.T) {
	root := t.TempDir()
	f := newFixture(t, func(c *Config) {
		c.WorktreeRoot = root
		c.WorktreeMaxAge = time.Hour
	})
	idle, _ := f.start(t, "idle")
	// Disarm the idle timers so only the reclamation pass can act.
	idle.mu.Lock()
	idle.idleTimer.Stop()
	idle.warnTimer.Stop()
	idle.mu.Unlock()

	stale := filepath.Join(root, "old-worktree")
	require.NoError(t, os.MkdirAll(stale, 0755))
	old := f.clock.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	f.clock.Advance(31 * time.Minute)
	busy, _ := f.start(t, "busy")

	ids, err := f.mgr.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{idle.ID()}, ids)
	assert.Equal(t, StatePaused, idle.State())
	assert.True(t, busy.State().Alive())

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestManager_ReclaimKeepsPausedSessionDirectory(t *testing.T) {
	root := t.TempDir()
	f := newFixture(t, func(c *Config) {
		c.WorktreeRoot = root
		c.WorktreeMaxAge = time.Hour
	})
	bound := filepath.Join(root, "session-wt")
	require.NoError(t, os.MkdirAll(filepath.Join(bound, "src"), 0755))
	s, err := f.mgr.Start(ctx, StartRequest{Platform: f.rec, ThreadID: "t1", UserID: "alice", WorkDir: filepath.Join(bound, "src")})
	require.NoError(t, err)
	require.NoError(t, f.mgr.Pause(ctx, s.ID()))

	stale := filepath.Join(root, "orphan")
	require.NoError(t, os.MkdirAll(stale, 0755))
	old := f.clock.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(bound, old, old))
	require.NoError(t, os.Chtimes(stale, old, old))

	_, err = f.mgr.Reclaim(ctx)
	require.NoError(t, err)
	assert.DirExists(t, bound, "a paused session's directory survives")
	assert.NoDirExists(t, stale)

	require.NoError(t, f.mgr.HandleMessage(ctx, f.message("t1", "alice", "back")))
	next := f.spawner.Last()
	assert.Equal(t, filepath.Join(bound, "src"), next.Request.WorkDir)
	assert.NotEmpty(t, next.Request.ResumeToken)
}

func TestManager_ResumeDropsSnapshotOfRemovedDirectory(t *testing.T) {
	f := newFixture(t)
	gone := filepath.Join(t.TempDir(), "wt")
	require.NoError(t, os.MkdirAll(gone, 0755))
	s, err := f.mgr.Start(ctx, StartRequest{Platform: f.rec, ThreadID: "t1", UserID: "alice", WorkDir: gone})
	require.NoError(t, err)
	require.NoError(t, f.mgr.Pause(ctx, s.ID()))
	require.NoError(t, os.RemoveAll(gone))

	_, err = f.mgr.Resume(ctx, f.rec.ID(), "t1", "alice", "hi")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.snapshots.Load(ctx, f.rec.ID(), "t1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	f.postWith(t, "cannot be resumed")

	require.NoError(t, f.mgr.HandleMessage(ctx, f.message("t1", "alice", "start over")))
	_, ok := f.mgr.FindByThread(f.rec.ID(), "t1")
	require.True(t, ok, "the thread gets a fresh session")
	next := f.spawner.Last()
	assert.Empty(t, next.Request.ResumeToken)
	assert.NotEqual(t, gone, next.Request.WorkDir)
}

func TestManager_StopCommandEndsSession(t *testing.T) {
	f := newFixture(t)
	s, proc := f.start(t, "t1")

	require.NoError(t, f.mgr.HandleMessage(ctx, f.message("t1", "alice", "!stop")))

	assert.Equal(t, 0, f.mgr.Count())
	assert.Equal(t, StateEnding, s.State())
	assert.True(t, proc.Exited())
	f.postWith(t, "Session ended")
	_, err := f.snapshots.Load(ctx, f.rec.ID(), "t1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// A deliberate stop is not reported as a lost process.
	time.Sleep(20 * time.Millisecond)
	for _, c := range f.rec.Calls() {
		assert.NotContains(t, c.Text, "exited unexpectedly")
	}
}

func TestManager_EscapeInterruptsAgent(t *testing.T) {
	f := newFixture(t)
	s, proc := f.start(t, "t1")

	require.NoError(t, f.mgr.HandleMessage(ctx, f.message("t1", "alice", "!escape")))
	assert.Equal(t, 1, proc.Interrupts())
	assert.Equal(t, StateInterrupted, s.State())

	require.NoError(t, f.mgr.HandleMessage(ctx, f.message("t1", "alice", "try again")))
	assert.Equal(t, StateProcessing, s.State())
}

func TestManager_RestartKeepsSession(t *testing.T) {
	f := newFixture(t)
	s, proc := f.start(t, "t1")

	require.NoError(t, f.mgr.HandleMessage(ctx, f.message("t1", "alice", "!restart")))

	assert.True(t, proc.Exited())
	next := f.spawner.Last()
	require.NotSame(t, proc, next)
	assert.Equal(t, proc.ResumeToken(), next.Request.ResumeToken)
	assert.Same(t, next, s.Process())
	assert.Equal(t, StateActive, s.State())
	assert.Equal(t, 1, f.mgr.Count())
	f.postWith(t, "Agent restarted")

	time.Sleep(20 * time.Millisecond)
	for _, c := range f.rec.Calls() {
		assert.NotContains(t, c.Text, "exited unexpectedly")
	}
}

func TestManager_HelpAndUnknownCommands(t *testing.T) {
	f := newFixture(t)
	_, proc := f.start(t, "t1")

	require.NoError(t, f.mgr.HandleMessage(ctx, f.message("t1", "alice", "!help")))
	f.postWith(t, "!invite @user")
	require.NoError(t, f.mgr.HandleMessage(ctx, f.message("t1", "alice", "!frobnicate")))
	f.postWith(t, "Unknown command `!frobnicate`")
	assert.Empty(t, proc.Sent())
}

func TestManager_ShutdownPersistsEverySession(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.start(t, fmt.Sprintf("t%d", i))
	}

	require.NoError(t, f.mgr.Shutdown(ctx))
	assert.Equal(t, 0, f.mgr.Count())

	snaps, err := f.snapshots.List(ctx, f.rec.ID())
	require.NoError(t, err)
	assert.Len(t, snaps, 3)
	for _, p := range f.spawner.Processes() {
		assert.True(t, p.Exited())
	}
}

func TestManager_HistoryIsBounded(t *testing.T) {
	f := newFixture(t)
	s, _ := f.start(t, "t1")

	for i := 0; i < 15; i++ {
		require.NoError(t, f.mgr.HandleMessage(ctx, f.message("t1", "alice", fmt.Sprintf("msg %d", i))))
	}
	h := s.History()
	assert.Len(t, h, historySize)
	assert.Equal(t, "message", h[len(h)-1].Kind)
}

func TestManager_ListAndInfo(t *testing.T) {
	f := newFixture(t)
	a, _ := f.start(t, "a")
	f.clock.Advance(time.Second)
	b, _ := f.start(t, "b")

	infos := f.mgr.List()
	require.Len(t, infos, 2)
	assert.Equal(t, a.ID(), infos[0].ID)
	assert.Equal(t, b.ID(), infos[1].ID)
	assert.Equal(t, "active", infos[0].State)
	assert.Equal(t, []string{"alice"}, infos[0].AllowedUsers)
	assert.Equal(t, "recorder", infos[0].PlatformID)
}
