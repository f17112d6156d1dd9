package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/opencode-ai/threadbridge/pkg/types"
)

// queue collects scheduled ticks so the test runs them on its own goroutine.
type queue chan func(context.Context)

func (q queue) schedule(fn func(context.Context)) { q <- fn }

func (q queue) runNext(t *testing.T) {
	t.Helper()
	select {
	case fn := <-q:
		fn(ctx)
	case <-time.After(2 * time.Second):
		t.Fatal("no tick scheduled")
	}
}

func TestSubagent_PollingReusesPost(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture()
	q := make(queue, 8)
	e := NewSubagentExecutor(f.deps, 5*time.Second, q.schedule)

	require.NoError(t, e.Start(ctx, types.Subagent{Action: types.SubagentStart, ToolUseID: "tu1", Description: "explore the repo", Type: "Explore"}))
	require.True(t, e.Ticking())

	f.clock.Advance(5 * time.Second)
	q.runNext(t)
	f.clock.Advance(5 * time.Second)
	q.runNext(t)

	creates := f.rec.CallsOf("create_interactive")
	require.Len(t, creates, 1, "the subagent post is never duplicated")
	assert.Equal(t, []string{ToggleEmoji}, creates[0].Reactions)

	updates := f.rec.CallsOf("update")
	require.GreaterOrEqual(t, len(updates), 1)
	for _, u := range updates {
		assert.Equal(t, creates[0].PostID, u.PostID)
	}
	text, _ := f.rec.Text(creates[0].PostID)
	assert.Contains(t, text, "10s")

	require.NoError(t, e.Complete(ctx, types.Subagent{Action: types.SubagentComplete, ToolUseID: "tu1"}))
	assert.False(t, e.Ticking())

	f.clock.Advance(time.Minute)
	text, _ = f.rec.Text(creates[0].PostID)
	assert.Contains(t, text, "done in 10s", "elapsed time is frozen on completion")
}

func TestSubagent_RefreshIsDebounced(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture()
	q := make(queue, 8)
	e := NewSubagentExecutor(f.deps, 5*time.Second, q.schedule)
	defer e.Stop()

	require.NoError(t, e.Start(ctx, types.Subagent{ToolUseID: "tu1"}))
	f.clock.Advance(3 * time.Second)
	require.NoError(t, e.Update(ctx, types.Subagent{ToolUseID: "tu1", Description: "reading files"}))
	f.rec.Reset()

	f.clock.Advance(2 * time.Second)
	q.runNext(t)
	assert.Empty(t, f.rec.CallsOf("update"), "updated within the last interval")
}

func TestSubagent_TickerSharedUntilLastCompletes(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture()
	q := make(queue, 8)
	e := NewSubagentExecutor(f.deps, time.Second, q.schedule)

	require.NoError(t, e.Start(ctx, types.Subagent{ToolUseID: "a"}))
	require.NoError(t, e.Start(ctx, types.Subagent{ToolUseID: "b"}))
	assert.Equal(t, 1, f.clock.Pending(), "one ticker for both subagents")

	require.NoError(t, e.Complete(ctx, types.Subagent{ToolUseID: "a"}))
	assert.True(t, e.Ticking())
	require.NoError(t, e.Complete(ctx, types.Subagent{ToolUseID: "b"}))
	assert.False(t, e.Ticking())

	a, ok := e.Get("a")
	require.True(t, ok)
	assert.True(t, a.Complete, "completed subagents are kept")
}

func TestSubagent_ToggleIsIdempotent(t *testing.T) {
	f := newFixture()
	e := NewSubagentExecutor(f.deps, time.Second, nil)
	require.NoError(t, e.Start(ctx, types.Subagent{ToolUseID: "tu1", Description: "plan"}))
	postID := f.rec.CallsOf("create_interactive")[0].PostID

	handled, err := e.HandleReaction(ctx, postID, ToggleEmoji, true)
	require.NoError(t, err)
	require.True(t, handled)
	assert.Len(t, f.rec.CallsOf("update"), 1)

	handled, err = e.SetMinimized(ctx, "tu1", true)
	require.NoError(t, err)
	require.True(t, handled)
	assert.Len(t, f.rec.CallsOf("update"), 1, "same state twice makes no second update")

	_, err = e.HandleReaction(ctx, postID, ToggleEmoji, false)
	require.NoError(t, err)
	assert.Len(t, f.rec.CallsOf("update"), 2)

	handled, _ = e.HandleReaction(ctx, postID, "smile", true)
	assert.False(t, handled)
	handled, _ = e.SetMinimized(ctx, "missing", true)
	assert.False(t, handled)
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "0s", FormatElapsed(-time.Second))
	assert.Equal(t, "12s", FormatElapsed(12*time.Second+300*time.Millisecond))
	assert.Equal(t, "3m05s", FormatElapsed(3*time.Minute+5*time.Second))
	assert.Equal(t, "1h02m", FormatElapsed(time.Hour+2*time.Minute))
}
