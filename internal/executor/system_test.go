package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/threadbridge/pkg/types"
)

func TestSystem_PostAndCleanupEphemeral(t *testing.T) {
	f := newFixture()
	e := NewSystemExecutor(f.deps, nil, nil)

	_, err := e.Post(ctx, types.SystemMessage{Level: types.LevelWarning, Text: "idle soon", Ephemeral: true})
	require.NoError(t, err)
	keep, err := e.Post(ctx, types.SystemMessage{Level: types.LevelSuccess, Text: "done"})
	require.NoError(t, err)

	creates := f.rec.CallsOf("create")
	require.Len(t, creates, 2)
	assert.Equal(t, "⚠️ idle soon", creates[0].Text)
	assert.Equal(t, "✅ done", creates[1].Text)
	assert.Len(t, e.Ephemeral(), 1)

	require.NoError(t, e.CleanupEphemeralPosts(ctx))
	deletes := f.rec.CallsOf("delete")
	require.Len(t, deletes, 1)
	assert.Equal(t, creates[0].PostID, deletes[0].PostID)
	assert.NotEqual(t, keep, deletes[0].PostID)
	assert.Empty(t, e.Ephemeral())
}

func TestSystem_ForwardsStatusAndLifecycle(t *testing.T) {
	f := newFixture()
	var statuses []types.StatusUpdate
	var events []types.LifecycleEvent
	e := NewSystemExecutor(f.deps,
		func(u types.StatusUpdate) { statuses = append(statuses, u) },
		func(ev types.LifecycleEvent) { events = append(events, ev) })

	model := "opus"
	e.Status(types.StatusUpdate{Model: &model})
	e.Lifecycle(types.LifecycleTurnCompleted)

	require.Len(t, statuses, 1)
	assert.Equal(t, "opus", *statuses[0].Model)
	assert.Equal(t, []types.LifecycleEvent{types.LifecycleTurnCompleted}, events)
	assert.Empty(t, f.rec.Calls(), "status and lifecycle are never posted")
}

func TestRenderSystem_UnknownLevel(t *testing.T) {
	assert.Equal(t, "ℹ️ hi", RenderSystem("debug", "hi"))
}
