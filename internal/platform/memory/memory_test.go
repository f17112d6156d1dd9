package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/threadbridge/internal/platform"
)

type recordingHandler struct {
	messages  []platform.InboundMessage
	reactions []platform.Reaction
}

func (h *recordingHandler) HandleMessage(_ context.Context, msg platform.InboundMessage) error {
	h.messages = append(h.messages, msg)
	return nil
}

func (h *recordingHandler) HandleReaction(_ context.Context, r platform.Reaction) error {
	h.reactions = append(h.reactions, r)
	return nil
}

func TestPlatform_ThreadLifecycle(t *testing.T) {
	ctx := context.Background()
	p := New("")
	h := &recordingHandler{}
	p.SetHandler(h)
	assert.Equal(t, "memory", p.ID())

	root, err := p.Post(ctx, "", "alice", "@bot fix the tests")
	require.NoError(t, err)
	assert.Equal(t, root.ID, root.ThreadID, "a root post starts its own thread")
	require.Len(t, h.messages, 1)
	assert.Equal(t, "alice", h.messages[0].UserID)

	id, err := p.CreateInteractivePost(ctx, root.ThreadID, "pick one", []string{"one", "two"})
	require.NoError(t, err)
	require.NoError(t, p.UpdatePost(ctx, id, "pick one (edited)"))

	require.NoError(t, p.React(ctx, id, "alice", "two", true))
	require.Len(t, h.reactions, 1)
	assert.Equal(t, platform.Reaction{PlatformID: "memory", PostID: id, Emoji: "two", UserID: "alice", Added: true}, h.reactions[0])

	history, err := p.ThreadHistory(ctx, root.ThreadID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "pick one (edited)", history[1].Text)
	assert.Equal(t, []string{"alice", BotUserID}, history[1].Reactions["two"])
	assert.Equal(t, []string{BotUserID}, history[1].Reactions["one"])

	require.NoError(t, p.DeletePost(ctx, id))
	history, err = p.ThreadHistory(ctx, root.ThreadID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPlatform_UnknownPost(t *testing.T) {
	ctx := context.Background()
	p := New("test")

	assert.ErrorIs(t, p.UpdatePost(ctx, "nope", "x"), platform.ErrPostNotFound)
	assert.ErrorIs(t, p.DeletePost(ctx, "nope"), platform.ErrPostNotFound)
	assert.ErrorIs(t, p.React(ctx, "nope", "u", "x", true), platform.ErrPostNotFound)
	_, err := p.Post(ctx, "missing-thread", "u", "hi")
	assert.ErrorIs(t, err, platform.ErrPostNotFound)
}

func TestPlatform_BotReactionsAreNotDelivered(t *testing.T) {
	ctx := context.Background()
	p := New("test")
	h := &recordingHandler{}
	p.SetHandler(h)

	id, err := p.CreatePost(ctx, "t1", "hello")
	require.NoError(t, err)
	require.NoError(t, p.AddReaction(ctx, id, "eyes"))
	require.NoError(t, p.RemoveReaction(ctx, id, "eyes"))
	assert.Empty(t, h.reactions)
}
