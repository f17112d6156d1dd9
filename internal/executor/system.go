package executor

import (
	"context"
	"errors"

	"github.com/opencode-ai/threadbridge/pkg/types"
)

// Glyphs prefix system messages by level.
var Glyphs = map[types.MessageLevel]string{
	types.LevelInfo:    "ℹ️",
	types.LevelWarning: "⚠️",
	types.LevelError:   "❌",
	types.LevelSuccess: "✅",
}

// SystemExecutor posts leveled notices and forwards status and lifecycle
// operations to the session layer instead of posting them.
type SystemExecutor struct {
	deps        Deps
	ephemeral   []string
	onStatus    func(types.StatusUpdate)
	onLifecycle func(types.LifecycleEvent)
}

// NewSystemExecutor creates a SystemExecutor. Either callback may be nil.
func NewSystemExecutor(deps Deps, onStatus func(types.StatusUpdate), onLifecycle func(types.LifecycleEvent)) *SystemExecutor {
	deps.defaults()
	return &SystemExecutor{deps: deps, onStatus: onStatus, onLifecycle: onLifecycle}
}

// Post creates a system message. Ephemeral messages are remembered for
// CleanupEphemeralPosts.
func (e *SystemExecutor) Post(ctx context.Context, msg types.SystemMessage) (string, error) {
	id, err := e.deps.createPost(ctx, RenderSystem(msg.Level, msg.Text))
	if err != nil {
		return "", err
	}
	if msg.Ephemeral {
		e.ephemeral = append(e.ephemeral, id)
	}
	return id, nil
}

// CleanupEphemeralPosts deletes every ephemeral message posted so far.
// Failed deletes are not retried.
func (e *SystemExecutor) CleanupEphemeralPosts(ctx context.Context) error {
	ids := e.ephemeral
	e.ephemeral = nil

	var errs []error
	for _, id := range ids {
		if err := e.deps.deletePost(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ephemeral returns the IDs of ephemeral posts awaiting cleanup.
func (e *SystemExecutor) Ephemeral() []string { return append([]string(nil), e.ephemeral...) }

// Status forwards a status update.
func (e *SystemExecutor) Status(u types.StatusUpdate) {
	if e.onStatus != nil {
		e.onStatus(u)
	}
}

// Lifecycle forwards a lifecycle event.
func (e *SystemExecutor) Lifecycle(ev types.LifecycleEvent) {
	if e.onLifecycle != nil {
		e.onLifecycle(ev)
	}
}

// RenderSystem prefixes text with the glyph for level.
func RenderSystem(level types.MessageLevel, text string) string {
	glyph, ok := Glyphs[level]
	if !ok {
		glyph = Glyphs[types.LevelInfo]
	}
	return glyph + " " + text
}
