package message

import (
	"context"
	"fmt"

	"github.com/opencode-ai/threadbridge/internal/platform"
	"github.com/opencode-ai/threadbridge/internal/posttracker"
	"github.com/opencode-ai/threadbridge/pkg/types"
)

// dispatch runs one operation on its executor. Failures are logged and
// swallowed so the next operation still runs.
func (m *Manager) dispatch(ctx context.Context, op types.Operation) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Interface("panic", r).
				Str("op", string(op.Kind())).
				Uint64("seq", op.Seq).
				Msg("executor panicked")
		}
	}()

	if err := m.apply(ctx, op); err != nil {
		ev := m.logger.Warn()
		if !platform.IsCallError(err) {
			ev = m.logger.Error()
		}
		ev.Err(err).
			Str("op", string(op.Kind())).
			Uint64("seq", op.Seq).
			Msg("operation failed")
	}
}

func (m *Manager) apply(ctx context.Context, op types.Operation) error {
	switch p := op.Payload.(type) {
	case types.AppendContent:
		return m.content.Append(ctx, p.Text)
	case types.Flush:
		return m.content.Flush(ctx)
	case types.ToolUse:
		return m.content.AppendToolUse(ctx, p)

	case types.TaskList:
		if err := m.content.Flush(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("flush before task list failed")
		}
		return m.taskList.Update(ctx, p.Items)

	case types.Question:
		if err := m.content.Flush(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("flush before question failed")
		}
		return m.interactive.StartQuestions(ctx, p)

	case types.Approval:
		if err := m.content.Flush(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("flush before approval failed")
		}
		return m.interactive.StartApproval(ctx, p)

	case types.SystemMessage:
		if err := m.content.Flush(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("flush before system message failed")
		}
		_, err := m.system.Post(ctx, p)
		return err

	case types.Subagent:
		return m.subagent(ctx, p)

	case types.StatusUpdate:
		m.system.Status(p)
		return nil

	case types.Lifecycle:
		var err error
		if p.Event == types.LifecycleTurnCompleted {
			err = m.content.Flush(ctx)
		}
		m.system.Lifecycle(p.Event)
		return err

	case nil:
		return fmt.Errorf("operation %d has no payload", op.Seq)
	default:
		return fmt.Errorf("unsupported operation %T", p)
	}
}

func (m *Manager) subagent(ctx context.Context, s types.Subagent) error {
	switch s.Action {
	case types.SubagentStart:
		if err := m.content.Flush(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("flush before subagent failed")
		}
		return m.subagents.Start(ctx, s)
	case types.SubagentUpdate:
		return m.subagents.Update(ctx, s)
	case types.SubagentComplete:
		return m.subagents.Complete(ctx, s)
	case types.SubagentToggleMinimize:
		_, err := m.subagents.SetMinimized(ctx, s.ToolUseID, s.Minimized)
		return err
	default:
		return fmt.Errorf("unknown subagent action %q", s.Action)
	}
}

// react applies a reaction. It runs on the worker.
func (m *Manager) react(ctx context.Context, r platform.Reaction) bool {
	info, ok := m.tracker.Lookup(r.PostID)
	if !ok {
		return false
	}

	var (
		handled bool
		err     error
	)
	switch info.Type {
	case posttracker.TypeQuestion, posttracker.TypeApproval:
		handled, err = m.interactive.HandleReaction(ctx, r.PostID, r.Emoji, r.Added)
	case posttracker.TypeSubagent:
		handled, err = m.subagents.HandleReaction(ctx, r.PostID, r.Emoji, r.Added)
	}
	if err != nil {
		m.logger.Warn().Err(err).
			Str("post", r.PostID).
			Str("emoji", r.Emoji).
			Msg("reaction side effect failed")
	}
	return handled
}
