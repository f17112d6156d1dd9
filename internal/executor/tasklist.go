package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencode-ai/threadbridge/internal/platform"
	"github.com/opencode-ai/threadbridge/pkg/types"
)

// TaskListExecutor renders the agent's checklist as a single post that is
// kept at the bottom of the thread until every item is completed.
type TaskListExecutor struct {
	deps   Deps
	postID string
	items  []types.TaskItem
	buried bool
}

// NewTaskListExecutor creates a TaskListExecutor.
func NewTaskListExecutor(deps Deps) *TaskListExecutor {
	deps.defaults()
	return &TaskListExecutor{deps: deps}
}

// Update renders items, editing the existing post in place.
func (e *TaskListExecutor) Update(ctx context.Context, items []types.TaskItem) error {
	e.items = append([]types.TaskItem(nil), items...)
	text := RenderTaskList(e.items)

	if e.postID == "" {
		id, err := e.deps.Platform.CreatePost(ctx, e.deps.ThreadID, text)
		if err != nil {
			return platform.Wrap("create", "", err)
		}
		e.postID = id
		e.buried = false
		return nil
	}
	return e.deps.updatePost(ctx, e.postID, text)
}

// NoteCreated records that postID was created after the task list.
func (e *TaskListExecutor) NoteCreated(postID string) {
	if e.postID != "" && postID != e.postID && !e.Complete() {
		e.buried = true
	}
}

// Bump reposts the list at the bottom of the thread if newer posts have
// buried it. A completed list stays where it is.
func (e *TaskListExecutor) Bump(ctx context.Context) error {
	if !e.buried || e.postID == "" {
		return nil
	}
	e.buried = false
	if e.Complete() {
		return nil
	}

	old := e.postID
	id, err := e.deps.Platform.CreatePost(ctx, e.deps.ThreadID, RenderTaskList(e.items))
	if err != nil {
		return platform.Wrap("create", "", err)
	}
	e.postID = id
	return e.deps.deletePost(ctx, old)
}

// PostID returns the current task list post, if any.
func (e *TaskListExecutor) PostID() string { return e.postID }

// Complete reports whether every item is completed.
func (e *TaskListExecutor) Complete() bool {
	if len(e.items) == 0 {
		return false
	}
	for _, it := range e.items {
		if it.Status != types.TaskCompleted {
			return false
		}
	}
	return true
}

// RenderTaskList renders a checklist post.
func RenderTaskList(items []types.TaskItem) string {
	done := 0
	for _, it := range items {
		if it.Status == types.TaskCompleted {
			done++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 **Tasks** (%d/%d)", done, len(items))
	for _, it := range items {
		b.WriteString("\n")
		switch it.Status {
		case types.TaskCompleted:
			fmt.Fprintf(&b, "✅ ~~%s~~", it.Content)
		case types.TaskInProgress:
			label := it.ActiveForm
			if label == "" {
				label = it.Content
			}
			fmt.Fprintf(&b, "🔄 **%s**", label)
		default:
			fmt.Fprintf(&b, "⬜ %s", it.Content)
		}
	}
	return b.String()
}
