// Package executor renders one category of agent operations each into chat
// posts and owns the display and interaction state of that category.
//
// Executors are not safe for concurrent use. The message manager calls them
// from a single worker goroutine per session.
package executor

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/threadbridge/internal/clock"
	"github.com/opencode-ai/threadbridge/internal/logging"
	"github.com/opencode-ai/threadbridge/internal/platform"
	"github.com/opencode-ai/threadbridge/internal/posttracker"
	"github.com/opencode-ai/threadbridge/pkg/types"
)

// Deps are the collaborators shared by the executors of one session.
type Deps struct {
	Platform platform.Client
	ThreadID string
	Tracker  *posttracker.Tracker
	Clock    clock.Clock
	Logger   *zerolog.Logger

	// AfterCreate is called after an executor creates a post in the thread.
	// The task list uses it to notice it has been buried.
	AfterCreate func(postID string)
}

func (d *Deps) defaults() {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Tracker == nil {
		d.Tracker = posttracker.New(nil)
	}
	if d.Logger == nil {
		l := logging.Component("executor")
		d.Logger = &l
	}
}

func (d Deps) createPost(ctx context.Context, text string) (string, error) {
	id, err := d.Platform.CreatePost(ctx, d.ThreadID, text)
	if err != nil {
		return "", platform.Wrap("create", "", err)
	}
	d.created(id)
	return id, nil
}

func (d Deps) createInteractive(ctx context.Context, text string, reactions []string) (string, error) {
	id, err := d.Platform.CreateInteractivePost(ctx, d.ThreadID, text, reactions)
	if err != nil {
		return "", platform.Wrap("create_interactive", "", err)
	}
	d.created(id)
	return id, nil
}

func (d Deps) updatePost(ctx context.Context, postID, text string) error {
	return platform.Wrap("update", postID, d.Platform.UpdatePost(ctx, postID, text))
}

func (d Deps) deletePost(ctx context.Context, postID string) error {
	return platform.Wrap("delete", postID, d.Platform.DeletePost(ctx, postID))
}

func (d Deps) created(postID string) {
	if d.AfterCreate != nil {
		d.AfterCreate(postID)
	}
}

// Answer is one answered question.
type Answer struct {
	Header string `json:"header"`
	Answer string `json:"answer"`
}

// QuestionsComplete is emitted when every question of a set is answered,
// or when the set is abandoned because a question could not be posted.
// Answers are in question order; unanswered questions have an empty Answer.
type QuestionsComplete struct {
	ToolUseID string   `json:"toolUseID"`
	Answers   []Answer `json:"answers"`
	Abandoned bool     `json:"abandoned,omitempty"`
}

// ApprovalComplete is emitted when a pending approval is resolved.
type ApprovalComplete struct {
	ToolUseID string             `json:"toolUseID"`
	Kind      types.ApprovalKind `json:"kind"`
	Approved  bool               `json:"approved"`
}
