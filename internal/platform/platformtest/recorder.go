// Package platformtest provides a recording platform.Client for tests.
package platformtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opencode-ai/threadbridge/internal/platform"
)

// ErrInjected is returned by calls selected with FailNext.
var ErrInjected = errors.New("injected failure")

// Call is one recorded platform call.
type Call struct {
	Op        string
	ThreadID  string
	PostID    string
	Text      string
	Reactions []string
	Emoji     string
}

// Recorder implements platform.Client, recording every call in order.
// Created posts get sequential IDs "post-1", "post-2", ...
type Recorder struct {
	mu      sync.Mutex
	calls   []Call
	texts   map[string]string
	next    int
	failOps map[string]int
}

var _ platform.Client = (*Recorder)(nil)

// New returns an empty Recorder.
func New() *Recorder {
	return &Recorder{
		texts:   make(map[string]string),
		failOps: make(map[string]int),
	}
}

// FailNext makes the next n calls of op fail with ErrInjected.
func (r *Recorder) FailNext(op string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failOps[op] += n
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsOf returns the recorded calls of one op.
func (r *Recorder) CallsOf(op string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Ops returns the op names of the recorded calls in order.
func (r *Recorder) Ops() []string {
	calls := r.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// Text returns the current text of a post, and whether it exists.
func (r *Recorder) Text(postID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.texts[postID]
	return t, ok
}

// Reset forgets recorded calls but keeps posts.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	if r.failOps[c.Op] > 0 {
		r.failOps[c.Op]--
		return ErrInjected
	}
	return nil
}

func (r *Recorder) ID() string { return "recorder" }

func (r *Recorder) CreatePost(_ context.Context, threadID, text string) (string, error) {
	return r.create(Call{Op: "create", ThreadID: threadID, Text: text})
}

func (r *Recorder) CreateInteractivePost(_ context.Context, threadID, text string, reactions []string) (string, error) {
	return r.create(Call{Op: "create_interactive", ThreadID: threadID, Text: text, Reactions: append([]string(nil), reactions...)})
}

func (r *Recorder) create(c Call) (string, error) {
	r.mu.Lock()
	r.next++
	c.PostID = fmt.Sprintf("post-%d", r.next)
	r.mu.Unlock()
	if err := r.record(c); err != nil {
		return "", err
	}
	r.mu.Lock()
	r.texts[c.PostID] = c.Text
	r.mu.Unlock()
	return c.PostID, nil
}

func (r *Recorder) UpdatePost(_ context.Context, postID, text string) error {
	if err := r.record(Call{Op: "update", PostID: postID, Text: text}); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts[postID] = text
	return nil
}

func (r *Recorder) DeletePost(_ context.Context, postID string) error {
	if err := r.record(Call{Op: "delete", PostID: postID}); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.texts, postID)
	return nil
}

func (r *Recorder) AddReaction(_ context.Context, postID, emoji string) error {
	return r.record(Call{Op: "add_reaction", PostID: postID, Emoji: emoji})
}

func (r *Recorder) RemoveReaction(_ context.Context, postID, emoji string) error {
	return r.record(Call{Op: "remove_reaction", PostID: postID, Emoji: emoji})
}

func (r *Recorder) ThreadHistory(_ context.Context, threadID string) ([]platform.Message, error) {
	if err := r.record(Call{Op: "history", ThreadID: threadID}); err != nil {
		return nil, err
	}
	return nil, nil
}
