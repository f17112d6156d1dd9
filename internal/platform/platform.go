// Package platform defines the chat-platform boundary: the capabilities the
// session pipeline needs from a chat service, and the inbound events a
// chat service delivers to it.
package platform

import (
	"context"
	"errors"
	"fmt"
)

// Client is the outbound capability set of a chat platform. Each concrete
// platform is one implementation, chosen when a session is created.
type Client interface {
	// ID identifies the platform instance ("memory", "mattermost-prod").
	ID() string
	CreatePost(ctx context.Context, threadID, text string) (string, error)
	// CreateInteractivePost creates a post and seeds it with the given
	// reactions so users can click them.
	CreateInteractivePost(ctx context.Context, threadID, text string, reactions []string) (string, error)
	UpdatePost(ctx context.Context, postID, text string) error
	DeletePost(ctx context.Context, postID string) error
	AddReaction(ctx context.Context, postID, emoji string) error
	RemoveReaction(ctx context.Context, postID, emoji string) error
	// ThreadHistory returns the thread's messages, oldest first.
	ThreadHistory(ctx context.Context, threadID string) ([]Message, error)
}

// Message is one post as stored by the platform.
type Message struct {
	ID        string              `json:"id"`
	ThreadID  string              `json:"threadID"`
	UserID    string              `json:"userID"`
	Text      string              `json:"text"`
	Reactions map[string][]string `json:"reactions,omitempty"`
	Created   int64               `json:"created"`
	Updated   int64               `json:"updated,omitempty"`
}

// Attachment is a file sent with an inbound message.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Mime string `json:"mime,omitempty"`
}

// InboundMessage is a user message addressed to the bot.
type InboundMessage struct {
	PlatformID  string       `json:"platformID"`
	ThreadID    string       `json:"threadID"`
	PostID      string       `json:"postID"`
	UserID      string       `json:"userID"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Reaction is a reaction added to or removed from a post by a user.
type Reaction struct {
	PlatformID string `json:"platformID"`
	PostID     string `json:"postID"`
	Emoji      string `json:"emoji"`
	UserID     string `json:"userID"`
	Added      bool   `json:"added"`
}

// Handler receives inbound platform events.
type Handler interface {
	HandleMessage(ctx context.Context, msg InboundMessage) error
	HandleReaction(ctx context.Context, r Reaction) error
}

// ErrPostNotFound is returned for operations on an unknown post.
var ErrPostNotFound = errors.New("post not found")

// CallError reports a failed platform call. The pipeline logs it and
// moves on; the post is considered best-effort delivered.
type CallError struct {
	Op     string
	PostID string
	Err    error
}

func (e *CallError) Error() string {
	if e.PostID != "" {
		return fmt.Sprintf("platform %s %s: %v", e.Op, e.PostID, e.Err)
	}
	return fmt.Sprintf("platform %s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Wrap returns err as a *CallError, or nil when err is nil.
func Wrap(op, postID string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return err
	}
	return &CallError{Op: op, PostID: postID, Err: err}
}

// IsCallError reports whether err is a failed platform call.
func IsCallError(err error) bool {
	var ce *CallError
	return errors.As(err, &ce)
}
