// Package memory is an in-process chat platform. It keeps threads, posts and
// reactions in memory and delivers user activity to a platform.Handler.
// The serve command exposes it over HTTP for local use.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/threadbridge/internal/platform"
)

// BotUserID is the author of every post created through the Client methods.
const BotUserID = "threadbridge"

type post struct {
	msg       platform.Message
	reactions map[string]map[string]bool // emoji -> users
}

// Platform implements platform.Client in memory.
type Platform struct {
	id string

	mu      sync.Mutex
	posts   map[string]*post
	threads map[string][]string // thread -> post IDs, oldest first
	handler platform.Handler
}

var _ platform.Client = (*Platform)(nil)

// New creates an empty platform named id.
func New(id string) *Platform {
	if id == "" {
		id = "memory"
	}
	return &Platform{
		id:      id,
		posts:   make(map[string]*post),
		threads: make(map[string][]string),
	}
}

// SetHandler sets the receiver of inbound user activity.
func (p *Platform) SetHandler(h platform.Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// ID implements platform.Client.
func (p *Platform) ID() string { return p.id }

// CreatePost implements platform.Client.
func (p *Platform) CreatePost(ctx context.Context, threadID, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addLocked(threadID, BotUserID, text).ID, nil
}

// CreateInteractivePost implements platform.Client.
func (p *Platform) CreateInteractivePost(ctx context.Context, threadID, text string, reactions []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := p.addLocked(threadID, BotUserID, text)
	for _, emoji := range reactions {
		p.reactLocked(msg.ID, BotUserID, emoji, true)
	}
	return msg.ID, nil
}

// UpdatePost implements platform.Client.
func (p *Platform) UpdatePost(ctx context.Context, postID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ps, ok := p.posts[postID]
	if !ok {
		return platform.ErrPostNotFound
	}
	ps.msg.Text = text
	ps.msg.Updated = time.Now().UnixMilli()
	return nil
}

// DeletePost implements platform.Client.
func (p *Platform) DeletePost(ctx context.Context, postID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ps, ok := p.posts[postID]
	if !ok {
		return platform.ErrPostNotFound
	}
	delete(p.posts, postID)
	ids := p.threads[ps.msg.ThreadID]
	for i, id := range ids {
		if id == postID {
			p.threads[ps.msg.ThreadID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// AddReaction implements platform.Client.
func (p *Platform) AddReaction(ctx context.Context, postID, emoji string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.reactLocked(postID, BotUserID, emoji, true) {
		return platform.ErrPostNotFound
	}
	return nil
}

// RemoveReaction implements platform.Client.
func (p *Platform) RemoveReaction(ctx context.Context, postID, emoji string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.reactLocked(postID, BotUserID, emoji, false) {
		return platform.ErrPostNotFound
	}
	return nil
}

// ThreadHistory implements platform.Client.
func (p *Platform) ThreadHistory(ctx context.Context, threadID string) ([]platform.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ids, ok := p.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", threadID, platform.ErrPostNotFound)
	}
	out := make([]platform.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.snapshotLocked(p.posts[id]))
	}
	return out, nil
}

// Threads returns the IDs of all threads, sorted.
func (p *Platform) Threads() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.threads))
	for id := range p.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Post records a user message and delivers it to the handler. An empty
// threadID starts a new thread rooted at the message.
func (p *Platform) Post(ctx context.Context, threadID, userID, text string) (platform.Message, error) {
	p.mu.Lock()
	if threadID != "" {
		if _, ok := p.threads[threadID]; !ok {
			p.mu.Unlock()
			return platform.Message{}, fmt.Errorf("thread %s: %w", threadID, platform.ErrPostNotFound)
		}
	}
	msg := p.addLocked(threadID, userID, text)
	h := p.handler
	p.mu.Unlock()

	if h == nil {
		return msg, nil
	}
	err := h.HandleMessage(ctx, platform.InboundMessage{
		PlatformID: p.id,
		ThreadID:   msg.ThreadID,
		PostID:     msg.ID,
		UserID:     userID,
		Text:       text,
	})
	return msg, err
}

// React adds or removes a user's reaction and delivers the change.
func (p *Platform) React(ctx context.Context, postID, userID, emoji string, added bool) error {
	p.mu.Lock()
	if !p.reactLocked(postID, userID, emoji, added) {
		p.mu.Unlock()
		return platform.ErrPostNotFound
	}
	h := p.handler
	p.mu.Unlock()

	if h == nil {
		return nil
	}
	return h.HandleReaction(ctx, platform.Reaction{
		PlatformID: p.id,
		PostID:     postID,
		Emoji:      emoji,
		UserID:     userID,
		Added:      added,
	})
}

func (p *Platform) addLocked(threadID, userID, text string) platform.Message {
	id := ulid.Make().String()
	if threadID == "" {
		threadID = id
	}
	ps := &post{
		msg: platform.Message{
			ID:       id,
			ThreadID: threadID,
			UserID:   userID,
			Text:     text,
			Created:  time.Now().UnixMilli(),
		},
		reactions: make(map[string]map[string]bool),
	}
	p.posts[id] = ps
	p.threads[threadID] = append(p.threads[threadID], id)
	return ps.msg
}

func (p *Platform) reactLocked(postID, userID, emoji string, added bool) bool {
	ps, ok := p.posts[postID]
	if !ok {
		return false
	}
	users := ps.reactions[emoji]
	if added {
		if users == nil {
			users = make(map[string]bool)
			ps.reactions[emoji] = users
		}
		users[userID] = true
		return true
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(ps.reactions, emoji)
	}
	return true
}

func (p *Platform) snapshotLocked(ps *post) platform.Message {
	msg := ps.msg
	if len(ps.reactions) > 0 {
		msg.Reactions = make(map[string][]string, len(ps.reactions))
		for emoji, users := range ps.reactions {
			list := make([]string, 0, len(users))
			for u := range users {
				list = append(list, u)
			}
			sort.Strings(list)
			msg.Reactions[emoji] = list
		}
	}
	return msg
}
