// Package posttracker maps platform post IDs to the interaction a later
// reaction on that post belongs to.
package posttracker

import (
	"sort"
	"sync"
)

// PostType is the executor that owns a tracked post.
type PostType string

const (
	TypeQuestion PostType = "question"
	TypeApproval PostType = "approval"
	TypeSubagent PostType = "subagent"
)

// Interaction is the kind of reaction a post expects.
type Interaction string

const (
	InteractionOptions  Interaction = "options"
	InteractionApproval Interaction = "approval"
	InteractionToggle   Interaction = "toggle"
)

// Info is what the tracker knows about a post.
type Info struct {
	Type        PostType    `json:"type"`
	Interaction Interaction `json:"interaction,omitempty"`
	ToolUseID   string      `json:"toolUseID,omitempty"`
}

// Observer is notified after a post is registered, or with removed set
// for every post dropped by Clear.
type Observer func(postID string, info Info, removed bool)

// Tracker is a lookup table from post ID to Info. It never touches the
// posts themselves.
type Tracker struct {
	mu       sync.RWMutex
	entries  map[string]Info
	observer Observer
}

// New returns an empty Tracker. observer may be nil.
func New(observer Observer) *Tracker {
	return &Tracker{
		entries:  make(map[string]Info),
		observer: observer,
	}
}

// Register records info for postID, replacing any previous entry.
func (t *Tracker) Register(postID string, info Info) {
	if postID == "" {
		return
	}
	t.mu.Lock()
	t.entries[postID] = info
	obs := t.observer
	t.mu.Unlock()

	if obs != nil {
		obs(postID, info, false)
	}
}

// Lookup returns the entry for postID.
func (t *Tracker) Lookup(postID string) (Info, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.entries[postID]
	return info, ok
}

// Clear drops every entry.
func (t *Tracker) Clear() {
	t.mu.Lock()
	old := t.entries
	t.entries = make(map[string]Info)
	obs := t.observer
	t.mu.Unlock()

	if obs == nil {
		return
	}
	for id, info := range old {
		obs(id, info, true)
	}
}

// IDs returns the tracked post IDs in sorted order.
func (t *Tracker) IDs() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of tracked posts.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
