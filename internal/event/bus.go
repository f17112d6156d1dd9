// Package event provides a pub/sub event system for session lifecycle
// notifications, built on watermill.
package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// streamTopic carries every event, JSON encoded, for Stream consumers.
const streamTopic = "threadbridge.events"

// EventType represents the type of event.
type EventType string

const (
	SessionCreated EventType = "session.created"
	SessionUpdated EventType = "session.updated"
	SessionDeleted EventType = "session.deleted"
	SessionStatus  EventType = "session.status"
	SessionError   EventType = "session.error"
	BranchChanged  EventType = "vcs.branch.updated"
)

// Event represents an event to be published.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus delivers events to in-process subscribers directly, keeping their
// Go types, and to Stream consumers through a watermill gochannel.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	subscribers map[EventType][]subscriberEntry
	global      []subscriberEntry

	nextID uint64
	closed bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		subscribers: make(map[EventType][]subscriberEntry),
	}
}

// Subscribe registers a subscriber for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}
	id := atomic.AddUint64(&b.nextID, 1)
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[eventType]
		for i, entry := range subs {
			if entry.id == id {
				b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// SubscribeAll registers a subscriber for all events.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}
	id := atomic.AddUint64(&b.nextID, 1)
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, entry := range b.global {
			if entry.id == id {
				b.global = append(b.global[:i:i], b.global[i+1:]...)
				break
			}
		}
	}
}

// Publish sends an event to all subscribers, each in its own goroutine.
func (b *Bus) Publish(event Event) {
	subs, ok := b.collect(event)
	if !ok {
		return
	}
	for _, sub := range subs {
		go sub(event)
	}
}

// PublishSync calls all subscribers in the current goroutine before
// returning. Subscribers must not publish.
func (b *Bus) PublishSync(event Event) {
	subs, ok := b.collect(event)
	if !ok {
		return
	}
	for _, sub := range subs {
		sub(event)
	}
}

func (b *Bus) collect(event Event) ([]Subscriber, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false
	}

	subs := make([]Subscriber, 0, len(b.subscribers[event.Type])+len(b.global))
	for _, entry := range b.subscribers[event.Type] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}

	if payload, err := json.Marshal(event); err == nil {
		_ = b.pubsub.Publish(streamTopic, message.NewMessage(watermill.NewUUID(), payload))
	}
	return subs, true
}

// Stream returns every event published after the call, JSON decoded, until
// ctx is done or the bus is closed. Data arrives as json.RawMessage.
func (b *Bus) Stream(ctx context.Context) (<-chan Event, error) {
	msgs, err := b.pubsub.Subscribe(ctx, streamTopic)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			var wire struct {
				Type EventType       `json:"type"`
				Data json.RawMessage `json:"data"`
			}
			err := json.Unmarshal(msg.Payload, &wire)
			msg.Ack()
			if err != nil {
				continue
			}
			select {
			case out <- Event{Type: wire.Type, Data: wire.Data}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close closes the bus and ends every stream.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[EventType][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}
