package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	received := make(chan Event, 1)
	unsub := bus.Subscribe(SessionCreated, func(e Event) { received <- e })
	defer unsub()

	bus.Publish(Event{Type: SessionCreated, Data: "s1"})
	bus.Publish(Event{Type: SessionDeleted, Data: "ignored"})

	select {
	case e := <-received:
		if e.Data != "s1" {
			t.Errorf("Expected s1, got %v", e.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
	select {
	case e := <-received:
		t.Errorf("unexpected event %v", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SubscribeAllAndUnsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	unsub := bus.SubscribeAll(func(Event) { atomic.AddInt32(&count, 1) })

	bus.PublishSync(Event{Type: SessionCreated})
	bus.PublishSync(Event{Type: SessionStatus})
	unsub()
	bus.PublishSync(Event{Type: SessionDeleted})

	if got := atomic.LoadInt32(&count); got != 2 {
		t.Errorf("Expected 2 events, got %d", got)
	}
}

func TestBus_PublishSyncOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var order []string
	bus.Subscribe(SessionStatus, func(e Event) {
		mu.Lock()
		order = append(order, e.Data.(SessionStatusData).To)
		mu.Unlock()
	})

	for _, to := range []string{"active", "processing", "active"} {
		bus.PublishSync(Event{Type: SessionStatus, Data: SessionStatusData{SessionID: "s", To: to}})
	}
	if len(order) != 3 || order[1] != "processing" {
		t.Errorf("unexpected order %v", order)
	}
}

func TestBus_Stream(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := bus.Stream(ctx)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	bus.PublishSync(Event{Type: SessionError, Data: SessionErrorData{SessionID: "s1", Error: "boom"}})

	select {
	case e := <-stream:
		if e.Type != SessionError {
			t.Fatalf("got %v", e.Type)
		}
		var data SessionErrorData
		if err := json.Unmarshal(e.Data.(json.RawMessage), &data); err != nil {
			t.Fatal(err)
		}
		if data.Error != "boom" {
			t.Errorf("got %+v", data)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for streamed event")
	}

	cancel()
	select {
	case _, ok := <-stream:
		for ok {
			_, ok = <-stream
		}
	case <-time.After(time.Second):
		t.Fatal("stream not closed after cancel")
	}
}

func TestBus_Closed(t *testing.T) {
	bus := NewBus()
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	called := false
	bus.Subscribe(SessionCreated, func(Event) { called = true })
	bus.PublishSync(Event{Type: SessionCreated})
	if called {
		t.Error("closed bus must not deliver")
	}
}
