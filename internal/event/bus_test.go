package event

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribePublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	received := make(chan Event, 1)
	unsub := bus.Subscribe(AgentThinking, func(e Event) {
		received <- e
	})
	defer unsub()

	bus.Publish(Event{Type: AgentThinking, Data: AgentThinkingData{Thinking: true}})

	select {
	case e := <-received:
		data, ok := e.Data.(AgentThinkingData)
		if !ok {
			t.Fatalf("unexpected data type %T", e.Data)
		}
		if !data.Thinking {
			t.Error("expected thinking=true")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscribeOtherTypeNotDelivered(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	received := make(chan Event, 1)
	unsub := bus.Subscribe(SessionEnded, func(e Event) {
		received <- e
	})
	defer unsub()

	bus.Publish(Event{Type: AgentThinking})

	select {
	case <-received:
		t.Fatal("subscriber received event of different type")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var seen []EventType
	unsub := bus.SubscribeAll(func(e Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})
	defer unsub()

	bus.PublishSync(Event{Type: SessionStarted})
	bus.PublishSync(Event{Type: AssistantText})

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected 2 events, got %d", len(seen))
	}
}

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	const pairs = 100

	var mu sync.Mutex
	var seen []EventType
	done := make(chan struct{})
	unsub := bus.SubscribeAll(func(e Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		if len(seen) == 2*pairs {
			close(done)
		}
		mu.Unlock()
	})
	defer unsub()

	// Thinking always precedes the narration it announces; async delivery
	// must not reorder the two.
	for i := 0; i < pairs; i++ {
		bus.Publish(Event{Type: AgentThinking, Data: AgentThinkingData{Thinking: true}})
		bus.Publish(Event{Type: AssistantText})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		t.Fatalf("only %d of %d events delivered", n, 2*pairs)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, typ := range seen {
		want := AgentThinking
		if i%2 == 1 {
			want = AssistantText
		}
		if typ != want {
			t.Fatalf("event %d: got %s, want %s", i, typ, want)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	count := 0
	unsub := bus.Subscribe(BridgeError, func(e Event) {
		count++
	})

	bus.PublishSync(Event{Type: BridgeError})
	unsub()
	bus.PublishSync(Event{Type: BridgeError})

	if count != 1 {
		t.Errorf("expected 1 delivery, got %d", count)
	}
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewBus()

	received := make(chan Event, 1)
	bus.Subscribe(SessionStarted, func(e Event) {
		received <- e
	})

	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Must not panic or deliver
	bus.Publish(Event{Type: SessionStarted})
	bus.PublishSync(Event{Type: SessionStarted})

	select {
	case <-received:
		t.Fatal("event delivered after close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAfterCloseIsNoop(t *testing.T) {
	bus := NewBus()
	bus.Close()

	unsub := bus.Subscribe(SessionStarted, func(Event) {})
	unsub() // must not panic
}
