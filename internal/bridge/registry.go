package bridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linguabridge/linguabridge/internal/event"
	"github.com/linguabridge/linguabridge/internal/logging"
	"github.com/linguabridge/linguabridge/pkg/types"
)

// Registry correlates a tool invocation with the client answer that
// eventually resolves it. Each pending call holds a one-shot answer
// channel; resolving an id removes the entry and fulfills the channel at
// most once. Resolving an unknown or already-resolved id is a no-op,
// never an error: stale answers from a superseded session must not hurt.
//
// There is deliberately no expiry on pending entries: a discarded session
// leaves them unresolved until process exit.
type Registry struct {
	mu      sync.Mutex
	pending map[string]chan json.RawMessage
	counter uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]chan json.RawMessage)}
}

// NewID generates a fresh correlation id, unique for the process
// lifetime: a monotonic counter plus a timestamp salt.
func (r *Registry) NewID() string {
	n := atomic.AddUint64(&r.counter, 1)
	return fmt.Sprintf("tc_%d_%x", n, time.Now().UnixNano())
}

// Register creates a pending entry for id and returns its one-shot
// answer channel.
func (r *Registry) Register(id string) <-chan json.RawMessage {
	ch := make(chan json.RawMessage, 1)

	r.mu.Lock()
	r.pending[id] = ch
	r.mu.Unlock()

	return ch
}

// Present notifies the client of a pending tool call via the event bus.
func (r *Registry) Present(p types.ToolPresentation) {
	event.Publish(event.Event{
		Type: event.ToolPresented,
		Data: event.ToolPresentedData{Presentation: p},
	})
}

// Resolve fulfills the pending entry for id with answer. Returns whether
// an entry was found; an unknown id is silently ignored.
func (r *Registry) Resolve(id string, answer json.RawMessage) bool {
	r.mu.Lock()
	ch, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		log := logging.Component("registry")
		log.Debug().Str("toolCallId", id).Msg("ignoring answer for unknown tool call")
		return false
	}

	ch <- answer

	event.Publish(event.Event{
		Type: event.ToolResolved,
		Data: event.ToolResolvedData{ToolCallID: id},
	})
	return true
}

// Pending returns the number of unresolved entries.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
