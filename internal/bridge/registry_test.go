package bridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linguabridge/linguabridge/internal/event"
)

func TestRegistryResolve(t *testing.T) {
	event.Reset()
	defer event.Reset()

	r := NewRegistry()
	id := r.NewID()
	ch := r.Register(id)

	require.True(t, r.Resolve(id, json.RawMessage(`{"answer":"b"}`)))

	select {
	case answer := <-ch:
		assert.JSONEq(t, `{"answer":"b"}`, string(answer))
	case <-time.After(time.Second):
		t.Fatal("answer never delivered")
	}

	assert.Zero(t, r.Pending())
}

func TestRegistryResolveUnknownID(t *testing.T) {
	event.Reset()
	defer event.Reset()

	r := NewRegistry()
	assert.False(t, r.Resolve("tc_999_dead", json.RawMessage(`{}`)))
}

func TestRegistryResolveAtMostOnce(t *testing.T) {
	event.Reset()
	defer event.Reset()

	r := NewRegistry()
	id := r.NewID()
	r.Register(id)

	require.True(t, r.Resolve(id, json.RawMessage(`1`)))
	assert.False(t, r.Resolve(id, json.RawMessage(`2`)))
}

func TestRegistryOutOfOrderResolution(t *testing.T) {
	event.Reset()
	defer event.Reset()

	r := NewRegistry()
	first := r.NewID()
	second := r.NewID()
	chFirst := r.Register(first)
	chSecond := r.Register(second)

	// Answering the later call must not unblock the earlier one.
	require.True(t, r.Resolve(second, json.RawMessage(`"later"`)))

	select {
	case answer := <-chSecond:
		assert.Equal(t, `"later"`, string(answer))
	case <-time.After(time.Second):
		t.Fatal("second answer never delivered")
	}

	select {
	case <-chFirst:
		t.Fatal("first call resolved without an answer")
	default:
	}

	assert.Equal(t, 1, r.Pending())
}

func TestRegistryIDsUnique(t *testing.T) {
	r := NewRegistry()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := r.NewID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
