package bridge

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linguabridge/linguabridge/internal/agent"
	"github.com/linguabridge/linguabridge/internal/content"
	"github.com/linguabridge/linguabridge/internal/event"
	"github.com/linguabridge/linguabridge/internal/schedule"
)

type sinkRecorder struct {
	mu     sync.Mutex
	inputs []agent.Input
}

func (s *sinkRecorder) Send(input agent.Input) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, input)
	return nil
}

func (s *sinkRecorder) wait(t *testing.T) agent.Input {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.inputs) > 0 {
			input := s.inputs[0]
			s.mu.Unlock()
			return input
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no tool result relayed")
	return agent.Input{}
}

func newTestTools(t *testing.T) (*Tools, *Registry, *content.Store) {
	t.Helper()
	event.Reset()
	t.Cleanup(event.Reset)

	cs, err := content.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cs.EnsureTopic("spanish"))

	reg := NewRegistry()
	return NewTools(reg, schedule.Default(), cs), reg, cs
}

// presentedID waits for the next tool presentation and returns its id.
func presentedID(t *testing.T) func() string {
	t.Helper()
	ids := make(chan string, 4)
	unsub := event.Subscribe(event.ToolPresented, func(e event.Event) {
		ids <- e.Data.(event.ToolPresentedData).Presentation.ToolCallID
	})
	t.Cleanup(unsub)

	return func() string {
		select {
		case id := <-ids:
			return id
		case <-time.After(2 * time.Second):
			t.Fatal("tool never presented")
			return ""
		}
	}
}

func TestExerciseGradesAndSchedules(t *testing.T) {
	tools, reg, _ := newTestTools(t)
	next := presentedID(t)
	sink := &sinkRecorder{}

	payload, _ := json.Marshal(exercisePayload{
		Prompt:      "Translate: the red house",
		Expected:    "la casa roja",
		IntervalMs:  (48 * time.Hour).Milliseconds(),
		Repetitions: 2,
	})
	tools.Dispatch(context.Background(), sink, "spanish", agent.Unit{
		Type: agent.UnitTool, Name: ToolExercise, Payload: payload,
	})

	id := next()
	require.True(t, reg.Resolve(id, json.RawMessage(`{"answer":"La casa roja"}`)))

	input := sink.wait(t)
	assert.Equal(t, "tool_result", input.Type)
	assert.Equal(t, id, input.ID)

	var result exerciseResult
	require.NoError(t, json.Unmarshal(input.Result, &result))
	assert.Equal(t, float64(1), result.Score)
	assert.True(t, result.Pass)
	assert.Equal(t, (96 * time.Hour).Milliseconds(), result.IntervalMs)
	assert.Equal(t, 3, result.Repetitions)
}

func TestExerciseFailingAnswer(t *testing.T) {
	tools, reg, _ := newTestTools(t)
	next := presentedID(t)
	sink := &sinkRecorder{}

	payload, _ := json.Marshal(exercisePayload{
		Prompt:      "Translate: dog",
		Expected:    "perro",
		IntervalMs:  (96 * time.Hour).Milliseconds(),
		Repetitions: 5,
	})
	tools.Dispatch(context.Background(), sink, "spanish", agent.Unit{
		Type: agent.UnitTool, Name: ToolExercise, Payload: payload,
	})

	require.True(t, reg.Resolve(next(), json.RawMessage(`{"answer":"gato"}`)))

	var result exerciseResult
	require.NoError(t, json.Unmarshal(sink.wait(t).Result, &result))
	assert.False(t, result.Pass)
	assert.Equal(t, (24 * time.Hour).Milliseconds(), result.IntervalMs)
	assert.Zero(t, result.Repetitions)
}

func TestExercisePresentationHidesExpected(t *testing.T) {
	tools, _, _ := newTestTools(t)
	sink := &sinkRecorder{}

	presented := make(chan json.RawMessage, 1)
	unsub := event.Subscribe(event.ToolPresented, func(e event.Event) {
		presented <- e.Data.(event.ToolPresentedData).Presentation.Payload
	})
	t.Cleanup(unsub)

	payload, _ := json.Marshal(exercisePayload{Prompt: "Translate: cat", Expected: "gato"})
	tools.Dispatch(context.Background(), sink, "spanish", agent.Unit{
		Type: agent.UnitTool, Name: ToolExercise, Payload: payload,
	})

	select {
	case raw := <-presented:
		assert.NotContains(t, string(raw), "gato")
		assert.Contains(t, string(raw), "Translate: cat")
	case <-time.After(2 * time.Second):
		t.Fatal("tool never presented")
	}
}

func TestOptionsPassThrough(t *testing.T) {
	tools, reg, _ := newTestTools(t)
	next := presentedID(t)
	sink := &sinkRecorder{}

	payload := json.RawMessage(`{"question":"Which article?","options":["el","la"]}`)
	tools.Dispatch(context.Background(), sink, "spanish", agent.Unit{
		Type: agent.UnitTool, Name: ToolOptions, Payload: payload,
	})

	id := next()
	require.True(t, reg.Resolve(id, json.RawMessage(`{"selected":"la"}`)))

	input := sink.wait(t)
	assert.Equal(t, id, input.ID)
	assert.JSONEq(t, `{"selected":"la"}`, string(input.Result))
}

func TestProposeFileChangesAccepted(t *testing.T) {
	tools, reg, cs := newTestTools(t)
	next := presentedID(t)
	sink := &sinkRecorder{}

	payload, _ := json.Marshal(fileChangePayload{
		Path:    "plan.md",
		Content: "# Plan\n\nDrill past tense.\n",
	})
	tools.Dispatch(context.Background(), sink, "spanish", agent.Unit{
		Type: agent.UnitTool, Name: ToolProposeFileChanges, Payload: payload,
	})

	require.True(t, reg.Resolve(next(), json.RawMessage(`{"accept":true}`)))

	input := sink.wait(t)
	assert.Contains(t, string(input.Result), `"applied":true`)

	text, err := cs.ReadRelative("spanish", "plan.md")
	require.NoError(t, err)
	assert.Equal(t, "# Plan\n\nDrill past tense.\n", text)
}

func TestProposeFileChangesRejected(t *testing.T) {
	tools, reg, cs := newTestTools(t)
	next := presentedID(t)
	sink := &sinkRecorder{}

	payload, _ := json.Marshal(fileChangePayload{Path: "plan.md", Content: "rejected content"})
	tools.Dispatch(context.Background(), sink, "spanish", agent.Unit{
		Type: agent.UnitTool, Name: ToolProposeFileChanges, Payload: payload,
	})

	require.True(t, reg.Resolve(next(), json.RawMessage(`{"accept":false}`)))

	input := sink.wait(t)
	assert.Contains(t, string(input.Result), `"applied":false`)

	_, err := os.Stat(filepath.Join(cs.TopicDir("spanish"), "plan.md"))
	assert.True(t, os.IsNotExist(err))
}

func TestUnknownToolAnswered(t *testing.T) {
	tools, _, _ := newTestTools(t)
	sink := &sinkRecorder{}

	tools.Dispatch(context.Background(), sink, "spanish", agent.Unit{
		Type: agent.UnitTool, Name: "teleport", Payload: json.RawMessage(`{}`),
	})

	input := sink.wait(t)
	assert.Equal(t, "tool_result", input.Type)
	assert.Contains(t, string(input.Result), "unknown tool")
}

func TestCloseness(t *testing.T) {
	assert.Equal(t, float64(1), closeness("  Perro ", "perro"))
	assert.Equal(t, float64(1), closeness("", ""))
	assert.Zero(t, closeness("abc", "xyzxyz"))
	assert.InDelta(t, 0.8, closeness("perso", "perro"), 0.001)
}
