package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/rs/zerolog"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/linguabridge/linguabridge/internal/agent"
	"github.com/linguabridge/linguabridge/internal/content"
	"github.com/linguabridge/linguabridge/internal/logging"
	"github.com/linguabridge/linguabridge/internal/schedule"
	"github.com/linguabridge/linguabridge/pkg/types"
)

const (
	ToolExercise           = "exercise"
	ToolOptions            = "options"
	ToolProposeFileChanges = "propose_file_changes"
)

// inputSink is the slice of agent.Handle the tool layer needs: a way to
// write a tool_result back to the agent's stdin.
type inputSink interface {
	Send(agent.Input) error
}

// Tools dispatches agent tool invocations to their handlers. Each handler
// registers a pending call, presents it to the client, and spawns a
// goroutine that waits for the client's answer and relays the tool result
// to the agent. Dispatch itself never blocks, so the consumer keeps
// draining agent output while a tool call is outstanding.
type Tools struct {
	registry  *Registry
	scheduler schedule.Scheduler
	content   *content.Store
	log       zerolog.Logger
}

// NewTools wires the tool dispatcher.
func NewTools(registry *Registry, scheduler schedule.Scheduler, cs *content.Store) *Tools {
	return &Tools{
		registry:  registry,
		scheduler: scheduler,
		content:   cs,
		log:       logging.Component("tools"),
	}
}

// Dispatch routes one tool unit. Unknown tool names are answered
// immediately with an error result so the agent can carry on.
func (t *Tools) Dispatch(ctx context.Context, sink inputSink, topic string, u agent.Unit) {
	switch u.Name {
	case ToolExercise:
		t.exercise(ctx, sink, u.Payload)
	case ToolOptions:
		t.options(ctx, sink, u.Payload)
	case ToolProposeFileChanges:
		t.proposeFileChanges(ctx, sink, topic, u.Payload)
	default:
		t.log.Warn().Str("tool", u.Name).Msg("unknown tool invocation")
		result, _ := json.Marshal(map[string]string{"error": "unknown tool: " + u.Name})
		if err := sink.Send(agent.Input{Type: "tool_result", ID: t.registry.NewID(), Result: result}); err != nil {
			t.log.Error().Err(err).Msg("failed to answer unknown tool")
		}
	}
}

type exercisePayload struct {
	Prompt      string `json:"prompt"`
	Expected    string `json:"expected"`
	IntervalMs  int64  `json:"intervalMs"`
	Repetitions int    `json:"repetitions"`
}

type exerciseAnswer struct {
	Answer string `json:"answer"`
}

type exerciseResult struct {
	Answer      string  `json:"answer"`
	Score       float64 `json:"score"`
	Pass        bool    `json:"pass"`
	IntervalMs  int64   `json:"intervalMs"`
	Repetitions int     `json:"repetitions"`
	Due         string  `json:"due"`
}

// exercise presents a drill prompt to the learner. The expected answer
// stays on the host side: the client only sees the prompt, and the graded
// closeness score plus the next review schedule go back to the agent.
func (t *Tools) exercise(ctx context.Context, sink inputSink, payload json.RawMessage) {
	var p exercisePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		t.log.Error().Err(err).Msg("malformed exercise payload")
		return
	}

	id := t.registry.NewID()
	ch := t.registry.Register(id)

	presented, _ := json.Marshal(map[string]string{"prompt": p.Prompt})
	t.registry.Present(types.ToolPresentation{Kind: ToolExercise, ToolCallID: id, Payload: presented})

	go func() {
		var raw json.RawMessage
		select {
		case raw = <-ch:
		case <-ctx.Done():
			return
		}

		var a exerciseAnswer
		if err := json.Unmarshal(raw, &a); err != nil {
			t.log.Error().Err(err).Str("toolCallId", id).Msg("malformed exercise answer")
			return
		}

		score := closeness(a.Answer, p.Expected)
		next := t.scheduler.Schedule(time.Now(), schedule.Review{
			Grade:       score,
			Interval:    time.Duration(p.IntervalMs) * time.Millisecond,
			Repetitions: p.Repetitions,
		})

		result, _ := json.Marshal(exerciseResult{
			Answer:      a.Answer,
			Score:       score,
			Pass:        score >= 0.6,
			IntervalMs:  next.Interval.Milliseconds(),
			Repetitions: next.Repetitions,
			Due:         next.Due.UTC().Format(time.RFC3339),
		})
		if err := sink.Send(agent.Input{Type: "tool_result", ID: id, Result: result}); err != nil {
			t.log.Error().Err(err).Str("toolCallId", id).Msg("failed to relay exercise result")
		}
	}()
}

// options presents a multiple-choice question; the client's selection is
// relayed back verbatim.
func (t *Tools) options(ctx context.Context, sink inputSink, payload json.RawMessage) {
	id := t.registry.NewID()
	ch := t.registry.Register(id)

	t.registry.Present(types.ToolPresentation{Kind: ToolOptions, ToolCallID: id, Payload: payload})

	go func() {
		var raw json.RawMessage
		select {
		case raw = <-ch:
		case <-ctx.Done():
			return
		}

		if err := sink.Send(agent.Input{Type: "tool_result", ID: id, Result: raw}); err != nil {
			t.log.Error().Err(err).Str("toolCallId", id).Msg("failed to relay option selection")
		}
	}()
}

type fileChangePayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type fileChangeAnswer struct {
	Accept bool `json:"accept"`
}

// proposeFileChanges shows the learner a diff of a proposed edit under the
// topic's content directory and applies it only on acceptance.
func (t *Tools) proposeFileChanges(ctx context.Context, sink inputSink, topic string, payload json.RawMessage) {
	var p fileChangePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		t.log.Error().Err(err).Msg("malformed file change payload")
		return
	}

	old, err := t.content.ReadRelative(topic, p.Path)
	if err != nil {
		old = ""
	}

	id := t.registry.NewID()
	ch := t.registry.Register(id)

	presented, _ := json.Marshal(map[string]string{
		"path": p.Path,
		"diff": renderDiff(p.Path, old, p.Content),
	})
	t.registry.Present(types.ToolPresentation{Kind: ToolProposeFileChanges, ToolCallID: id, Payload: presented})

	go func() {
		var raw json.RawMessage
		select {
		case raw = <-ch:
		case <-ctx.Done():
			return
		}

		var a fileChangeAnswer
		if err := json.Unmarshal(raw, &a); err != nil {
			t.log.Error().Err(err).Str("toolCallId", id).Msg("malformed file change answer")
			return
		}

		result := map[string]any{"applied": false}
		if a.Accept {
			if err := t.content.WriteRelative(topic, p.Path, p.Content); err != nil {
				t.log.Error().Err(err).Str("path", p.Path).Msg("failed to apply accepted change")
				result["error"] = err.Error()
			} else {
				result["applied"] = true
			}
		}

		encoded, _ := json.Marshal(result)
		if err := sink.Send(agent.Input{Type: "tool_result", ID: id, Result: encoded}); err != nil {
			t.log.Error().Err(err).Str("toolCallId", id).Msg("failed to relay file change result")
		}
	}()
}

// closeness grades an answer against the expected text: 1 for an exact
// match after trimming and case folding, degrading linearly with edit
// distance.
func closeness(answer, expected string) float64 {
	a := strings.ToLower(strings.TrimSpace(answer))
	e := strings.ToLower(strings.TrimSpace(expected))
	if a == e {
		return 1
	}
	longest := len([]rune(a))
	if n := len([]rune(e)); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}

	dist := levenshtein.ComputeDistance(a, e)
	score := 1 - float64(dist)/float64(longest)
	if score < 0 {
		return 0
	}
	return score
}

// renderDiff produces a patch-style textual diff for client display.
func renderDiff(path, old, updated string) string {
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(old, updated)
	if len(patches) == 0 {
		return ""
	}
	return "--- " + path + "\n" + dmp.PatchToText(patches)
}
