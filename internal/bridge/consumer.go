package bridge

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/linguabridge/linguabridge/internal/agent"
	"github.com/linguabridge/linguabridge/internal/event"
	"github.com/linguabridge/linguabridge/internal/logging"
	"github.com/linguabridge/linguabridge/internal/store"
	"github.com/linguabridge/linguabridge/pkg/types"
)

// Consumer drains the agent's output units for one session: narration is
// persisted and forwarded to the client, tool invocations are dispatched,
// and turn boundaries toggle the thinking indicator. Run returns when the
// agent's output stream closes.
type Consumer struct {
	store     *store.Store
	tools     *Tools
	registry  *Registry
	sessionID string
	topic     string
	log       zerolog.Logger
}

// NewConsumer creates a consumer bound to one session.
func NewConsumer(st *store.Store, tools *Tools, registry *Registry, sessionID, topic string) *Consumer {
	return &Consumer{
		store:     st,
		tools:     tools,
		registry:  registry,
		sessionID: sessionID,
		topic:     topic,
		log:       logging.Component("consumer").With().Str("sessionId", sessionID).Logger(),
	}
}

// Run consumes units until the agent closes its output. A panic anywhere
// in unit handling surfaces as a single bridge error instead of taking
// the server down.
func (c *Consumer) Run(ctx context.Context, h *agent.Handle) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("consumer panicked")
			event.Publish(event.Event{
				Type: event.BridgeError,
				Data: event.BridgeErrorData{Message: "internal error while processing agent output"},
			})
			c.setThinking(false)
		}
	}()

	for unit := range h.Units() {
		c.handle(ctx, h, unit)
	}
	c.log.Debug().Msg("agent output drained")
}

func (c *Consumer) handle(ctx context.Context, h *agent.Handle, u agent.Unit) {
	switch u.Type {
	case agent.UnitText:
		c.narrate(ctx, u.Text)
	case agent.UnitTool:
		c.log.Debug().Str("tool", u.Name).Msg("tool invocation")
		c.tools.Dispatch(ctx, h, c.topic, u)
	case agent.UnitEndTurn:
		c.setThinking(false)
	case agent.UnitError:
		c.log.Warn().Str("message", u.Message).Msg("agent reported error")
		event.Publish(event.Event{
			Type: event.BridgeError,
			Data: event.BridgeErrorData{Message: u.Message},
		})
		c.setThinking(false)
	default:
		c.log.Warn().Str("type", string(u.Type)).Msg("unknown unit type")
	}
}

// narrate persists one assistant text unit and forwards it to the client.
// The busy indicator stays on while tool calls are outstanding: the agent
// keeps working after narrating around a pending tool.
func (c *Consumer) narrate(ctx context.Context, text string) {
	msg := &types.Message{
		SessionID: c.sessionID,
		Role:      types.RoleAssistant,
		Text:      text,
		MessageID: ulid.Make().String(),
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := c.store.AppendMessage(ctx, msg); err != nil {
		c.log.Error().Err(err).Msg("failed to persist assistant message")
	} else {
		event.Publish(event.Event{
			Type: event.MessageCreated,
			Data: event.MessageCreatedData{Message: msg},
		})
	}

	event.Publish(event.Event{
		Type: event.AssistantText,
		Data: event.AssistantTextData{Text: text, MessageID: msg.MessageID},
	})

	if c.registry.Pending() == 0 {
		c.setThinking(false)
	}
}

func (c *Consumer) setThinking(thinking bool) {
	event.Publish(event.Event{
		Type: event.AgentThinking,
		Data: event.AgentThinkingData{Thinking: thinking},
	})
}
