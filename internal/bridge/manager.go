package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/linguabridge/linguabridge/internal/agent"
	"github.com/linguabridge/linguabridge/internal/content"
	"github.com/linguabridge/linguabridge/internal/event"
	"github.com/linguabridge/linguabridge/internal/logging"
	"github.com/linguabridge/linguabridge/internal/schedule"
	"github.com/linguabridge/linguabridge/internal/store"
	"github.com/linguabridge/linguabridge/internal/vcs"
	"github.com/linguabridge/linguabridge/pkg/types"
)

var ErrNoActiveSession = errors.New("no active session")

// closeWait bounds how long a supersede or discard waits for the prior
// consumer to drain after the handle is closed.
const closeWait = 5 * time.Second

// Manager owns the session lifecycle: the single live agent handle, the
// active session record, and the target-language mode flag. All mutation
// of these goes through the Manager; nothing else writes them.
type Manager struct {
	store     *store.Store
	content   *content.Store
	committer *vcs.Committer
	instr     *Instructions
	registry  *Registry
	tools     *Tools
	argv      []string
	log       zerolog.Logger

	mu             sync.Mutex
	targetLanguage bool
	handle         *agent.Handle
	session        *types.Session
	feeder         *Feeder
	cancel         context.CancelFunc
	consumerDone   chan struct{}
}

// NewManager wires a manager from its collaborators. argv is the agent
// subprocess command line; targetLanguage seeds the language-mode flag.
func NewManager(st *store.Store, cs *content.Store, committer *vcs.Committer,
	instr *Instructions, scheduler schedule.Scheduler, argv []string, targetLanguage bool) *Manager {
	registry := NewRegistry()
	return &Manager{
		store:          st,
		content:        cs,
		committer:      committer,
		instr:          instr,
		registry:       registry,
		tools:          NewTools(registry, scheduler, cs),
		argv:           argv,
		targetLanguage: targetLanguage,
		log:            logging.Component("manager"),
	}
}

// Start begins a fresh session for topic, superseding any live one: the
// prior handle is closed and its session deactivated before the new agent
// spawns. The agent receives the topic's artifacts as initial context and
// a priming instruction as its first input.
func (m *Manager) Start(ctx context.Context, topic string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeLocked()

	if err := m.store.DeactivateAll(ctx); err != nil {
		return "", fmt.Errorf("deactivate sessions: %w", err)
	}
	if err := m.content.EnsureTopic(topic); err != nil {
		return "", fmt.Errorf("ensure topic: %w", err)
	}

	sess := &types.Session{
		ID:        ulid.Make().String(),
		Topic:     topic,
		Active:    true,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	if err := m.spawnLocked(sess, nil); err != nil {
		if derr := m.store.Deactivate(ctx, sess.ID); derr != nil {
			m.log.Error().Err(derr).Msg("failed to deactivate after spawn failure")
		}
		return "", err
	}

	if err := m.feeder.Enqueue(m.instr.PrimingFor(topic)); err != nil {
		m.log.Error().Err(err).Msg("failed to enqueue priming instruction")
	}

	event.Publish(event.Event{
		Type: event.SessionStarted,
		Data: event.SessionStartedData{SessionID: sess.ID, Topic: topic},
	})
	m.publishThinking(true)

	m.log.Info().Str("sessionId", sess.ID).Str("topic", topic).Msg("session started")
	return sess.ID, nil
}

// ResumeOrReconnect re-attaches a client. With a live handle this is a
// pure reconnect: no new process, just the current state. Without one, the
// requested session record (or, when no id is given, the most recent
// active one) is revived by replaying its full transcript into a fresh
// agent's context. With neither, the returned state simply reports no
// active session.
func (m *Manager) ResumeOrReconnect(ctx context.Context, sessionID string, targetLanguage *bool) (*types.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if targetLanguage != nil {
		m.targetLanguage = *targetLanguage
	}

	if m.handle != nil {
		return m.stateLocked(ctx)
	}

	var sess *types.Session
	var err error
	if sessionID != "" {
		sess, err = m.store.GetSession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("resume session %s: %w", sessionID, err)
			}
			return nil, fmt.Errorf("look up session: %w", err)
		}
		if !sess.Active {
			if err := m.store.DeactivateAll(ctx); err != nil {
				return nil, fmt.Errorf("deactivate sessions: %w", err)
			}
			if err := m.store.Activate(ctx, sess.ID); err != nil {
				return nil, fmt.Errorf("reactivate session: %w", err)
			}
			sess.Active = true
		}
	} else {
		sess, err = m.store.LatestActive(ctx)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return &types.State{Messages: []*types.Message{}}, nil
			}
			return nil, fmt.Errorf("look up active session: %w", err)
		}
	}

	history, err := m.store.Messages(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("replay history: %w", err)
	}

	if err := m.spawnLocked(sess, history); err != nil {
		return nil, err
	}

	m.log.Info().Str("sessionId", sess.ID).Int("history", len(history)).Msg("session resumed")
	return m.stateLocked(ctx)
}

// Chat accepts one user message: persisted, decorated with the language
// suffix, and enqueued for the agent in receipt order.
func (m *Manager) Chat(ctx context.Context, text string, targetLanguage *bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle == nil {
		return ErrNoActiveSession
	}
	if targetLanguage != nil {
		m.targetLanguage = *targetLanguage
	}

	msg := &types.Message{
		SessionID: m.session.ID,
		Role:      types.RoleUser,
		Text:      text,
		MessageID: ulid.Make().String(),
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := m.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	event.Publish(event.Event{
		Type: event.MessageCreated,
		Data: event.MessageCreatedData{Message: msg},
	})

	if err := m.feeder.Enqueue(m.instr.Decorate(text, m.targetLanguage)); err != nil {
		return fmt.Errorf("enqueue message: %w", err)
	}

	m.publishThinking(true)
	return nil
}

// End terminates the session. A discard closes the handle unconditionally
// and skips the commit handshake. A graceful end sends the wrap-up
// instruction, closes the input stream, waits for the agent's output to
// finish naturally, and only then deactivates and commits — committing
// earlier would lose the agent's final note edits.
func (m *Manager) End(ctx context.Context, discard bool) (types.SessionSummary, error) {
	m.mu.Lock()

	if m.handle == nil {
		defer m.mu.Unlock()
		if err := m.store.DeactivateAll(ctx); err != nil {
			m.log.Error().Err(err).Msg("failed to deactivate sessions")
		}
		return types.SessionSummary{}, nil
	}

	sess := m.session
	summary := types.SessionSummary{SessionID: sess.ID, Topic: sess.Topic}

	if discard {
		m.closeLocked()
		m.mu.Unlock()
		return m.finalize(sess, summary, true)
	}

	if err := m.feeder.Enqueue(m.instr.WrapUp); err != nil {
		m.log.Error().Err(err).Msg("failed to enqueue wrap-up instruction")
	}
	m.feeder.Close()
	h := m.handle
	done := m.consumerDone
	m.mu.Unlock()

	// The feed goroutine closes the agent's stdin once the queue drains;
	// the consumer returns when output reaches EOF. The wait is detached
	// from the request context: once the wrap-up is underway the commit
	// must run exactly once even if the client disconnects. A discard or
	// supersede closes the handle, which ends the wait too.
	<-done

	m.mu.Lock()
	if m.handle != h {
		// Discarded or superseded mid-wrap-up; the other caller owns
		// the session record now.
		m.mu.Unlock()
		return summary, nil
	}
	m.closeLocked()
	m.mu.Unlock()

	return m.finalize(sess, summary, false)
}

// finalize runs once the handle is down: deactivate the record, write the
// transcript log, commit, notify. It uses a background context so a dead
// request context cannot skip the durable half of the handshake.
func (m *Manager) finalize(sess *types.Session, summary types.SessionSummary, discard bool) (types.SessionSummary, error) {
	ctx := context.Background()

	if err := m.store.Deactivate(ctx, sess.ID); err != nil {
		m.log.Error().Err(err).Str("sessionId", sess.ID).Msg("failed to deactivate session")
	}
	if n, err := m.store.CountMessages(ctx, sess.ID); err == nil {
		summary.Messages = n
	}

	if !discard {
		if err := m.writeSessionLog(ctx, sess); err != nil {
			m.log.Error().Err(err).Msg("failed to write session log")
		}
		committed, pushed, err := m.committer.CommitSessionNotes(ctx, sess.Topic, time.Now())
		if err != nil {
			// Local data is intact; the ended notification still fires.
			m.log.Error().Err(err).Msg("commit handshake failed")
		}
		summary.Committed = committed
		summary.Pushed = pushed
	}

	event.Publish(event.Event{
		Type: event.SessionEnded,
		Data: event.SessionEndedData{Summary: summary},
	})
	m.publishThinking(false)

	m.log.Info().Str("sessionId", sess.ID).Bool("discard", discard).Msg("session ended")
	return summary, nil
}

// writeSessionLog renders the transcript into a dated log under the topic's
// sessions/ directory, so the commit captures a durable record of the
// conversation alongside the agent's note edits.
func (m *Manager) writeSessionLog(ctx context.Context, sess *types.Session) error {
	msgs, err := m.store.Messages(ctx, sess.ID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	now := time.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "# %s session %s\n\n", sess.Topic, now.Format("2006-01-02"))
	for _, msg := range msgs {
		fmt.Fprintf(&b, "**%s**: %s\n\n", msg.Role, msg.Text)
	}

	name, err := m.content.WriteSessionLog(sess.Topic, now, b.String())
	if err != nil {
		return err
	}
	m.log.Debug().Str("log", name).Msg("session log written")
	return nil
}

// State reports the current session snapshot for get_state and reconnect
// replies.
func (m *Manager) State(ctx context.Context) (*types.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked(ctx)
}

// SetTargetLanguage updates the language-mode flag; last value wins.
func (m *Manager) SetTargetLanguage(v bool) {
	m.mu.Lock()
	m.targetLanguage = v
	m.mu.Unlock()
}

// ResolveTool relays a client answer to the matching pending tool call.
func (m *Manager) ResolveTool(id string, answer json.RawMessage) bool {
	return m.registry.Resolve(id, answer)
}

// Close tears down any live handle without touching session records. Used
// at server shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

func (m *Manager) stateLocked(ctx context.Context) (*types.State, error) {
	state := &types.State{Messages: []*types.Message{}}

	sess := m.session
	if sess == nil {
		latest, err := m.store.LatestActive(ctx)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return state, nil
			}
			return nil, fmt.Errorf("look up active session: %w", err)
		}
		sess = latest
	}

	msgs, err := m.store.Messages(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	state.Messages = msgs
	state.SessionActive = m.handle != nil || sess.Active
	state.SessionID = sess.ID
	state.Topic = sess.Topic
	state.Onboarded = m.content.Onboarded(sess.Topic)
	return state, nil
}

// spawnLocked starts the agent for sess and wires the feeder and consumer
// around it.
func (m *Manager) spawnLocked(sess *types.Session, history []*types.Message) error {
	artifacts, err := m.content.Artifacts(sess.Topic)
	if err != nil {
		m.log.Warn().Err(err).Str("topic", sess.Topic).Msg("failed to load artifacts")
		artifacts = nil
	}

	// The most recent session log rides along so a resumed agent sees how
	// the previous session ended.
	if logs, err := m.content.SessionLogs(sess.Topic); err == nil && len(logs) > 0 {
		latest := logs[len(logs)-1]
		if text, err := m.content.ReadRelative(sess.Topic, latest); err == nil {
			if artifacts == nil {
				artifacts = make(map[string]string)
			}
			artifacts[latest] = text
		}
	}

	h, err := agent.Spawn(context.Background(), m.argv, agent.Context{
		Topic:     sess.Topic,
		History:   history,
		Artifacts: artifacts,
	})
	if err != nil {
		return fmt.Errorf("start agent: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	feeder := NewFeeder()
	consumer := NewConsumer(m.store, m.tools, m.registry, sess.ID, sess.Topic)

	done := make(chan struct{})
	go func() {
		consumer.Run(ctx, h)
		close(done)
	}()
	go m.feed(ctx, feeder, h)

	m.handle = h
	m.session = sess
	m.feeder = feeder
	m.cancel = cancel
	m.consumerDone = done
	return nil
}

// feed forwards enqueued texts to the agent in order. When the feeder
// closes and drains, the agent's stdin is closed so it can finish its
// final turn and exit.
func (m *Manager) feed(ctx context.Context, f *Feeder, h *agent.Handle) {
	for {
		text, ok := f.Dequeue(ctx)
		if !ok {
			break
		}
		if err := h.Send(agent.Input{Type: "user", Text: text}); err != nil {
			m.log.Error().Err(err).Msg("failed to feed agent input")
			return
		}
	}
	if ctx.Err() == nil {
		h.CloseInput()
	}
}

// closeLocked cancels the feed/consume goroutines, closes the handle, and
// clears the live-session fields. Pending tool calls stay registered; a
// later answer for them is a harmless no-op.
func (m *Manager) closeLocked() {
	if m.handle == nil {
		return
	}

	m.cancel()
	_ = m.handle.Close()
	select {
	case <-m.consumerDone:
	case <-time.After(closeWait):
		m.log.Warn().Msg("consumer did not drain in time")
	}

	m.handle = nil
	m.session = nil
	m.feeder = nil
	m.cancel = nil
	m.consumerDone = nil
}

func (m *Manager) publishThinking(thinking bool) {
	event.Publish(event.Event{
		Type: event.AgentThinking,
		Data: event.AgentThinkingData{Thinking: thinking},
	})
}
