package bridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linguabridge/linguabridge/internal/content"
	"github.com/linguabridge/linguabridge/internal/event"
	"github.com/linguabridge/linguabridge/internal/schedule"
	"github.com/linguabridge/linguabridge/internal/store"
	"github.com/linguabridge/linguabridge/internal/vcs"
	"github.com/linguabridge/linguabridge/pkg/types"
)

// turnAgent reads the initial context and the priming instruction, ends
// its first turn, then answers every further input with one text unit
// until stdin closes.
var turnAgent = []string{"sh", "-c", `
	read -r context
	read -r prime
	printf '%s\n' '{"type":"text","text":"Welcome back."}'
	printf '%s\n' '{"type":"end_turn"}'
	while IFS= read -r line; do
		printf '%s\n' '{"type":"text","text":"noted"}'
		printf '%s\n' '{"type":"end_turn"}'
	done
`}

// quietAgent consumes its stdin silently until it closes.
var quietAgent = []string{"sh", "-c", `while IFS= read -r line; do :; done`}

func newTestManager(t *testing.T, contentRoot string, argv []string) (*Manager, *store.Store) {
	t.Helper()
	event.Reset()
	t.Cleanup(event.Reset)

	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cs, err := content.New(contentRoot)
	require.NoError(t, err)

	m := NewManager(st, cs, vcs.NewCommitter(contentRoot, ""),
		DefaultInstructions(), schedule.Default(), argv, false)
	t.Cleanup(m.Close)

	return m, st
}

func waitForMessages(t *testing.T, st *store.Store, sessionID string, n int) []*types.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		msgs, err := st.Messages(context.Background(), sessionID)
		require.NoError(t, err)
		if len(msgs) >= n {
			return msgs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("never saw %d messages for %s", n, sessionID)
	return nil
}

func TestStartCreatesActiveSession(t *testing.T) {
	m, st := newTestManager(t, t.TempDir(), turnAgent)
	events := watchEvents(t)

	id, err := m.Start(context.Background(), "spanish")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sess, err := st.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, sess.Active)
	assert.Equal(t, "spanish", sess.Topic)

	started := events.waitFor(t, event.SessionStarted).Data.(event.SessionStartedData)
	assert.Equal(t, id, started.SessionID)

	// The priming reply lands in the transcript.
	msgs := waitForMessages(t, st, id, 1)
	assert.Equal(t, types.RoleAssistant, msgs[0].Role)
	assert.Equal(t, "Welcome back.", msgs[0].Text)
}

func TestStartSupersedesPriorSession(t *testing.T) {
	m, st := newTestManager(t, t.TempDir(), quietAgent)

	first, err := m.Start(context.Background(), "spanish")
	require.NoError(t, err)
	second, err := m.Start(context.Background(), "norwegian")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	prior, err := st.GetSession(context.Background(), first)
	require.NoError(t, err)
	assert.False(t, prior.Active)

	latest, err := st.LatestActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, second, latest.ID)
}

func TestChatWithoutSession(t *testing.T) {
	m, _ := newTestManager(t, t.TempDir(), quietAgent)
	err := m.Chat(context.Background(), "hola", nil)
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestChatPersistsAndForwards(t *testing.T) {
	m, st := newTestManager(t, t.TempDir(), turnAgent)

	id, err := m.Start(context.Background(), "spanish")
	require.NoError(t, err)
	waitForMessages(t, st, id, 1)

	require.NoError(t, m.Chat(context.Background(), "¿Cómo se dice tree?", nil))

	msgs := waitForMessages(t, st, id, 3)
	assert.Equal(t, types.RoleUser, msgs[1].Role)
	assert.Equal(t, "¿Cómo se dice tree?", msgs[1].Text)
	assert.Equal(t, types.RoleAssistant, msgs[2].Role)

	// Seq strictly increases in append order.
	assert.Less(t, msgs[0].Seq, msgs[1].Seq)
	assert.Less(t, msgs[1].Seq, msgs[2].Seq)
}

func TestResumeReplaysHistory(t *testing.T) {
	m, st := newTestManager(t, t.TempDir(), quietAgent)
	ctx := context.Background()

	sess := &types.Session{ID: "old-sess", Topic: "spanish", Active: true, CreatedAt: time.Now().UnixMilli()}
	require.NoError(t, st.CreateSession(ctx, sess))
	for _, text := range []string{"hola", "hola, ¿qué tal?"} {
		require.NoError(t, st.AppendMessage(ctx, &types.Message{
			SessionID: sess.ID, Role: types.RoleUser, Text: text,
			MessageID: text, CreatedAt: time.Now().UnixMilli(),
		}))
	}

	state, err := m.ResumeOrReconnect(ctx, "", nil)
	require.NoError(t, err)
	assert.True(t, state.SessionActive)
	assert.Equal(t, "old-sess", state.SessionID)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "hola", state.Messages[0].Text)

	// The revived handle accepts chat.
	require.NoError(t, m.Chat(ctx, "seguimos", nil))
}

func TestReconnectIsIdempotent(t *testing.T) {
	m, st := newTestManager(t, t.TempDir(), quietAgent)
	ctx := context.Background()

	id, err := m.Start(ctx, "spanish")
	require.NoError(t, err)

	state, err := m.ResumeOrReconnect(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, id, state.SessionID)
	assert.True(t, state.SessionActive)

	// Still exactly one active session record.
	latest, err := st.LatestActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, latest.ID)
}

func TestResumeWithNothingToResume(t *testing.T) {
	m, _ := newTestManager(t, t.TempDir(), quietAgent)

	state, err := m.ResumeOrReconnect(context.Background(), "", nil)
	require.NoError(t, err)
	assert.False(t, state.SessionActive)
	assert.Empty(t, state.SessionID)
	assert.Empty(t, state.Messages)
}

func TestResumeBySessionID(t *testing.T) {
	m, st := newTestManager(t, t.TempDir(), quietAgent)
	ctx := context.Background()

	// Two retained sessions, neither live. The newer one would win a
	// latest-active lookup, so resuming the older must go by id.
	older := &types.Session{ID: "sess-older", Topic: "spanish", CreatedAt: time.Now().Add(-time.Hour).UnixMilli()}
	newer := &types.Session{ID: "sess-newer", Topic: "norwegian", Active: true, CreatedAt: time.Now().UnixMilli()}
	require.NoError(t, st.CreateSession(ctx, older))
	require.NoError(t, st.CreateSession(ctx, newer))
	require.NoError(t, st.AppendMessage(ctx, &types.Message{
		SessionID: older.ID, Role: types.RoleUser, Text: "hola",
		MessageID: "m1", CreatedAt: time.Now().UnixMilli(),
	}))

	state, err := m.ResumeOrReconnect(ctx, older.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, older.ID, state.SessionID)
	assert.Equal(t, "spanish", state.Topic)
	assert.True(t, state.SessionActive)
	require.Len(t, state.Messages, 1)
	assert.Equal(t, "hola", state.Messages[0].Text)

	// The resumed session is the single active record again.
	latest, err := st.LatestActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, older.ID, latest.ID)

	require.NoError(t, m.Chat(ctx, "seguimos", nil))
}

func TestResumeUnknownSessionID(t *testing.T) {
	m, _ := newTestManager(t, t.TempDir(), quietAgent)

	_, err := m.ResumeOrReconnect(context.Background(), "no-such-session", nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEndDiscardSkipsCommit(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	root := initContentRepo(t)
	m, st := newTestManager(t, root, quietAgent)
	ctx := context.Background()

	id, err := m.Start(ctx, "spanish")
	require.NoError(t, err)

	// Leave the tree dirty; discard must not commit it.
	require.NoError(t, os.WriteFile(filepath.Join(root, "spanish", "plan.md"), []byte("draft\n"), 0644))

	summary, err := m.End(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, id, summary.SessionID)
	assert.False(t, summary.Committed)

	sess, err := st.GetSession(ctx, id)
	require.NoError(t, err)
	assert.False(t, sess.Active)

	c := vcs.NewCommitter(root, "")
	dirty, err := c.Dirty(ctx)
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestEndGracefulCommitsOnce(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	root := initContentRepo(t)
	m, st := newTestManager(t, root, turnAgent)
	ctx := context.Background()
	events := watchEvents(t)

	id, err := m.Start(ctx, "spanish")
	require.NoError(t, err)
	waitForMessages(t, st, id, 1)

	require.NoError(t, os.WriteFile(filepath.Join(root, "spanish", "learned.md"), []byte("ser vs estar\n"), 0644))

	summary, err := m.End(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, id, summary.SessionID)
	assert.True(t, summary.Committed)
	assert.Greater(t, summary.Messages, 0)

	ended := events.waitFor(t, event.SessionEnded).Data.(event.SessionEndedData)
	assert.Equal(t, id, ended.Summary.SessionID)

	c := vcs.NewCommitter(root, "")
	dirty, err := c.Dirty(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)

	log := gitSubjects(t, root)
	assert.Contains(t, log, "spanish: session notes "+time.Now().UTC().Format("2006-01-02"))
	assert.Equal(t, 1, strings.Count(log, "session notes"))
}

func TestEndGracefulWritesSessionLog(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	root := initContentRepo(t)
	m, st := newTestManager(t, root, turnAgent)
	ctx := context.Background()

	id, err := m.Start(ctx, "spanish")
	require.NoError(t, err)
	waitForMessages(t, st, id, 1)

	_, err = m.End(ctx, false)
	require.NoError(t, err)

	// The transcript log lands under sessions/ and the commit covers it.
	name := filepath.Join(root, "spanish", "sessions",
		time.Now().Format("2006-01-02")+"-01.md")
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Welcome back.")

	c := vcs.NewCommitter(root, "")
	dirty, err := c.Dirty(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestEndGracefulSurvivesDeadRequestContext(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	root := initContentRepo(t)
	m, st := newTestManager(t, root, turnAgent)

	id, err := m.Start(context.Background(), "spanish")
	require.NoError(t, err)
	waitForMessages(t, st, id, 1)

	require.NoError(t, os.WriteFile(filepath.Join(root, "spanish", "learned.md"), []byte("ser vs estar\n"), 0644))

	// The client is already gone; the handshake must still run to
	// completion and commit exactly once.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := m.End(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, id, summary.SessionID)
	assert.True(t, summary.Committed)

	sess, err := st.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, sess.Active)

	c := vcs.NewCommitter(root, "")
	dirty, err := c.Dirty(context.Background())
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestEndWithoutSession(t *testing.T) {
	m, _ := newTestManager(t, t.TempDir(), quietAgent)
	summary, err := m.End(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, summary.SessionID)
	assert.False(t, summary.Committed)
}

func initContentRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	run("init")
	run("config", "user.name", "test")
	run("config", "user.email", "test@example.com")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("content\n"), 0644))
	run("add", "-A")
	run("commit", "-m", "init")

	return dir
}

func gitSubjects(t *testing.T, dir string) string {
	t.Helper()
	cmd := exec.Command("git", "log", "--format=%s")
	cmd.Dir = dir
	out, err := cmd.Output()
	require.NoError(t, err)
	return string(out)
}
