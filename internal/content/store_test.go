package content

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestWriteAndReadArtifact(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteArtifact("es", ArtifactSummary, "# Spanish\n"))

	text, err := s.ReadArtifact("es", ArtifactSummary)
	require.NoError(t, err)
	require.Equal(t, "# Spanish\n", text)

	// No temp file left behind
	_, err = os.Stat(filepath.Join(s.TopicDir("es"), ArtifactSummary+".tmp"))
	require.True(t, os.IsNotExist(err))
}

func TestReadArtifactNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ReadArtifact("es", ArtifactPlan)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidArtifactName(t *testing.T) {
	s := newTestStore(t)

	err := s.WriteArtifact("es", "../evil.md", "x")
	require.ErrorIs(t, err, ErrInvalidArtifact)

	_, err = s.ReadArtifact("es", "passwd")
	require.ErrorIs(t, err, ErrInvalidArtifact)
}

func TestArtifactsSkipsMissing(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteArtifact("es", ArtifactSummary, "summary"))
	require.NoError(t, s.WriteArtifact("es", ArtifactPlan, "plan"))

	artifacts, err := s.Artifacts("es")
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	require.Equal(t, "summary", artifacts[ArtifactSummary])
	require.Equal(t, "plan", artifacts[ArtifactPlan])
}

func TestOnboarded(t *testing.T) {
	s := newTestStore(t)

	require.False(t, s.Onboarded("es"))
	require.NoError(t, s.WriteArtifact("es", ArtifactSummary, "summary"))
	require.True(t, s.Onboarded("es"))
}

func TestWriteSessionLogSequencing(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	first, err := s.WriteSessionLog("es", day, "first")
	require.NoError(t, err)
	require.Equal(t, "sessions/2026-08-29-01.md", first)

	second, err := s.WriteSessionLog("es", day, "second")
	require.NoError(t, err)
	require.Equal(t, "sessions/2026-08-29-02.md", second)

	logs, err := s.SessionLogs("es")
	require.NoError(t, err)
	require.Equal(t, []string{
		"sessions/2026-08-29-01.md",
		"sessions/2026-08-29-02.md",
	}, logs)
}

func TestRelativeReadWrite(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteRelative("es", "sessions/2026-08-29-01.md", "log"))

	text, err := s.ReadRelative("es", "sessions/2026-08-29-01.md")
	require.NoError(t, err)
	require.Equal(t, "log", text)
}

func TestRelativeRejectsTraversal(t *testing.T) {
	s := newTestStore(t)

	err := s.WriteRelative("es", "../../etc/passwd", "x")
	require.Error(t, err)
}

func TestTopics(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.EnsureTopic("es"))
	require.NoError(t, s.EnsureTopic("fr"))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), ".git"), 0755))

	topics, err := s.Topics()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"es", "fr"}, topics)
}
