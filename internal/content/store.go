// Package content provides the per-topic language notes store.
//
// Each topic owns one directory under the content root holding a fixed set
// of markdown artifacts plus a sessions/ subdirectory of dated session logs.
// The agent reads and writes these files through this narrow interface; the
// commit handshake in internal/vcs makes them durable at session end.
package content

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Artifact names every topic directory may contain.
const (
	ArtifactSummary = "summary.md"
	ArtifactLearned = "learned.md"
	ArtifactReview  = "review.md"
	ArtifactCurrent = "current.md"
	ArtifactPlan    = "plan.md"
	ArtifactFuture  = "future.md"
)

// ArtifactNames is the fixed artifact set in presentation order.
var ArtifactNames = []string{
	ArtifactSummary,
	ArtifactLearned,
	ArtifactReview,
	ArtifactCurrent,
	ArtifactPlan,
	ArtifactFuture,
}

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArtifact = errors.New("invalid artifact name")
)

// Store reads and writes topic directories under a content root.
type Store struct {
	root string
	mu   sync.Mutex
}

// New creates a Store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create content root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the content root directory.
func (s *Store) Root() string {
	return s.root
}

// TopicDir returns the directory for a topic.
func (s *Store) TopicDir(topic string) string {
	return filepath.Join(s.root, topic)
}

// EnsureTopic creates the topic directory and its sessions/ subdirectory.
func (s *Store) EnsureTopic(topic string) error {
	return os.MkdirAll(filepath.Join(s.TopicDir(topic), "sessions"), 0755)
}

// Onboarded reports whether a topic has been through onboarding, which is
// marked by the presence of its summary artifact.
func (s *Store) Onboarded(topic string) bool {
	_, err := os.Stat(filepath.Join(s.TopicDir(topic), ArtifactSummary))
	return err == nil
}

// Topics lists topic directories under the root.
func (s *Store) Topics() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	var topics []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			topics = append(topics, entry.Name())
		}
	}
	return topics, nil
}

// validArtifact reports whether name is one of the fixed artifact files.
func validArtifact(name string) bool {
	for _, a := range ArtifactNames {
		if a == name {
			return true
		}
	}
	return false
}

// ReadArtifact returns the contents of one artifact file.
func (s *Store) ReadArtifact(topic, name string) (string, error) {
	if !validArtifact(name) {
		return "", fmt.Errorf("%w: %s", ErrInvalidArtifact, name)
	}

	data, err := os.ReadFile(filepath.Join(s.TopicDir(topic), name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read artifact: %w", err)
	}
	return string(data), nil
}

// WriteArtifact atomically replaces one artifact file.
func (s *Store) WriteArtifact(topic, name, text string) error {
	if !validArtifact(name) {
		return fmt.Errorf("%w: %s", ErrInvalidArtifact, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.EnsureTopic(topic); err != nil {
		return fmt.Errorf("create topic dir: %w", err)
	}

	path := filepath.Join(s.TopicDir(topic), name)
	return atomicWrite(path, []byte(text))
}

// Artifacts returns every artifact that exists for a topic, keyed by name.
func (s *Store) Artifacts(topic string) (map[string]string, error) {
	artifacts := make(map[string]string)
	for _, name := range ArtifactNames {
		text, err := s.ReadArtifact(topic, name)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		artifacts[name] = text
	}
	return artifacts, nil
}

// SessionLogs lists a topic's session log files in name order. Names are
// dated and sequence numbered so lexical order is chronological.
func (s *Store) SessionLogs(topic string) ([]string, error) {
	logs, err := doublestar.Glob(os.DirFS(s.TopicDir(topic)), "sessions/*-*.md")
	if err != nil {
		return nil, err
	}
	sort.Strings(logs)
	return logs, nil
}

// WriteSessionLog writes a new dated, sequence-numbered session log file
// (sessions/YYYY-MM-DD-NN.md) and returns its path relative to the topic dir.
func (s *Store) WriteSessionLog(topic string, day time.Time, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.EnsureTopic(topic); err != nil {
		return "", fmt.Errorf("create topic dir: %w", err)
	}

	date := day.Format("2006-01-02")
	pattern := fmt.Sprintf("sessions/%s-*.md", date)
	existing, err := doublestar.Glob(os.DirFS(s.TopicDir(topic)), pattern)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("sessions/%s-%02d.md", date, len(existing)+1)
	path := filepath.Join(s.TopicDir(topic), name)
	if err := atomicWrite(path, []byte(text)); err != nil {
		return "", err
	}
	return name, nil
}

// ReadRelative reads any file addressed relative to a topic directory. Used
// by the file-change proposal flow, which may touch session logs as well as
// artifacts. Rejects paths escaping the topic directory.
func (s *Store) ReadRelative(topic, rel string) (string, error) {
	path, err := s.resolve(topic, rel)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return string(data), nil
}

// WriteRelative atomically writes any file addressed relative to a topic
// directory, subject to the same traversal check as ReadRelative.
func (s *Store) WriteRelative(topic, rel, text string) error {
	path, err := s.resolve(topic, rel)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return atomicWrite(path, []byte(text))
}

// resolve joins rel onto the topic dir and rejects escapes.
func (s *Store) resolve(topic, rel string) (string, error) {
	topicDir := s.TopicDir(topic)
	path := filepath.Join(topicDir, filepath.Clean("/"+rel))
	if !strings.HasPrefix(path, topicDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes topic directory: %s", rel)
	}
	return path, nil
}

// atomicWrite writes to a temp file then renames over the target.
func atomicWrite(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}
