package vcs

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/linguabridge/linguabridge/internal/event"
	"github.com/linguabridge/linguabridge/internal/logging"
)

// Watcher watches the content root for markdown edits and publishes
// content.edited events so connected clients can refresh their view of the
// agent's notes.
type Watcher struct {
	watcher *fsnotify.Watcher
	root    string
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.RWMutex
}

// NewWatcher creates a watcher over the content root and its topic
// directories.
func NewWatcher(root string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(root); err != nil {
		w.Close()
		return nil, err
	}

	// Watch existing topic dirs and their sessions/ subdirs. New ones are
	// picked up from create events in run().
	entries, _ := os.ReadDir(root)
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		topicDir := filepath.Join(root, entry.Name())
		_ = w.Add(topicDir)
		_ = w.Add(filepath.Join(topicDir, "sessions"))
	}

	return &Watcher{
		watcher: w,
		root:    root,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins watching for content changes.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	log := logging.Component("vcs-watcher")

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("content watcher error")
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
		return
	}
	if strings.Contains(ev.Name, string(os.PathSeparator)+".git"+string(os.PathSeparator)) {
		return
	}

	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.watcher.Add(ev.Name)
			return
		}
	}

	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	if !strings.HasSuffix(ev.Name, ".md") {
		return
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		rel = ev.Name
	}

	event.PublishSync(event.Event{
		Type: event.ContentEdited,
		Data: event.ContentEditedData{Path: rel},
	})
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}

	if started {
		<-w.doneCh
	}

	return w.watcher.Close()
}
