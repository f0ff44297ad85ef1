package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ritzau/refcycles/pkg/logging"
)

// ChangeType represents the type of file change detected
type ChangeType int

const (
	ChangeTypeFixture ChangeType = iota
	ChangeTypeConfig
)

func (t ChangeType) String() string {
	switch t {
	case ChangeTypeFixture:
		return "fixture"
	case ChangeTypeConfig:
		return "config"
	default:
		return fmt.Sprintf("ChangeType(%d)", int(t))
	}
}

// BatchWindow is how long the watcher collects events before sending them
const BatchWindow = 100 * time.Millisecond

// ChangeEvent represents a batch of file system changes
type ChangeEvent struct {
	Type      ChangeType
	Paths     []string
	Timestamp time.Time
}

// FileWatcher watches a set of files for changes.
//
// The directories holding the files are watched rather than the files, so
// editors that save by renaming a new file into place are seen too.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	files   map[string]ChangeType
	events  chan ChangeEvent
	mu      sync.Mutex
}

// NewFileWatcher creates a new file system watcher
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		files:   make(map[string]ChangeType),
		events:  make(chan ChangeEvent, 100),
	}, nil
}

// Add watches path, reporting its changes as changeType
func (fw *FileWatcher) Add(path string, changeType ChangeType) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	dir := filepath.Dir(abs)
	if err := fw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	fw.files[abs] = changeType

	logging.Debug("watching file", "path", abs, "type", changeType)
	return nil
}

// Start begins watching for file changes
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.mu.Lock()
	count := len(fw.files)
	fw.mu.Unlock()

	logging.Info("started watching files", "count", count)

	go fw.processEvents(ctx)

	return nil
}

func (fw *FileWatcher) classify(name string) (ChangeType, bool) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return 0, false
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	t, ok := fw.files[abs]
	return t, ok
}

// processEvents filters events to the watched files and batches them by type
func (fw *FileWatcher) processEvents(ctx context.Context) {
	pending := make(map[ChangeType][]string)

	flushTimer := time.NewTimer(BatchWindow)
	flushTimer.Stop()

	flush := func() {
		for _, t := range []ChangeType{ChangeTypeConfig, ChangeTypeFixture} {
			if len(pending[t]) > 0 {
				fw.events <- ChangeEvent{
					Type:      t,
					Paths:     pending[t],
					Timestamp: time.Now(),
				}
			}
		}
		pending = make(map[ChangeType][]string)
	}

	defer func() {
		fw.watcher.Close()
		close(fw.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			t, watched := fw.classify(event.Name)
			if !watched {
				continue
			}
			logging.Trace("file event", "path", event.Name, "op", event.Op.String())
			pending[t] = appendUnique(pending[t], event.Name)
			flushTimer.Reset(BatchWindow)

		case <-flushTimer.C:
			flush()

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("watcher error", "error", err)
		}
	}
}

func appendUnique(paths []string, path string) []string {
	for _, p := range paths {
		if p == path {
			return paths
		}
	}
	return append(paths, path)
}

// Events returns the channel of change events. It is closed when the
// context passed to Start is done.
func (fw *FileWatcher) Events() <-chan ChangeEvent {
	return fw.events
}
