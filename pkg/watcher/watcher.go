package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ritzau/pageload-estimator/pkg/fixture"
	"github.com/ritzau/pageload-estimator/pkg/logging"
)

// ChangeType represents the type of file change detected
type ChangeType int

const (
	ChangeTypeModified ChangeType = iota // Created or written
	ChangeTypeRemoved                    // Removed or renamed away
)

func (t ChangeType) String() string {
	switch t {
	case ChangeTypeModified:
		return "modified"
	case ChangeTypeRemoved:
		return "removed"
	default:
		return fmt.Sprintf("ChangeType(%d)", int(t))
	}
}

// ChangeEvent represents a batch of file system changes
type ChangeEvent struct {
	Type      ChangeType
	Paths     []string
	Timestamp time.Time
}

// batchWindow groups events from one editor save
const batchWindow = 100 * time.Millisecond

// FileWatcher watches fixture files and directories for changes
type FileWatcher struct {
	watcher *fsnotify.Watcher
	roots   []string
	files   map[string]bool // fixture files listed directly rather than through a directory
	events  chan ChangeEvent
	done    chan struct{}
	once    sync.Once
}

// NewFileWatcher creates a watcher for the given fixture files and directories
func NewFileWatcher(paths []string) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	fw := &FileWatcher{
		watcher: watcher,
		roots:   paths,
		files:   make(map[string]bool),
		events:  make(chan ChangeEvent, 100),
		done:    make(chan struct{}),
	}

	return fw, nil
}

// Start begins watching for file changes
func (fw *FileWatcher) Start(ctx context.Context) error {
	dirs, err := fw.watchDirs()
	if err != nil {
		return err
	}

	for dir := range dirs {
		if err := fw.watcher.Add(dir); err != nil {
			logging.Warn("failed to watch directory", "path", dir, "error", err)
		}
	}
	logging.Info("monitoring fixture directories", "count", len(dirs))

	// Process events
	go fw.processEvents(ctx)

	return nil
}

// watchDirs resolves the roots into the set of directories to watch.
// Files are watched through their parent directory.
func (fw *FileWatcher) watchDirs() (map[string]bool, error) {
	dirs := make(map[string]bool)

	for _, root := range fw.roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("failed to watch %s: %w", root, err)
		}

		if !info.IsDir() {
			fw.files[filepath.Clean(root)] = true
			dirs[filepath.Dir(root)] = true
			continue
		}

		err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil // Skip directories we can't access
			}
			if !d.IsDir() {
				return nil
			}
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			dirs[path] = true
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	return dirs, nil
}

// relevant returns true for paths this watcher reports on
func (fw *FileWatcher) relevant(path string) bool {
	if !fixture.IsFixtureFile(path) {
		return false
	}
	if fw.files[filepath.Clean(path)] {
		return true
	}
	// Siblings of listed files are ignored; directory roots report every fixture below them
	for _, root := range fw.roots {
		if info, err := os.Stat(root); err == nil && info.IsDir() {
			if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
				return true
			}
		}
	}
	return false
}

// processEvents processes file system events and batches them by type
func (fw *FileWatcher) processEvents(ctx context.Context) {
	defer close(fw.events)

	// Batch events to avoid sending one event per file
	var modified []string
	var removed []string

	flushTimer := time.NewTimer(batchWindow)
	flushTimer.Stop()

	send := func(t ChangeType, paths []string) {
		if len(paths) == 0 {
			return
		}
		select {
		case fw.events <- ChangeEvent{Type: t, Paths: paths, Timestamp: time.Now()}:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			fw.Stop()
			return

		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			// A new subdirectory under a watched root
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fw.watcher.Add(event.Name); err != nil {
						logging.Warn("failed to watch directory", "path", event.Name, "error", err)
					}
					continue
				}
			}

			if !fw.relevant(event.Name) {
				continue
			}

			switch {
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				removed = append(removed, event.Name)
			case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
				modified = append(modified, event.Name)
			default:
				continue
			}
			flushTimer.Reset(batchWindow)

		case <-flushTimer.C:
			send(ChangeTypeRemoved, removed)
			send(ChangeTypeModified, modified)
			removed, modified = nil, nil

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("watcher error", "error", err)
		}
	}
}

// Events returns the channel of change events
func (fw *FileWatcher) Events() <-chan ChangeEvent {
	return fw.events
}

// Stop stops the file watcher
func (fw *FileWatcher) Stop() error {
	var err error
	fw.once.Do(func() {
		close(fw.done)
		err = fw.watcher.Close()
	})
	return err
}
