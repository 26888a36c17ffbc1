// Package watch mirrors a dump directory into a KV namespace as files change.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/wranglekit/kvns/internal/kv/transfer"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpPut indicates a file was created or written.
	OpPut EventOp = iota
	// OpDelete indicates a file was removed or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is a change to one key file in the watched directory.
type FileEvent struct {
	// Path is the file that changed.
	Path string
	// Key is the KV key the file name decodes to.
	Key string
	Op  EventOp
}

// FileWatcher watches one dump directory for changes to its key files.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
}

// NewFileWatcher creates a FileWatcher. It emits nothing until Start.
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		events:  make(chan FileEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching dir.
func (fw *FileWatcher) Start(dir string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if err := fw.watcher.Add(abs); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	fw.dir = abs

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// Stop stops watching and blocks until the event loop has exited. The
// Events and Errors channels are closed afterwards.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return fw.watcher.Close()
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel of key file changes.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel of watcher errors.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if fileEvent, ok := fw.convertEvent(event); ok {
				select {
				case fw.events <- fileEvent:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event onto a key change. Events for
// subdirectories, files outside the watched directory and names that do
// not decode to a key are dropped.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	path, err := filepath.Abs(event.Name)
	if err != nil || filepath.Dir(path) != fw.dir {
		return FileEvent{}, false
	}

	name := filepath.Base(path)
	if name == transfer.IndexFilename {
		return FileEvent{}, false
	}
	key, err := transfer.UnescapeFilename(name)
	if err != nil {
		// Long keys are dumped under a hashed name listed in the index.
		index, ierr := transfer.ReadIndex(fw.dir)
		if ierr != nil || index[name] == "" {
			return FileEvent{}, false
		}
		key = index[name]
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return FileEvent{}, false
		}
		op = OpPut
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// A rename arrives as Rename on the old name and Create on the new.
		op = OpDelete
	default:
		return FileEvent{}, false
	}

	return FileEvent{Path: path, Key: key, Op: op}, true
}
