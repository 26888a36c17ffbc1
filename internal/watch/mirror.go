package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/wranglekit/kvns/internal/kv"
)

// Applier writes and deletes keys in a namespace. transfer.Engine satisfies it.
type Applier interface {
	Upsert(ctx context.Context, nsID string, pairs []kv.Pair) error
	DeleteKeys(ctx context.Context, nsID string, names []string) error
}

// Config holds configuration for a Mirror.
type Config struct {
	// DebounceInterval is how long a key must be quiet before its change is
	// applied. Rapid writes to the same file collapse into one upsert.
	DebounceInterval time.Duration

	// Logger for mirror activity
	Logger *log.Logger
}

// DefaultConfig returns the defaults used by restore --watch.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 200 * time.Millisecond,
	}
}

// Stats counts changes the mirror has applied.
type Stats struct {
	Puts    int
	Deletes int
	Errors  int
}

type change struct {
	path     string
	op       EventOp
	queuedAt time.Time
}

// Mirror applies file changes in a dump directory to a namespace.
type Mirror struct {
	dir    string
	nsID   string
	target Applier
	config *Config
	logger *log.Logger

	queueMu sync.Mutex
	queue   map[string]change // key -> latest change

	statsMu sync.Mutex
	stats   Stats
}

// NewMirror creates a Mirror of dir into the namespace nsID.
func NewMirror(dir, nsID string, target Applier, config *Config) (*Mirror, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if nsID == "" {
		return nil, fmt.Errorf("namespace id cannot be empty")
	}
	if target == nil {
		return nil, fmt.Errorf("target cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Mirror{
		dir:    dir,
		nsID:   nsID,
		target: target,
		config: config,
		logger: logger,
		queue:  make(map[string]change),
	}, nil
}

// Run watches the directory and applies changes until ctx is cancelled.
// Changes still inside their debounce window at shutdown are dropped.
func (m *Mirror) Run(ctx context.Context) error {
	fw, err := NewFileWatcher()
	if err != nil {
		return err
	}
	if err := fw.Start(m.dir); err != nil {
		fw.Stop()
		return err
	}
	defer fw.Stop()

	m.logger.Printf("Watching %s -> %s", m.dir, m.nsID)

	ticker := time.NewTicker(m.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Println("Shutdown signal received")
			return nil

		case event, ok := <-fw.Events():
			if !ok {
				return nil
			}
			m.logger.Printf("File event: %s %s", event.Op, event.Key)
			m.queueChange(event, time.Now())

		case err, ok := <-fw.Errors():
			if !ok {
				return nil
			}
			m.logger.Printf("Watcher error: %v", err)

		case now := <-ticker.C:
			m.processPending(ctx, now)
		}
	}
}

// Stats returns a copy of the applied-change counters.
func (m *Mirror) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

func (m *Mirror) queueChange(event FileEvent, at time.Time) {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()

	m.queue[event.Key] = change{path: event.Path, op: event.Op, queuedAt: at}
}

// due removes and returns the changes that have been quiet for a full
// debounce interval as of now.
func (m *Mirror) due(now time.Time) map[string]change {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()

	ready := make(map[string]change)
	for key, c := range m.queue {
		if now.Sub(c.queuedAt) < m.config.DebounceInterval {
			continue
		}
		ready[key] = c
		delete(m.queue, key)
	}
	return ready
}

// processPending applies every due change in one bulk write and one bulk
// delete. The file is re-read at apply time, so a put whose file has since
// vanished becomes a delete.
func (m *Mirror) processPending(ctx context.Context, now time.Time) {
	ready := m.due(now)
	if len(ready) == 0 {
		return
	}

	keys := make([]string, 0, len(ready))
	for key := range ready {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var puts []kv.Pair
	var deletes []string
	failed := 0
	for _, key := range keys {
		c := ready[key]
		value, err := os.ReadFile(c.path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			deletes = append(deletes, key)
		case err != nil:
			m.logger.Printf("Error reading %s: %v", filepath.Base(c.path), err)
			failed++
		case len(value) == 0:
			m.logger.Printf("Warning: skipping %q: file is empty", key)
			failed++
		default:
			puts = append(puts, kv.Pair{Key: kv.Key{Name: key}, Value: value})
		}
	}

	if len(puts) > 0 {
		if err := m.target.Upsert(ctx, m.nsID, puts); err != nil {
			m.logger.Printf("Error writing %d keys: %v", len(puts), err)
			failed += len(puts)
			puts = nil
		} else {
			m.logger.Printf("Wrote %d keys", len(puts))
		}
	}
	if len(deletes) > 0 {
		if err := m.target.DeleteKeys(ctx, m.nsID, deletes); err != nil {
			m.logger.Printf("Error deleting %d keys: %v", len(deletes), err)
			failed += len(deletes)
			deletes = nil
		} else {
			m.logger.Printf("Deleted %d keys", len(deletes))
		}
	}

	m.statsMu.Lock()
	m.stats.Puts += len(puts)
	m.stats.Deletes += len(deletes)
	m.stats.Errors += failed
	m.statsMu.Unlock()
}
