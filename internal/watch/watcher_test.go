package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wranglekit/kvns/internal/kv/transfer"
)

// waitForEvent returns the first event matching op, failing after timeout.
func waitForEvent(t *testing.T, fw *FileWatcher, op EventOp) FileEvent {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case event := <-fw.Events():
			if event.Op == op {
				return event
			}
		case <-timeout:
			t.Fatalf("Timeout waiting for %s event", op)
			return FileEvent{}
		}
	}
}

// startWatcher starts a FileWatcher over a fresh temp directory.
func startWatcher(t *testing.T) (*FileWatcher, string) {
	t.Helper()

	dir := t.TempDir()
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	t.Cleanup(func() { fw.Stop() })

	if err := fw.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	return fw, dir
}

func TestFileWatcher_StartStop(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}

	if err := fw.Start(t.TempDir()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	select {
	case _, ok := <-fw.Events():
		if ok {
			t.Error("Events() delivered after Stop()")
		}
	case <-time.After(time.Second):
		t.Error("Events() not closed after Stop()")
	}

	if err := fw.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}
}

func TestFileWatcher_StartAlreadyRunning(t *testing.T) {
	fw, dir := startWatcher(t)

	if err := fw.Start(dir); err == nil {
		t.Error("Second Start() should fail when watcher is already running")
	}
}

func TestFileWatcher_MissingDirectory(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := fw.Start(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("Start() should fail for a missing directory")
	}
}

func TestFileWatcher_CreateDecodesKey(t *testing.T) {
	fw, dir := startWatcher(t)

	if err := os.WriteFile(filepath.Join(dir, "users%2F42"), []byte(`{"id":42}`), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	event := waitForEvent(t, fw, OpPut)
	if event.Key != "users/42" {
		t.Errorf("Key = %q, want users/42", event.Key)
	}
	if filepath.Base(event.Path) != "users%2F42" {
		t.Errorf("Path = %s", event.Path)
	}
}

func TestFileWatcher_ModifyAndDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	if err := os.WriteFile(path, []byte(`1`), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()
	if err := fw.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	// Give watcher time to stabilize
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`2`), 0644); err != nil {
		t.Fatalf("Failed to update file: %v", err)
	}
	if event := waitForEvent(t, fw, OpPut); event.Key != "config" {
		t.Errorf("Key = %q, want config", event.Key)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Failed to remove file: %v", err)
	}
	if event := waitForEvent(t, fw, OpDelete); event.Key != "config" {
		t.Errorf("Key = %q, want config", event.Key)
	}
}

func TestFileWatcher_IgnoresSubdirectories(t *testing.T) {
	fw, dir := startWatcher(t)

	if err := os.Mkdir(filepath.Join(dir, "nested"), 0755); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "nested", "inner"), []byte(`x`), 0644); err != nil {
		t.Fatalf("Failed to write nested file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad%zz"), []byte(`x`), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	select {
	case event := <-fw.Events():
		t.Errorf("unexpected event %s %q", event.Op, event.Key)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestFileWatcher_LongKeyUsesDumpIndex(t *testing.T) {
	fw, dir := startWatcher(t)

	key := strings.Repeat("é", 200)
	name, long := transfer.DumpFilename(key)
	if !long {
		t.Fatal("expected a long key")
	}
	index := fmt.Sprintf(`{%q: %q}`, name, key)
	if err := os.WriteFile(filepath.Join(dir, transfer.IndexFilename), []byte(index), 0644); err != nil {
		t.Fatalf("Failed to write index: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(`1`), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	event := waitForEvent(t, fw, OpPut)
	if event.Key != key {
		t.Errorf("Key = %q, want the indexed key", event.Key)
	}
}
