package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wranglekit/kvns/internal/kv"
	"github.com/wranglekit/kvns/internal/snapshot"
)

// Copy copies every key of the namespace titled src into the namespace
// titled dest, creating dest when it does not exist.
//
// The source is read completely before dest is resolved. Keys already in
// dest that are absent from src are left untouched.
func (e *Engine) Copy(ctx context.Context, src, dest string) (*Result, error) {
	start := e.now()

	srcID, err := e.namespaces.Resolve(ctx, src)
	if err != nil {
		return nil, err
	}

	pairs, err := e.FetchAll(ctx, srcID)
	if err != nil {
		return nil, err
	}

	destID, created, err := e.namespaces.ResolveOrCreate(ctx, dest)
	if err != nil {
		return nil, err
	}

	if err := e.Upsert(ctx, destID, pairs); err != nil {
		return nil, err
	}

	e.logger.Printf("Copied %d keys: %s (%s) -> %s (%s)", len(pairs), src, srcID, dest, destID)
	return &Result{
		NamespaceID: destID,
		Keys:        len(pairs),
		Bytes:       kv.Size(pairs),
		Created:     created,
		Duration:    e.now().Sub(start),
	}, nil
}

// Clear removes every key from the namespace titled title.
func (e *Engine) Clear(ctx context.Context, title string) (*Result, error) {
	start := e.now()

	nsID, err := e.namespaces.Resolve(ctx, title)
	if err != nil {
		return nil, err
	}

	keys, err := e.ListKeys(ctx, nsID)
	if err != nil {
		return nil, err
	}

	if err := e.DeleteKeys(ctx, nsID, kv.Names(keys)); err != nil {
		return nil, err
	}

	e.logger.Printf("Cleared %d keys from %s (%s)", len(keys), title, nsID)
	return &Result{
		NamespaceID: nsID,
		Keys:        len(keys),
		Duration:    e.now().Sub(start),
	}, nil
}

// Dump writes every key of the namespace titled title into dir, one file
// per key. File names come from DumpFilename; contents are the raw
// value bytes. dir is created if missing. Writes run concurrently.
// Keys too long for a file name are listed in IndexFilename.
func (e *Engine) Dump(ctx context.Context, title, dir string) (*Result, error) {
	start := e.now()

	nsID, err := e.namespaces.Resolve(ctx, title)
	if err != nil {
		return nil, err
	}

	pairs, err := e.FetchAll(ctx, nsID)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create dump directory: %w", err)
	}

	names := make([]string, len(pairs))
	index := make(map[string]string)
	for i, p := range pairs {
		name, long := DumpFilename(p.Key.Name)
		names[i] = name
		if long {
			index[name] = p.Key.Name
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, p := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(dir, names[i]), p.Value, 0644); err != nil {
				return fmt.Errorf("failed to write key %q: %w", p.Key.Name, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := writeIndex(dir, index); err != nil {
		return nil, err
	}

	e.logger.Printf("Dumped %d keys from %s (%s) to %s", len(pairs), title, nsID, dir)
	return &Result{
		NamespaceID: nsID,
		Keys:        len(pairs),
		Bytes:       kv.Size(pairs),
		Duration:    e.now().Sub(start),
	}, nil
}

// DumpSnapshot stores every key of the namespace titled title as a new
// snapshot in the SQLite file at path. Unlike Dump, expirations and
// metadata are preserved.
func (e *Engine) DumpSnapshot(ctx context.Context, title, path string) (*Result, error) {
	start := e.now()

	nsID, err := e.namespaces.Resolve(ctx, title)
	if err != nil {
		return nil, err
	}

	pairs, err := e.FetchAll(ctx, nsID)
	if err != nil {
		return nil, err
	}

	db, err := openSnapshot(ctx, path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	id, err := db.Write(ctx, title, pairs, start)
	if err != nil {
		return nil, err
	}

	e.logger.Printf("Stored snapshot %d of %s (%s) with %d keys in %s", id, title, nsID, len(pairs), path)
	return &Result{
		NamespaceID: nsID,
		Keys:        len(pairs),
		Bytes:       kv.Size(pairs),
		Duration:    e.now().Sub(start),
	}, nil
}

// ReadDir loads a dump directory back into pairs. Subdirectories are
// skipped; file names are decoded with UnescapeFilename, or looked up in
// the dump index for keys too long to escape into a file name.
func (e *Engine) ReadDir(ctx context.Context, dir string) ([]kv.Pair, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read dump directory: %w", err)
	}

	index, err := ReadIndex(dir)
	if err != nil {
		return nil, err
	}

	var files []os.DirEntry
	for _, entry := range entries {
		if entry.Type().IsRegular() && entry.Name() != IndexFilename {
			files = append(files, entry)
		}
	}

	pairs := make([]kv.Pair, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, entry := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			key, ok := index[entry.Name()]
			if !ok {
				var err error
				if key, err = UnescapeFilename(entry.Name()); err != nil {
					return err
				}
			}
			value, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				return fmt.Errorf("failed to read dump file %s: %w", entry.Name(), err)
			}
			if len(value) == 0 {
				return &MissingValueError{Key: key}
			}
			pairs[i] = kv.Pair{Key: kv.Key{Name: key}, Value: value}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// Restore uploads a dump directory into the namespace titled title,
// creating it when missing.
func (e *Engine) Restore(ctx context.Context, dir, title string) (*Result, error) {
	start := e.now()

	pairs, err := e.ReadDir(ctx, dir)
	if err != nil {
		return nil, err
	}

	return e.restorePairs(ctx, pairs, title, start)
}

// RestoreSnapshot uploads the newest snapshot stored for snapshotOf in the
// SQLite file at path into the namespace titled title.
func (e *Engine) RestoreSnapshot(ctx context.Context, path, snapshotOf, title string) (*Result, error) {
	start := e.now()

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}

	db, err := openSnapshot(ctx, path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	snap, pairs, err := db.Latest(ctx, snapshotOf)
	if err != nil {
		return nil, err
	}
	e.logger.Printf("Restoring snapshot %d of %s (%d keys)", snap.ID, snap.Namespace, snap.Keys)

	return e.restorePairs(ctx, pairs, title, start)
}

// ListSnapshots returns the snapshots stored in the SQLite file at path,
// newest first.
func (e *Engine) ListSnapshots(ctx context.Context, path string) ([]snapshot.Snapshot, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}

	db, err := openSnapshot(ctx, path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return db.List(ctx)
}

func (e *Engine) restorePairs(ctx context.Context, pairs []kv.Pair, title string, start time.Time) (*Result, error) {
	nsID, created, err := e.namespaces.ResolveOrCreate(ctx, title)
	if err != nil {
		return nil, err
	}

	if err := e.Upsert(ctx, nsID, pairs); err != nil {
		return nil, err
	}

	e.logger.Printf("Restored %d keys into %s (%s)", len(pairs), title, nsID)
	return &Result{
		NamespaceID: nsID,
		Keys:        len(pairs),
		Bytes:       kv.Size(pairs),
		Created:     created,
		Duration:    e.now().Sub(start),
	}, nil
}

func openSnapshot(ctx context.Context, path string) (*snapshot.DB, error) {
	db, err := snapshot.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Get reads one value from the namespace titled title.
func (e *Engine) Get(ctx context.Context, title, key string) ([]byte, error) {
	nsID, err := e.namespaces.Resolve(ctx, title)
	if err != nil {
		return nil, err
	}

	value, err := e.client.Raw(ctx, valuePath(nsID, key))
	if err != nil {
		return nil, fmt.Errorf("failed to read value of key %q: %w", key, err)
	}
	if len(value) == 0 {
		return nil, &MissingValueError{Key: key}
	}
	return value, nil
}

// Put writes one pair into the namespace titled title. The namespace must
// exist.
func (e *Engine) Put(ctx context.Context, title string, pair kv.Pair) error {
	if pair.Key.Name == "" {
		return fmt.Errorf("key name is required")
	}

	nsID, err := e.namespaces.Resolve(ctx, title)
	if err != nil {
		return err
	}
	return e.Upsert(ctx, nsID, []kv.Pair{pair})
}

// Delete removes one key from the namespace titled title.
func (e *Engine) Delete(ctx context.Context, title, key string) error {
	nsID, err := e.namespaces.Resolve(ctx, title)
	if err != nil {
		return err
	}

	if _, err := e.client.Do(ctx, http.MethodDelete, valuePath(nsID, key), nil, nil, nil); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

// writeIndex records long-key file names in dir. A stale index from an
// earlier dump is removed when no key needs one.
func writeIndex(dir string, index map[string]string) error {
	path := filepath.Join(dir, IndexFilename)
	if len(index) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove stale dump index: %w", err)
		}
		return nil
	}

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode dump index: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write dump index: %w", err)
	}
	return nil
}

// ReadIndex loads the long-key index of dir (file name to key). It returns
// nil when dir has no index.
func ReadIndex(dir string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, IndexFilename))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dump index: %w", err)
	}

	var index map[string]string
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse dump index %s: %w", IndexFilename, err)
	}
	return index, nil
}
