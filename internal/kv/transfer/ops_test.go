package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wranglekit/kvns/internal/api/apitest"
	"github.com/wranglekit/kvns/internal/kv"
	"github.com/wranglekit/kvns/internal/kv/namespace"
)

func TestCopy_CreatesMissingDestination(t *testing.T) {
	engine, srv := setupEngine(t)
	a := srv.AddNamespace("A")
	srv.SetValue(a, "x", []byte("1"))
	srv.SetValue(a, "y", []byte("2"))

	res, err := engine.Copy(context.Background(), "A", "B")
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}

	b, ok := srv.NamespaceID("B")
	if !ok {
		t.Fatal("destination namespace B was not created")
	}
	if !res.Created || res.NamespaceID != b || res.Keys != 2 || res.Bytes != 2 {
		t.Errorf("result = %+v", res)
	}

	want := map[string]string{"x": "1", "y": "2"}
	if diff := cmp.Diff(want, srv.Values(b)); diff != "" {
		t.Errorf("destination contents (-want +got):\n%s", diff)
	}
	if n := len(srv.Requests(http.MethodPut, "/bulk")); n != 1 {
		t.Errorf("issued %d bulk writes, want 1", n)
	}
}

func TestCopy_ExistingDestinationIsSuperset(t *testing.T) {
	engine, srv := setupEngine(t)
	src := srv.AddNamespace("src")
	dest := srv.AddNamespace("dest")
	srv.SetValue(src, "shared", []byte(`"new"`))
	srv.SetValue(src, "only-src", []byte(`[1,2]`))
	srv.SetValue(dest, "shared", []byte(`"old"`))
	srv.SetValue(dest, "only-dest", []byte(`true`))

	res, err := engine.Copy(context.Background(), "src", "dest")
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if res.Created {
		t.Error("destination should not be created")
	}

	want := map[string]string{"shared": `"new"`, "only-src": `[1,2]`, "only-dest": `true`}
	if diff := cmp.Diff(want, srv.Values(dest)); diff != "" {
		t.Errorf("destination contents (-want +got):\n%s", diff)
	}
}

func TestCopy_CarriesExpirationAndMetadata(t *testing.T) {
	engine, srv := setupEngine(t)
	src := srv.AddNamespace("src")
	srv.SetEntry(src, "k", apitest.Entry{Value: []byte("v"), Expiration: 1893456000, Metadata: map[string]any{"tag": "x"}})

	res, err := engine.Copy(context.Background(), "src", "dst")
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}

	e := srv.Entries(res.NamespaceID)["k"]
	if e.Expiration != 1893456000 {
		t.Errorf("expiration = %d", e.Expiration)
	}
	if !reflect.DeepEqual(e.Metadata, map[string]any{"tag": "x"}) {
		t.Errorf("metadata = %v", e.Metadata)
	}
}

func TestCopy_MissingSourceNoMutation(t *testing.T) {
	engine, srv := setupEngine(t)

	_, err := engine.Copy(context.Background(), "nope", "dest")
	if !errors.Is(err, namespace.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := srv.CountMutations(); n != 0 {
		t.Errorf("issued %d mutations, want 0", n)
	}
}

func TestCopy_ReadFailureDoesNotCreateDestination(t *testing.T) {
	engine, srv := setupEngine(t)
	src := srv.AddNamespace("src")
	srv.SetValue(src, "k", []byte{})

	if _, err := engine.Copy(context.Background(), "src", "dest"); !errors.Is(err, ErrMissingValue) {
		t.Fatalf("expected ErrMissingValue, got %v", err)
	}
	if _, ok := srv.NamespaceID("dest"); ok {
		t.Error("destination created despite failed read")
	}
}

func TestClear(t *testing.T) {
	engine, srv := setupEngine(t)
	id := srv.AddNamespace("full")
	for _, k := range []string{"a", "b/c", "d"} {
		srv.SetValue(id, k, []byte("v"))
	}

	res, err := engine.Clear(context.Background(), "full")
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if res.Keys != 3 {
		t.Errorf("cleared %d keys, want 3", res.Keys)
	}

	keys, err := engine.ListKeys(context.Background(), id)
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("keys left after clear: %v", kv.Names(keys))
	}
	if n := len(srv.Requests(http.MethodDelete, "/bulk")); n != 1 {
		t.Errorf("issued %d bulk deletes, want 1", n)
	}
}

func TestClear_NotFound(t *testing.T) {
	engine, _ := setupEngine(t)

	if _, err := engine.Clear(context.Background(), "ghost"); !errors.Is(err, namespace.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDump_OneFilePerKey(t *testing.T) {
	engine, srv := setupEngine(t)
	id := srv.AddNamespace("site")
	values := map[string]string{
		"config":      `{"theme":"dark","size":3}`,
		"users/42":    `{"name":"ada"}`,
		"list":        `[1,2,3]`,
		"..":          `"dots"`,
		"raw:bytes?*": `42`,
	}
	for k, v := range values {
		srv.SetValue(id, k, []byte(v))
	}

	dir := filepath.Join(t.TempDir(), "out", "site")
	res, err := engine.Dump(context.Background(), "site", dir)
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	if res.Keys != len(values) {
		t.Errorf("dumped %d keys, want %d", res.Keys, len(values))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != len(values) {
		t.Fatalf("got %d files, want %d", len(entries), len(values))
	}

	for _, entry := range entries {
		key, err := UnescapeFilename(entry.Name())
		if err != nil {
			t.Fatalf("UnescapeFilename(%q) failed: %v", entry.Name(), err)
		}
		want, ok := values[key]
		if !ok {
			t.Errorf("unexpected file %q (key %q)", entry.Name(), key)
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}

		var got, exp any
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("file %q is not JSON: %v", entry.Name(), err)
		}
		_ = json.Unmarshal([]byte(want), &exp)
		if !reflect.DeepEqual(got, exp) {
			t.Errorf("file %q = %v, want %v", entry.Name(), got, exp)
		}
	}
}

func TestDump_EmptyNamespaceCreatesDirectory(t *testing.T) {
	engine, srv := setupEngine(t)
	srv.AddNamespace("empty")

	dir := filepath.Join(t.TempDir(), "empty")
	res, err := engine.Dump(context.Background(), "empty", dir)
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	if res.Keys != 0 {
		t.Errorf("dumped %d keys, want 0", res.Keys)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("dump directory not created: %v", err)
	}
}

func TestDumpRestore_RoundTrip(t *testing.T) {
	engine, srv := setupEngine(t)
	src := srv.AddNamespace("src")
	srv.SetValue(src, "a/b", []byte(`{"x":1}`))
	srv.SetValue(src, "c", []byte(`"text"`))
	srv.SetValue(src, "bin", []byte{0xde, 0xad, 0xbe, 0xef})

	dir := t.TempDir()
	if _, err := engine.Dump(context.Background(), "src", dir); err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "ignored-subdir"), 0755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	res, err := engine.Restore(context.Background(), dir, "copy")
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if !res.Created || res.Keys != 3 {
		t.Errorf("result = %+v", res)
	}

	if diff := cmp.Diff(srv.Values(src), srv.Values(res.NamespaceID)); diff != "" {
		t.Errorf("restored contents (-src +restored):\n%s", diff)
	}
}

func TestDumpRestore_LongKeys(t *testing.T) {
	engine, srv := setupEngine(t)
	src := srv.AddNamespace("src")
	long := strings.Repeat("é", 200)
	srv.SetValue(src, "a/b", []byte(`1`))
	srv.SetValue(src, long, []byte(`2`))

	dir := t.TempDir()
	res, err := engine.Dump(context.Background(), "src", dir)
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	if res.Keys != 2 {
		t.Errorf("dumped %d keys, want 2", res.Keys)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
		if len(e.Name()) > MaxFilenameLen {
			t.Errorf("file name of %d bytes written", len(e.Name()))
		}
	}
	if len(names) != 3 {
		t.Fatalf("dump dir holds %v, want two keys and the index", names)
	}
	if _, err := os.Stat(filepath.Join(dir, IndexFilename)); err != nil {
		t.Fatalf("index missing: %v", err)
	}

	restored, err := engine.Restore(context.Background(), dir, "copy")
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if diff := cmp.Diff(srv.Values(src), srv.Values(restored.NamespaceID)); diff != "" {
		t.Errorf("restored contents (-src +restored):\n%s", diff)
	}
}

func TestDump_RemovesStaleIndex(t *testing.T) {
	engine, srv := setupEngine(t)
	id := srv.AddNamespace("src")
	srv.SetValue(id, "short", []byte(`1`))

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, IndexFilename), []byte(`{"x%~00":"old"}`), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := engine.Dump(context.Background(), "src", dir); err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, IndexFilename)); !os.IsNotExist(err) {
		t.Errorf("stale index kept: %v", err)
	}
}

func TestRestore_EmptyFileFails(t *testing.T) {
	engine, srv := setupEngine(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "k"), nil, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := engine.Restore(context.Background(), dir, "dest"); !errors.Is(err, ErrMissingValue) {
		t.Fatalf("expected ErrMissingValue, got %v", err)
	}
	if n := srv.CountMutations(); n != 0 {
		t.Errorf("issued %d mutations, want 0", n)
	}
}

func TestSnapshot_RoundTripKeepsAttributes(t *testing.T) {
	engine, srv := setupEngine(t)
	src := srv.AddNamespace("prod")
	srv.SetEntry(src, "k1", apitest.Entry{Value: []byte(`1`), Expiration: 1893456000, Metadata: map[string]any{"m": "v"}})
	srv.SetValue(src, "k2", []byte(`2`))

	path := filepath.Join(t.TempDir(), "snap.db")
	if _, err := engine.DumpSnapshot(context.Background(), "prod", path); err != nil {
		t.Fatalf("DumpSnapshot failed: %v", err)
	}

	res, err := engine.RestoreSnapshot(context.Background(), path, "prod", "prod-restored")
	if err != nil {
		t.Fatalf("RestoreSnapshot failed: %v", err)
	}

	got := srv.Entries(res.NamespaceID)
	if diff := cmp.Diff(srv.Entries(src), got); diff != "" {
		t.Errorf("restored entries (-src +restored):\n%s", diff)
	}
}

func TestRestoreSnapshot_MissingFile(t *testing.T) {
	engine, srv := setupEngine(t)

	_, err := engine.RestoreSnapshot(context.Background(), filepath.Join(t.TempDir(), "none.db"), "prod", "x")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
	if n := srv.CountMutations(); n != 0 {
		t.Errorf("issued %d mutations, want 0", n)
	}
}

func TestListSnapshots_NewestFirst(t *testing.T) {
	engine, srv := setupEngine(t)
	prod := srv.AddNamespace("prod")
	srv.SetValue(prod, "a", []byte(`1`))
	staging := srv.AddNamespace("staging")
	srv.SetValue(staging, "b", []byte(`2`))
	srv.SetValue(staging, "c", []byte(`3`))

	path := filepath.Join(t.TempDir(), "snap.db")
	for _, title := range []string{"prod", "staging"} {
		if _, err := engine.DumpSnapshot(context.Background(), title, path); err != nil {
			t.Fatalf("DumpSnapshot(%s) failed: %v", title, err)
		}
	}

	snaps, err := engine.ListSnapshots(context.Background(), path)
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	var got []string
	var keys []int
	for _, s := range snaps {
		got = append(got, s.Namespace)
		keys = append(keys, s.Keys)
	}
	if diff := cmp.Diff([]string{"staging", "prod"}, got); diff != "" {
		t.Errorf("snapshot order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2, 1}, keys); diff != "" {
		t.Errorf("snapshot key counts (-want +got):\n%s", diff)
	}
}

func TestListSnapshots_MissingFile(t *testing.T) {
	engine, _ := setupEngine(t)

	path := filepath.Join(t.TempDir(), "none.db")
	if _, err := engine.ListSnapshots(context.Background(), path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("listing created %s", path)
	}
}

func TestGetPutDelete(t *testing.T) {
	engine, srv := setupEngine(t)
	id := srv.AddNamespace("ns")
	ctx := context.Background()

	exp := time.Unix(1893456000, 0).UTC()
	pair := kv.Pair{Key: kv.Key{Name: "greeting", Expiration: &exp}, Value: []byte(`"hello"`)}
	if err := engine.Put(ctx, "ns", pair); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if e := srv.Entries(id)["greeting"]; e.Expiration != exp.Unix() {
		t.Errorf("expiration = %d, want %d", e.Expiration, exp.Unix())
	}

	value, err := engine.Get(ctx, "ns", "greeting")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != `"hello"` {
		t.Errorf("Get = %s", value)
	}

	if err := engine.Delete(ctx, "ns", "greeting"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := engine.Get(ctx, "ns", "greeting"); err == nil {
		t.Error("expected Get to fail after Delete")
	}
}

func TestPut_RequiresExistingNamespace(t *testing.T) {
	engine, srv := setupEngine(t)

	err := engine.Put(context.Background(), "missing", kv.Pair{Key: kv.Key{Name: "k"}, Value: []byte("v")})
	if !errors.Is(err, namespace.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := srv.CountMutations(); n != 0 {
		t.Errorf("issued %d mutations, want 0", n)
	}
}
