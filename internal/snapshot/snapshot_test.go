package snapshot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wranglekit/kvns/internal/kv"
)

// openTestDB opens an initialized snapshot database in a temp dir.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "nested", "snap.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := db.InitSchema(context.Background()); err != nil {
		t.Errorf("second InitSchema() failed: %v", err)
	}

	for _, table := range []string{"snapshots", "entries"} {
		var count int
		err := db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestWriteLatest_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	exp := time.Unix(1893456000, 0).UTC()
	pairs := []kv.Pair{
		{Key: kv.Key{Name: "b/2", Metadata: map[string]any{"v": "1"}}, Value: []byte(`{"n":2}`)},
		{Key: kv.Key{Name: "a", Expiration: &exp}, Value: []byte{0xff, 0x00}},
	}

	takenAt := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	id, err := db.Write(ctx, "prod", pairs, takenAt)
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	snap, got, err := db.Latest(ctx, "prod")
	if err != nil {
		t.Fatalf("Latest() failed: %v", err)
	}
	if snap.ID != id || snap.Namespace != "prod" || snap.Keys != 2 || !snap.TakenAt.Equal(takenAt) {
		t.Errorf("snapshot = %+v", snap)
	}

	want := []kv.Pair{pairs[1], pairs[0]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("pairs mismatch (-want +got):\n%s", diff)
	}
}

func TestLatest_PicksNewest(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	old := []kv.Pair{{Key: kv.Key{Name: "k"}, Value: []byte("1")}}
	cur := []kv.Pair{{Key: kv.Key{Name: "k"}, Value: []byte("2")}}

	if _, err := db.Write(ctx, "ns", old, time.Now()); err != nil {
		t.Fatalf("Write(old) failed: %v", err)
	}
	if _, err := db.Write(ctx, "other", old, time.Now()); err != nil {
		t.Fatalf("Write(other) failed: %v", err)
	}
	if _, err := db.Write(ctx, "ns", cur, time.Now()); err != nil {
		t.Fatalf("Write(cur) failed: %v", err)
	}

	_, got, err := db.Latest(ctx, "ns")
	if err != nil {
		t.Fatalf("Latest() failed: %v", err)
	}
	if len(got) != 1 || string(got[0].Value) != "2" {
		t.Errorf("Latest() = %+v, want value 2", got)
	}

	list, err := db.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 3 || list[0].Namespace != "ns" || list[1].Namespace != "other" {
		t.Errorf("List() = %+v", list)
	}
}

func TestLatest_NoSnapshot(t *testing.T) {
	db := openTestDB(t)

	_, _, err := db.Latest(context.Background(), "missing")
	if !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestWrite_EmptyNamespace(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Write(ctx, "empty", nil, time.Now()); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	snap, pairs, err := db.Latest(ctx, "empty")
	if err != nil {
		t.Fatalf("Latest() failed: %v", err)
	}
	if snap.Keys != 0 || len(pairs) != 0 {
		t.Errorf("expected empty snapshot, got %d pairs", len(pairs))
	}
}
