// Package snapshot stores namespace dumps in a local SQLite file.
//
// A snapshot file can hold many snapshots of many namespaces. Each snapshot
// keeps every key with its value, expiration and metadata, so a restore from
// a snapshot is lossless where a directory dump keeps values only.
//
// The database uses the pure-Go ncruces/go-sqlite3 driver in WAL mode.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/wranglekit/kvns/internal/kv"
)

// ErrNoSnapshot is returned when a namespace has no stored snapshot.
var ErrNoSnapshot = errors.New("no snapshot found")

// Snapshot describes one stored dump.
type Snapshot struct {
	ID        int64     `json:"id" yaml:"id"`
	Namespace string    `json:"namespace" yaml:"namespace"`
	TakenAt   time.Time `json:"taken_at" yaml:"taken_at"`
	Keys      int       `json:"keys" yaml:"keys"`
}

// DB wraps the snapshot database connection.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if needed) the snapshot database at path.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping snapshot database: %w", err)
	}

	db := &DB{conn: conn}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tables if they don't exist. Idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		namespace TEXT NOT NULL,
		taken_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entries (
		snapshot_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		expiration INTEGER,
		metadata TEXT,  -- JSON object
		PRIMARY KEY (snapshot_id, key),
		FOREIGN KEY (snapshot_id) REFERENCES snapshots(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_namespace ON snapshots(namespace, id);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize snapshot schema: %w", err)
	}
	return nil
}

// Write stores pairs as a new snapshot of namespace and returns its ID.
// The snapshot is written in a single transaction.
func (db *DB) Write(ctx context.Context, namespace string, pairs []kv.Pair, takenAt time.Time) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (namespace, taken_at) VALUES (?, ?)`,
		namespace, takenAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (snapshot_id, key, value, expiration, metadata) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare entry insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range pairs {
		var expiration sql.NullInt64
		if p.Key.Expiration != nil {
			expiration = sql.NullInt64{Int64: p.Key.Expiration.Unix(), Valid: true}
		}

		var metadata sql.NullString
		if len(p.Key.Metadata) > 0 {
			data, err := json.Marshal(p.Key.Metadata)
			if err != nil {
				return 0, fmt.Errorf("failed to marshal metadata for key %q: %w", p.Key.Name, err)
			}
			metadata = sql.NullString{String: string(data), Valid: true}
		}

		if _, err := stmt.ExecContext(ctx, id, p.Key.Name, p.Value, expiration, metadata); err != nil {
			return 0, fmt.Errorf("failed to insert entry %q: %w", p.Key.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return id, nil
}

// Latest returns the newest snapshot of namespace with its pairs ordered
// by key. Returns ErrNoSnapshot when none exists.
func (db *DB) Latest(ctx context.Context, namespace string) (*Snapshot, []kv.Pair, error) {
	var (
		snap    Snapshot
		takenAt string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, namespace, taken_at FROM snapshots WHERE namespace = ? ORDER BY id DESC LIMIT 1`,
		namespace).Scan(&snap.ID, &snap.Namespace, &takenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w for namespace %q", ErrNoSnapshot, namespace)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	snap.TakenAt = parseTime(takenAt)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT key, value, expiration, metadata FROM entries WHERE snapshot_id = ? ORDER BY key`,
		snap.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var pairs []kv.Pair
	for rows.Next() {
		var (
			p          kv.Pair
			expiration sql.NullInt64
			metadata   sql.NullString
		)
		if err := rows.Scan(&p.Key.Name, &p.Value, &expiration, &metadata); err != nil {
			return nil, nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if expiration.Valid {
			t := time.Unix(expiration.Int64, 0).UTC()
			p.Key.Expiration = &t
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &p.Key.Metadata); err != nil {
				return nil, nil, fmt.Errorf("failed to decode metadata for key %q: %w", p.Key.Name, err)
			}
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate entries: %w", err)
	}

	snap.Keys = len(pairs)
	return &snap, pairs, nil
}

// List returns every stored snapshot, newest first.
func (db *DB) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT s.id, s.namespace, s.taken_at, COUNT(e.key)
	FROM snapshots s
	LEFT JOIN entries e ON e.snapshot_id = s.id
	GROUP BY s.id
	ORDER BY s.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			s       Snapshot
			takenAt string
		)
		if err := rows.Scan(&s.ID, &s.Namespace, &takenAt, &s.Keys); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.TakenAt = parseTime(takenAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
