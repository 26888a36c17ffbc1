package transfer

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/wranglekit/kvns/internal/api"
	"github.com/wranglekit/kvns/internal/kv"
)

const (
	// KeyPageSize is the number of keys requested per listing page.
	KeyPageSize = 1000

	// BulkLimit is the largest number of pairs or names sent in one bulk
	// request.
	BulkLimit = 10000

	// DefaultConcurrency bounds per-key fan-out when Config leaves it unset.
	DefaultConcurrency = 32
)

// Transport sends API requests. *api.Client satisfies it.
type Transport interface {
	Do(ctx context.Context, method, path string, query url.Values, body, out any) (*api.ResultInfo, error)
	Raw(ctx context.Context, path string) ([]byte, error)
}

// Resolver maps titles to namespace IDs. *namespace.Directory satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, title string) (string, error)
	ResolveOrCreate(ctx context.Context, title string) (string, bool, error)
}

// Config configures an Engine.
type Config struct {
	// Concurrency is the maximum number of in-flight value reads or file
	// writes within one operation (default: DefaultConcurrency).
	Concurrency int

	// Logger receives progress lines (default: discard).
	Logger *log.Logger

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Result summarizes a completed operation.
type Result struct {
	// NamespaceID is the namespace written to (or cleared, or read for dumps).
	NamespaceID string `json:"namespace_id" yaml:"namespace_id"`

	// Keys is the number of keys moved or removed.
	Keys int `json:"keys" yaml:"keys"`

	// Bytes is the summed value size moved.
	Bytes int64 `json:"bytes" yaml:"bytes"`

	// Created reports whether the destination namespace was created.
	Created bool `json:"created" yaml:"created"`

	// Duration is the wall time of the operation.
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Engine moves keys and values between namespaces and the local filesystem.
// It holds no per-operation state and is safe for concurrent use.
type Engine struct {
	client      Transport
	namespaces  Resolver
	concurrency int
	logger      *log.Logger
	now         func() time.Time
}

// New creates an Engine. cfg may be nil.
func New(client Transport, namespaces Resolver, cfg *Config) *Engine {
	if cfg == nil {
		cfg = &Config{}
	}

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		client:      client,
		namespaces:  namespaces,
		concurrency: concurrency,
		logger:      logger,
		now:         now,
	}
}

func namespacePath(nsID string) string {
	return "storage/kv/namespaces/" + url.PathEscape(nsID)
}

func valuePath(nsID, key string) string {
	return namespacePath(nsID) + "/values/" + url.PathEscape(key)
}

// ListKeys returns every key entry of a namespace.
//
// Keys are fetched in pages of KeyPageSize following the listing cursor,
// until a page comes back short or without a cursor.
func (e *Engine) ListKeys(ctx context.Context, nsID string) ([]kv.Key, error) {
	var (
		keys   []kv.Key
		cursor string
	)

	for page := 1; ; page++ {
		query := url.Values{"limit": {strconv.Itoa(KeyPageSize)}}
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var batch []kv.Key
		info, err := e.client.Do(ctx, http.MethodGet, namespacePath(nsID)+"/keys", query, nil, &batch)
		if err != nil {
			return nil, fmt.Errorf("failed to list keys of %s (page %d): %w", nsID, page, err)
		}

		keys = append(keys, batch...)

		if info != nil {
			cursor = info.Cursor
		} else {
			cursor = ""
		}
		if len(batch) < KeyPageSize || cursor == "" {
			break
		}
	}

	e.logger.Printf("Listed %d keys in %s", len(keys), nsID)
	return keys, nil
}

// FetchValues reads the value of every key concurrently.
//
// At most Concurrency reads are in flight. The first failure, including an
// empty value, cancels the remaining reads and is returned alone; no
// partial result is returned. Pairs come back in the order of keys.
func (e *Engine) FetchValues(ctx context.Context, nsID string, keys []kv.Key) ([]kv.Pair, error) {
	pairs := make([]kv.Pair, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, key := range keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			value, err := e.client.Raw(gctx, valuePath(nsID, key.Name))
			if err != nil {
				return fmt.Errorf("failed to read value of key %q: %w", key.Name, err)
			}
			if len(value) == 0 {
				return &MissingValueError{Key: key.Name}
			}

			pairs[i] = kv.Pair{Key: key, Value: value}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// FetchAll lists a namespace's keys and reads all their values.
func (e *Engine) FetchAll(ctx context.Context, nsID string) ([]kv.Pair, error) {
	keys, err := e.ListKeys(ctx, nsID)
	if err != nil {
		return nil, err
	}
	return e.FetchValues(ctx, nsID, keys)
}

type bulkWrite struct {
	Key        string         `json:"key"`
	Value      string         `json:"value"`
	Expiration int64          `json:"expiration,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Base64     bool           `json:"base64,omitempty"`
}

func toBulkWrite(p kv.Pair) bulkWrite {
	w := bulkWrite{Key: p.Key.Name, Metadata: p.Key.Metadata}
	if p.Key.Expiration != nil {
		w.Expiration = p.Key.Expiration.Unix()
	}
	if utf8.Valid(p.Value) {
		w.Value = string(p.Value)
	} else {
		w.Value = base64.StdEncoding.EncodeToString(p.Value)
		w.Base64 = true
	}
	return w
}

// Upsert writes pairs into a namespace with bulk requests of at most
// BulkLimit pairs. Nothing is sent for an empty slice.
func (e *Engine) Upsert(ctx context.Context, nsID string, pairs []kv.Pair) error {
	for start := 0; start < len(pairs); start += BulkLimit {
		end := min(start+BulkLimit, len(pairs))

		writes := make([]bulkWrite, 0, end-start)
		for _, p := range pairs[start:end] {
			writes = append(writes, toBulkWrite(p))
		}

		if _, err := e.client.Do(ctx, http.MethodPut, namespacePath(nsID)+"/bulk", nil, writes, nil); err != nil {
			return fmt.Errorf("failed to write %d keys to %s: %w", len(writes), nsID, err)
		}
	}
	return nil
}

// DeleteKeys removes keys from a namespace with bulk requests of at most
// BulkLimit names. Nothing is sent for an empty slice.
func (e *Engine) DeleteKeys(ctx context.Context, nsID string, names []string) error {
	for start := 0; start < len(names); start += BulkLimit {
		end := min(start+BulkLimit, len(names))

		if _, err := e.client.Do(ctx, http.MethodDelete, namespacePath(nsID)+"/bulk", nil, names[start:end], nil); err != nil {
			return fmt.Errorf("failed to delete %d keys from %s: %w", end-start, nsID, err)
		}
	}
	return nil
}
