// Package kv holds the data types moved between namespaces: key entries
// and key/value pairs.
package kv

import (
	"encoding/json"
	"fmt"
	"time"
)

// Key describes one stored item without its value.
type Key struct {
	Name       string
	Expiration *time.Time
	Metadata   map[string]any
}

type keyJSON struct {
	Name       string         `json:"name"`
	Expiration int64          `json:"expiration,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// MarshalJSON encodes the expiration as unix seconds, as the API does.
func (k Key) MarshalJSON() ([]byte, error) {
	w := keyJSON{Name: k.Name, Metadata: k.Metadata}
	if k.Expiration != nil {
		w.Expiration = k.Expiration.Unix()
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the API's key listing entry.
func (k *Key) UnmarshalJSON(data []byte) error {
	var w keyJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("failed to decode key entry: %w", err)
	}
	k.Name = w.Name
	k.Metadata = w.Metadata
	k.Expiration = nil
	if w.Expiration != 0 {
		t := time.Unix(w.Expiration, 0).UTC()
		k.Expiration = &t
	}
	return nil
}

// Pair is a key with the value read for it.
type Pair struct {
	Key   Key
	Value []byte
}

// Names returns the key names in order.
func Names(keys []Key) []string {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.Name
	}
	return names
}

// Size returns the summed value length of pairs.
func Size(pairs []Pair) int64 {
	var n int64
	for _, p := range pairs {
		n += int64(len(p.Value))
	}
	return n
}
