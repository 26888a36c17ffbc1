package kv

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var parser = newParser()

func newParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseExpiration turns user input into an absolute expiration time.
//
// Accepted forms, tried in order: RFC3339 ("2026-01-02T15:04:05Z"), a Go
// duration relative to now ("90m", "24h"), and natural language
// ("in 2 hours", "tomorrow at 9am"). The result must lie in the future.
func ParseExpiration(input string, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Time{}, fmt.Errorf("expiration is empty")
	}

	var t time.Time
	if parsed, err := time.Parse(time.RFC3339, input); err == nil {
		t = parsed
	} else if d, err := time.ParseDuration(input); err == nil {
		t = now.Add(d)
	} else {
		r, err := parser.Parse(input, now)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse expiration %q: %w", input, err)
		}
		if r == nil {
			return time.Time{}, fmt.Errorf("could not understand expiration %q", input)
		}
		t = r.Time
	}

	if !t.After(now) {
		return time.Time{}, fmt.Errorf("expiration %q is not in the future", input)
	}
	return t.UTC(), nil
}
