package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

const upperhex = "0123456789ABCDEF"

const (
	// MaxFilenameLen is the longest file name written into a dump directory.
	MaxFilenameLen = 255

	// IndexFilename holds the keys of files whose escaped name was too long.
	// EscapeFilename never emits '%' followed by a non-hex byte, so neither
	// this name nor a long-key name can collide with an escaped key.
	IndexFilename = "%KVNS-INDEX.json"

	longSuffixSep = "%~"
	longHashLen   = 16
)

// DumpFilename returns the file name a key is dumped under. Keys whose
// escaped form exceeds MaxFilenameLen get a truncated name ending in
// "%~" and a hash of the key; long reports that the key must be recorded
// in the dump index to be restored.
func DumpFilename(key string) (name string, long bool) {
	name = EscapeFilename(key)
	if len(name) <= MaxFilenameLen {
		return name, false
	}

	sum := sha256.Sum256([]byte(key))
	cut := MaxFilenameLen - len(longSuffixSep) - longHashLen
	// Do not split a %XX sequence.
	switch {
	case name[cut-1] == '%':
		cut--
	case name[cut-2] == '%':
		cut -= 2
	}
	return name[:cut] + longSuffixSep + hex.EncodeToString(sum[:])[:longHashLen], true
}

// EscapeFilename maps a key name to a single safe path element.
//
// Every byte outside [A-Za-z0-9._~ -] is written as %XX, so path
// separators, reserved characters (: * ? " < > |), control bytes and '%'
// itself never reach the filesystem raw. "." and ".." are fully encoded.
func EscapeFilename(key string) string {
	switch key {
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}

	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if safeByte(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0x0f])
	}
	return b.String()
}

// UnescapeFilename is the inverse of EscapeFilename.
func UnescapeFilename(name string) (string, error) {
	key, err := url.PathUnescape(name)
	if err != nil {
		return "", fmt.Errorf("invalid dump file name %q: %w", name, err)
	}
	return key, nil
}

func safeByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '.', c == '_', c == '~', c == ' ', c == '-':
		return true
	}
	return false
}
