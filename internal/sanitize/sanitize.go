// Package sanitize normalises tool output before it crosses the socket or
// re-enters model context: ANSI noise stripped, invalid UTF-8 replaced, and
// oversized fields truncated without losing JSON structure.
package sanitize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxFieldBytes caps individual string fields inside JSON structures.
	MaxFieldBytes = 10 * 1024

	// DefaultMaxOutputBytes caps whole text outputs.
	DefaultMaxOutputBytes = 50 * 1024
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*(\x07|\x1b\\)`)

// Clean strips ANSI escape sequences and NUL bytes and re-encodes the input
// as valid UTF-8, replacing invalid bytes.
func Clean(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return s
}

// Truncate caps s at limit bytes, cutting on a rune boundary and appending a
// marker with the omitted byte count. A limit <= 0 uses DefaultMaxOutputBytes.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n... [truncated %d bytes]", len(s)-cut)
}

// TruncateJSONFields walks an arbitrary decoded JSON value and truncates
// every string field longer than MaxFieldBytes, preserving the surrounding
// structure so nested keys remain navigable.
func TruncateJSONFields(v any) any {
	return truncateFields(v, MaxFieldBytes)
}

func truncateFields(v any, limit int) any {
	switch val := v.(type) {
	case string:
		return Truncate(Clean(val), limit)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = truncateFields(item, limit)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = truncateFields(item, limit)
		}
		return out
	default:
		return v
	}
}

// ForSocket prepares a tool output string for the socket path: cleaned,
// JSON-field-truncated when the payload is JSON, and validated to round-trip
// through the encoder. The model-facing copy is never truncated here.
func ForSocket(output string) string {
	output = Clean(output)

	var decoded any
	if err := json.Unmarshal([]byte(output), &decoded); err == nil {
		truncated := truncateFields(decoded, MaxFieldBytes)
		if b, err := json.Marshal(truncated); err == nil {
			return string(b)
		}
	}

	return Truncate(output, DefaultMaxOutputBytes)
}

// ValidEnvelope reports whether the payload survives a JSON round-trip.
func ValidEnvelope(payload []byte) bool {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return false
	}
	_, err := json.Marshal(v)
	return err == nil
}
