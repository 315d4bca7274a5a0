package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// contextKeys are injected by the wrappers and excluded from signatures so
// that retries and parallel calls hash identically regardless of ambient
// context.
var contextKeys = map[string]bool{
	"user_id":       true,
	"session_id":    true,
	"mode":          true,
	"is_background": true,
}

// Signature returns the deterministic 16-hex-char id for a tool invocation:
// a hash of the tool name plus the sorted-key JSON serialisation of the
// non-context kwargs. Stable under key-order permutation.
func Signature(toolName string, kwargs map[string]any) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write(canonicalJSON(kwargs))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// SignatureFromRaw computes the signature from raw JSON tool input.
// Non-object input hashes as-is.
func SignatureFromRaw(toolName string, input json.RawMessage) string {
	var kwargs map[string]any
	if err := json.Unmarshal(input, &kwargs); err != nil {
		h := sha256.New()
		h.Write([]byte(toolName))
		h.Write(input)
		return hex.EncodeToString(h.Sum(nil))[:16]
	}
	return Signature(toolName, kwargs)
}

func canonicalJSON(kwargs map[string]any) []byte {
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		if contextKeys[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(canonicalValue(kwargs[k]))
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	return append(buf, '}')
}

// canonicalValue normalises nested maps; encoding/json already sorts map
// keys during Marshal, so nested objects are stable without extra work.
func canonicalValue(v any) any { return v }
