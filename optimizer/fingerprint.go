package optimizer

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint derives the deterministic cache key for a request. The
// query is normalized (trimmed, lowercased, inner whitespace collapsed)
// and combined with the caller-selected context fields in sorted key
// order, so semantically identical requests map to the same key
// regardless of field ordering or incidental whitespace.
func Fingerprint(query string, strategy Strategy, context map[string]string) string {
	h := sha256.New()
	h.Write([]byte(normalizeQuery(query)))
	h.Write([]byte{0})
	h.Write([]byte(strategy))

	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(context[k]))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// normalizeQuery collapses runs of whitespace to single spaces and
// lowercases the result.
func normalizeQuery(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}
