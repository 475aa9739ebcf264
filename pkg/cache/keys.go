package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// keyHashLen is the number of hex characters kept from the SHA-256
// digest. 32 hex chars (128 bits) keeps keys short while leaving
// collisions out of practical reach.
const keyHashLen = 32

var whitespaceRegex = regexp.MustCompile(`\s+`)

// MakeKey derives a deterministic cache key from a namespace, a primary
// input, and optional context fields. The primary input is normalized
// (lowercased, trimmed, inner whitespace collapsed) and the context is
// serialized with sorted keys, so two logically equivalent requests
// produce the same key regardless of field order.
//
// The returned key is "<namespace>:<hash>". MakeKey is side-effect-free
// and never fails.
func MakeKey(namespace, primary string, context map[string]interface{}) string {
	material := namespace + ":" + NormalizeQuery(primary) + ":" + canonicalContext(context)
	sum := sha256.Sum256([]byte(material))
	return namespace + ":" + hex.EncodeToString(sum[:])[:keyHashLen]
}

// NormalizeQuery lowercases, trims, and collapses whitespace so that
// cosmetic differences between queries do not fragment the cache.
func NormalizeQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	return whitespaceRegex.ReplaceAllString(normalized, " ")
}

// canonicalContext serializes context fields with sorted keys.
// encoding/json sorts map keys at every nesting level, which is exactly
// the canonical form the key derivation needs. Unserializable values
// degrade to their fmt representation rather than failing: key
// generation has no error path.
func canonicalContext(context map[string]interface{}) string {
	if len(context) == 0 {
		return ""
	}
	data, err := json.Marshal(context)
	if err != nil {
		return fmt.Sprintf("%v", context)
	}
	return string(data)
}
