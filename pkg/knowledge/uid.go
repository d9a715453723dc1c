package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// MakeUID creates a deterministic identifier from a prefix and semantic
// components. The same inputs always produce the same output, which makes
// the UID the sole deduplication key for units and templates.
//
// The identifier is the SHA-256 digest of the colon-joined
// "prefix:component:component..." string, rendered as a 64-character
// hexadecimal string.
func MakeUID(prefix string, components ...string) string {
	payload := prefix + ":" + strings.Join(components, ":")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
