package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// EntryKey returns prefix + ":" + the first 32 hex chars of sha256(identity).
// Request identities carry full URLs; hashing keeps provider keys bounded.
func EntryKey(prefix, identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return prefix + ":" + hex.EncodeToString(sum[:16])
}
