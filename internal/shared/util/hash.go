package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// ShortHash returns the first n bytes of the SHA-256 of s, hex encoded.
// n <= 0 or n > 32 returns the full digest.
func ShortHash(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	if n <= 0 || n > len(sum) {
		n = len(sum)
	}
	return hex.EncodeToString(sum[:n])
}
