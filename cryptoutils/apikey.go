package cryptoutils

import (
	"crypto/sha256"
	"crypto/subtle"
)

// KeyMatches reports whether presented equals expected. Both sides are hashed
// first so the comparison time does not depend on the key length either.
func KeyMatches(expected, presented string) bool {
	if expected == "" || presented == "" {
		return false
	}
	e := sha256.Sum256([]byte(expected))
	p := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(e[:], p[:]) == 1
}
