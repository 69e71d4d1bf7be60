package cryptoutils

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/ruteri/social-image/interfaces"
)

// SaltSize is the number of random bytes mixed into unique identifiers.
const SaltSize = 32

// GenerateUniqueID derives a fresh identifier from content and a random salt.
// It only fails if the system entropy source fails.
func GenerateUniqueID(content []byte) (interfaces.EntryID, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to read entropy: %w", err)
	}

	h := sha256.New()
	h.Write(salt)
	h.Write(content)
	return encodeID(h.Sum(nil)), nil
}

// GenerateContentID derives the identifier of content alone.
func GenerateContentID(content []byte) interfaces.EntryID {
	sum := sha256.Sum256(content)
	return encodeID(sum[:])
}

// GenerateID dispatches on mode.
func GenerateID(content []byte, mode interfaces.IDMode) (interfaces.EntryID, error) {
	switch mode {
	case interfaces.IDModeUnique:
		return GenerateUniqueID(content)
	case interfaces.IDModeContent:
		return GenerateContentID(content), nil
	default:
		return "", fmt.Errorf("%w: unknown id mode %d", interfaces.ErrInvalidInput, mode)
	}
}

func encodeID(digest []byte) interfaces.EntryID {
	enc := base58.Encode(digest)
	if pad := interfaces.IDLength - len(enc); pad > 0 {
		enc = strings.Repeat("1", pad) + enc
	}
	return interfaces.EntryID(enc)
}
