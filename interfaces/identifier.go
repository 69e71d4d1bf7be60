package interfaces

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// IDLength is the length of every EntryID string. A base-58 encoding of a
	// 32-byte hash is at most 44 characters; shorter encodings are left-padded
	// with the zero digit.
	IDLength = 44

	// ShardLength is the number of leading characters used as the shard
	// directory. 58^2 shards bound the fan-out of the store root.
	ShardLength = 2

	// Base58Alphabet is the Bitcoin alphabet. It has no path separators and
	// omits the ambiguous 0, O, I and l.
	Base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
)

// IDMode selects how an identifier is derived from uploaded content.
type IDMode int

const (
	// IDModeUnique salts the content hash so every upload gets a fresh entry.
	IDModeUnique IDMode = iota
	// IDModeContent hashes the content alone so identical uploads share an entry.
	IDModeContent
)

// String returns the mode name used in query parameters and logs.
func (m IDMode) String() string {
	switch m {
	case IDModeUnique:
		return "unique"
	case IDModeContent:
		return "content"
	default:
		return "unknown"
	}
}

// ParseIDMode parses "unique" (or an empty string) and "content".
func ParseIDMode(s string) (IDMode, error) {
	switch strings.ToLower(s) {
	case "", "unique":
		return IDModeUnique, nil
	case "content":
		return IDModeContent, nil
	default:
		return 0, fmt.Errorf("%w: unknown id mode %q", ErrInvalidInput, s)
	}
}

// EntryID identifies one entry of the store.
type EntryID string

// ParseEntryID validates s as a full identifier.
func ParseEntryID(s string) (EntryID, error) {
	if len(s) != IDLength {
		return "", fmt.Errorf("%w: identifier must be %d characters, got %d", ErrInvalidInput, IDLength, len(s))
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(Base58Alphabet, s[i]) < 0 {
			return "", fmt.Errorf("%w: identifier contains invalid character %q", ErrInvalidInput, s[i])
		}
	}
	return EntryID(s), nil
}

// ParseEntryPath validates the shard and name halves of an identifier, as they
// appear in /images/{shard}/{name}.
func ParseEntryPath(shard, name string) (EntryID, error) {
	if len(shard) != ShardLength {
		return "", fmt.Errorf("%w: shard must be %d characters", ErrInvalidInput, ShardLength)
	}
	return ParseEntryID(shard + name)
}

// Shard returns the directory fan-out segment.
func (id EntryID) Shard() string {
	return string(id[:ShardLength])
}

// Name returns the part of the identifier after the shard.
func (id EntryID) Name() string {
	return string(id[ShardLength:])
}

// Path returns "<shard>/<name>", the identifier as it appears in URLs.
func (id EntryID) Path() string {
	return id.Shard() + "/" + id.Name()
}

// Dir returns the entry directory under root.
func (id EntryID) Dir(root string) string {
	return filepath.Join(root, id.Shard(), id.Name())
}

// String returns the raw identifier.
func (id EntryID) String() string {
	return string(id)
}
