// Package cryptoutils provides the hashing and secret-comparison primitives
// used by the social-image service.
//
// # Entry Identifiers
//
// Identifiers are SHA-256 digests encoded in base-58 and left-padded to
// interfaces.IDLength characters:
//
//	GenerateUniqueID(content)  = base58(sha256(salt[32] || content))
//	GenerateContentID(content) = base58(sha256(content))
//
// The unique form draws a fresh 256-bit salt from crypto/rand on every call,
// so two uploads of the same bytes never collide. The content form is a pure
// function of its input and is used to deduplicate uploads.
//
// # API Keys
//
// KeyMatches compares a presented API key against the configured one in
// constant time.
package cryptoutils
