// Package interfaces defines the core interfaces and types for the
// social-image render cache, separating contracts from their implementations.
//
// # Identifiers
//
// EntryID names one entry of the on-disk store. It is a fixed-length base-58
// string split into a 2-character shard and a 42-character name, which map to
// the directories <store-root>/<shard>/<name>/. Identifiers are produced by
// the cryptoutils package in one of two modes:
//
//   - IDModeUnique: hash of a random salt and the content, fresh per upload
//   - IDModeContent: hash of the content alone, identical input deduplicates
//
// # Storage Interfaces
//
//   - ImageStore: read-through cache over SVG sources, resources and renders
//
// # Rendering Interfaces
//
//   - Rasterizer: turns SVG bytes plus a resource directory into pixels
//   - ImageEncoder: serializes pixels (PNG in production)
//   - Renderer: the full SVG + resources to PNG bytes pipeline
//
// # Errors
//
// Every operation reports failures that match exactly one of ErrNotFound,
// ErrInvalidInput, ErrRenderFailure or ErrStorageIO via errors.Is, so
// transports can map them to status codes without inspecting messages.
package interfaces
