// Package storage implements the on-disk render cache.
//
// # Layout
//
// Every entry is a directory keyed by its identifier:
//
//	<store-root>/<shard>/<name>/img.svg          source document
//	<store-root>/<shard>/<name>/<resource-name>  attached resources
//	<store-root>/<shard>/<name>/img.png          cached render (optional)
//
// The cached PNG is derived data. It is written on the first Read after a
// miss and removed whenever its inputs change or it grows older than the
// configured TTL.
//
// # Consistency
//
// All writes go to a hidden temporary file in the entry directory and are
// committed with rename(2), so readers never observe a partially written
// source, resource or render. Mutations remove the cached PNG before they
// commit, so a reader that misses the cache renders from the new inputs.
//
// Within one process FileStore additionally:
//
//   - serializes mutations and render persistence per entry, so a render that
//     started before an invalidation cannot persist a stale PNG afterwards
//   - collapses concurrent cache misses for the same entry into one render
//     (golang.org/x/sync/singleflight)
//
// Operations on different entries never wait on each other.
//
// # Eviction
//
// Sweeper walks the tree on a fixed interval and deletes cached PNGs whose
// modification time is older than the TTL. Sources and resources are never
// touched, so the next Read re-renders.
package storage
