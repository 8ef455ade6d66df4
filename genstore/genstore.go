// Package genstore holds per-partition generations for cachestore.
//
// An entry is valid only while the generation it was written under is still
// the partition's current generation. Deleting a partition is a Bump: every
// entry of the old generation becomes invisible at once and is cleaned up
// lazily on read or by provider TTL.
//
// Generations only move forward. A store must never forget a bumped
// generation while entries written under an older one can still be read,
// so neither implementation prunes or expires them.
package genstore

import "context"

// GenStore abstracts where generations live.
// Use LocalGenStore (default) for in-process gens, or RedisGenStore when the
// partitions themselves live in Redis and must survive a restart.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, partitionKey string) (uint64, error)
	// SnapshotMany returns gens for many keys; missing => 0.
	SnapshotMany(ctx context.Context, partitionKeys []string) (map[string]uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, partitionKey string) (uint64, error)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
