// Package provider defines the byte store underneath cache partitions.
//
// cachestore owns three keyspaces in a provider: "index:<ns>" (the partition
// index), "entry:<ns>:<partition>:<hash>" (framed response snapshots) and,
// when generations live in the same Redis, "gen:<ns>:partition:..." keys.
// Foreign values under those prefixes fail frame validation and are deleted.
package provider

import (
	"context"
	"time"
)

// Provider is a byte store with TTLs, safe for concurrent use. Get must
// return exactly the bytes passed to Set: no added metadata, no transcoding.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value; ttl <= 0 means no expiry. Stores that weigh entries
	// use cost (the framed size). ok=false means the write was rejected
	// (memory pressure, size cap) and is not an error.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key. Missing keys are not an error.
	Del(ctx context.Context, key string) error

	Close(ctx context.Context) error
}
