package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisGenStore keeps partition generations next to Redis-backed entries so
// a restarted host (or a second host sharing the Redis) agrees on which
// partitions were deleted. Generation keys never expire.
type RedisGenStore struct {
	rdb redis.UniversalClient
	ns  string // should match cachestore Options.Namespace
}

var _ GenStore = (*RedisGenStore)(nil)

func NewRedisGenStore(client redis.UniversalClient, namespace string) *RedisGenStore {
	return &RedisGenStore{rdb: client, ns: namespace}
}

func (s *RedisGenStore) key(k string) string { return "gen:" + s.ns + ":" + k }

func (s *RedisGenStore) Snapshot(ctx context.Context, partitionKey string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(partitionKey)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parseGen(partitionKey, res)
}

// SnapshotMany reads every key with one MGET. Missing keys map to 0.
func (s *RedisGenStore) SnapshotMany(ctx context.Context, partitionKeys []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(partitionKeys))
	if len(partitionKeys) == 0 {
		return out, nil
	}
	keys := make([]string, len(partitionKeys))
	for i, k := range partitionKeys {
		keys[i] = s.key(k)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if v == nil {
			out[partitionKeys[i]] = 0
			continue
		}
		g, err := parseGen(partitionKeys[i], fmt.Sprint(v))
		if err != nil {
			return nil, err
		}
		out[partitionKeys[i]] = g
	}
	return out, nil
}

func (s *RedisGenStore) Bump(ctx context.Context, partitionKey string) (uint64, error) {
	v, err := s.rdb.Incr(ctx, s.key(partitionKey)).Result()
	if err != nil {
		return 0, err
	}
	return uint64(v), nil
}

// Close is a no-op: the client is shared with the Redis provider, which owns it.
func (s *RedisGenStore) Close(context.Context) error { return nil }

func parseGen(key, v string) (uint64, error) {
	u, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis gen parse at %s: %w", key, err)
	}
	return u, nil
}
