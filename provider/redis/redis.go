// Package redis stores partition entries in Redis, so the runtime and
// precache partitions survive a host restart and can be shared by several
// hosts in front of the same origin.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/offlinecache/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

type Redis struct {
	rdb         goredis.UniversalClient
	prefix      string
	maxValue    int
	closeClient bool
}

var _ pr.Provider = (*Redis)(nil)

type Config struct {
	Client goredis.UniversalClient
	// Prefix is prepended to every key, e.g. "lots:" to share a database.
	Prefix string
	// MaxValueBytes > 0 rejects larger values (Set returns ok=false) instead
	// of pushing large response bodies over the wire.
	MaxValueBytes int
	CloseClient   bool // set true only if this provider exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{
		rdb:         cfg.Client,
		prefix:      cfg.Prefix,
		maxValue:    cfg.MaxValueBytes,
		closeClient: cfg.CloseClient,
	}, nil
}

func (p *Redis) key(k string) string { return p.prefix + k }

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, p.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set treats ttl <= 0 as "no expiry"; precache entries are written that way.
func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if p.maxValue > 0 && len(value) > p.maxValue {
		return false, nil
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := p.rdb.Set(ctx, p.key(key), value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Redis) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, p.key(key)).Err()
}

// Close releases the client only when this provider owns it. Repeated calls
// are no-ops.
func (p *Redis) Close(context.Context) error {
	if !p.closeClient {
		return nil
	}
	if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
