// Package bigcache keeps partition entries in a sharded off-heap bigcache.
//
// bigcache has one LifeWindow for every entry, so precache entries expire
// with runtime ones. Use it for hosts that can re-run install.
package bigcache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	bc "github.com/allegro/bigcache/v3"

	pr "github.com/unkn0wn-root/offlinecache/provider"
)

const shards = 64

type Config struct {
	LifeWindow    time.Duration // required
	MaxMB         int           // 0 => unbounded
	MaxEntryBytes int           // >0 refuses larger entries
}

// Stats counts entries bigcache dropped on its own.
type Stats struct {
	Expired uint64
	NoSpace uint64
}

type Provider struct {
	c        *bc.BigCache
	maxEntry int
	expired  atomic.Uint64
	noSpace  atomic.Uint64
}

var _ pr.Provider = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if cfg.LifeWindow <= 0 {
		return nil, errors.New("bigcache: LifeWindow must be positive")
	}
	maxEntry := cfg.MaxEntryBytes
	if cfg.MaxMB > 0 {
		// an entry has to fit in one shard, leave room for a second
		perShard := cfg.MaxMB << 20 / shards / 2
		if maxEntry <= 0 || maxEntry > perShard {
			maxEntry = perShard
		}
	}
	p := &Provider{maxEntry: maxEntry}
	conf := bc.DefaultConfig(cfg.LifeWindow)
	conf.Shards = shards
	conf.Verbose = false
	conf.HardMaxCacheSize = cfg.MaxMB
	conf.OnRemoveWithReason = func(_ string, _ []byte, reason bc.RemoveReason) {
		switch reason {
		case bc.Expired:
			p.expired.Add(1)
		case bc.NoSpace:
			p.noSpace.Add(1)
		}
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	p.c = c
	return p, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := p.c.Get(key)
	switch {
	case errors.Is(err, bc.ErrEntryNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return b, true, nil
}

// Set ignores cost and ttl; the LifeWindow applies.
func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	if p.maxEntry > 0 && len(value) > p.maxEntry {
		return false, nil
	}
	if err := p.c.Set(key, value); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	if err := p.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

func (p *Provider) Stats() Stats {
	return Stats{Expired: p.expired.Load(), NoSpace: p.noSpace.Load()}
}

func (p *Provider) Close(_ context.Context) error {
	return p.c.Close()
}
