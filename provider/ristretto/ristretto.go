// Package ristretto stores partition entries in a cost-bounded ristretto
// cache. Cost is the encoded entry size, so the budget is in bytes.
package ristretto

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/offlinecache/provider"
)

const (
	defaultAvgEntryBytes = 16 << 10
	minCounters          = 1000
)

// Config sizes the cache.
type Config struct {
	MaxBytes int64 // required
	// AvgEntryBytes estimates a typical response snapshot; it sizes the
	// admission counters. 0 => 16 KiB.
	AvgEntryBytes int64
}

// Stats counts entries the cache dropped on its own.
type Stats struct {
	Rejected uint64 // refused at admission
	Evicted  uint64 // pushed out by a later admission
}

// Provider is safe for concurrent use. Admission may refuse a write under
// pressure; Set then reports ok=false and cachestore treats the entry as
// not cached.
type Provider struct {
	c        *rc.Cache
	rejected atomic.Uint64
	evicted  atomic.Uint64
}

var _ pr.Provider = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if cfg.MaxBytes <= 0 {
		return nil, errors.New("ristretto: MaxBytes must be positive")
	}
	avg := cfg.AvgEntryBytes
	if avg <= 0 {
		avg = defaultAvgEntryBytes
	}
	p := &Provider{}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: max(10*cfg.MaxBytes/avg, minCounters),
		MaxCost:     cfg.MaxBytes,
		BufferItems: 64,
		OnReject:    func(*rc.Item) { p.rejected.Add(1) },
		OnEvict:     func(*rc.Item) { p.evicted.Add(1) },
	})
	if err != nil {
		return nil, err
	}
	p.c = c
	return p, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

// Set reports whether the entry was actually admitted. ristretto accepts
// writes into a buffer and may reject them later, so Set drains the buffer
// and checks.
func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if cost <= 0 {
		cost = int64(len(value))
	}
	if !p.c.SetWithTTL(key, value, cost, max(ttl, 0)) {
		p.rejected.Add(1)
		return false, nil
	}
	p.c.Wait()
	_, ok := p.c.Get(key)
	return ok, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

func (p *Provider) Stats() Stats {
	return Stats{Rejected: p.rejected.Load(), Evicted: p.evicted.Load()}
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}
