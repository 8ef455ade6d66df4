// Package cachestore implements named cache partitions over a provider-agnostic
// byte store.
//
// Components:
//   - Provider: byte store with TTL (memory, Ristretto, BigCache, Redis).
//   - Codec[Entry]: (de)serializes stored response snapshots.
//   - GenStore: one generation per partition. Deleting a partition bumps it.
//
// Keys:
//
//	index:<ns>                          - partition names + generations (bulk frame)
//	partition:<ns>:<name>               - generation key (in the GenStore)
//	entry:<ns>:<name>:<hash(identity)>  - one response snapshot (single frame)
//
// Every entry is framed with the generation of its partition at write time.
// A read whose frame generation differs from the partition's current one is a
// miss and the entry is deleted (self-heal), so a purged partition disappears
// atomically no matter how many entries it had.
package cachestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/unkn0wn-root/offlinecache/codec"
	"github.com/unkn0wn-root/offlinecache/fetch"
	gen "github.com/unkn0wn-root/offlinecache/genstore"
	"github.com/unkn0wn-root/offlinecache/internal/util"
	"github.com/unkn0wn-root/offlinecache/internal/wire"
	pr "github.com/unkn0wn-root/offlinecache/provider"
)

var ErrUnknownPartition = errors.New("cachestore: unknown partition")

// Entry is what a partition stores per request identity.
type Entry struct {
	Key      string         `json:"key" cbor:"1,keyasint" msgpack:"key"`
	Response fetch.Response `json:"response" cbor:"2,keyasint" msgpack:"response"`
	StoredAt time.Time      `json:"stored_at" cbor:"3,keyasint" msgpack:"stored_at"`
}

// Storage is the set of named partitions.
type Storage interface {
	// Open returns the named partition, creating it if absent.
	Open(ctx context.Context, name string) (Partition, error)
	Has(ctx context.Context, name string) (bool, error)
	// Keys lists partition names in lexical order.
	Keys(ctx context.Context) ([]string, error)
	// Delete drops a partition and every entry in it. Reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
	Close(ctx context.Context) error
}

// Partition maps request identities (fetch.Key) to response snapshots.
type Partition interface {
	Name() string
	Match(ctx context.Context, key string) (fetch.Response, bool, error)
	Put(ctx context.Context, key string, resp fetch.Response) error
	Delete(ctx context.Context, key string) error
}

// Hooks receives storage-level events. Implementations must be cheap.
type Hooks interface {
	// An entry was dropped on read.
	// reason ∈ {"corrupt", "gen_mismatch", "decode", "key_mismatch"}
	SelfHeal(storageKey, reason string)
	// Provider returned ok=false on Set (backpressure/eviction).
	SetRejected(storageKey string)
}

type NopHooks struct{}

func (NopHooks) SelfHeal(string, string) {}
func (NopHooks) SetRejected(string)      {}

type SetCostFunc func(key string, raw []byte) int64

// Options configure a Storage. Only Namespace and Provider are required.
type Options struct {
	Namespace string
	Provider  pr.Provider

	Codec          codec.Codec[Entry]                   // nil => CBOR
	GenStore       gen.GenStore                         // nil => in-process generations
	TTL            func(partition string) time.Duration // nil or 0 => no expiry
	MaxEntryBytes  int                                  // >0 caps decoded entry size
	ComputeSetCost SetCostFunc                          // nil => len(raw)
	Hooks          Hooks                                // nil => NopHooks
	Now            func() time.Time                     // nil => time.Now
}

type storage struct {
	ns       string
	provider pr.Provider
	codec    codec.Codec[Entry]
	gen      gen.GenStore
	ttl      func(string) time.Duration
	cost     SetCostFunc
	hooks    Hooks
	now      func() time.Time

	mu     sync.Mutex
	loaded bool
	index  map[string]uint64 // partition name -> generation it lives under
}

var _ Storage = (*storage)(nil)

func New(opts Options) (Storage, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("cachestore: provider is required")
	}
	if strings.TrimSpace(opts.Namespace) == "" {
		return nil, fmt.Errorf("cachestore: namespace is required")
	}

	s := &storage{
		ns:       opts.Namespace,
		provider: opts.Provider,
		codec:    opts.Codec,
		gen:      opts.GenStore,
		ttl:      opts.TTL,
		cost:     opts.ComputeSetCost,
		hooks:    opts.Hooks,
		now:      opts.Now,
		index:    make(map[string]uint64),
	}
	if s.codec == nil {
		c, err := codec.NewCBOR[Entry]()
		if err != nil {
			return nil, fmt.Errorf("cachestore: cbor codec: %w", err)
		}
		s.codec = c
	}
	if opts.MaxEntryBytes > 0 {
		s.codec = codec.LimitCodec[Entry]{Inner: s.codec, MaxDecode: opts.MaxEntryBytes}
	}
	if s.gen == nil {
		s.gen = gen.NewLocalGenStore()
	}
	if s.ttl == nil {
		s.ttl = func(string) time.Duration { return 0 }
	}
	if s.cost == nil {
		s.cost = func(_ string, raw []byte) int64 { return int64(len(raw)) }
	}
	if s.hooks == nil {
		s.hooks = NopHooks{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *storage) Open(ctx context.Context, name string) (Partition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("cachestore: partition name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return nil, err
	}
	if _, ok := s.index[name]; ok {
		return &partition{s: s, name: name}, nil
	}
	g, err := s.gen.Snapshot(ctx, s.genKey(name))
	if err != nil {
		return nil, fmt.Errorf("cachestore: snapshot %q: %w", name, err)
	}
	s.index[name] = g
	if err := s.saveLocked(ctx); err != nil {
		delete(s.index, name)
		return nil, err
	}
	return &partition{s: s, name: name}, nil
}

func (s *storage) Has(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return false, err
	}
	_, ok := s.index[name]
	return ok, nil
}

func (s *storage) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(s.index))
	for n := range s.index {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *storage) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return false, err
	}
	if _, ok := s.index[name]; !ok {
		return false, nil
	}
	if _, err := s.gen.Bump(ctx, s.genKey(name)); err != nil {
		return false, fmt.Errorf("cachestore: bump %q: %w", name, err)
	}
	delete(s.index, name)
	if err := s.saveLocked(ctx); err != nil {
		return true, err
	}
	return true, nil
}

func (s *storage) Close(ctx context.Context) error {
	// gen store first (best effort)
	_ = s.gen.Close(ctx)
	return s.provider.Close(ctx)
}

// generation returns the current generation of an indexed partition.
func (s *storage) generation(ctx context.Context, name string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return 0, false, err
	}
	g, ok := s.index[name]
	return g, ok, nil
}

// loadLocked reads the persisted index once. Index items whose generation no
// longer matches the GenStore belong to partitions deleted by another process.
func (s *storage) loadLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	raw, ok, err := s.provider.Get(ctx, s.indexKey())
	if err != nil {
		return fmt.Errorf("cachestore: load index: %w", err)
	}
	if ok {
		items, err := wire.DecodeIndex(raw)
		if err != nil {
			s.hooks.SelfHeal(s.indexKey(), "corrupt")
			_ = s.provider.Del(ctx, s.indexKey())
		} else {
			keys := make([]string, len(items))
			for i, it := range items {
				keys[i] = s.genKey(it.Name)
			}
			gens, err := s.gen.SnapshotMany(ctx, keys)
			if err != nil {
				return fmt.Errorf("cachestore: snapshot index: %w", err)
			}
			for _, it := range items {
				if gens[s.genKey(it.Name)] == it.Gen {
					s.index[it.Name] = it.Gen
				}
			}
		}
	}
	s.loaded = true
	return nil
}

func (s *storage) saveLocked(ctx context.Context) error {
	if len(s.index) == 0 {
		if err := s.provider.Del(ctx, s.indexKey()); err != nil {
			return fmt.Errorf("cachestore: save index: %w", err)
		}
		return nil
	}
	names := make([]string, 0, len(s.index))
	for n := range s.index {
		names = append(names, n)
	}
	sort.Strings(names)
	items := make([]wire.IndexItem, 0, len(names))
	for _, n := range names {
		items = append(items, wire.IndexItem{Name: n, Gen: s.index[n]})
	}
	b, err := wire.EncodeIndex(items)
	if err != nil {
		return fmt.Errorf("cachestore: encode index: %w", err)
	}
	ok, err := s.provider.Set(ctx, s.indexKey(), b, s.cost(s.indexKey(), b), 0)
	if err != nil {
		return fmt.Errorf("cachestore: save index: %w", err)
	}
	if !ok {
		// the in-memory index stays authoritative for this process
		s.hooks.SetRejected(s.indexKey())
	}
	return nil
}

func (s *storage) indexKey() string { return "index:" + s.ns }

func (s *storage) genKey(name string) string { return "partition:" + s.ns + ":" + name }

func (s *storage) entryKey(name, identity string) string {
	return util.EntryKey("entry:"+s.ns+":"+name, identity)
}

type partition struct {
	s    *storage
	name string
}

func (p *partition) Name() string { return p.name }

func (p *partition) Match(ctx context.Context, key string) (fetch.Response, bool, error) {
	g, ok, err := p.s.generation(ctx, p.name)
	if err != nil || !ok {
		return fetch.Response{}, false, err
	}
	k := p.s.entryKey(p.name, key)
	raw, ok, err := p.s.provider.Get(ctx, k)
	if err != nil || !ok {
		return fetch.Response{}, false, err
	}
	frameGen, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		p.selfHeal(ctx, k, "corrupt")
		return fetch.Response{}, false, nil
	}
	if frameGen != g {
		p.selfHeal(ctx, k, "gen_mismatch")
		return fetch.Response{}, false, nil
	}
	e, err := p.s.codec.Decode(payload)
	if err != nil {
		p.selfHeal(ctx, k, "decode")
		return fetch.Response{}, false, nil
	}
	if e.Key != key {
		// hash collision: the slot belongs to another identity
		p.s.hooks.SelfHeal(k, "key_mismatch")
		return fetch.Response{}, false, nil
	}
	return e.Response.Clone(), true, nil
}

func (p *partition) Put(ctx context.Context, key string, resp fetch.Response) error {
	g, ok, err := p.s.generation(ctx, p.name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPartition, p.name)
	}
	payload, err := p.s.codec.Encode(Entry{Key: key, Response: resp.Clone(), StoredAt: p.s.now().UTC()})
	if err != nil {
		return fmt.Errorf("cachestore: encode entry: %w", err)
	}
	k := p.s.entryKey(p.name, key)
	wireb := wire.EncodeEntry(g, payload)
	ok, err = p.s.provider.Set(ctx, k, wireb, p.s.cost(k, wireb), p.s.ttl(p.name))
	if err != nil {
		return fmt.Errorf("cachestore: put %s: %w", key, err)
	}
	if !ok {
		p.s.hooks.SetRejected(k)
	}
	return nil
}

func (p *partition) Delete(ctx context.Context, key string) error {
	return p.s.provider.Del(ctx, p.s.entryKey(p.name, key))
}

func (p *partition) selfHeal(ctx context.Context, storageKey, reason string) {
	_ = p.s.provider.Del(ctx, storageKey)
	p.s.hooks.SelfHeal(storageKey, reason)
}
