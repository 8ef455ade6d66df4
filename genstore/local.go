package genstore

import (
	"context"
	"sync"
)

// LocalGenStore keeps generations in-process. It is the default for a
// single host whose provider does not outlive the process.
type LocalGenStore struct {
	mu   sync.RWMutex
	gens map[string]uint64
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore() *LocalGenStore {
	return &LocalGenStore{gens: make(map[string]uint64)}
}

func (s *LocalGenStore) Snapshot(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gens[k], nil
}

// SnapshotMany reads all keys under one read lock.
func (s *LocalGenStore) SnapshotMany(_ context.Context, ks []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(ks))
	s.mu.RLock()
	for _, k := range ks {
		out[k] = s.gens[k]
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *LocalGenStore) Bump(_ context.Context, k string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens[k]++
	return s.gens[k], nil
}

// Len reports how many partitions have ever been bumped.
func (s *LocalGenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.gens)
}

func (s *LocalGenStore) Close(context.Context) error { return nil }
