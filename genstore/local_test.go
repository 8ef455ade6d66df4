package genstore

import (
	"context"
	"sync"
	"testing"
)

func TestLocalSnapshotManyZeroForMissing(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore()

	for range 2 {
		if _, err := s.Bump(ctx, "partition:app:vf-runtime-v1"); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.SnapshotMany(ctx, []string{"partition:app:vf-precache-v1", "partition:app:vf-runtime-v1"})
	if err != nil {
		t.Fatal(err)
	}
	if got["partition:app:vf-precache-v1"] != 0 || got["partition:app:vf-runtime-v1"] != 2 {
		t.Fatalf("got=%v", got)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestLocalBumpInvalidatesObservedGen(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore()

	before, _ := s.Snapshot(ctx, "partition:app:vf-runtime-v1")
	after, err := s.Bump(ctx, "partition:app:vf-runtime-v1")
	if err != nil {
		t.Fatal(err)
	}
	if after == before {
		t.Fatalf("bump did not move generation: %d", after)
	}
	if other, _ := s.Snapshot(ctx, "partition:app:vf-precache-v1"); other != 0 {
		t.Fatalf("bump leaked into another partition: %d", other)
	}
}

func TestLocalConcurrentBumpsAreCounted(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Bump(ctx, "k")
		}()
	}
	wg.Wait()
	if g, _ := s.Snapshot(ctx, "k"); g != 50 {
		t.Fatalf("gen = %d, want 50", g)
	}
}
