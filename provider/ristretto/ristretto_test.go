package ristretto

import (
	"context"
	"testing"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for zero budget")
	}
}

func TestSetIsVisibleImmediately(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{MaxBytes: 1 << 20})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(ctx)

	ok, err := p.Set(ctx, "entry:t:vf-runtime-v1:abc", []byte("snapshot"), 0, 0)
	if err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	v, ok, err := p.Get(ctx, "entry:t:vf-runtime-v1:abc")
	if err != nil || !ok || string(v) != "snapshot" {
		t.Fatalf("Get = %q ok=%v err=%v", v, ok, err)
	}
	if err := p.Del(ctx, "entry:t:vf-runtime-v1:abc"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "entry:t:vf-runtime-v1:abc"); ok {
		t.Fatalf("entry survived Del")
	}
}

func TestOverBudgetEntryReportedNotStored(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{MaxBytes: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(ctx)

	big := make([]byte, 128)
	ok, err := p.Set(ctx, "entry:t:vf-precache-v1:img", big, 0, 0)
	if err != nil || ok {
		t.Fatalf("Set = %v, %v; want refused without error", ok, err)
	}
	if _, ok, _ := p.Get(ctx, "entry:t:vf-precache-v1:img"); ok {
		t.Fatalf("refused entry readable")
	}
	if p.Stats().Rejected == 0 {
		t.Fatalf("rejection not counted")
	}
}
