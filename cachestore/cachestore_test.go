package cachestore

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/offlinecache/fetch"
	gen "github.com/unkn0wn-root/offlinecache/genstore"
	"github.com/unkn0wn-root/offlinecache/internal/util"
	"github.com/unkn0wn-root/offlinecache/internal/wire"
	"github.com/unkn0wn-root/offlinecache/provider/memory"
)

type recHooks struct {
	mu       sync.Mutex
	heals    map[string]int
	rejected int
}

func (h *recHooks) SelfHeal(_ string, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.heals == nil {
		h.heals = map[string]int{}
	}
	h.heals[reason]++
}

func (h *recHooks) SetRejected(string) {
	h.mu.Lock()
	h.rejected++
	h.mu.Unlock()
}

func newStorage(t *testing.T, p *memory.Provider, g gen.GenStore, h Hooks) Storage {
	t.Helper()
	s, err := New(Options{Namespace: "app", Provider: p, GenStore: g, Hooks: h})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func page(body string) fetch.Response {
	return fetch.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/html"}},
		Body:   []byte(body),
		URL:    "http://app.local/",
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t, memory.New(), nil, nil)

	for i := 0; i < 3; i++ {
		if _, err := s.Open(ctx, "vf-precache-v1"); err != nil {
			t.Fatalf("Open: %v", err)
		}
	}
	names, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(names) != 1 || names[0] != "vf-precache-v1" {
		t.Fatalf("Keys = %v", names)
	}
	if _, err := s.Open(ctx, "  "); err == nil {
		t.Fatalf("blank partition name must be rejected")
	}
}

func TestPutMatchRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t, memory.New(), nil, nil)
	p, err := s.Open(ctx, "vf-runtime-v1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key := fetch.Key(http.MethodGet, "http://app.local/")

	if _, ok, err := p.Match(ctx, key); err != nil || ok {
		t.Fatalf("empty partition: ok=%v err=%v", ok, err)
	}
	if err := p.Put(ctx, key, page("<h1>lots</h1>")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := p.Match(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Match: ok=%v err=%v", ok, err)
	}
	if got.Status != 200 || string(got.Body) != "<h1>lots</h1>" || got.Header.Get("Content-Type") != "text/html" {
		t.Fatalf("got %+v", got)
	}

	// returned snapshot is a copy
	got.Body[0] = 'X'
	again, _, _ := p.Match(ctx, key)
	if string(again.Body) != "<h1>lots</h1>" {
		t.Fatalf("stored body was mutated through a returned snapshot")
	}

	if err := p.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := p.Match(ctx, key); ok {
		t.Fatalf("entry still present after Delete")
	}
}

func TestPartitionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t, memory.New(), nil, nil)
	pre, _ := s.Open(ctx, "vf-precache-v1")
	run, _ := s.Open(ctx, "vf-runtime-v1")
	key := fetch.Key("", "http://app.local/offline.html")

	if err := pre.Put(ctx, key, page("offline")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok, _ := run.Match(ctx, key); ok {
		t.Fatalf("runtime sees a precache entry")
	}
}

func TestDeleteDropsEntriesAndReopenIsEmpty(t *testing.T) {
	ctx := context.Background()
	h := &recHooks{}
	s := newStorage(t, memory.New(), nil, h)
	p, _ := s.Open(ctx, "vf-runtime-v0")
	key := fetch.Key("", "http://app.local/static/css/app.min.css?v=v0")
	if err := p.Put(ctx, key, page("css")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	existed, err := s.Delete(ctx, "vf-runtime-v0")
	if err != nil || !existed {
		t.Fatalf("Delete: existed=%v err=%v", existed, err)
	}
	if ok, _ := s.Has(ctx, "vf-runtime-v0"); ok {
		t.Fatalf("partition still listed")
	}
	if _, ok, _ := p.Match(ctx, key); ok {
		t.Fatalf("stale handle still matches")
	}
	if err := p.Put(ctx, key, page("css")); !errors.Is(err, ErrUnknownPartition) {
		t.Fatalf("Put on deleted partition: %v", err)
	}

	fresh, _ := s.Open(ctx, "vf-runtime-v0")
	if _, ok, _ := fresh.Match(ctx, key); ok {
		t.Fatalf("reopened partition must start empty")
	}
	if h.heals["gen_mismatch"] == 0 {
		t.Fatalf("old-generation entry was not self-healed: %v", h.heals)
	}

	if existed, _ := s.Delete(ctx, "never-opened"); existed {
		t.Fatalf("Delete of unknown partition reported true")
	}
}

func TestIndexSurvivesRestartOverSharedStores(t *testing.T) {
	ctx := context.Background()
	p := memory.New()
	g := gen.NewLocalGenStore()

	s1 := newStorage(t, p, g, nil)
	for _, n := range []string{"vf-precache-v1", "vf-runtime-v1", "vf-runtime-v0"} {
		if _, err := s1.Open(ctx, n); err != nil {
			t.Fatalf("Open %s: %v", n, err)
		}
	}
	run, _ := s1.Open(ctx, "vf-runtime-v1")
	key := fetch.Key("", "http://app.local/lots")
	_ = run.Put(ctx, key, page("lots"))

	s2 := newStorage(t, p, g, nil)
	names, err := s2.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("Keys after restart = %v", names)
	}
	run2, _ := s2.Open(ctx, "vf-runtime-v1")
	if _, ok, _ := run2.Match(ctx, key); !ok {
		t.Fatalf("entry lost across restart")
	}

	// a purge by another process is observed on load
	if _, err := s2.Delete(ctx, "vf-runtime-v0"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	s3 := newStorage(t, p, g, nil)
	if ok, _ := s3.Has(ctx, "vf-runtime-v0"); ok {
		t.Fatalf("deleted partition resurrected")
	}
}

func TestCorruptEntrySelfHeals(t *testing.T) {
	ctx := context.Background()
	mp := memory.New()
	h := &recHooks{}
	s := newStorage(t, mp, nil, h)
	p, _ := s.Open(ctx, "vf-runtime-v1")
	key := fetch.Key("", "http://app.local/x.png")

	sk := util.EntryKey("entry:app:vf-runtime-v1", key)
	_, _ = mp.Set(ctx, sk, []byte("garbage"), 1, 0)
	if _, ok, err := p.Match(ctx, key); ok || err != nil {
		t.Fatalf("corrupt entry: ok=%v err=%v", ok, err)
	}
	if h.heals["corrupt"] != 1 {
		t.Fatalf("heals = %v", h.heals)
	}
	if _, ok, _ := mp.Get(ctx, sk); ok {
		t.Fatalf("corrupt entry not deleted")
	}

	// valid frame, undecodable payload
	_, _ = mp.Set(ctx, sk, wire.EncodeEntry(0, []byte{0xff, 0x00}), 1, 0)
	if _, ok, _ := p.Match(ctx, key); ok {
		t.Fatalf("undecodable payload matched")
	}
	if h.heals["decode"] != 1 {
		t.Fatalf("heals = %v", h.heals)
	}
}

func TestCorruptIndexIsDropped(t *testing.T) {
	ctx := context.Background()
	mp := memory.New()
	_, _ = mp.Set(ctx, "index:app", []byte("nope"), 1, 0)
	h := &recHooks{}
	s := newStorage(t, mp, nil, h)
	names, err := s.Keys(ctx)
	if err != nil || len(names) != 0 {
		t.Fatalf("Keys = %v, %v", names, err)
	}
	if h.heals["corrupt"] != 1 {
		t.Fatalf("heals = %v", h.heals)
	}
}

func TestTTLPerPartition(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	mp := memory.New()
	mp.SetClock(func() time.Time { return now })
	s, err := New(Options{
		Namespace: "app",
		Provider:  mp,
		TTL: func(name string) time.Duration {
			if name == "vf-runtime-v1" {
				return time.Minute
			}
			return 0
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pre, _ := s.Open(ctx, "vf-precache-v1")
	run, _ := s.Open(ctx, "vf-runtime-v1")
	key := fetch.Key("", "http://app.local/")
	_ = pre.Put(ctx, key, page("pre"))
	_ = run.Put(ctx, key, page("run"))

	now = now.Add(2 * time.Minute)
	if _, ok, _ := run.Match(ctx, key); ok {
		t.Fatalf("runtime entry outlived its TTL")
	}
	if _, ok, _ := pre.Match(ctx, key); !ok {
		t.Fatalf("precache entry must not expire")
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Options{Namespace: "app"}); err == nil {
		t.Fatalf("missing provider accepted")
	}
	if _, err := New(Options{Provider: memory.New()}); err == nil {
		t.Fatalf("missing namespace accepted")
	}
}
