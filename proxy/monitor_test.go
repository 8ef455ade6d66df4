package proxy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/unkn0wn-root/offlinecache"
	"github.com/unkn0wn-root/offlinecache/fetch"
)

type scriptedProbe struct {
	mu      sync.Mutex
	results []bool
}

func (p *scriptedProbe) Fetch(_ context.Context, req fetch.Request) (fetch.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ok := p.results[0]
	p.results = p.results[1:]
	if !ok {
		return fetch.Response{}, &fetch.NetworkError{URL: req.URL, Err: errors.New("down")}
	}
	return fetch.Response{Status: 204}, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []offlinecache.Event
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev offlinecache.Event) offlinecache.Outcome {
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
	return offlinecache.Outcome{Sync: &offlinecache.SyncReport{}}
}

func TestMonitorSyncsOnReconnect(t *testing.T) {
	probe := &scriptedProbe{results: []bool{false, true, true, false, false, true}}
	disp := &recordingDispatcher{}
	m, err := NewMonitor(MonitorOptions{Probe: probe, URL: "http://app.local/", Worker: disp})
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}

	var syncsAfter []int
	for range 6 {
		m.Check(context.Background())
		syncsAfter = append(syncsAfter, len(disp.events))
	}
	want := []int{0, 1, 1, 1, 1, 2}
	for i := range want {
		if syncsAfter[i] != want[i] {
			t.Fatalf("syncs after probe %d = %d, want %d (%v)", i, syncsAfter[i], want[i], syncsAfter)
		}
	}
	for _, ev := range disp.events {
		if se, ok := ev.(offlinecache.SyncEvent); !ok || se.Tag != offlinecache.SyncTag {
			t.Fatalf("event = %#v", ev)
		}
	}
	if !m.Online() {
		t.Fatalf("monitor should be online")
	}
}

func TestMonitorRunStopsOnCancel(t *testing.T) {
	probe := &scriptedProbe{results: []bool{true}}
	disp := &recordingDispatcher{}
	m, err := NewMonitor(MonitorOptions{Probe: probe, URL: "http://app.local/", Worker: disp})
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}
}

func TestControllerClaimOnce(t *testing.T) {
	c := NewController()
	if c.Claimed() {
		t.Fatalf("claimed before Claim")
	}
	if err := c.Claim(context.Background()); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	first := c.ClaimedAt()
	_ = c.Claim(context.Background())
	if !c.ClaimedAt().Equal(first) {
		t.Fatalf("second claim moved the timestamp")
	}
}
