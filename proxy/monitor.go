package proxy

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/unkn0wn-root/offlinecache"
	"github.com/unkn0wn-root/offlinecache/fetch"
)

// Monitor probes connectivity and fires the sync event each time the
// network comes back. It starts out offline, so the first successful probe
// replays anything queued before a restart.
type Monitor struct {
	probe    fetch.Fetcher
	url      string
	interval time.Duration
	worker   Dispatcher
	log      offlinecache.Logger

	mu     sync.Mutex
	online bool
}

type MonitorOptions struct {
	Probe    fetch.Fetcher
	URL      string
	Interval time.Duration // <= 0 => 15s
	Worker   Dispatcher
	Logger   offlinecache.Logger
}

func NewMonitor(opts MonitorOptions) (*Monitor, error) {
	if opts.Probe == nil || opts.Worker == nil || opts.URL == "" {
		return nil, errors.New("proxy: monitor needs a probe, a url and a worker")
	}
	m := &Monitor{
		probe:    opts.Probe,
		url:      opts.URL,
		interval: opts.Interval,
		worker:   opts.Worker,
		log:      opts.Logger,
	}
	if m.interval <= 0 {
		m.interval = 15 * time.Second
	}
	if m.log == nil {
		m.log = offlinecache.NopLogger{}
	}
	return m, nil
}

// Run probes until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		m.Check(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Check runs one probe and reports whether the network is reachable. Any
// HTTP answer counts as online.
func (m *Monitor) Check(ctx context.Context) bool {
	_, err := m.probe.Fetch(ctx, fetch.Request{Method: http.MethodHead, URL: m.url, Cache: fetch.CacheNoStore})
	online := err == nil
	if ctx.Err() != nil {
		return online
	}

	m.mu.Lock()
	restored := online && !m.online
	changed := online != m.online
	m.online = online
	m.mu.Unlock()

	if changed {
		m.log.Info("connectivity changed", offlinecache.Fields{"online": online})
	}
	if restored {
		out := m.worker.Dispatch(ctx, offlinecache.SyncEvent{Tag: offlinecache.SyncTag})
		if out.Err != nil {
			m.log.Warn("sync after reconnect failed", offlinecache.Fields{"err": out.Err})
		} else if out.Sync != nil && out.Sync.Attempted > 0 {
			m.log.Info("sync after reconnect", offlinecache.Fields{
				"attempted": out.Sync.Attempted,
				"synced":    out.Sync.Synced,
				"failed":    out.Sync.Failed,
			})
		}
	}
	return online
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}
