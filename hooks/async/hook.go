// Package asynchook moves hook delivery off the request path. Events are
// queued to a fixed pool of workers and dropped when the queue is full.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000)
//	defer hooks.Close()
//
//	w, _ := offlinecache.New(offlinecache.Options{
//	    ...
//	    Hooks: hooks,
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/offlinecache"
)

type Hooks struct {
	inner   offlinecache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ offlinecache.Hooks = (*Hooks)(nil)

func New(inner offlinecache.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = offlinecache.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events sent after Close
// are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	if h.closed.Load() {
		h.dropped.Add(1)
		return
	}
	defer func() {
		// lost a race with Close
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) SelfHeal(k, r string)     { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) SetRejected(k string)     { h.try(func() { h.inner.SetRejected(k) }) }
func (h *Hooks) PartitionPurged(n string) { h.try(func() { h.inner.PartitionPurged(n) }) }
func (h *Hooks) PrecacheSkipped(u, r string) {
	h.try(func() { h.inner.PrecacheSkipped(u, r) })
}
func (h *Hooks) OperationQueued(id int64, m, u string) {
	h.try(func() { h.inner.OperationQueued(id, m, u) })
}
func (h *Hooks) OperationSynced(id int64, status int) {
	h.try(func() { h.inner.OperationSynced(id, status) })
}
func (h *Hooks) OperationSyncFailed(id int64, status int, err error) {
	h.try(func() { h.inner.OperationSyncFailed(id, status, err) })
}
func (h *Hooks) ServedFallback(u, src string) {
	h.try(func() { h.inner.ServedFallback(u, src) })
}
