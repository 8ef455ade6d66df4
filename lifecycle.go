package offlinecache

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/offlinecache/cachestore"
	"github.com/unkn0wn-root/offlinecache/fetch"
)

// Clients are the pages the worker controls. Claim makes the worker the
// controller of every open page without a reload.
type Clients interface {
	Claim(ctx context.Context) error
}

type nopClients struct{}

func (nopClients) Claim(context.Context) error { return nil }

// InstallReport lists what install stored. Skipped maps URL -> reason.
type InstallReport struct {
	Cached  []string
	Skipped map[string]string
}

// Install opens the precache and stores every reachable manifest asset.
// Individual failures are tolerated; the error is non-nil only when the
// precache partition itself cannot be opened.
func (w *Worker) Install(ctx context.Context) (InstallReport, error) {
	ctx, span := w.tracer.Start(ctx, "offlinecache.install")
	defer span.End()

	report := InstallReport{Skipped: make(map[string]string)}
	pre, err := w.storage.Open(ctx, w.precache)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open precache")
		return report, err
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(w.limit)
	for _, u := range w.manifest.Assets {
		g.Go(func() error {
			reason := w.precacheOne(ctx, pre, u)
			mu.Lock()
			defer mu.Unlock()
			if reason == "" {
				report.Cached = append(report.Cached, u)
			} else {
				report.Skipped[u] = reason
			}
			return nil
		})
	}
	_ = g.Wait() // settle all

	sort.Strings(report.Cached)
	span.SetAttributes(
		attribute.Int("offlinecache.cached", len(report.Cached)),
		attribute.Int("offlinecache.skipped", len(report.Skipped)),
	)
	w.log.Info("installed", Fields{
		"partition": w.precache,
		"cached":    len(report.Cached),
		"skipped":   len(report.Skipped),
	})
	return report, nil
}

// precacheOne returns "" when u was stored, else the skip reason.
func (w *Worker) precacheOne(ctx context.Context, pre cachestore.Partition, u string) string {
	req := fetch.Request{Method: http.MethodGet, URL: u, Cache: fetch.CacheNoStore}
	resp, err := w.fetcher.Fetch(ctx, req)
	reason := "network"
	if err == nil {
		reason = w.policy.precacheReject(req, resp)
	}
	if reason == "" {
		stored := bestEffort(w.log, "precache put", Fields{"url": u}, func() error {
			return pre.Put(ctx, req.Key(), resp)
		})
		if !stored {
			reason = "store"
		}
	}
	if reason != "" {
		w.hooks.PrecacheSkipped(u, reason)
		w.log.Debug("precache skipped", Fields{"url": u, "reason": reason})
	}
	return reason
}

// Activate deletes every partition other than the current precache and
// runtime ones, then claims all clients.
func (w *Worker) Activate(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "offlinecache.activate")
	defer span.End()

	purged, err := w.purgeExcept(ctx, w.precache, w.runtime)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "purge")
		return err
	}
	if err := w.clients.Claim(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim")
		return err
	}
	span.SetAttributes(attribute.Int("offlinecache.purged", len(purged)))
	w.log.Info("activated", Fields{"purged": purged, "precache": w.precache, "runtime": w.runtime})
	return nil
}

// purgeExcept deletes all partitions not named in keep and returns the
// deleted names.
func (w *Worker) purgeExcept(ctx context.Context, keep ...string) ([]string, error) {
	names, err := w.storage.Keys(ctx)
	if err != nil {
		return nil, err
	}
	keepSet := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		keepSet[k] = struct{}{}
	}

	var (
		mu     sync.Mutex
		purged []string
		g      errgroup.Group
	)
	for _, name := range names {
		if _, ok := keepSet[name]; ok {
			continue
		}
		g.Go(func() error {
			existed, err := w.storage.Delete(ctx, name)
			if err != nil {
				return err
			}
			if existed {
				w.hooks.PartitionPurged(name)
				mu.Lock()
				purged = append(purged, name)
				mu.Unlock()
			}
			return nil
		})
	}
	err = g.Wait()
	sort.Strings(purged)
	return purged, err
}

// Start installs and immediately activates, without waiting for old clients
// to go away.
func (w *Worker) Start(ctx context.Context) (InstallReport, error) {
	report, err := w.Install(ctx)
	if err != nil {
		return report, err
	}
	return report, w.Activate(ctx)
}
