package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/unkn0wn-root/offlinecache/fetch"
)

// SyncReport summarizes one replay pass.
type SyncReport struct {
	Attempted int `json:"attempted"`
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
}

// Sync replays every pending operation once, in insertion order. A 2xx
// removes the operation; anything else leaves it for the next pass. There is
// no backoff and no attempt limit. Passes never overlap.
//
// The error is non-nil only for store failures (listing, or deleting a
// replayed operation) and context cancellation.
func (w *Worker) Sync(ctx context.Context) (SyncReport, error) {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()

	ctx, span := w.tracer.Start(ctx, "offlinecache.sync")
	defer span.End()

	var report SyncReport
	ops, err := w.store.ListPendingOperations(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list")
		return report, fmt.Errorf("sync: %w", err)
	}

	var errs []error
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report.Attempted++

		req := fetch.Request{
			Method: op.Method,
			URL:    op.URL,
			Header: http.Header{
				"Content-Type":    {"application/json"},
				"Idempotency-Key": {op.IdempotencyKey},
			},
			Body:  op.Body,
			Cache: fetch.CacheNoStore,
		}
		resp, err := w.fetcher.Fetch(ctx, req)
		if err != nil || !resp.OK() {
			report.Failed++
			w.hooks.OperationSyncFailed(op.ID, resp.Status, err)
			w.log.Warn("sync failed", Fields{"id": op.ID, "method": op.Method, "url": op.URL, "status": resp.Status, "err": err})
			continue
		}
		if err := w.store.DeletePendingOperation(ctx, op.ID); err != nil {
			// replayed but still queued; the idempotency key covers the retry
			report.Failed++
			errs = append(errs, fmt.Errorf("sync: %w", err))
			continue
		}
		report.Synced++
		w.hooks.OperationSynced(op.ID, resp.Status)
		w.log.Info("synced", Fields{"id": op.ID, "method": op.Method, "url": op.URL, "status": resp.Status})
	}

	span.SetAttributes(
		attribute.Int("offlinecache.attempted", report.Attempted),
		attribute.Int("offlinecache.synced", report.Synced),
		attribute.Int("offlinecache.failed", report.Failed),
	)
	err = errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sync")
	}
	return report, err
}
