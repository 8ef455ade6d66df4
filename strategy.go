package offlinecache

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/offlinecache/fetch"
	"github.com/unkn0wn-root/offlinecache/localdb"
)

var (
	offlineSaved   = []byte(`{"offline":true,"saved":true}`)
	offlineUnsaved = []byte(`{"offline":true,"saved":false}`)
)

// HandleFetch answers one intercepted request. Network failures never leave
// the worker: the caller always gets a usable response. The only error is a
// *QueueError, returned alongside a 503 response when a failed mutation could
// not be queued.
func (w *Worker) HandleFetch(ctx context.Context, req fetch.Request) (fetch.Response, error) {
	strategy := w.routes.Route(req)
	ctx, span := w.tracer.Start(ctx, "offlinecache.fetch", trace.WithAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("url.full", req.URL),
		attribute.String("offlinecache.strategy", strategy.String()),
	))
	defer span.End()

	var (
		resp fetch.Response
		err  error
	)
	switch strategy {
	case StrategyQueueOnFailure:
		resp, err = w.queueOnFailure(ctx, req)
	case StrategyNetworkFirst:
		resp = w.networkFirst(ctx, req)
	default:
		resp = w.cacheFirst(ctx, req)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.Status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "queue failed")
	}
	return resp, err
}

func (w *Worker) queueOnFailure(ctx context.Context, req fetch.Request) (fetch.Response, error) {
	resp, err := w.fetcher.Fetch(ctx, req)
	if err == nil {
		return resp, nil
	}

	// the queue write must complete even if the page went away
	op, serr := w.store.AddPendingOperation(context.WithoutCancel(ctx), localdb.PendingOperation{
		URL:    req.URL,
		Method: req.Method,
		Body:   jsonBody(req.Body),
	})
	if serr != nil {
		w.log.Error("pending operation lost", Fields{"method": req.Method, "url": req.URL, "err": serr})
		return jsonResponse(req.URL, http.StatusServiceUnavailable, offlineUnsaved),
			&QueueError{Method: req.Method, URL: req.URL, FetchErr: err, StoreErr: serr}
	}
	w.hooks.OperationQueued(op.ID, op.Method, op.URL)
	w.log.Info("pending operation queued", Fields{"id": op.ID, "method": op.Method, "url": op.URL})
	return jsonResponse(req.URL, http.StatusOK, offlineSaved), nil
}

func (w *Worker) networkFirst(ctx context.Context, req fetch.Request) fetch.Response {
	resp, err := w.fetcher.Fetch(ctx, req)
	if err == nil {
		w.putRuntime(ctx, req, resp)
		return resp
	}
	w.log.Debug("network unavailable", Fields{"url": req.URL, "err": err})

	key := req.Key()
	if r, ok := w.lookup(ctx, w.runtime, key); ok {
		w.hooks.ServedFallback(req.URL, "runtime")
		return r
	}
	if r, ok := w.lookup(ctx, w.precache, key); ok {
		w.hooks.ServedFallback(req.URL, "precache")
		return r
	}
	if r, ok := w.offlinePage(ctx); ok {
		w.hooks.ServedFallback(req.URL, "offline_page")
		return r
	}
	w.hooks.ServedFallback(req.URL, "unavailable")
	return fetch.Response{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:   []byte("Offline"),
		URL:    req.URL,
	}
}

func (w *Worker) cacheFirst(ctx context.Context, req fetch.Request) fetch.Response {
	if r, ok := w.lookup(ctx, w.runtime, req.Key()); ok {
		return r
	}
	resp, err := w.fetcher.Fetch(ctx, req)
	if err == nil {
		w.putRuntime(ctx, req, resp)
		return resp
	}
	w.log.Debug("network unavailable", Fields{"url": req.URL, "err": err})

	if req.Destination == fetch.DestImage {
		// never answer an <img> with HTML
		for _, icon := range w.manifest.Icons {
			if r, ok := w.lookup(ctx, w.precache, fetch.Key(http.MethodGet, icon)); ok {
				w.hooks.ServedFallback(req.URL, "icon")
				return r
			}
		}
	} else if r, ok := w.offlinePage(ctx); ok {
		w.hooks.ServedFallback(req.URL, "offline_page")
		return r
	}
	w.hooks.ServedFallback(req.URL, "unavailable")
	return fetch.Response{Status: http.StatusGatewayTimeout, Header: http.Header{}, URL: req.URL}
}

// putRuntime mirrors a cacheable network response into the runtime partition.
func (w *Worker) putRuntime(ctx context.Context, req fetch.Request, resp fetch.Response) {
	if !w.policy.Cacheable(req, resp) {
		return
	}
	bestEffort(w.log, "runtime put", Fields{"url": req.URL}, func() error {
		p, err := w.storage.Open(ctx, w.runtime)
		if err != nil {
			return err
		}
		return p.Put(ctx, req.Key(), resp)
	})
}

// lookup is a cache read where any storage error counts as a miss.
func (w *Worker) lookup(ctx context.Context, partition, key string) (fetch.Response, bool) {
	var (
		resp fetch.Response
		ok   bool
	)
	bestEffort(w.log, "cache match", Fields{"partition": partition, "key": key}, func() error {
		p, err := w.storage.Open(ctx, partition)
		if err != nil {
			return err
		}
		resp, ok, err = p.Match(ctx, key)
		return err
	})
	return resp, ok
}

func (w *Worker) offlinePage(ctx context.Context) (fetch.Response, bool) {
	if w.manifest.OfflinePage == "" {
		return fetch.Response{}, false
	}
	return w.lookup(ctx, w.precache, fetch.Key(http.MethodGet, w.manifest.OfflinePage))
}

// jsonBody keeps a valid JSON body and replaces anything else with {}.
func jsonBody(b []byte) json.RawMessage {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || !json.Valid(b) {
		return json.RawMessage(`{}`)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return json.RawMessage(`{}`)
	}
	return buf.Bytes()
}

func jsonResponse(rawURL string, status int, body []byte) fetch.Response {
	return fetch.Response{
		Status: status,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   append([]byte(nil), body...),
		URL:    rawURL,
	}
}
