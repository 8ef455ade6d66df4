package offlinecache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/offlinecache/fetch"
	"github.com/unkn0wn-root/offlinecache/localdb"
)

// MessageType is the discriminator of a page message.
type MessageType string

const (
	MessageLotsSave    MessageType = "LOTS_SAVE"
	MessageCacheURLs   MessageType = "CACHE_URLS"
	MessageTriggerSync MessageType = "TRIGGER_SYNC"
)

// Message is sent by page scripts:
//
//	{"type":"LOTS_SAVE","data":[{...},...]}
//	{"type":"CACHE_URLS","urls":["/uploads/1.jpg",...]}
//	{"type":"TRIGGER_SYNC"}
type Message struct {
	Type MessageType
	Data []json.RawMessage
	URLs []string
}

// DecodeMessage parses a page message. A data or urls field of the wrong
// shape is dropped rather than failing the message; non-string URLs are
// skipped.
func DecodeMessage(b []byte) (Message, error) {
	var raw struct {
		Type MessageType     `json:"type"`
		Data json.RawMessage `json:"data"`
		URLs json.RawMessage `json:"urls"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	m := Message{Type: raw.Type}
	_ = json.Unmarshal(raw.Data, &m.Data)
	var urls []json.RawMessage
	if json.Unmarshal(raw.URLs, &urls) == nil {
		for _, u := range urls {
			var s string
			if json.Unmarshal(u, &s) == nil && strings.TrimSpace(s) != "" {
				m.URLs = append(m.URLs, strings.TrimSpace(s))
			}
		}
	}
	return m, nil
}

// MessageResult reports what a message did.
type MessageResult struct {
	Type MessageType `json:"type"`

	LotsSaved   int `json:"lots_saved,omitempty"`
	LotsSkipped int `json:"lots_skipped,omitempty"`

	URLsCached  int `json:"urls_cached,omitempty"`
	URLsPresent int `json:"urls_present,omitempty"`
	URLsSkipped int `json:"urls_skipped,omitempty"`

	Sync *SyncReport `json:"sync,omitempty"`
}

// HandleMessage processes one page message. Malformed records and URLs are
// skipped; store failures are returned.
func (w *Worker) HandleMessage(ctx context.Context, m Message) (MessageResult, error) {
	res := MessageResult{Type: m.Type}
	switch m.Type {
	case MessageLotsSave:
		return w.saveLots(ctx, m.Data, res)
	case MessageCacheURLs:
		return w.cacheURLs(ctx, m.URLs, res), nil
	case MessageTriggerSync:
		report, err := w.Sync(ctx)
		res.Sync = &report
		return res, err
	default:
		w.log.Warn("unknown message", Fields{"type": string(m.Type)})
		return res, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
}

func (w *Worker) saveLots(ctx context.Context, data []json.RawMessage, res MessageResult) (MessageResult, error) {
	lots := make([]localdb.Lot, 0, len(data))
	for i, raw := range data {
		l, err := localdb.ParseLot(raw)
		if err != nil {
			res.LotsSkipped++
			w.log.Debug("lot skipped", Fields{"index": i, "err": err})
			continue
		}
		lots = append(lots, l)
	}
	if err := w.store.PutLots(ctx, lots); err != nil {
		return res, fmt.Errorf("save lots: %w", err)
	}
	res.LotsSaved = len(lots)
	w.log.Info("lots saved locally", Fields{"saved": res.LotsSaved, "skipped": res.LotsSkipped})
	return res, nil
}

// cacheURLs stores each URL not yet in the runtime partition. Per-URL
// failures are skipped; the batch always settles.
func (w *Worker) cacheURLs(ctx context.Context, urls []string, res MessageResult) MessageResult {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(w.limit)
	for _, ref := range urls {
		g.Go(func() error {
			outcome := w.cacheURL(ctx, ref)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case "cached":
				res.URLsCached++
			case "present":
				res.URLsPresent++
			default:
				res.URLsSkipped++
			}
			return nil
		})
	}
	_ = g.Wait()
	w.log.Info("urls cached", Fields{"cached": res.URLsCached, "present": res.URLsPresent, "skipped": res.URLsSkipped})
	return res
}

func (w *Worker) cacheURL(ctx context.Context, ref string) string {
	u, err := w.Resolve(ref)
	if err != nil {
		w.log.Debug("url skipped", Fields{"url": ref, "err": err})
		return "skipped"
	}
	req := fetch.Request{Method: http.MethodGet, URL: u, Cache: fetch.CacheNoStore, Destination: fetch.DestImage}
	if _, ok := w.lookup(ctx, w.runtime, req.Key()); ok {
		return "present"
	}
	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		w.log.Debug("url skipped", Fields{"url": u, "err": err})
		return "skipped"
	}
	if !w.policy.Cacheable(req, resp) {
		w.log.Debug("url skipped", Fields{"url": u, "status": resp.Status, "redirected": resp.Redirected})
		return "skipped"
	}
	stored := bestEffort(w.log, "runtime put", Fields{"url": u}, func() error {
		p, err := w.storage.Open(ctx, w.runtime)
		if err != nil {
			return err
		}
		return p.Put(ctx, req.Key(), resp)
	})
	if !stored {
		return "skipped"
	}
	return "cached"
}
