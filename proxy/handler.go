// Package proxy hosts the offline worker in front of an origin server. Pages
// are served through Handler, which routes every request through the worker
// once it has claimed its clients.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/unkn0wn-root/offlinecache"
	"github.com/unkn0wn-root/offlinecache/fetch"
	"github.com/unkn0wn-root/offlinecache/localdb"
)

const (
	ControlPrefix = "/__offline/"
	MessagePath   = ControlPrefix + "message"
	SyncPath      = ControlPrefix + "sync"
	LotsPath      = ControlPrefix + "lots"
	LogsPath      = ControlPrefix + "logs"
	StatusPath    = ControlPrefix + "status"

	defaultMaxBody = 8 << 20
	defaultLogs    = 100
)

// Dispatcher delivers events to the worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev offlinecache.Event) offlinecache.Outcome
}

type Options struct {
	// Required
	Origin     string
	Worker     Dispatcher
	Network    fetch.Fetcher // used until Controller is claimed
	Controller *Controller

	Store   localdb.Store // nil disables the lots, logs and status endpoints
	Version string
	Logger  offlinecache.Logger
	MaxBody int64
	Now     func() time.Time
}

type Handler struct {
	origin     *url.URL
	worker     Dispatcher
	network    fetch.Fetcher
	controller *Controller
	store      localdb.Store
	version    string
	log        offlinecache.Logger
	maxBody    int64
	now        func() time.Time
}

var _ http.Handler = (*Handler)(nil)

func NewHandler(opts Options) (*Handler, error) {
	if opts.Worker == nil || opts.Network == nil || opts.Controller == nil {
		return nil, errors.New("proxy: worker, network and controller are required")
	}
	origin, err := url.Parse(strings.TrimSpace(opts.Origin))
	if err != nil || !origin.IsAbs() || origin.Host == "" {
		return nil, fmt.Errorf("proxy: origin must be an absolute URL, got %q", opts.Origin)
	}
	h := &Handler{
		origin:     origin,
		worker:     opts.Worker,
		network:    opts.Network,
		controller: opts.Controller,
		store:      opts.Store,
		version:    opts.Version,
		log:        opts.Logger,
		maxBody:    opts.MaxBody,
		now:        opts.Now,
	}
	if h.log == nil {
		h.log = offlinecache.NopLogger{}
	}
	if h.maxBody <= 0 {
		h.maxBody = defaultMaxBody
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h, nil
}

func (h *Handler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, ControlPrefix) {
		h.serveControl(rw, r)
		return
	}

	req, err := h.toFetch(r)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}

	if !h.controller.Claimed() {
		resp, err := h.network.Fetch(r.Context(), req)
		if err != nil {
			h.log.Debug("passthrough failed", offlinecache.Fields{"url": req.URL, "err": err})
			http.Error(rw, "Bad Gateway", http.StatusBadGateway)
			return
		}
		writeResponse(rw, resp)
		return
	}

	out := h.worker.Dispatch(r.Context(), offlinecache.FetchEvent{Request: req})
	if out.Err != nil {
		h.log.Warn("fetch handled with error", offlinecache.Fields{"url": req.URL, "err": out.Err})
	}
	if out.Response == nil {
		http.Error(rw, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	writeResponse(rw, *out.Response)
}

// toFetch maps an incoming request onto the origin.
func (h *Handler) toFetch(r *http.Request) (fetch.Request, error) {
	target, err := fetch.Resolve(h.origin, r.URL.RequestURI())
	if err != nil {
		return fetch.Request{}, err
	}
	var body []byte
	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		body, err = io.ReadAll(http.MaxBytesReader(nil, r.Body, h.maxBody))
		if err != nil {
			return fetch.Request{}, fmt.Errorf("read body: %w", err)
		}
	}
	mode, dest := fetch.ClassifyHeaders(r.Header)
	header := r.Header.Clone()
	header.Del("Host")
	// let the transport negotiate compression so bodies are stored decoded
	header.Del("Accept-Encoding")
	return fetch.Request{
		Method:      r.Method,
		URL:         target,
		Header:      header,
		Body:        body,
		Mode:        mode,
		Destination: dest,
	}, nil
}

func (h *Handler) serveControl(rw http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case MessagePath:
		if !allow(rw, r, http.MethodPost) {
			return
		}
		b, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, h.maxBody))
		if err != nil {
			writeJSON(rw, http.StatusRequestEntityTooLarge, errorBody(err))
			return
		}
		msg, err := offlinecache.DecodeMessage(b)
		if err != nil {
			writeJSON(rw, http.StatusBadRequest, errorBody(err))
			return
		}
		out := h.worker.Dispatch(r.Context(), offlinecache.MessageEvent{Message: msg})
		switch {
		case errors.Is(out.Err, offlinecache.ErrUnknownMessage):
			writeJSON(rw, http.StatusBadRequest, errorBody(out.Err))
		case out.Err != nil:
			h.log.Error("message failed", offlinecache.Fields{"type": msg.Type, "err": out.Err})
			writeJSON(rw, http.StatusInternalServerError, errorBody(out.Err))
		default:
			writeJSON(rw, http.StatusOK, out.Message)
		}

	case SyncPath:
		if !allow(rw, r, http.MethodPost) {
			return
		}
		out := h.worker.Dispatch(r.Context(), offlinecache.SyncEvent{Tag: offlinecache.SyncTag})
		if out.Err != nil {
			h.log.Warn("sync finished with error", offlinecache.Fields{"err": out.Err})
			writeJSON(rw, http.StatusInternalServerError, errorBody(out.Err))
			return
		}
		writeJSON(rw, http.StatusOK, out.Sync)

	case LotsPath:
		if !allow(rw, r, http.MethodGet) || !h.needStore(rw) {
			return
		}
		h.serveLots(rw, r)

	case LogsPath:
		if !allow(rw, r, http.MethodGet) || !h.needStore(rw) {
			return
		}
		limit := defaultLogs
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeJSON(rw, http.StatusBadRequest, errorBody(fmt.Errorf("invalid limit %q", v)))
				return
			}
			limit = n
		}
		logs, err := h.store.RecentLogs(r.Context(), limit)
		if err != nil {
			writeJSON(rw, http.StatusInternalServerError, errorBody(err))
			return
		}
		out := make([]logView, 0, len(logs))
		for _, e := range logs {
			out = append(out, logView{Timestamp: e.Timestamp, Level: e.Level, Message: e.Message, Details: e.Details})
		}
		writeJSON(rw, http.StatusOK, out)

	case StatusPath:
		if !allow(rw, r, http.MethodGet) {
			return
		}
		st := statusView{Version: h.version, Claimed: h.controller.Claimed(), Pending: -1}
		if h.store != nil {
			n, err := h.store.CountPendingOperations(r.Context())
			if err != nil {
				writeJSON(rw, http.StatusInternalServerError, errorBody(err))
				return
			}
			st.Pending = n
		}
		writeJSON(rw, http.StatusOK, st)

	default:
		http.NotFound(rw, r)
	}
}

type lotView struct {
	ID          string            `json:"id"`
	LotNumber   string            `json:"lot_number,omitempty"`
	ProductName string            `json:"product_name,omitempty"`
	Type        string            `json:"type,omitempty"`
	ExpiryDate  string            `json:"expiry_date,omitempty"`
	PN          string            `json:"pn,omitempty"`
	Quantity    int64             `json:"quantity"`
	Image       string            `json:"image,omitempty"`
	Status      localdb.LotStatus `json:"status"`
}

type logView struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

type statusView struct {
	Version string `json:"version"`
	Claimed bool   `json:"claimed"`
	Pending int    `json:"pending"`
}

// serveLots lists mirrored lots, optionally filtered by ?status=.
func (h *Handler) serveLots(rw http.ResponseWriter, r *http.Request) {
	lots, err := h.store.ListLots(r.Context())
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, errorBody(err))
		return
	}
	want := localdb.LotStatus(r.URL.Query().Get("status"))
	now := h.now()
	out := make([]lotView, 0, len(lots))
	for _, l := range lots {
		st := l.Status(now)
		if want != "" && st != want {
			continue
		}
		out = append(out, lotView{
			ID:          l.ID,
			LotNumber:   l.LotNumber,
			ProductName: l.ProductName,
			Type:        l.Type,
			ExpiryDate:  l.ExpiryDate,
			PN:          l.PN,
			Quantity:    l.Quantity,
			Image:       l.Image,
			Status:      st,
		})
	}
	writeJSON(rw, http.StatusOK, out)
}

func (h *Handler) needStore(rw http.ResponseWriter) bool {
	if h.store == nil {
		writeJSON(rw, http.StatusNotImplemented, errorBody(errors.New("local store not configured")))
		return false
	}
	return true
}

func allow(rw http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	rw.Header().Set("Allow", method)
	writeJSON(rw, http.StatusMethodNotAllowed, errorBody(fmt.Errorf("method %s not allowed", r.Method)))
	return false
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

// writeResponse replays a buffered snapshot.
func writeResponse(rw http.ResponseWriter, resp fetch.Response) {
	dst := rw.Header()
	for k, vs := range resp.Header {
		switch http.CanonicalHeaderKey(k) {
		case "Content-Length", "Transfer-Encoding", "Connection", "Content-Encoding":
			continue
		}
		dst[k] = append([]string(nil), vs...)
	}
	dst.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	rw.WriteHeader(status)
	_, _ = rw.Write(resp.Body)
}
