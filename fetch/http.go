package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultMaxBody = 32 << 20

// HTTPFetcher is a Fetcher backed by an *http.Client. Redirects are followed
// by the client; the resulting snapshot records the final URL and whether any
// redirect hop happened.
type HTTPFetcher struct {
	client  *http.Client
	maxBody int64
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher wraps client (http.DefaultClient when nil). maxBody <= 0
// uses a 32 MiB limit; larger bodies fail the fetch.
func NewHTTPFetcher(client *http.Client, maxBody int64) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &HTTPFetcher{client: client, maxBody: maxBody}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return Response{}, &NetworkError{URL: req.URL, Err: err}
	}
	for k, vs := range req.Header {
		if isHopHeader(k) {
			continue
		}
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if req.Cache == CacheNoStore {
		hreq.Header.Set("Cache-Control", "no-cache")
		hreq.Header.Set("Pragma", "no-cache")
	}

	resp, err := f.client.Do(hreq)
	if err != nil {
		return Response{}, &NetworkError{URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return Response{}, &NetworkError{URL: req.URL, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(b)) > f.maxBody {
		return Response{}, &NetworkError{URL: req.URL, Err: fmt.Errorf("body exceeds %d bytes", f.maxBody)}
	}

	final := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return Response{
		Status:     resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       b,
		URL:        final,
		Redirected: final != hreq.URL.String(),
	}, nil
}

var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Proxy-Connection":    {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func isHopHeader(k string) bool {
	_, ok := hopHeaders[http.CanonicalHeaderKey(k)]
	return ok
}

// ClassifyHeaders derives mode and destination from browser fetch metadata.
// Requests without Sec-Fetch-* headers (older clients, curl) fall back to the
// Accept header: text/html is a navigation, image/* an image.
func ClassifyHeaders(h http.Header) (Mode, Destination) {
	mode := Mode(strings.ToLower(strings.TrimSpace(h.Get("Sec-Fetch-Mode"))))
	dest := Destination(strings.ToLower(strings.TrimSpace(h.Get("Sec-Fetch-Dest"))))
	if dest == "empty" {
		dest = DestEmpty
	}
	if mode != "" || dest != DestEmpty {
		return mode, dest
	}
	accept := strings.ToLower(h.Get("Accept"))
	switch {
	case strings.Contains(accept, "text/html"):
		return ModeNavigate, DestDocument
	case strings.HasPrefix(accept, "image/"):
		return ModeNoCORS, DestImage
	}
	return "", DestEmpty
}
