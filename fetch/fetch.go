// Package fetch defines the request and response values that flow through the
// offline layer, and the Fetcher abstraction over the network.
//
// Responses are fully buffered snapshots (status, headers, body, final URL) so
// they can be stored in a cache partition and replayed any number of times.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Mode mirrors the request mode a browser reports in Sec-Fetch-Mode.
type Mode string

const (
	ModeNavigate   Mode = "navigate"
	ModeSameOrigin Mode = "same-origin"
	ModeCORS       Mode = "cors"
	ModeNoCORS     Mode = "no-cors"
)

// Destination mirrors Sec-Fetch-Dest.
type Destination string

const (
	DestEmpty    Destination = ""
	DestDocument Destination = "document"
	DestImage    Destination = "image"
	DestScript   Destination = "script"
	DestStyle    Destination = "style"
	DestFont     Destination = "font"
	DestManifest Destination = "manifest"
)

// CacheMode controls intermediary HTTP caches for a single fetch.
type CacheMode string

const (
	CacheDefault CacheMode = ""
	// CacheNoStore asks every intermediary to revalidate with the origin.
	CacheNoStore CacheMode = "no-store"
)

// Request is an intercepted request. URL is absolute.
type Request struct {
	Method      string
	URL         string
	Header      http.Header
	Body        []byte
	Mode        Mode
	Destination Destination
	Cache       CacheMode
}

// Get builds a plain GET request for rawURL.
func Get(rawURL string) Request {
	return Request{Method: http.MethodGet, URL: rawURL}
}

// Key is the request identity used by cache partitions: method + " " + URL.
func (r Request) Key() string {
	return Key(r.Method, r.URL)
}

// Key builds a request identity from its parts. An empty method means GET.
func Key(method, rawURL string) string {
	if method == "" {
		method = http.MethodGet
	}
	return strings.ToUpper(method) + " " + rawURL
}

// Path returns the URL path of the request, or "" if the URL does not parse.
func (r Request) Path() string {
	return Path(r.URL)
}

// IsNavigation reports whether the request loads a top-level document.
func (r Request) IsNavigation() bool {
	return r.Mode == ModeNavigate || r.Destination == DestDocument
}

// Response is a buffered response snapshot.
type Response struct {
	Status     int         `json:"status" cbor:"1,keyasint" msgpack:"status"`
	Header     http.Header `json:"header,omitempty" cbor:"2,keyasint,omitempty" msgpack:"header,omitempty"`
	Body       []byte      `json:"body,omitempty" cbor:"3,keyasint,omitempty" msgpack:"body,omitempty"`
	URL        string      `json:"url,omitempty" cbor:"4,keyasint,omitempty" msgpack:"url,omitempty"`
	Redirected bool        `json:"redirected,omitempty" cbor:"5,keyasint,omitempty" msgpack:"redirected,omitempty"`
}

// OK reports a 2xx status.
func (r Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Clone returns a deep copy; cached snapshots are handed out as clones.
func (r Response) Clone() Response {
	out := r
	if r.Header != nil {
		out.Header = r.Header.Clone()
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

// Fetcher performs a network round-trip. A non-nil error means the network
// could not be reached; any HTTP status (including 5xx) is a successful fetch.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req Request) (Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// NetworkError wraps a transport-level failure.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetworkError reports whether err is (or wraps) a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// Path returns the decoded path of rawURL, the one the server routes on, or
// "" when it does not parse. "/%61uth/login" yields "/auth/login".
func Path(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}

// SamePath reports whether a and b resolve to the same decoded path.
func SamePath(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Path == ub.Path
}

// Resolve makes ref absolute against base. Absolute refs are returned as-is.
func Resolve(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", ref, err)
	}
	if base == nil || u.IsAbs() {
		return u.String(), nil
	}
	return base.ResolveReference(u).String(), nil
}
