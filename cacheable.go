package offlinecache

import (
	"net/http"
	"strings"

	"github.com/pquerna/cachecontrol/cacheobject"

	"github.com/unkn0wn-root/offlinecache/fetch"
)

// Policy is the cacheability predicate shared by every route.
type Policy struct {
	// AuthPaths are URL path prefixes that are never stored.
	AuthPaths []string
}

// IsAuthPath reports whether path falls under an auth prefix.
func (p Policy) IsAuthPath(path string) bool {
	for _, prefix := range p.AuthPaths {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Cacheable reports whether resp, obtained for req, may be stored: a GET that
// got a 2xx without a redirect hop, where neither the requested nor the final
// path is an auth path and Cache-Control does not forbid storage.
func (p Policy) Cacheable(req fetch.Request, resp fetch.Response) bool {
	return p.reject(req, resp) == ""
}

// Precacheable additionally requires the final path to equal the requested
// one, so a login page served under an asset URL is never pinned.
func (p Policy) Precacheable(req fetch.Request, resp fetch.Response) bool {
	return p.precacheReject(req, resp) == ""
}

func (p Policy) precacheReject(req fetch.Request, resp fetch.Response) string {
	if reason := p.reject(req, resp); reason != "" {
		return reason
	}
	if resp.URL != "" && !fetch.SamePath(req.URL, resp.URL) {
		return "path_mismatch"
	}
	return ""
}

// reject returns "" when storable, otherwise a PrecacheSkipped reason.
func (p Policy) reject(req fetch.Request, resp fetch.Response) string {
	switch {
	case req.Method != "" && !strings.EqualFold(req.Method, http.MethodGet):
		return "not_cacheable"
	case !resp.OK():
		return "status"
	case resp.Redirected:
		return "redirected"
	case p.IsAuthPath(req.Path()):
		return "not_cacheable"
	case resp.URL != "" && p.IsAuthPath(fetch.Path(resp.URL)):
		return "not_cacheable"
	case NoStore(resp.Header):
		return "not_cacheable"
	}
	return ""
}

// NoStore reports a Cache-Control: no-store response.
func NoStore(h http.Header) bool {
	cc := h.Values("Cache-Control")
	if len(cc) == 0 {
		return false
	}
	d, err := cacheobject.ParseResponseCacheControl(strings.Join(cc, ", "))
	if err != nil {
		// unparsable directives: fall back to a plain token scan
		return strings.Contains(strings.ToLower(strings.Join(cc, ",")), "no-store")
	}
	return d.NoStore
}
