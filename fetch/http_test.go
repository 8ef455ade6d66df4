package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestHTTPFetcherSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		_, _ = io.WriteString(w, "body{}")
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), 0)
	resp, err := f.Fetch(context.Background(), Get(srv.URL+"/static/app.css"))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !resp.OK() || string(resp.Body) != "body{}" {
		t.Fatalf("resp = %d %q", resp.Status, resp.Body)
	}
	if resp.Redirected {
		t.Fatalf("plain response must not be marked redirected")
	}
	if resp.URL != srv.URL+"/static/app.css" {
		t.Fatalf("URL = %q", resp.URL)
	}
	if resp.Header.Get("Content-Type") != "text/css" {
		t.Fatalf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
}

func TestHTTPFetcherDetectsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/lots", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/auth/login", http.StatusFound)
	})
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "login")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := NewHTTPFetcher(srv.Client(), 0).Fetch(context.Background(), Get(srv.URL+"/lots"))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !resp.OK() || !resp.Redirected {
		t.Fatalf("status=%d redirected=%v, want 200 redirected", resp.Status, resp.Redirected)
	}
	if Path(resp.URL) != "/auth/login" {
		t.Fatalf("final path = %q", Path(resp.URL))
	}
}

func TestHTTPFetcherNoStoreAndBody(t *testing.T) {
	var gotCache, gotBody, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCache = r.Header.Get("Cache-Control")
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	req := Request{
		Method: http.MethodPost,
		URL:    srv.URL + "/lots/add",
		Body:   []byte(`{"pn":"X"}`),
		Cache:  CacheNoStore,
		Header: http.Header{"Connection": {"close"}, "Content-Type": {"application/json"}},
	}
	resp, err := NewHTTPFetcher(srv.Client(), 0).Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if resp.Status != http.StatusCreated {
		t.Fatalf("status = %d", resp.Status)
	}
	if gotCache != "no-cache" || gotMethod != http.MethodPost || gotBody != `{"pn":"X"}` {
		t.Fatalf("server saw cache=%q method=%q body=%q", gotCache, gotMethod, gotBody)
	}
}

func TestHTTPFetcherNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewHTTPFetcher(nil, 0).Fetch(context.Background(), Get(addr+"/x"))
	if err == nil {
		t.Fatalf("expected error against closed server")
	}
	if !IsNetworkError(err) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
	var ne *NetworkError
	if !errors.As(err, &ne) || ne.URL != addr+"/x" {
		t.Fatalf("NetworkError URL mismatch: %v", err)
	}
}

func TestHTTPFetcherBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "0123456789")
	}))
	defer srv.Close()

	if _, err := NewHTTPFetcher(srv.Client(), 4).Fetch(context.Background(), Get(srv.URL)); err == nil {
		t.Fatalf("expected body limit error")
	}
}

func TestClassifyHeaders(t *testing.T) {
	cases := []struct {
		name string
		h    http.Header
		mode Mode
		dest Destination
	}{
		{"fetch metadata", http.Header{"Sec-Fetch-Mode": {"navigate"}, "Sec-Fetch-Dest": {"document"}}, ModeNavigate, DestDocument},
		{"image metadata", http.Header{"Sec-Fetch-Mode": {"no-cors"}, "Sec-Fetch-Dest": {"image"}}, ModeNoCORS, DestImage},
		{"empty dest", http.Header{"Sec-Fetch-Mode": {"cors"}, "Sec-Fetch-Dest": {"empty"}}, ModeCORS, DestEmpty},
		{"accept html", http.Header{"Accept": {"text/html,application/xhtml+xml"}}, ModeNavigate, DestDocument},
		{"accept image", http.Header{"Accept": {"image/avif,image/webp"}}, ModeNoCORS, DestImage},
		{"nothing", http.Header{}, "", DestEmpty},
	}
	for _, tc := range cases {
		mode, dest := ClassifyHeaders(tc.h)
		if mode != tc.mode || dest != tc.dest {
			t.Fatalf("%s: got (%q,%q) want (%q,%q)", tc.name, mode, dest, tc.mode, tc.dest)
		}
	}
}

func TestSamePathAndResolve(t *testing.T) {
	if !SamePath("/static/app.css?v=2", "http://h/static/app.css?v=3") {
		t.Fatalf("query must not affect path comparison")
	}
	if SamePath("/lots", "http://h/auth/login") {
		t.Fatalf("different paths reported equal")
	}
	if !SamePath("/%61uth/login", "http://h/auth/login") {
		t.Fatalf("escaped and plain spellings of one path must compare equal")
	}
	if got := Path("http://h/%61uth/login?next=/lots"); got != "/auth/login" {
		t.Fatalf("Path = %q, want decoded /auth/login", got)
	}
	got, err := Resolve(mustURL(t, "http://h:5000/"), "/offline.html")
	if err != nil || got != "http://h:5000/offline.html" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
	got, err = Resolve(mustURL(t, "http://h:5000/"), "https://cdn.example/x.js")
	if err != nil || got != "https://cdn.example/x.js" {
		t.Fatalf("Resolve absolute = %q, %v", got, err)
	}
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}
