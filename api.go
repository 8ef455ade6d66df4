package offlinecache

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/offlinecache/cachestore"
	"github.com/unkn0wn-root/offlinecache/fetch"
	"github.com/unkn0wn-root/offlinecache/localdb"
)

const tracerName = "github.com/unkn0wn-root/offlinecache"

// Options configure a Worker.
// Origin, Storage, Store and Fetcher are required; others have defaults.
type Options struct {
	// Required
	Origin  string             // base URL for relative manifest entries, e.g. "http://localhost:5000"
	Storage cachestore.Storage // cache partitions
	Store   localdb.Store      // pending operations, lots, logs
	Fetcher fetch.Fetcher      // the network

	Version            string       // "" => DefaultVersion
	PrecachePrefix     string       // "" => DefaultPrecachePrefix
	RuntimePrefix      string       // "" => DefaultRuntimePrefix
	Manifest           *Manifest    // nil => DefaultManifest(Version)
	AuthPaths          []string     // nil => DefaultAuthPaths()
	Routes             *RouteTable  // nil => DefaultRoutes()
	Clients            Clients      // nil => nothing to claim
	Logger             Logger       // nil => NopLogger
	Hooks              Hooks        // nil => NopHooks
	Tracer             trace.Tracer // nil => global otel tracer
	InstallConcurrency int          // 0 => 4 parallel fetches during install and CACHE_URLS
}

// Worker is the offline layer. It is safe for concurrent use.
type Worker struct {
	origin   *url.URL
	version  string
	precache string
	runtime  string
	manifest Manifest // absolute URLs
	policy   Policy
	routes   RouteTable

	storage cachestore.Storage
	store   localdb.Store
	fetcher fetch.Fetcher
	clients Clients
	log     Logger
	hooks   Hooks
	tracer  trace.Tracer
	limit   int

	syncMu sync.Mutex // one replay pass at a time
}

func New(opts Options) (*Worker, error) {
	if opts.Storage == nil {
		return nil, fmt.Errorf("offlinecache: storage is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("offlinecache: store is required")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("offlinecache: fetcher is required")
	}
	origin, err := url.Parse(strings.TrimSpace(opts.Origin))
	if err != nil || !origin.IsAbs() || origin.Host == "" {
		return nil, fmt.Errorf("offlinecache: origin must be an absolute URL, got %q", opts.Origin)
	}

	w := &Worker{
		origin:  origin,
		storage: opts.Storage,
		store:   opts.Store,
		fetcher: opts.Fetcher,
	}

	// defaults
	w.version = coalesce(opts.Version, DefaultVersion)
	w.precache = coalesce(opts.PrecachePrefix, DefaultPrecachePrefix) + "-" + w.version
	w.runtime = coalesce(opts.RuntimePrefix, DefaultRuntimePrefix) + "-" + w.version
	w.log = coalesce[Logger](opts.Logger, NopLogger{})
	w.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	w.clients = coalesce[Clients](opts.Clients, nopClients{})
	w.tracer = coalesce[trace.Tracer](opts.Tracer, otel.Tracer(tracerName))
	w.limit = coalesce(opts.InstallConcurrency, defaultInstallConcurrency)

	if opts.AuthPaths != nil {
		w.policy = Policy{AuthPaths: append([]string(nil), opts.AuthPaths...)}
	} else {
		w.policy = Policy{AuthPaths: DefaultAuthPaths()}
	}
	if opts.Routes != nil {
		w.routes = *opts.Routes
	} else {
		w.routes = DefaultRoutes()
	}

	m := DefaultManifest(w.version)
	if opts.Manifest != nil {
		m = *opts.Manifest
	}
	if w.manifest, err = w.resolveManifest(m); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Worker) resolveManifest(m Manifest) (Manifest, error) {
	var out Manifest
	seen := make(map[string]struct{}, len(m.Assets))
	for _, a := range m.Assets {
		u, err := fetch.Resolve(w.origin, a)
		if err != nil {
			return Manifest{}, fmt.Errorf("offlinecache: manifest asset: %w", err)
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out.Assets = append(out.Assets, u)
	}
	if strings.TrimSpace(m.OfflinePage) != "" {
		u, err := fetch.Resolve(w.origin, m.OfflinePage)
		if err != nil {
			return Manifest{}, fmt.Errorf("offlinecache: offline page: %w", err)
		}
		out.OfflinePage = u
	}
	for _, icon := range m.Icons {
		u, err := fetch.Resolve(w.origin, icon)
		if err != nil {
			return Manifest{}, fmt.Errorf("offlinecache: icon: %w", err)
		}
		out.Icons = append(out.Icons, u)
	}
	return out, nil
}

// Version is the asset version the partition names are suffixed with.
func (w *Worker) Version() string { return w.version }

// PrecacheName is the current precache partition name.
func (w *Worker) PrecacheName() string { return w.precache }

// RuntimeName is the current runtime partition name.
func (w *Worker) RuntimeName() string { return w.runtime }

// Manifest returns the resolved (absolute) manifest.
func (w *Worker) Manifest() Manifest {
	return Manifest{
		Assets:      append([]string(nil), w.manifest.Assets...),
		OfflinePage: w.manifest.OfflinePage,
		Icons:       append([]string(nil), w.manifest.Icons...),
	}
}

// Resolve makes a page-relative URL absolute against the origin.
func (w *Worker) Resolve(ref string) (string, error) {
	return fetch.Resolve(w.origin, ref)
}

// Origin returns the origin the worker fronts.
func (w *Worker) Origin() *url.URL {
	u := *w.origin
	return &u
}
