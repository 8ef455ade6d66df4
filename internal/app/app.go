// Package app wires the offlinecache host from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	stdslog "log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/offlinecache"
	"github.com/unkn0wn-root/offlinecache/cachestore"
	"github.com/unkn0wn-root/offlinecache/codec"
	"github.com/unkn0wn-root/offlinecache/config"
	"github.com/unkn0wn-root/offlinecache/fetch"
	gen "github.com/unkn0wn-root/offlinecache/genstore"
	asynchook "github.com/unkn0wn-root/offlinecache/hooks/async"
	"github.com/unkn0wn-root/offlinecache/internal/telemetry"
	"github.com/unkn0wn-root/offlinecache/localdb/sqlite"
	"github.com/unkn0wn-root/offlinecache/log/dblog"
	logruslog "github.com/unkn0wn-root/offlinecache/log/logrus"
	slogl "github.com/unkn0wn-root/offlinecache/log/slog"
	zaplog "github.com/unkn0wn-root/offlinecache/log/zap"
	pr "github.com/unkn0wn-root/offlinecache/provider"
	pbigcache "github.com/unkn0wn-root/offlinecache/provider/bigcache"
	pmemory "github.com/unkn0wn-root/offlinecache/provider/memory"
	predis "github.com/unkn0wn-root/offlinecache/provider/redis"
	pristretto "github.com/unkn0wn-root/offlinecache/provider/ristretto"
	"github.com/unkn0wn-root/offlinecache/proxy"
	"github.com/unkn0wn-root/offlinecache/sloghooks"
)

const (
	serviceName     = "offlinecache"
	shutdownTimeout = 10 * time.Second
	namespace       = "offlinecache"
	maxEntryBytes   = 8 << 20
)

// Run serves until ctx is done.
func Run(ctx context.Context, cfg config.Config) (err error) {
	version := cfg.AssetVersion
	if version == "" {
		version = offlinecache.DefaultVersion
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, serviceName, version)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	base, syncLog, err := NewLogger(cfg.LogBackend, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer syncLog()

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("local store: %w", err)
	}
	defer store.Close()
	log := dblog.New(store, dblog.Options{Min: dblog.LevelWarn, Next: base})

	hooks := asynchook.New(sloghooks.New(slogFor(cfg.LogLevel), sloghooks.Options{
		SelfHealEvery: 10,
		FallbackEvery: 10,
	}), 1, 1024)
	defer hooks.Close()

	var rdb goredis.UniversalClient
	if cfg.Provider == "redis" {
		rdb = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	provider, err := NewProvider(cfg.Provider, cfg.CacheTTL, rdb)
	if err != nil {
		return err
	}

	entryCodec, err := codec.ByName[cachestore.Entry](cfg.Codec)
	if err != nil {
		_ = provider.Close(context.Background())
		return err
	}
	var gens gen.GenStore
	if rdb != nil {
		// partitions must agree across hosts sharing the provider
		gens = gen.NewRedisGenStore(rdb, namespace)
	}
	storage, err := cachestore.New(cachestore.Options{
		Namespace: namespace,
		Provider:  provider,
		Codec:     entryCodec,
		GenStore:  gens,
		TTL:       RuntimeTTL(cfg.CacheTTL),
		Hooks:     hooks,
	})
	if err != nil {
		_ = provider.Close(context.Background())
		return err
	}
	// closes the provider and generation store too
	defer storage.Close(context.Background())

	manifest, err := config.LoadManifest(cfg.Manifest, version)
	if err != nil {
		return err
	}

	network := fetch.NewHTTPFetcher(&http.Client{Timeout: cfg.FetchTimeout}, 0)
	controller := proxy.NewController()
	worker, err := offlinecache.New(offlinecache.Options{
		Origin:    cfg.Origin,
		Storage:   storage,
		Store:     store,
		Fetcher:   network,
		Version:   version,
		Manifest:  &manifest,
		AuthPaths: cfg.AuthPaths,
		Clients:   controller,
		Logger:    log,
		Hooks:     hooks,
	})
	if err != nil {
		return err
	}

	handler, err := proxy.NewHandler(proxy.Options{
		Origin:     cfg.Origin,
		Worker:     worker,
		Network:    network,
		Controller: controller,
		Store:      store,
		Version:    version,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report, err := worker.Start(gctx)
		if err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		log.Info("worker active", offlinecache.Fields{
			"version": version,
			"cached":  len(report.Cached),
			"skipped": len(report.Skipped),
		})
		return nil
	})
	g.Go(func() error {
		log.Info("listening", offlinecache.Fields{"addr": cfg.ListenAddr, "origin": cfg.Origin})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if probe := probeURL(cfg, worker); probe != "" {
		monitor, err := proxy.NewMonitor(proxy.MonitorOptions{
			Probe:    network,
			URL:      probe,
			Interval: cfg.ProbeInterval,
			Worker:   worker,
			Logger:   log,
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := monitor.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func probeURL(cfg config.Config, w *offlinecache.Worker) string {
	if cfg.ProbeURL != "" {
		u, err := w.Resolve(cfg.ProbeURL)
		if err != nil {
			return ""
		}
		return u
	}
	return w.Origin().String()
}

// RuntimeTTL expires runtime partition entries after ttl. Precache entries
// never expire: the offline page and icons must outlive any outage.
func RuntimeTTL(ttl time.Duration) func(partition string) time.Duration {
	if ttl <= 0 {
		return nil
	}
	prefix := offlinecache.DefaultRuntimePrefix + "-"
	return func(partition string) time.Duration {
		if strings.HasPrefix(partition, prefix) {
			return ttl
		}
		return 0
	}
}

// NewProvider builds the cache provider by name. rdb is required for redis.
// Only memory and redis keep the precache unconditionally; ristretto may
// refuse or evict entries under its cost budget and bigcache drops every
// entry after its LifeWindow.
func NewProvider(name string, ttl time.Duration, rdb goredis.UniversalClient) (pr.Provider, error) {
	switch name {
	case "memory":
		return pmemory.New(), nil
	case "ristretto":
		return pristretto.New(pristretto.Config{MaxBytes: 64 << 20})
	case "bigcache":
		life := ttl
		if life <= 0 {
			life = 24 * time.Hour
		}
		return pbigcache.New(pbigcache.Config{LifeWindow: life, MaxMB: 64, MaxEntryBytes: maxEntryBytes})
	case "redis":
		return predis.New(predis.Config{Client: rdb, MaxValueBytes: maxEntryBytes})
	}
	return nil, fmt.Errorf("unknown provider %q", name)
}

// NewLogger builds the base logger and a flush func for it.
func NewLogger(backend, level string) (offlinecache.Logger, func(), error) {
	switch backend {
	case "zap":
		zl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(zl)
		l, err := zc.Build()
		if err != nil {
			return nil, nil, fmt.Errorf("zap: %w", err)
		}
		return zaplog.New(l), func() { _ = l.Sync() }, nil
	case "logrus":
		ll, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		l := logrus.New()
		l.SetFormatter(&logrus.JSONFormatter{})
		l.SetLevel(ll)
		return logruslog.New(l), func() {}, nil
	case "slog":
		return slogl.New(slogFor(level)), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown log backend %q", backend)
}

func slogFor(level string) *stdslog.Logger {
	var lv stdslog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		lv = stdslog.LevelInfo
	}
	return stdslog.New(stdslog.NewJSONHandler(os.Stderr, &stdslog.HandlerOptions{Level: lv}))
}
