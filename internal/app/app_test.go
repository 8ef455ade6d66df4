package app

import (
	"context"
	"testing"
	"time"

	"github.com/unkn0wn-root/offlinecache"
	"github.com/unkn0wn-root/offlinecache/config"
)

func TestNewProvider(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"memory", "ristretto", "bigcache"} {
		t.Run(name, func(t *testing.T) {
			p, err := NewProvider(name, time.Hour, nil)
			if err != nil {
				t.Fatalf("NewProvider: %v", err)
			}
			t.Cleanup(func() { _ = p.Close(ctx) })
			if _, err := p.Set(ctx, "k", []byte("v"), 1, 0); err != nil {
				t.Fatalf("Set: %v", err)
			}
		})
	}
	if _, err := NewProvider("redis", 0, nil); err == nil {
		t.Fatalf("redis without a client accepted")
	}
	if _, err := NewProvider("kioshun", 0, nil); err == nil {
		t.Fatalf("unknown provider accepted")
	}
}

func TestRuntimeTTLSparesPrecache(t *testing.T) {
	if RuntimeTTL(0) != nil {
		t.Fatalf("zero ttl must disable expiry")
	}
	ttl := RuntimeTTL(time.Hour)
	if got := ttl(offlinecache.DefaultRuntimePrefix + "-v3"); got != time.Hour {
		t.Fatalf("runtime ttl = %v", got)
	}
	if got := ttl(offlinecache.DefaultPrecachePrefix + "-v3"); got != 0 {
		t.Fatalf("precache ttl = %v, want no expiry", got)
	}
}

func TestNewLogger(t *testing.T) {
	for _, backend := range []string{"zap", "logrus", "slog"} {
		l, flush, err := NewLogger(backend, "debug")
		if err != nil {
			t.Fatalf("%s: %v", backend, err)
		}
		l.Debug("logger ready", nil)
		flush()
	}
	if _, _, err := NewLogger("zap", "loud"); err == nil {
		t.Fatalf("bad level accepted")
	}
	if _, _, err := NewLogger("glog", "info"); err == nil {
		t.Fatalf("unknown backend accepted")
	}
}

func TestRunFailsOnBadDBPath(t *testing.T) {
	cfg := config.Config{
		ListenAddr: "127.0.0.1:0",
		Origin:     "http://127.0.0.1:1",
		DBPath:     t.TempDir() + "/missing/dir/offline.db",
		Provider:   "memory",
		Codec:      "cbor",
		LogBackend: "slog",
		LogLevel:   "error",
	}
	if err := Run(context.Background(), cfg); err == nil {
		t.Fatalf("Run succeeded with an unusable database path")
	}
}
