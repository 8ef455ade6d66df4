package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/offlinecache"
)

func TestFieldsAreForwarded(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Warn("best-effort operation failed", offlinecache.Fields{"url": "/x", "err": errors.New("quota")})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["url"] != "/x" || ctx["error"] != "quota" {
		t.Fatalf("context = %v", ctx)
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("level = %v", entries[0].Level)
	}
}

func TestNilLogger(t *testing.T) {
	New(nil).Info("ok", nil)
}
