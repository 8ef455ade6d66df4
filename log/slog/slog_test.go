package slog

import (
	"bytes"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/offlinecache"
)

func TestAttrsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	l := New(stdslog.New(stdslog.NewTextHandler(&buf, nil)))

	l.Info("installed", offlinecache.Fields{"skipped": 2, "cached": 9, "partition": "vf-precache-v1"})

	out := buf.String()
	c, p, s := strings.Index(out, "cached="), strings.Index(out, "partition="), strings.Index(out, "skipped=")
	if c < 0 || !(c < p && p < s) {
		t.Fatalf("unsorted or missing attrs: %s", out)
	}
}

func TestDisabledLevelIsSkipped(t *testing.T) {
	var buf bytes.Buffer
	l := New(stdslog.New(stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelWarn})))
	l.Debug("dispatch", offlinecache.Fields{"event": "fetch"})
	if buf.Len() != 0 {
		t.Fatalf("debug written at warn level: %s", buf.String())
	}
}
