// Package sloghooks reports worker hook events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/offlinecache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	FallbackEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	fallbackCtr atomic.Uint64
}

var _ offlinecache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("offlinecache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) SetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("offlinecache.set_rejected", "key", h.redact(storageKey))
}

func (h *Hooks) PrecacheSkipped(url, reason string) {
	if h.l == nil {
		return
	}
	h.l.Info("offlinecache.precache_skipped",
		"url", url,
		"reason", reason)
}

func (h *Hooks) OperationQueued(id int64, method, url string) {
	if h.l == nil {
		return
	}
	h.l.Info("offlinecache.operation_queued",
		"id", id,
		"method", method,
		"url", url)
}

func (h *Hooks) OperationSynced(id int64, status int) {
	if h.l == nil {
		return
	}
	h.l.Info("offlinecache.operation_synced",
		"id", id,
		"status", status)
}

func (h *Hooks) OperationSyncFailed(id int64, status int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("offlinecache.operation_sync_failed",
		"id", id,
		"status", status,
		"err", err)
}

func (h *Hooks) ServedFallback(url, source string) {
	if h.l == nil || !sample(h.opts.FallbackEvery, &h.fallbackCtr) {
		return
	}
	h.l.Debug("offlinecache.served_fallback",
		"url", url,
		"source", source)
}

func (h *Hooks) PartitionPurged(name string) {
	if h.l == nil {
		return
	}
	h.l.Info("offlinecache.partition_purged", "partition", name)
}
