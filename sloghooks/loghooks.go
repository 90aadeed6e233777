package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/tscache"
	"github.com/unkn0wn-root/tscache/record"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all. Hits and misses fire on every
	// read, so these are the only events worth thinning. Rejections, corruption
	// and conflicts are rare and always logged.
	HitEvery  uint64
	MissEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	hitCtr  atomic.Uint64
	missCtr atomic.Uint64
}

var _ tscache.Hooks = (*Hooks)(nil)

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

func (h *Hooks) Hit(storageKey string) {
	if h.l == nil || !sample(h.opts.HitEvery, &h.hitCtr) {
		return
	}
	h.l.Debug("tscache.hit",
		"key", h.redact(storageKey))
}

func (h *Hooks) Miss(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.MissEvery, &h.missCtr) {
		return
	}
	h.l.Debug("tscache.miss",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) WriteAccepted(storageKey string, ts record.Timestamp) {
	if h.l == nil {
		return
	}
	h.l.Debug("tscache.write_accepted",
		"key", h.redact(storageKey),
		"ts", ts.String())
}

func (h *Hooks) WriteRejected(storageKey string, ts, cutoff record.Timestamp) {
	if h.l == nil {
		return
	}
	h.l.Info("tscache.write_rejected",
		"key", h.redact(storageKey),
		"ts", ts.String(),
		"cutoff", cutoff.String())
}

func (h *Hooks) InvalidateAccepted(storageKey string, ts record.Timestamp) {
	if h.l == nil {
		return
	}
	h.l.Debug("tscache.invalidate_accepted",
		"key", h.redact(storageKey),
		"ts", ts.String())
}

func (h *Hooks) InvalidateRejected(storageKey string, ts, cutoff record.Timestamp) {
	if h.l == nil {
		return
	}
	h.l.Info("tscache.invalidate_rejected",
		"key", h.redact(storageKey),
		"ts", ts.String(),
		"cutoff", cutoff.String())
}

func (h *Hooks) CorruptRecord(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("tscache.corrupt_record",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) CodecFailure(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tscache.codec_failure",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) UpdateConflict(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tscache.update_conflict",
		"key", h.redact(storageKey),
		"err", err)
}
