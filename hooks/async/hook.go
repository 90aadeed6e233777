// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/tscache"
//	"github.com/unkn0wn-root/tscache/codec"
//	"github.com/unkn0wn-root/tscache/hooks/async"
//	"github.com/unkn0wn-root/tscache/sloghooks"
//	"github.com/unkn0wn-root/tscache/store/redis"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    HitEvery:  100, // sample logs: ~every 100th hit
//	    MissEvery: 10,  // ~every 10th miss
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := tscache.New[User](tscache.Options[User]{
//	    Namespace: "app:prod:user",
//	    Store:     redis.New(rdb),
//	    Codec:     codec.JSON[User]{},
//	    Hooks:     hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/tscache"
	"github.com/unkn0wn-root/tscache/record"
)

type Hooks struct {
	inner tscache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ tscache.Hooks = (*Hooks)(nil)

func New(inner tscache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) Hit(k string)          { h.try(func() { h.inner.Hit(k) }) }
func (h *Hooks) Miss(k, reason string) { h.try(func() { h.inner.Miss(k, reason) }) }
func (h *Hooks) WriteAccepted(k string, ts record.Timestamp) {
	h.try(func() { h.inner.WriteAccepted(k, ts) })
}
func (h *Hooks) WriteRejected(k string, ts, cutoff record.Timestamp) {
	h.try(func() { h.inner.WriteRejected(k, ts, cutoff) })
}
func (h *Hooks) InvalidateAccepted(k string, ts record.Timestamp) {
	h.try(func() { h.inner.InvalidateAccepted(k, ts) })
}
func (h *Hooks) InvalidateRejected(k string, ts, cutoff record.Timestamp) {
	h.try(func() { h.inner.InvalidateRejected(k, ts, cutoff) })
}
func (h *Hooks) CorruptRecord(k string, err error)  { h.try(func() { h.inner.CorruptRecord(k, err) }) }
func (h *Hooks) CodecFailure(k string, err error)   { h.try(func() { h.inner.CodecFailure(k, err) }) }
func (h *Hooks) UpdateConflict(k string, err error) { h.try(func() { h.inner.UpdateConflict(k, err) }) }
