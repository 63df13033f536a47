// Package ratelimit implements the per-credential, per-channel fixed-window
// admission counter.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/dmitrijs2005/codetime/internal/common"
)

// Channel separates request traffic from heartbeat traffic; each has its
// own ceiling.
type Channel string

const (
	ChannelRequest   Channel = "http"
	ChannelHeartbeat Channel = "ws"
)

// Limits maps a channel to its per-window ceiling. A missing or
// non-positive ceiling disables limiting on that channel.
type Limits map[Channel]int

type windowKey struct {
	key     string
	channel Channel
}

type window struct {
	mu    sync.Mutex
	start int64
	count int
	// set by Sweep under mu once the window is unlinked from the map
	dead bool
}

// Limiter admits at most Limits[ch] calls per (key, channel) in each
// wall-clock minute. Windows are aligned to floor(now_ms / 60000), so a
// burst straddling a boundary may see up to twice the ceiling.
type Limiter struct {
	clock    quartz.Clock
	limits   Limits
	windows  sync.Map // windowKey -> *window
	onReject func(Channel)
}

type Option func(*Limiter)

// WithRejectHook calls fn for every rejected admission.
func WithRejectHook(fn func(Channel)) Option {
	return func(l *Limiter) { l.onReject = fn }
}

func New(clock quartz.Clock, limits Limits, opts ...Option) *Limiter {
	if clock == nil {
		clock = quartz.NewReal()
	}
	l := &Limiter{clock: clock, limits: limits}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Limiter) currentWindow() int64 {
	return l.clock.Now().UnixMilli() / int64(time.Minute/time.Millisecond)
}

// Allow records one call for (key, ch). It returns common.ErrRateLimited
// when the ceiling for the current window is already reached. An empty key
// is counted as anonymous.
func (l *Limiter) Allow(key string, ch Channel) error {
	ceiling := l.limits[ch]
	if ceiling <= 0 {
		return nil
	}
	if key == "" {
		key = common.AnonymousKey
	}

	now := l.currentWindow()
	k := windowKey{key: key, channel: ch}
	var w *window
	for {
		v, _ := l.windows.LoadOrStore(k, &window{start: now})
		w = v.(*window)
		w.mu.Lock()
		if !w.dead {
			break
		}
		// swept between load and lock; counting here would be lost
		w.mu.Unlock()
	}
	defer w.mu.Unlock()

	if w.start != now {
		w.start = now
		w.count = 1
		return nil
	}
	if w.count >= ceiling {
		if l.onReject != nil {
			l.onReject(ch)
		}
		return common.NewError(common.CodeRateLimited, "too many requests")
	}
	w.count++
	return nil
}

// Sweep drops windows that ended before the current one and returns how
// many were removed.
func (l *Limiter) Sweep() int {
	now := l.currentWindow()
	removed := 0
	l.windows.Range(func(k, v any) bool {
		w := v.(*window)
		w.mu.Lock()
		if w.start < now && l.windows.CompareAndDelete(k, w) {
			w.dead = true
			removed++
		}
		w.mu.Unlock()
		return true
	})
	return removed
}

// Run sweeps stale windows every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	t := l.clock.NewTicker(interval, "ratelimit", "sweep")
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}
