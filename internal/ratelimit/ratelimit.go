// Package ratelimit paces calls to one external endpoint across all workers
// in the process. Construct one Limiter per endpoint and share it; tests
// construct independent instances.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	window    = time.Minute
	minJitter = 100 * time.Millisecond
)

type tokenStamp struct {
	at     time.Time
	tokens int
	// estimated marks a reservation whose true cost has not been
	// recorded yet.
	estimated bool
}

// Limiter tracks request and token cost in a sliding one-minute window. A
// semaphore bounds in-flight requests to min(configured, rpm/2) so bursts
// stay bounded even when the window has room.
type Limiter struct {
	mu       sync.Mutex
	rpm      int
	tpm      int // input tokens per minute; 0 = untracked
	requests []time.Time
	tokens   []tokenStamp

	inflight *semaphore.Weighted

	// now is swappable in tests.
	now func() time.Time
}

// New builds a limiter for requestsPerMinute and an optional token budget.
// maxInFlight <= 0 means derive from rpm alone.
func New(requestsPerMinute, tokensPerMinute, maxInFlight int) *Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	slots := requestsPerMinute / 2
	if slots < 1 {
		slots = 1
	}
	if maxInFlight > 0 && maxInFlight < slots {
		slots = maxInFlight
	}
	return &Limiter{
		rpm:      requestsPerMinute,
		tpm:      tokensPerMinute,
		inflight: semaphore.NewWeighted(int64(slots)),
		now:      time.Now,
	}
}

// Acquire blocks until the window has room for one request carrying
// estimatedTokens, honoring ctx cancellation. The returned release func
// surrenders the in-flight slot and must be called exactly once.
func (l *Limiter) Acquire(ctx context.Context, estimatedTokens int) (func(), error) {
	if err := l.inflight.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	for {
		wait, ok := l.tryReserve(estimatedTokens)
		if ok {
			return func() { l.inflight.Release(1) }, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.inflight.Release(1)
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Record sets the observed cost of a completed request, replacing the
// oldest outstanding estimate's contribution to the token window. The stamp
// keeps its reservation time so its window position is unchanged. Without
// an outstanding estimate the cost is appended as a new stamp.
func (l *Limiter) Record(actualTokens int) {
	if l.tpm <= 0 || actualTokens <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.tokens {
		if l.tokens[i].estimated {
			l.tokens[i].tokens = actualTokens
			l.tokens[i].estimated = false
			return
		}
	}
	l.tokens = append(l.tokens, tokenStamp{at: l.now(), tokens: actualTokens})
}

// tryReserve trims the windows and either reserves a slot or reports how
// long to sleep before the oldest stamp ages out.
func (l *Limiter) tryReserve(estimatedTokens int) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)
	l.requests = trimTimes(l.requests, cutoff)
	l.tokens = trimTokens(l.tokens, cutoff)

	if len(l.requests) >= l.rpm {
		return backoffUntil(l.requests[0], now), false
	}
	if l.tpm > 0 {
		used := 0
		for _, t := range l.tokens {
			used += t.tokens
		}
		if used+estimatedTokens > l.tpm && len(l.tokens) > 0 {
			return backoffUntil(l.tokens[0].at, now), false
		}
	}

	l.requests = append(l.requests, now)
	if l.tpm > 0 && estimatedTokens > 0 {
		l.tokens = append(l.tokens, tokenStamp{at: now, tokens: estimatedTokens, estimated: true})
	}
	return 0, true
}

// backoffUntil sleeps past the oldest stamp's expiry plus a small jitter so
// waking workers do not stampede.
func backoffUntil(oldest, now time.Time) time.Duration {
	wait := oldest.Add(window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait + minJitter + time.Duration(rand.Int63n(int64(minJitter)))
}

func trimTimes(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && stamps[i].Before(cutoff) {
		i++
	}
	return stamps[i:]
}

func trimTokens(stamps []tokenStamp, cutoff time.Time) []tokenStamp {
	i := 0
	for i < len(stamps) && stamps[i].at.Before(cutoff) {
		i++
	}
	return stamps[i:]
}
