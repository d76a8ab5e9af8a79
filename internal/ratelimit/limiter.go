package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Limiter admits at most maxCalls callers per trailing window for one
// upstream provider. It never rejects; over the cap it delays the caller
// until the oldest admission ages out of the window.
type Limiter struct {
	name     string
	maxCalls int
	window   time.Duration
	logger   zerolog.Logger

	mu    sync.Mutex
	calls []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a limiter for the named provider.
func New(name string, maxCalls int, window time.Duration, logger zerolog.Logger) *Limiter {
	if maxCalls <= 0 {
		panic("ratelimit: maxCalls must be positive")
	}
	if window <= 0 {
		panic("ratelimit: window must be positive")
	}
	return &Limiter{
		name:     name,
		maxCalls: maxCalls,
		window:   window,
		logger:   logger.With().Str("component", "ratelimit").Str("provider", name).Logger(),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Acquire blocks until the caller may issue one upstream request, returning
// how long it waited. The check-and-record step runs under the mutex; the
// wait itself does not, so concurrent callers queue on the window rather
// than on each other.
func (l *Limiter) Acquire(ctx context.Context) (time.Duration, error) {
	var waited time.Duration
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)

		if len(l.calls) < l.maxCalls {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			return waited, nil
		}

		wait := l.window - now.Sub(l.calls[0])
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}

		l.logger.Debug().Dur("wait", wait).Msg("rate limit reached, waiting")
		if err := l.sleep(ctx, wait); err != nil {
			return waited, err
		}
		waited += wait
	}
}

// Remaining returns how many admissions are left in the current window.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	if n := l.maxCalls - len(l.calls); n > 0 {
		return n
	}
	return 0
}

// Reset clears all recorded admissions.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = l.calls[:0]
}

// prune drops admissions older than the trailing window. Caller holds mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
