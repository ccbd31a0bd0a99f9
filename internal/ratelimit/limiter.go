// Package ratelimit implements the shared sliding-window request budget for
// the Riot API. The API enforces two caps at once (a short burst window and a
// longer window), so admission requires headroom in every configured window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PadTo/lol-match-pipeline/internal/clock"
)

// ErrWaitBudgetExceeded is returned when the projected wait for admission
// exceeds the configured maximum. Callers surface it instead of hanging.
var ErrWaitBudgetExceeded = errors.New("ratelimit: wait budget exceeded")

// Window caps requests at Limit per rolling Span.
type Window struct {
	Limit int
	Span  time.Duration
}

// Config holds limiter configuration.
type Config struct {
	// Windows are enforced simultaneously; all must have headroom before a
	// request is admitted.
	Windows []Window
	// MaxWait bounds the total time a single Wait call may block.
	MaxWait time.Duration
}

// SleepFunc blocks for d or until the context finishes. Replaced in tests to
// drive a simulated clock.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Limiter admits requests subject to every configured rolling window plus any
// server-directed penalty. It is the single shared budget tracker for all
// concurrent callers; all state is guarded by one mutex.
type Limiter struct {
	mu           sync.Mutex
	windows      []trackedWindow
	blockedUntil time.Time

	maxWait time.Duration
	clock   clock.Clock
	sleep   SleepFunc
}

type trackedWindow struct {
	limit  int
	span   time.Duration
	stamps []time.Time
}

// New creates a Limiter backed by the system clock.
func New(cfg Config) (*Limiter, error) {
	return NewWithClock(cfg, clock.NewSystem(), sleepTimer)
}

// NewWithClock creates a Limiter with an injected clock and sleep function.
func NewWithClock(cfg Config, clk clock.Clock, sleep SleepFunc) (*Limiter, error) {
	if len(cfg.Windows) == 0 {
		return nil, fmt.Errorf("ratelimit: at least one window is required")
	}
	windows := make([]trackedWindow, 0, len(cfg.Windows))
	for _, w := range cfg.Windows {
		if w.Limit <= 0 || w.Span <= 0 {
			return nil, fmt.Errorf("ratelimit: invalid window %d/%s", w.Limit, w.Span)
		}
		windows = append(windows, trackedWindow{limit: w.Limit, span: w.Span})
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = 5 * time.Minute
	}
	return &Limiter{
		windows: windows,
		maxWait: maxWait,
		clock:   clk,
		sleep:   sleep,
	}, nil
}

// Wait blocks until every window has headroom and any penalty has elapsed,
// then records the request. It returns ErrWaitBudgetExceeded if admission
// would require waiting longer than the configured maximum, and the context
// error if ctx finishes first.
func (l *Limiter) Wait(ctx context.Context) error {
	var waited time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delay := l.reserve()
		if delay <= 0 {
			return nil
		}
		if waited+delay > l.maxWait {
			return fmt.Errorf("%w: need %s more after waiting %s", ErrWaitBudgetExceeded, delay, waited)
		}
		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
		waited += delay
	}
}

// Penalize blocks all admissions until d has elapsed, used when the server
// answers 429 with a Retry-After directive. A shorter penalty never shrinks
// one already in force.
func (l *Limiter) Penalize(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	until := l.clock.Now().Add(d)
	if until.After(l.blockedUntil) {
		l.blockedUntil = until
	}
}

// reserve either records a request and returns 0, or returns the delay until
// the next admission attempt should be made.
func (l *Limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if l.blockedUntil.After(now) {
		return l.blockedUntil.Sub(now)
	}

	var delay time.Duration
	for i := range l.windows {
		w := &l.windows[i]
		w.prune(now)
		if len(w.stamps) >= w.limit {
			if d := w.stamps[0].Add(w.span).Sub(now); d > delay {
				delay = d
			}
		}
	}
	if delay > 0 {
		return delay
	}
	for i := range l.windows {
		l.windows[i].stamps = append(l.windows[i].stamps, now)
	}
	return 0
}

// prune drops timestamps that have rolled out of the window.
func (w *trackedWindow) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// sleepTimer is the production SleepFunc.
func sleepTimer(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
