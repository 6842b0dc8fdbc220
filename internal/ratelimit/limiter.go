package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"invoice-harvester-go/internal/apperr"
	"invoice-harvester-go/internal/clock"
)

const (
	// Window is the trailing interval calls are counted over
	Window = 60 * time.Second
	// buffer is added to the computed wait so the oldest call has surely aged out
	buffer = time.Second
	// maxSleep caps a single wait iteration
	maxSleep = 30 * time.Second
)

// SlidingWindow admits at most maxPerMinute calls within any trailing minute
type SlidingWindow struct {
	mu           sync.Mutex
	maxPerMinute int
	calls        []time.Time
	clk          clock.Clock
	log          logrus.FieldLogger
	onWait       func(time.Duration)
}

// New creates a limiter allowing maxPerMinute calls per trailing minute
func New(maxPerMinute int, clk clock.Clock, log logrus.FieldLogger) *SlidingWindow {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if maxPerMinute <= 0 {
		maxPerMinute = 1
	}
	return &SlidingWindow{maxPerMinute: maxPerMinute, clk: clk, log: log}
}

// OnWait registers a hook called with every sleep the limiter performs
func (l *SlidingWindow) OnWait(fn func(time.Duration)) {
	l.mu.Lock()
	l.onWait = fn
	l.mu.Unlock()
}

// prune drops timestamps older than the window. Caller holds mu.
func (l *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-Window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

// CanAdmit reports whether one more call fits in the window
func (l *SlidingWindow) CanAdmit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.clk.Now())
	return len(l.calls) < l.maxPerMinute
}

// RecordCall appends the current time to the window
func (l *SlidingWindow) RecordCall() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clk.Now()
	l.prune(now)
	l.calls = append(l.calls, now)
}

// InWindow returns how many calls are currently counted
func (l *SlidingWindow) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.clk.Now())
	return len(l.calls)
}

// nextWait computes the sleep until the oldest call leaves the window.
// ok is false when the window is empty.
func (l *SlidingWindow) nextWait() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.calls) == 0 {
		return 0, false
	}
	age := l.clk.Now().Sub(l.calls[0])
	wait := Window - age + buffer
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// AwaitAdmission sleeps until a call can be admitted or maxWait elapses.
// Running out of maxWait is not an error: the caller proceeds anyway.
// Only context cancellation is reported, as a timeout.
func (l *SlidingWindow) AwaitAdmission(ctx context.Context, maxWait time.Duration) error {
	start := l.clk.Now()
	for !l.CanAdmit() {
		waited := l.clk.Now().Sub(start)
		remaining := maxWait - waited
		if remaining <= 0 {
			l.log.WithFields(logrus.Fields{
				"waited":      waited.String(),
				"max_wait":    maxWait.String(),
				"in_window":   l.InWindow(),
				"max_per_min": l.maxPerMinute,
			}).Warn("Rate limit wait exceeded, proceeding anyway")
			return nil
		}

		wait, ok := l.nextWait()
		if !ok {
			l.log.Warn("Rate limiter window empty but admission denied, proceeding")
			return nil
		}
		if wait > maxSleep {
			wait = maxSleep
		}
		if wait > remaining {
			wait = remaining
		}

		l.log.WithField("sleep", wait.String()).Debug("Rate limit reached, waiting")
		l.mu.Lock()
		hook := l.onWait
		l.mu.Unlock()
		if hook != nil {
			hook(wait)
		}
		if err := l.clk.Sleep(ctx, wait); err != nil {
			return apperr.Timeout("ratelimit/await", err)
		}
	}
	return nil
}
