// Package throttle bounds concurrent outbound calls to the text-generation
// provider. It queues excess callers in FIFO order, paces slot reuse to stay
// under the provider's rate limit, and retries rate-limited tasks with
// exponential backoff.
package throttle

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/scholarsift/scholarsift/internal/adapter/observability"
	"github.com/scholarsift/scholarsift/internal/domain"
)

// ErrorKind classifies throttler failures.
type ErrorKind string

const (
	// KindQueueTimeout means the caller waited too long for capacity.
	KindQueueTimeout ErrorKind = "queue_timeout"
	// KindRateLimited means all retries were exhausted against a
	// rate-limited upstream.
	KindRateLimited ErrorKind = "rate_limited"
	// KindUpstream means the task failed with a non-retryable error.
	KindUpstream ErrorKind = "upstream"
	// KindCanceled means the caller's context ended before completion.
	KindCanceled ErrorKind = "canceled"
)

// Error is the single error type surfaced by Submit.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "throttle: " + string(e.Kind)
	}
	return "throttle: " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Task is one outbound call executed under a lease.
type Task func(ctx domain.Context) (string, error)

// Lease represents one granted capacity slot. It is created by Acquire and
// must be returned exactly once via Release.
type Lease struct {
	t        *Throttler
	released bool
	mu       sync.Mutex
}

// Options configures a Throttler. Zero values fall back to the documented
// defaults, except Pacing where zero means no pacing.
type Options struct {
	// MaxConcurrent bounds simultaneously leased tasks. Default 5.
	MaxConcurrent int
	// QueueTimeout bounds each queued wait. Default 30s.
	QueueTimeout time.Duration
	// Pacing is the delay after a task completes before its slot is freed.
	// Zero or negative disables pacing; the production default comes from
	// configuration, not from here.
	Pacing time.Duration
	// MaxRetries bounds rate-limit retries per submission. Default 3.
	MaxRetries int
	// RetryBase is the initial retry delay; the n-th retry waits
	// min(2^n * RetryBase, RetryCap). Defaults 1s / 30s.
	RetryBase time.Duration
	RetryCap  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 5
	}
	if o.QueueTimeout <= 0 {
		o.QueueTimeout = 30 * time.Second
	}
	if o.Pacing < 0 {
		o.Pacing = 0
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	if o.RetryCap <= 0 {
		o.RetryCap = 30 * time.Second
	}
	return o
}

// Throttler owns the capacity counter and the FIFO wait queue. Multiple
// instances can coexist; there is no package-level state.
type Throttler struct {
	opts Options

	mu      sync.Mutex
	inUse   int
	waiters []chan struct{}
}

// New constructs a Throttler from opts.
func New(opts Options) *Throttler {
	return &Throttler{opts: opts.withDefaults()}
}

// Acquire blocks until a capacity slot is granted, the queue timeout
// elapses, or ctx ends. Queued callers are served strictly in arrival order.
func (t *Throttler) Acquire(ctx domain.Context) (*Lease, error) {
	t.mu.Lock()
	if t.inUse < t.opts.MaxConcurrent {
		t.inUse++
		t.mu.Unlock()
		return &Lease{t: t}, nil
	}
	grant := make(chan struct{})
	t.waiters = append(t.waiters, grant)
	depth := len(t.waiters)
	t.mu.Unlock()
	observability.ThrottleQueueDepth.Set(float64(depth))

	start := time.Now()
	timer := time.NewTimer(t.opts.QueueTimeout)
	defer timer.Stop()

	select {
	case <-grant:
		observability.ThrottleWaitDuration.Observe(time.Since(start).Seconds())
		return &Lease{t: t}, nil
	case <-timer.C:
		if t.abandon(grant) {
			return nil, &Error{Kind: KindQueueTimeout, Err: errors.New("waited " + t.opts.QueueTimeout.String() + " for capacity")}
		}
		// Granted concurrently with the timeout; the slot is ours.
		<-grant
		return &Lease{t: t}, nil
	case <-ctx.Done():
		if t.abandon(grant) {
			return nil, &Error{Kind: KindCanceled, Err: ctx.Err()}
		}
		<-grant
		return &Lease{t: t}, nil
	}
}

// abandon removes grant from the wait queue. It reports false when the grant
// was already handed out, in which case the caller owns the slot.
func (t *Throttler) abandon(grant chan struct{}) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, w := range t.waiters {
		if w == grant {
			t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Release returns the lease's slot. The slot is freed only after the pacing
// interval so back-to-back tasks respect the provider's rate limit even
// under full utilization. Release is idempotent.
func (l *Lease) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	l.mu.Unlock()

	if l.t.opts.Pacing > 0 {
		time.AfterFunc(l.t.opts.Pacing, l.t.free)
		return
	}
	l.t.free()
}

// free hands the slot to the oldest waiter, or decrements the counter when
// nobody is queued. Handing over keeps inUse constant so the capacity bound
// holds across the transfer.
func (t *Throttler) free() {
	t.mu.Lock()
	if len(t.waiters) > 0 {
		grant := t.waiters[0]
		t.waiters = t.waiters[1:]
		depth := len(t.waiters)
		t.mu.Unlock()
		observability.ThrottleQueueDepth.Set(float64(depth))
		close(grant)
		return
	}
	t.inUse--
	t.mu.Unlock()
}

// Submit runs task under a lease, retrying rate-limited failures with
// exponential backoff up to the configured retry ceiling. Every attempt
// consumes a fresh lease so queued callers interleave fairly with retries.
// The lease is released even when task panics.
func (t *Throttler) Submit(ctx domain.Context, task Task) (string, error) {
	bo := t.newRetryBackoff()
	var lastErr error
	for attempt := 0; ; attempt++ {
		lease, err := t.Acquire(ctx)
		if err != nil {
			return "", err
		}
		out, err := func() (string, error) {
			defer lease.Release()
			return task(ctx)
		}()
		if err == nil {
			return out, nil
		}
		if !IsRateLimited(err) {
			return "", &Error{Kind: KindUpstream, Err: err}
		}
		lastErr = err
		if attempt >= t.opts.MaxRetries {
			observability.ThrottleRetriesExhausted.Inc()
			return "", &Error{Kind: KindRateLimited, Err: lastErr}
		}
		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return "", &Error{Kind: KindRateLimited, Err: lastErr}
		}
		slog.Warn("task rate limited, backing off",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.Any("error", err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", &Error{Kind: KindCanceled, Err: ctx.Err()}
		}
	}
}

// newRetryBackoff yields delays of exactly min(2^n * RetryBase, RetryCap).
func (t *Throttler) newRetryBackoff() backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = t.opts.RetryBase
	expo.MaxInterval = t.opts.RetryCap
	expo.Multiplier = 2.0
	expo.RandomizationFactor = 0
	expo.MaxElapsedTime = 0
	expo.Reset()
	return expo
}

// IsRateLimited reports whether err signals a rate-limited upstream, either
// by sentinel or by message pattern.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrUpstreamRateLimit) || errors.Is(err, domain.ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}
