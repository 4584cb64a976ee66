package throttle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarsift/scholarsift/internal/domain"
)

func newTestThrottler(capacity int) *Throttler {
	return New(Options{
		MaxConcurrent: capacity,
		QueueTimeout:  time.Second,
		Pacing:        -1, // disabled for tests
		MaxRetries:    3,
		RetryBase:     time.Millisecond,
		RetryCap:      5 * time.Millisecond,
	})
}

func TestSubmit_Success(t *testing.T) {
	t.Parallel()

	th := newTestThrottler(2)
	out, err := th.Submit(context.Background(), func(domain.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestSubmit_CapacityBound(t *testing.T) {
	t.Parallel()

	const capacity = 2
	const tasks = 5

	th := newTestThrottler(capacity)

	var active, peak int64
	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := th.Submit(context.Background(), func(domain.Context) (string, error) {
				n := atomic.AddInt64(&active, 1)
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt64(&active, -1)
				return "done", nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(capacity))
}

func TestAcquire_FIFOOrder(t *testing.T) {
	t.Parallel()

	th := newTestThrottler(1)

	// Occupy the only slot.
	hold, err := th.Acquire(context.Background())
	require.NoError(t, err)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	ready := make(chan struct{}, 3)
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			// Stagger arrivals so queue order is deterministic.
			ready <- struct{}{}
			time.Sleep(time.Duration(n) * 20 * time.Millisecond)
			lease, err := th.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			lease.Release()
		}(i)
	}
	for i := 0; i < 3; i++ {
		<-ready
	}
	// Let all three goroutines enqueue before releasing the held slot.
	time.Sleep(150 * time.Millisecond)
	hold.Release()
	wg.Wait()

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestAcquire_QueueTimeout(t *testing.T) {
	t.Parallel()

	th := New(Options{
		MaxConcurrent: 1,
		QueueTimeout:  30 * time.Millisecond,
		Pacing:        -1,
	})

	hold, err := th.Acquire(context.Background())
	require.NoError(t, err)
	defer hold.Release()

	_, err = th.Acquire(context.Background())
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindQueueTimeout, terr.Kind)
}

func TestAcquire_QueueTimeoutDoesNotAffectOthers(t *testing.T) {
	t.Parallel()

	th := New(Options{
		MaxConcurrent: 1,
		QueueTimeout:  40 * time.Millisecond,
		Pacing:        -1,
	})

	hold, err := th.Acquire(context.Background())
	require.NoError(t, err)

	timedOut := make(chan error, 1)
	go func() {
		_, err := th.Acquire(context.Background())
		timedOut <- err
	}()

	// Wait until the queued caller has timed out, then release; a fresh
	// caller must still get a slot.
	err = <-timedOut
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindQueueTimeout, terr.Kind)

	hold.Release()
	lease, err := th.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release()
}

func TestSubmit_RateLimitedRetriesThenFails(t *testing.T) {
	t.Parallel()

	th := newTestThrottler(1)

	var calls int32
	_, err := th.Submit(context.Background(), func(domain.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", fmt.Errorf("%w: status 429", domain.ErrUpstreamRateLimit)
	})

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindRateLimited, terr.Kind)
	assert.ErrorIs(t, terr.Err, domain.ErrUpstreamRateLimit)
	// Initial attempt plus MaxRetries retries.
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestSubmit_RateLimitedThenRecovers(t *testing.T) {
	t.Parallel()

	th := newTestThrottler(1)

	var calls int32
	out, err := th.Submit(context.Background(), func(domain.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return "", errors.New("rate limited: 429")
		}
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSubmit_UpstreamErrorNotRetried(t *testing.T) {
	t.Parallel()

	th := newTestThrottler(1)

	var calls int32
	_, err := th.Submit(context.Background(), func(domain.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", errors.New("status 401: invalid api key")
	})

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindUpstream, terr.Kind)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSubmit_ContextCanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	th := New(Options{
		MaxConcurrent: 1,
		QueueTimeout:  time.Second,
		Pacing:        -1,
		MaxRetries:    3,
		RetryBase:     200 * time.Millisecond,
		RetryCap:      time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := th.Submit(ctx, func(domain.Context) (string, error) {
		return "", errors.New("too many requests")
	})

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindCanceled, terr.Kind)
}

func TestLease_ReleaseIdempotent(t *testing.T) {
	t.Parallel()

	th := newTestThrottler(1)
	lease, err := th.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release()
	lease.Release()

	// Capacity must not be over-freed: a second acquire works, a third
	// concurrent one queues.
	l2, err := th.Acquire(context.Background())
	require.NoError(t, err)
	defer l2.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = th.Acquire(ctx)
	require.Error(t, err)
}

func TestSubmit_PanickingTaskFreesSlot(t *testing.T) {
	t.Parallel()

	th := newTestThrottler(1)

	require.Panics(t, func() {
		_, _ = th.Submit(context.Background(), func(domain.Context) (string, error) {
			panic("generator blew up")
		})
	})

	// The slot must be usable again after the panic.
	out, err := th.Submit(context.Background(), func(domain.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestOptions_PacingZeroDisablesPacing(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Duration(0), New(Options{Pacing: 0}).opts.Pacing)
	assert.Equal(t, time.Duration(0), New(Options{Pacing: -time.Second}).opts.Pacing)
	assert.Equal(t, 2*time.Second, New(Options{Pacing: 2 * time.Second}).opts.Pacing)
}

func TestSubmit_PacingSpacesCompletions(t *testing.T) {
	t.Parallel()

	const pacing = 25 * time.Millisecond
	th := New(Options{
		MaxConcurrent: 1,
		QueueTimeout:  time.Second,
		Pacing:        pacing,
	})

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := th.Submit(context.Background(), func(domain.Context) (string, error) {
				return "ok", nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Three sequential tasks through one slot incur at least two pacing
	// intervals between slot handovers.
	assert.GreaterOrEqual(t, time.Since(start), 2*pacing)
}

func TestIsRateLimited(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "sentinel", err: fmt.Errorf("call: %w", domain.ErrUpstreamRateLimit), expected: true},
		{name: "status_429", err: errors.New("chat status 429"), expected: true},
		{name: "message_pattern", err: errors.New("Rate Limit exceeded"), expected: true},
		{name: "too_many_requests", err: errors.New("too many requests, slow down"), expected: true},
		{name: "auth_error", err: errors.New("status 401"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsRateLimited(tt.err))
		})
	}
}
