package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarsift/scholarsift/internal/domain"
	"github.com/scholarsift/scholarsift/internal/service/throttle"
)

type fakeGen struct {
	mu    sync.Mutex
	calls int32
	fn    func(userPrompt string) (string, error)
}

func (f *fakeGen) GenerateJSON(_ domain.Context, _, userPrompt string, _ int) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fn(userPrompt)
}

type memCache struct {
	mu    sync.Mutex
	items map[string]domain.ScoreResult
}

func newMemCache() *memCache {
	return &memCache{items: make(map[string]domain.ScoreResult)}
}

func (m *memCache) Get(_ domain.Context, key string) (domain.ScoreResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.items[key]; ok {
		return res, nil
	}
	return domain.ScoreResult{}, domain.ErrNotFound
}

func (m *memCache) Set(_ domain.Context, key string, res domain.ScoreResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = res
	return nil
}

func (m *memCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func testThrottler() *throttle.Throttler {
	return throttle.New(throttle.Options{
		MaxConcurrent: 5,
		QueueTimeout:  2 * time.Second,
		Pacing:        -1,
		MaxRetries:    2,
		RetryBase:     time.Millisecond,
		RetryCap:      5 * time.Millisecond,
	})
}

func sampleInputs() (domain.Profile, domain.Opportunity) {
	p := domain.Profile{
		Degree:            "MSc",
		Field:             "Machine Learning",
		ResearchInterests: []string{"NLP"},
	}
	o := domain.Opportunity{
		Title:       "PhD in NLP",
		Institution: "Uni A",
	}
	return p, o
}

func TestScore_Success(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{fn: func(string) (string, error) {
		return `{"score": 88, "explanation": "great", "matchingPoints": ["x"], "improvementAreas": ["y"]}`, nil
	}}
	svc := NewScoreService(gen, testThrottler(), nil, 500)

	p, o := sampleInputs()
	res := svc.Score(context.Background(), p, o)
	require.False(t, res.Degraded)
	assert.Equal(t, 88.0, res.OverallScore)
	assert.Equal(t, "great", res.Explanation)
}

func TestScore_PromptContainsInputs(t *testing.T) {
	t.Parallel()

	var seen string
	gen := &fakeGen{fn: func(userPrompt string) (string, error) {
		seen = userPrompt
		return `{"score": 50}`, nil
	}}
	svc := NewScoreService(gen, testThrottler(), nil, 500)

	p, o := sampleInputs()
	_ = svc.Score(context.Background(), p, o)
	assert.True(t, strings.Contains(seen, "PhD in NLP"))
	assert.True(t, strings.Contains(seen, "Machine Learning"))
}

func TestScore_UpstreamFailureDegrades(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{fn: func(string) (string, error) {
		return "", fmt.Errorf("%w: boom", domain.ErrInternal)
	}}
	svc := NewScoreService(gen, testThrottler(), nil, 500)

	p, o := sampleInputs()
	res := svc.Score(context.Background(), p, o)
	require.True(t, res.Degraded)
	assert.Equal(t, domain.FailureUpstream, res.FailureReason)
	assert.Equal(t, float64(domain.FallbackOverallScore), res.OverallScore)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gen.calls), "upstream errors are not retried by the throttler")
}

func TestScore_RateLimitExhaustionDegrades(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{fn: func(string) (string, error) {
		return "", fmt.Errorf("%w: chat status 429", domain.ErrUpstreamRateLimit)
	}}
	svc := NewScoreService(gen, testThrottler(), nil, 500)

	p, o := sampleInputs()
	res := svc.Score(context.Background(), p, o)
	require.True(t, res.Degraded)
	assert.Equal(t, domain.FailureRateLimited, res.FailureReason)
	// Initial attempt plus the configured retries.
	assert.Equal(t, int32(3), atomic.LoadInt32(&gen.calls))
}

func TestScore_UnparseableResponseDegrades(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{fn: func(string) (string, error) {
		return "I refuse to answer in JSON.", nil
	}}
	svc := NewScoreService(gen, testThrottler(), nil, 500)

	p, o := sampleInputs()
	res := svc.Score(context.Background(), p, o)
	require.True(t, res.Degraded)
	assert.Equal(t, domain.FailureParse, res.FailureReason)
}

func TestScore_PanickingGeneratorDegrades(t *testing.T) {
	t.Parallel()

	var calls int32
	gen := &fakeGen{fn: func(string) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("generator blew up")
		}
		return `{"score": 77}`, nil
	}}
	svc := NewScoreService(gen, testThrottler(), nil, 500)

	p, o := sampleInputs()
	res := svc.Score(context.Background(), p, o)
	require.True(t, res.Degraded)
	assert.Equal(t, domain.FailureUnknown, res.FailureReason)
	assert.Equal(t, float64(domain.FallbackOverallScore), res.OverallScore)

	// The service and its throttler stay usable after the panic.
	again := svc.Score(context.Background(), p, o)
	require.False(t, again.Degraded)
	assert.Equal(t, 77.0, again.OverallScore)
}

func TestScore_CacheHitSkipsGenerator(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{fn: func(string) (string, error) {
		return `{"score": 70}`, nil
	}}
	cache := newMemCache()
	svc := NewScoreService(gen, testThrottler(), cache, 500)

	p, o := sampleInputs()
	first := svc.Score(context.Background(), p, o)
	require.False(t, first.Degraded)
	require.Equal(t, 1, cache.len())

	second := svc.Score(context.Background(), p, o)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gen.calls))
}

func TestScore_DegradedResultNotCached(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{fn: func(string) (string, error) {
		return "garbage", nil
	}}
	cache := newMemCache()
	svc := NewScoreService(gen, testThrottler(), cache, 500)

	p, o := sampleInputs()
	res := svc.Score(context.Background(), p, o)
	require.True(t, res.Degraded)
	assert.Equal(t, 0, cache.len())
}

func TestScoreBatch_PreservesOrderAndIsolatesFailures(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{fn: func(userPrompt string) (string, error) {
		if strings.Contains(userPrompt, "Broken Opportunity") {
			return "", fmt.Errorf("%w: boom", domain.ErrInternal)
		}
		switch {
		case strings.Contains(userPrompt, "Opportunity One"):
			return `{"score": 30}`, nil
		case strings.Contains(userPrompt, "Opportunity Two"):
			return `{"score": 90}`, nil
		}
		return `{"score": 60}`, nil
	}}
	svc := NewScoreService(gen, testThrottler(), nil, 500)

	p, _ := sampleInputs()
	opps := []domain.Opportunity{
		{Title: "Opportunity One"},
		{Title: "Broken Opportunity"},
		{Title: "Opportunity Two"},
	}

	out := svc.ScoreBatch(context.Background(), p, opps)
	require.Len(t, out, 3)

	assert.Equal(t, "Opportunity One", out[0].Opportunity.Title)
	assert.Equal(t, 30.0, out[0].Result.OverallScore)
	assert.False(t, out[0].Result.Degraded)

	assert.Equal(t, "Broken Opportunity", out[1].Opportunity.Title)
	assert.True(t, out[1].Result.Degraded)
	assert.Equal(t, domain.FailureUpstream, out[1].Result.FailureReason)

	assert.Equal(t, "Opportunity Two", out[2].Opportunity.Title)
	assert.Equal(t, 90.0, out[2].Result.OverallScore)
}

func TestCacheKey_StableAndSensitiveToInputs(t *testing.T) {
	t.Parallel()

	p, o := sampleInputs()
	assert.Equal(t, cacheKey(p, o), cacheKey(p, o))

	o2 := o
	o2.Title = "Different"
	assert.NotEqual(t, cacheKey(p, o), cacheKey(p, o2))

	p2 := p
	p2.Degree = "BSc"
	assert.NotEqual(t, cacheKey(p, o), cacheKey(p2, o))
}
