// Package usecase contains application business logic services.
package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/scholarsift/scholarsift/internal/adapter/ai"
	"github.com/scholarsift/scholarsift/internal/adapter/observability"
	"github.com/scholarsift/scholarsift/internal/domain"
	"github.com/scholarsift/scholarsift/internal/service/throttle"
)

// ScoreService orchestrates one compatibility evaluation end to end: cache
// lookup, prompt construction, throttled model call and response parsing.
//
// Score never returns an error. Every failure mode collapses into a degraded
// ScoreResult so one bad opportunity cannot break a ranking.
type ScoreService struct {
	Gen       domain.TextGenerator
	Throttler *throttle.Throttler
	Cache     domain.ScoreCache // optional, nil disables caching
	MaxTokens int
}

// NewScoreService constructs a ScoreService with its dependencies.
func NewScoreService(gen domain.TextGenerator, th *throttle.Throttler, cache domain.ScoreCache, maxTokens int) ScoreService {
	return ScoreService{Gen: gen, Throttler: th, Cache: cache, MaxTokens: maxTokens}
}

// Score evaluates one profile against one opportunity.
func (s ScoreService) Score(ctx domain.Context, p domain.Profile, o domain.Opportunity) (res domain.ScoreResult) {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "score.evaluate", trace.WithAttributes(
		attribute.String("opportunity.title", o.Title),
	))
	defer span.End()

	callID := uuid.NewString()

	// A panicking generator or parser must not escape this boundary; batch
	// evaluations run Score in goroutines where a panic would kill the
	// process.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("score evaluation panicked",
				slog.String("call_id", callID),
				slog.String("opportunity", o.Title),
				slog.Any("panic", r))
			res = domain.FallbackResult(domain.FailureUnknown, "evaluation failed unexpectedly")
			observability.ScoreRequestsTotal.WithLabelValues("degraded").Inc()
			observability.DegradedResultsTotal.WithLabelValues(string(res.FailureReason)).Inc()
		}
	}()
	start := time.Now()
	key := cacheKey(p, o)

	if s.Cache != nil {
		if cached, err := s.Cache.Get(ctx, key); err == nil {
			slog.Debug("score cache hit",
				slog.String("call_id", callID),
				slog.String("opportunity", o.Title))
			observability.ScoreRequestsTotal.WithLabelValues("cache_hit").Inc()
			return cached
		} else if !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("score cache lookup failed", slog.String("call_id", callID), slog.Any("error", err))
		}
	}

	userPrompt := ai.BuildScoringPrompt(p, o)
	raw, err := s.Throttler.Submit(ctx, func(ctx domain.Context) (string, error) {
		return s.Gen.GenerateJSON(ctx, ai.SystemPrompt, userPrompt, s.MaxTokens)
	})

	if err != nil {
		res = fallbackFor(err)
		slog.Warn("score evaluation degraded",
			slog.String("call_id", callID),
			slog.String("opportunity", o.Title),
			slog.String("reason", string(res.FailureReason)),
			slog.Any("error", err))
		observability.ScoreRequestsTotal.WithLabelValues("degraded").Inc()
		observability.DegradedResultsTotal.WithLabelValues(string(res.FailureReason)).Inc()
	} else {
		res = ai.ParseScoreResponse(raw)
		if res.Degraded {
			observability.ScoreRequestsTotal.WithLabelValues("degraded").Inc()
			observability.DegradedResultsTotal.WithLabelValues(string(res.FailureReason)).Inc()
		} else {
			observability.ScoreRequestsTotal.WithLabelValues("ok").Inc()
		}
	}

	observability.ScoreLatency.Observe(time.Since(start).Seconds())
	observability.ScoreDistribution.Observe(res.OverallScore)

	if s.Cache != nil && !res.Degraded {
		if err := s.Cache.Set(ctx, key, res); err != nil {
			slog.Warn("score cache store failed", slog.String("call_id", callID), slog.Any("error", err))
		}
	}

	slog.Info("score evaluation done",
		slog.String("call_id", callID),
		slog.String("opportunity", o.Title),
		slog.Float64("score", res.OverallScore),
		slog.Bool("degraded", res.Degraded),
		slog.Duration("elapsed", time.Since(start)))
	return res
}

// ScoreBatch evaluates one profile against many opportunities concurrently.
// Results come back index-aligned with the input; a failed evaluation yields
// a degraded entry at its position without affecting the others.
func (s ScoreService) ScoreBatch(ctx domain.Context, p domain.Profile, opps []domain.Opportunity) []domain.ScoredOpportunity {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "score.batch", trace.WithAttributes(
		attribute.Int("opportunity.count", len(opps)),
	))
	defer span.End()

	out := make([]domain.ScoredOpportunity, len(opps))
	var wg sync.WaitGroup
	for i := range opps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out[i] = domain.ScoredOpportunity{
				Opportunity: opps[i],
				Result:      s.Score(ctx, p, opps[i]),
			}
		}(i)
	}
	wg.Wait()
	return out
}

// fallbackFor maps a throttling failure onto the degraded result categories.
func fallbackFor(err error) domain.ScoreResult {
	var terr *throttle.Error
	if errors.As(err, &terr) {
		switch terr.Kind {
		case throttle.KindQueueTimeout:
			return domain.FallbackResult(domain.FailureQueueTimeout, "evaluation queue was full")
		case throttle.KindRateLimited:
			return domain.FallbackResult(domain.FailureRateLimited, "provider rate limit persisted across retries")
		case throttle.KindCanceled:
			return domain.FallbackResult(domain.FailureUnknown, "evaluation canceled")
		case throttle.KindUpstream:
			return domain.FallbackResult(domain.FailureUpstream, "provider request failed")
		}
	}
	return domain.FallbackResult(domain.FailureUnknown, "evaluation failed")
}

// cacheKey derives a stable digest of the pair being scored. The prompt
// version participates so cached entries invalidate when the prompt changes.
func cacheKey(p domain.Profile, o domain.Opportunity) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode(p)
	_ = enc.Encode(o)
	h.Write([]byte(ai.PromptVersion))
	return hex.EncodeToString(h.Sum(nil))
}
