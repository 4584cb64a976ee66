package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/scholarsift/scholarsift/internal/config"
	"github.com/scholarsift/scholarsift/internal/domain"
)

// Scorer is the slice of the scoring service the handlers need.
type Scorer interface {
	Score(ctx domain.Context, p domain.Profile, o domain.Opportunity) domain.ScoreResult
	ScoreBatch(ctx domain.Context, p domain.Profile, opps []domain.Opportunity) []domain.ScoredOpportunity
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Scores     Scorer
	CacheCheck func(ctx context.Context) error // nil when caching is disabled
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, scores Scorer, cacheCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Scores: scores, CacheCheck: cacheCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type scoreRequest struct {
	Profile     domain.Profile     `json:"profile" validate:"required"`
	Opportunity domain.Opportunity `json:"opportunity" validate:"required"`
}

type batchScoreRequest struct {
	Profile       domain.Profile       `json:"profile" validate:"required"`
	Opportunities []domain.Opportunity `json:"opportunities" validate:"required,min=1,max=100"`
}

// decodeJSON decodes a request body with strict field checking.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

// ScoreHandler evaluates one profile against one opportunity.
func (s *Server) ScoreHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scoreRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}

		res := s.Scores.Score(r.Context(), req.Profile, req.Opportunity)
		LoggerFrom(r).Info("score request served",
			"opportunity", req.Opportunity.Title,
			"score", res.OverallScore,
			"degraded", res.Degraded)
		writeJSON(w, http.StatusOK, res)
	}
}

type batchScoreResponse struct {
	Results []domain.ScoredOpportunity `json:"results"`
	Count   int                        `json:"count"`
	Elapsed string                     `json:"elapsed"`
}

// BatchScoreHandler evaluates one profile against many opportunities. With
// ?sort=score the results are ordered best match first; otherwise they keep
// the input order.
func (s *Server) BatchScoreHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchScoreRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}

		start := time.Now()
		results := s.Scores.ScoreBatch(r.Context(), req.Profile, req.Opportunities)
		if strings.EqualFold(r.URL.Query().Get("sort"), "score") {
			domain.SortByScore(results)
		}

		LoggerFrom(r).Info("batch score request served",
			"count", len(results),
			"elapsed", time.Since(start))
		writeJSON(w, http.StatusOK, batchScoreResponse{
			Results: results,
			Count:   len(results),
			Elapsed: time.Since(start).String(),
		})
	}
}

// HealthHandler reports liveness.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type readinessCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details,omitempty"`
}

// ReadyHandler reports readiness. The cache probe participates only when a
// cache is configured; the service stays ready without one.
func (s *Server) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := []readinessCheck{}
		ready := true

		if s.CacheCheck != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			c := readinessCheck{Name: "cache", OK: true}
			if err := s.CacheCheck(ctx); err != nil {
				c.OK = false
				c.Details = err.Error()
				ready = false
			}
			checks = append(checks, c)
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ready": ready, "checks": checks})
	}
}

func validationDetails(err error) any {
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil
	}
	out := make([]map[string]string, 0, len(ve))
	for _, fe := range ve {
		out = append(out, map[string]string{
			"field": fe.Namespace(),
			"rule":  fe.Tag(),
		})
	}
	return out
}
