// Package domain defines the core entities, ports and error taxonomy for
// compatibility scoring of applicant profiles against PhD opportunities.
package domain

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrInternal          = errors.New("internal error")
)

// Skill is one entry of an applicant's skill list.
type Skill struct {
	Name        string `json:"name" yaml:"name"`
	Proficiency string `json:"proficiency,omitempty" yaml:"proficiency,omitempty"`
}

// Profile is the applicant's academic background used as scoring input.
// It is treated as opaque text once serialized into a prompt; no field is
// normalized beyond sanitation.
type Profile struct {
	Degree            string   `json:"degree,omitempty" yaml:"degree,omitempty"`
	Field             string   `json:"field,omitempty" yaml:"field,omitempty"`
	Institution       string   `json:"institution,omitempty" yaml:"institution,omitempty"`
	ResearchInterests []string `json:"research_interests,omitempty" yaml:"research_interests,omitempty"`
	Skills            []Skill  `json:"skills,omitempty" yaml:"skills,omitempty"`
	Location          string   `json:"location,omitempty" yaml:"location,omitempty"`
	Availability      string   `json:"availability,omitempty" yaml:"availability,omitempty"`
}

// Opportunity is one PhD position or project being scored against a profile.
type Opportunity struct {
	Title          string   `json:"title,omitempty" yaml:"title,omitempty"`
	Description    string   `json:"description,omitempty" yaml:"description,omitempty"`
	Institution    string   `json:"institution,omitempty" yaml:"institution,omitempty"`
	Department     string   `json:"department,omitempty" yaml:"department,omitempty"`
	Supervisor     string   `json:"supervisor,omitempty" yaml:"supervisor,omitempty"`
	RequiredSkills []string `json:"required_skills,omitempty" yaml:"required_skills,omitempty"`
	Funding        string   `json:"funding,omitempty" yaml:"funding,omitempty"`
	Deadline       string   `json:"deadline,omitempty" yaml:"deadline,omitempty"`
	Location       string   `json:"location,omitempty" yaml:"location,omitempty"`
}

// FailureReason classifies why a result was degraded to a fallback.
type FailureReason string

const (
	FailureNone         FailureReason = ""
	FailureQueueTimeout FailureReason = "queue_timeout"
	FailureRateLimited  FailureReason = "rate_limited"
	FailureUpstream     FailureReason = "upstream_error"
	FailureParse        FailureReason = "parse_error"
	FailureUnknown      FailureReason = "unknown"
)

// CategoryBreakdown holds the per-category sub-scores of the scoring rubric.
// Each value is in [0,100].
type CategoryBreakdown struct {
	ResearchAlignment        float64 `json:"researchAlignment"`
	TechnicalSkills          float64 `json:"technicalSkills"`
	ExperienceMatch          float64 `json:"experienceMatch"`
	AdditionalQualifications float64 `json:"additionalQualifications"`
}

// ScoreResult is the normalized output of the scoring pipeline.
// Invariants: OverallScore and every breakdown value in [0,100];
// MatchingPoints and ImprovementAreas are never empty. A ScoreResult is
// constructed once and never mutated afterwards.
type ScoreResult struct {
	OverallScore     float64           `json:"overallScore"`
	Breakdown        CategoryBreakdown `json:"breakdown"`
	Explanation      string            `json:"explanation"`
	MatchingPoints   []string          `json:"matchingPoints"`
	ImprovementAreas []string          `json:"improvementAreas"`
	Degraded         bool              `json:"degraded"`
	FailureReason    FailureReason     `json:"failureReason,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// ScoredOpportunity pairs one opportunity with its score for batch output.
type ScoredOpportunity struct {
	Opportunity Opportunity `json:"opportunity"`
	Result      ScoreResult `json:"result"`
}

// FallbackOverallScore is the neutral default used when the upstream
// response is unavailable or unparseable. It deliberately sits above zero so
// a degraded result is distinguishable from a genuine poor match.
const FallbackOverallScore = 70

// Placeholder strings inserted when the upstream returns empty list fields.
// Downstream consumers render these lists as bullets, so they must never be
// empty.
const (
	PlaceholderMatchingPoint   = "No specific matching points identified"
	PlaceholderImprovementArea = "No specific improvement areas identified"
)

// ClampScore bounds a score value to [0,100].
func ClampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// FallbackResult builds the degraded ScoreResult returned when scoring could
// not complete. The explanation names the failure so callers can tell a
// fallback apart from a genuinely computed score.
func FallbackResult(reason FailureReason, detail string) ScoreResult {
	explanation := "Compatibility could not be evaluated"
	if detail != "" {
		explanation += ": " + detail
	}
	return ScoreResult{
		OverallScore:     FallbackOverallScore,
		Explanation:      explanation,
		MatchingPoints:   []string{PlaceholderMatchingPoint},
		ImprovementAreas: []string{PlaceholderImprovementArea},
		Degraded:         true,
		FailureReason:    reason,
		CreatedAt:        time.Now().UTC(),
	}
}

// SortByScore orders scored opportunities by overall score, descending.
// Sorting is the consumer's choice; batch scoring itself preserves input
// order.
func SortByScore(items []ScoredOpportunity) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Result.OverallScore > items[j].Result.OverallScore
	})
}

// TextGenerator (port)
//
// GenerateJSON submits a prompt pair to a remote text-generation service and
// returns raw text expected to contain a JSON object. Implementations are
// fallible and rate-limited; a 429-class failure is reported by wrapping
// ErrUpstreamRateLimit.
type TextGenerator interface {
	GenerateJSON(ctx Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// ScoreCache (port)
//
// Get returns ErrNotFound on a cache miss. Implementations decide TTL.
type ScoreCache interface {
	Get(ctx Context, key string) (ScoreResult, error)
	Set(ctx Context, key string, res ScoreResult) error
}

// Context aliases context.Context so adapters and usecases share one
// signature style.
type Context = context.Context
