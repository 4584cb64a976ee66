package ai

import (
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/scholarsift/scholarsift/internal/domain"
)

// Overall score key and its accepted synonyms. The canonical contract is the
// "score" variant; the synonyms keep older call sites parseable.
var overallScoreKeys = []string{"score", "totalScore", "overallCompatibility"}

// Accepted keys for the two list fields, canonical name first.
var (
	matchingPointKeys   = []string{"matchingPoints", "strengths"}
	improvementAreaKeys = []string{"improvementAreas", "improvements"}
)

// ParseScoreResponse turns raw model output into a valid ScoreResult. It is
// total: any input, including empty text and truncated JSON, yields a result
// satisfying the ScoreResult invariants. Unrecoverable input produces the
// degraded fallback.
func ParseScoreResponse(raw string) domain.ScoreResult {
	obj, ok := parseObject(raw)
	if !ok {
		slog.Debug("score response unparseable", slog.Int("raw_length", len(raw)))
		return domain.FallbackResult(domain.FailureParse, "response was not valid JSON")
	}

	overall, found := numberField(obj, overallScoreKeys...)
	if !found {
		return domain.FallbackResult(domain.FailureParse, "response missing overall score field")
	}

	res := domain.ScoreResult{
		OverallScore:     domain.ClampScore(overall),
		Breakdown:        parseBreakdown(obj),
		Explanation:      stringField(obj, "explanation"),
		MatchingPoints:   listField(obj, domain.PlaceholderMatchingPoint, matchingPointKeys...),
		ImprovementAreas: listField(obj, domain.PlaceholderImprovementArea, improvementAreaKeys...),
		CreatedAt:        time.Now().UTC(),
	}
	if res.Explanation == "" {
		res.Explanation = "No explanation provided"
	}
	return res
}

// parseObject attempts strict decoding first, then one bounded repair pass.
func parseObject(raw string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil && obj != nil {
		return obj, true
	}
	repaired := NewResponseRepairer().Repair(raw)
	if err := json.Unmarshal([]byte(repaired), &obj); err == nil && obj != nil {
		return obj, true
	}
	return nil, false
}

func parseBreakdown(obj map[string]any) domain.CategoryBreakdown {
	inner, _ := obj["breakdown"].(map[string]any)
	if inner == nil {
		return domain.CategoryBreakdown{}
	}
	return domain.CategoryBreakdown{
		ResearchAlignment:        subScore(inner, "researchAlignment"),
		TechnicalSkills:          subScore(inner, "technicalSkills"),
		ExperienceMatch:          subScore(inner, "experienceMatch"),
		AdditionalQualifications: subScore(inner, "additionalQualifications"),
	}
}

// subScore clamps a breakdown value; non-numeric or absent values score 0.
func subScore(obj map[string]any, key string) float64 {
	v, ok := numberField(obj, key)
	if !ok {
		return 0
	}
	return domain.ClampScore(v)
}

// numberField returns the first key whose value coerces to a finite number.
// Numeric strings are accepted. ParseFloat also admits "NaN" and "Inf",
// which would slip through ClampScore's comparisons, so non-finite values
// are rejected here.
func numberField(obj map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, present := obj[k]
		if !present {
			continue
		}
		switch n := v.(type) {
		case float64:
			if isFinite(n) {
				return n, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil && isFinite(f) {
				return f, true
			}
		}
		// Key present but non-numeric: treat as absent so the caller's
		// default applies, per the synonym-scanning contract.
	}
	return 0, false
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func stringField(obj map[string]any, key string) string {
	if s, ok := obj[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// listField coerces the first present key to a string list, then guarantees
// at least one entry by inserting the placeholder. Downstream consumers
// render these as bullets and must never see an empty list.
func listField(obj map[string]any, placeholder string, keys ...string) []string {
	var out []string
	for _, k := range keys {
		arr, ok := obj[k].([]any)
		if !ok {
			continue
		}
		for _, item := range arr {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
		if len(out) > 0 {
			break
		}
	}
	if len(out) == 0 {
		return []string{placeholder}
	}
	return out
}
