// Package stub provides a deterministic, offline text generator for local
// development and tests. No network calls are made.
package stub

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"log/slog"

	"github.com/scholarsift/scholarsift/internal/domain"
)

// Client implements domain.TextGenerator with fabricated but schema-valid
// responses. The score derives from a hash of the prompt, so the same
// profile and opportunity always produce the same result.
type Client struct{}

func New() *Client {
	slog.Info("using stub text generator, responses are fabricated")
	return &Client{}
}

// GenerateJSON returns a canonical scoring response derived from the user
// prompt. The error is always nil; ctx is accepted for interface parity.
func (c *Client) GenerateJSON(_ domain.Context, _, userPrompt string, _ int) (string, error) {
	base := hashScore(userPrompt, 55, 95)

	payload := map[string]any{
		"score": base,
		"breakdown": map[string]any{
			"researchAlignment":        clamp(base + 5),
			"technicalSkills":          clamp(base - 5),
			"experienceMatch":          base,
			"additionalQualifications": clamp(base - 10),
		},
		"explanation": fmt.Sprintf(
			"Stubbed evaluation: the profile appears to be a %s match for this opportunity.",
			band(base)),
		"matchingPoints":   []string{"stubbed research overlap", "stubbed skill coverage"},
		"improvementAreas": []string{"stubbed gap in prior experience"},
	}
	b, _ := json.Marshal(payload)
	return string(b), nil
}

// hashScore maps text onto [lo, hi] deterministically.
func hashScore(text string, lo, hi int) int {
	sum := sha256.Sum256([]byte(text))
	n := binary.BigEndian.Uint64(sum[:8])
	return lo + int(n%uint64(hi-lo+1))
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func band(score int) string {
	switch {
	case score >= 85:
		return "strong"
	case score >= 70:
		return "good"
	default:
		return "moderate"
	}
}
