package ai

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ResponseRepairer normalizes malformed model output into parseable JSON.
// Repair is bounded: each transformation runs once, there is no iteration.
type ResponseRepairer struct{}

// NewResponseRepairer creates a new response repairer.
func NewResponseRepairer() *ResponseRepairer {
	return &ResponseRepairer{}
}

var (
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)(\w+)\s*:`)
)

// Repair applies the documented transformation steps to raw:
// markdown fence removal, outermost {...} extraction, quote normalization,
// trailing comma removal and whitespace collapse.
func (rr *ResponseRepairer) Repair(raw string) string {
	s := rr.stripMarkdownFences(raw)
	s = rr.extractJSONObject(s)
	s = strings.ReplaceAll(s, "'", `"`)
	s = strings.ReplaceAll(s, "`", `"`)
	s = unquotedKeyRe.ReplaceAllString(s, `$1"$2":`)
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = collapseWhitespace(s)
	return strings.TrimSpace(s)
}

// IsValidJSON checks if a string is valid JSON.
func (rr *ResponseRepairer) IsValidJSON(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

func (rr *ResponseRepairer) stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractJSONObject returns the first balanced {...} span, dropping any
// surrounding prose. Input without an opening brace is returned unchanged.
func (rr *ResponseRepairer) extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return s
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	// Unbalanced: keep everything from the brace on so a later parse
	// failure is reported on the JSON-ish part.
	return s[start:]
}

// collapseWhitespace folds embedded newlines and tabs into single spaces.
func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return s
}
