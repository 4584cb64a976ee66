// Package textx provides small text utilities used across the project.
package textx

import (
	"strings"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	// strip control chars outside tab/newline/carriage return
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Flatten sanitizes s and collapses all runs of whitespace, including
// newlines and tabs, into single spaces. Prompt field values go through
// Flatten so the rendered prompt stays a deterministic single-line-per-field
// block.
func Flatten(s string) string {
	return strings.Join(strings.Fields(SanitizeText(s)), " ")
}

// JoinNonEmpty joins the non-empty items with sep, flattening each item.
func JoinNonEmpty(items []string, sep string) string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if f := Flatten(it); f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, sep)
}
