package ai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseRepairer_Repair(t *testing.T) {
	t.Parallel()

	rr := NewResponseRepairer()

	tests := []struct {
		name  string
		input string
		want  map[string]any
	}{
		{
			name:  "markdown fenced json",
			input: "```json\n{\"score\": 85}\n```",
			want:  map[string]any{"score": float64(85)},
		},
		{
			name:  "plain fence without language tag",
			input: "```\n{\"score\": 70}\n```",
			want:  map[string]any{"score": float64(70)},
		},
		{
			name:  "prose around the object",
			input: "Sure, here is the evaluation:\n{\"score\": 91}\nLet me know if you need more.",
			want:  map[string]any{"score": float64(91)},
		},
		{
			name:  "single quoted strings",
			input: `{'explanation': 'solid match'}`,
			want:  map[string]any{"explanation": "solid match"},
		},
		{
			name:  "backtick quoted strings",
			input: "{`score`: 42}",
			want:  map[string]any{"score": float64(42)},
		},
		{
			name:  "unquoted keys",
			input: `{score: 64, explanation: "ok"}`,
			want:  map[string]any{"score": float64(64), "explanation": "ok"},
		},
		{
			name:  "trailing commas",
			input: `{"score": 55, "matchingPoints": ["a", "b",],}`,
			want:  map[string]any{"score": float64(55), "matchingPoints": []any{"a", "b"}},
		},
		{
			name:  "nested object survives extraction",
			input: "Result: {\"score\": 80, \"breakdown\": {\"technicalSkills\": 75}} done",
			want: map[string]any{
				"score":     float64(80),
				"breakdown": map[string]any{"technicalSkills": float64(75)},
			},
		},
		{
			name:  "embedded newlines collapsed",
			input: "{\"score\":\n\t60,\n\"explanation\":\n\"fine\"}",
			want:  map[string]any{"score": float64(60), "explanation": "fine"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repaired := rr.Repair(tt.input)
			require.True(t, rr.IsValidJSON(repaired), "repaired output: %s", repaired)

			var got map[string]any
			require.NoError(t, json.Unmarshal([]byte(repaired), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResponseRepairer_Repair_KeepsUnrecoverableInput(t *testing.T) {
	t.Parallel()

	rr := NewResponseRepairer()

	// These cannot be turned into valid JSON; Repair must still terminate
	// and return something for the caller's fallback path.
	for _, input := range []string{
		"",
		"I cannot evaluate this profile.",
		`{"score": 80`,
	} {
		repaired := rr.Repair(input)
		assert.False(t, rr.IsValidJSON(repaired), "input %q", input)
	}
}

func TestResponseRepairer_IsValidJSON(t *testing.T) {
	t.Parallel()

	rr := NewResponseRepairer()
	assert.True(t, rr.IsValidJSON(`{"a": 1}`))
	assert.True(t, rr.IsValidJSON(`[1, 2]`))
	assert.False(t, rr.IsValidJSON(`{"a":`))
	assert.False(t, rr.IsValidJSON(`not json`))
}
