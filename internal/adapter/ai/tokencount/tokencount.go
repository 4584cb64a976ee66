// Package tokencount estimates token usage for scoring prompts and model
// completions. It wraps tiktoken-go and degrades to a character-based
// estimate when an encoding cannot be loaded.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Usage holds the token counts of one scoring call.
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Model            string `json:"model"`
}

// Counter is a thread-safe token counter with a per-model encoding cache.
type Counter struct {
	mu        sync.RWMutex
	encodings map[string]*tiktoken.Tiktoken
}

func NewCounter() *Counter {
	return &Counter{encodings: make(map[string]*tiktoken.Tiktoken)}
}

func (c *Counter) encodingFor(model string) (*tiktoken.Tiktoken, error) {
	normalized := normalizeModelName(model)

	c.mu.RLock()
	enc, ok := c.encodings[normalized]
	c.mu.RUnlock()
	if ok {
		return enc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodings[normalized]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(normalized)
	if err != nil {
		slog.Debug("falling back to cl100k_base encoding",
			slog.String("model", model),
			slog.Any("error", err))
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	c.encodings[normalized] = enc
	return enc, nil
}

// normalizeModelName maps provider-prefixed model IDs onto names tiktoken
// knows. Unknown families approximate with the gpt-4 encoding.
func normalizeModelName(model string) string {
	model = strings.ToLower(model)
	if i := strings.LastIndex(model, "/"); i != -1 {
		model = model[i+1:]
	}
	model = strings.TrimSuffix(model, ":free")

	switch {
	case strings.Contains(model, "gpt-4"):
		return model
	case strings.Contains(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	default:
		return "gpt-4"
	}
}

// CountTokens counts the tokens of text under the given model's encoding.
func (c *Counter) CountTokens(text, model string) (int, error) {
	enc, err := c.encodingFor(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CountChatTokens counts the tokens of a two-message chat request including
// the per-message framing overhead of OpenAI-compatible APIs.
func (c *Counter) CountChatTokens(systemPrompt, userPrompt, model string) (int, error) {
	enc, err := c.encodingFor(model)
	if err != nil {
		return 0, err
	}

	const tokensPerMessage = 3
	const tokensPerRole = 1

	n := 0
	for _, msg := range []struct{ role, content string }{
		{"system", systemPrompt},
		{"user", userPrompt},
	} {
		n += tokensPerMessage + tokensPerRole
		n += len(enc.Encode(msg.role, nil, nil))
		n += len(enc.Encode(msg.content, nil, nil))
	}
	// Replies are primed with <|start|>assistant<|message|>.
	n += 3
	return n, nil
}

// CalculateUsage computes full usage for one call. Counting never fails the
// call: on encoding errors it falls back to EstimateTokens.
func (c *Counter) CalculateUsage(systemPrompt, userPrompt, completion, model string) Usage {
	promptTokens, err := c.CountChatTokens(systemPrompt, userPrompt, model)
	if err != nil {
		slog.Warn("prompt token count failed, estimating",
			slog.String("model", model),
			slog.Any("error", err))
		promptTokens = EstimateTokens(systemPrompt) + EstimateTokens(userPrompt)
	}

	completionTokens, err := c.CountTokens(completion, model)
	if err != nil {
		completionTokens = EstimateTokens(completion)
	}

	return Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		Model:            model,
	}
}

// EstimateTokens is the rough fallback used when no encoding is available,
// assuming about four characters per token.
func EstimateTokens(text string) int {
	return len(text) / 4
}
