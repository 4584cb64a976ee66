// Package real implements a text generator backed by an OpenAI-compatible
// chat completions API.
package real

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"log/slog"

	"github.com/scholarsift/scholarsift/internal/adapter/ai/tokencount"
	"github.com/scholarsift/scholarsift/internal/adapter/observability"
	"github.com/scholarsift/scholarsift/internal/config"
	"github.com/scholarsift/scholarsift/internal/domain"
)

// Client implements domain.TextGenerator against any OpenAI-compatible
// /chat/completions endpoint.
//
// Retry responsibilities are split: transient failures (5xx, network errors)
// are retried here with exponential backoff, while 429 responses surface
// immediately as domain.ErrUpstreamRateLimit so the caller's throttler can
// reschedule the whole call under a fresh capacity slot.
type Client struct {
	cfg     config.Config
	hc      *http.Client
	counter *tokencount.Counter
}

// New constructs a client using the configured request timeout.
func New(cfg config.Config) *Client {
	return &Client{
		cfg:     cfg,
		hc:      &http.Client{Timeout: cfg.LLMTimeout},
		counter: tokencount.NewCounter(),
	}
}

func (c *Client) backoffConfig() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	maxElapsedTime, initialInterval, maxInterval, multiplier := c.cfg.GetAIBackoffConfig()
	expo.MaxElapsedTime = maxElapsedTime
	expo.InitialInterval = initialInterval
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	return expo
}

// GenerateJSON sends a two-message chat completion request and returns the
// raw message content.
func (c *Client) GenerateJSON(ctx domain.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	if c.cfg.LLMAPIKey == "" {
		return "", fmt.Errorf("%w: LLM_API_KEY missing", domain.ErrInvalidArgument)
	}
	if maxTokens <= 0 {
		maxTokens = c.cfg.LLMMaxTokens
	}

	endpoint := c.cfg.LLMBaseURL + "/chat/completions"
	body := map[string]any{
		"model":       c.cfg.LLMModel,
		"temperature": c.cfg.LLMTemperature,
		"max_tokens":  maxTokens,
		"response_format": map[string]string{
			"type": "json_object",
		},
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
	}
	b, _ := json.Marshal(body)

	var out struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	op := func() error {
		start := time.Now()
		// Recreate the request each attempt to avoid reusing consumed bodies.
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
		if err != nil {
			return backoff.Permanent(err)
		}
		r.Header.Set("Authorization", "Bearer "+c.cfg.LLMAPIKey)
		r.Header.Set("Content-Type", "application/json")

		resp, err := c.hc.Do(r)
		observability.LLMRequestsTotal.WithLabelValues("openai", "chat").Inc()
		observability.LLMRequestDuration.WithLabelValues("openai", "chat").Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			slog.Error("llm response body read failed", slog.String("provider", "openai"), slog.Any("error", err))
			return err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			// The throttler owns rate-limit rescheduling, so do not retry
			// here.
			slog.Warn("llm provider rate limited",
				slog.String("provider", "openai"),
				slog.String("model", c.cfg.LLMModel),
				slog.String("x_request_id", resp.Header.Get("X-Request-Id")))
			return backoff.Permanent(fmt.Errorf("%w: chat status 429", domain.ErrUpstreamRateLimit))
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			slog.Warn("llm provider 4xx",
				slog.String("provider", "openai"),
				slog.Int("status", resp.StatusCode),
				slog.String("model", c.cfg.LLMModel),
				slog.String("endpoint", endpoint),
				slog.String("x_request_id", resp.Header.Get("X-Request-Id")),
				slog.String("body", snippet(bodyBytes, 512)))
			return backoff.Permanent(fmt.Errorf("chat status %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			slog.Error("llm provider non-2xx",
				slog.String("provider", "openai"),
				slog.Int("status", resp.StatusCode),
				slog.String("model", c.cfg.LLMModel),
				slog.String("endpoint", endpoint),
				slog.String("x_request_id", resp.Header.Get("X-Request-Id")),
				slog.String("body", snippet(bodyBytes, 512)))
			return fmt.Errorf("chat status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(bodyBytes, &out); err != nil {
			slog.Error("llm provider decode error",
				slog.String("provider", "openai"),
				slog.String("model", c.cfg.LLMModel),
				slog.Any("error", err))
			return err
		}
		return nil
	}

	bo := backoff.WithContext(c.backoffConfig(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if errors.Is(err, domain.ErrUpstreamRateLimit) {
			return "", err
		}
		return "", fmt.Errorf("%w: chat completion failed: %v", domain.ErrInternal, err)
	}

	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices in chat completion", domain.ErrInternal)
	}
	content := out.Choices[0].Message.Content

	usage := c.counter.CalculateUsage(systemPrompt, userPrompt, content, c.cfg.LLMModel)
	slog.Debug("llm chat completion ok",
		slog.String("provider", "openai"),
		slog.String("model", c.cfg.LLMModel),
		slog.Int("prompt_tokens", usage.PromptTokens),
		slog.Int("completion_tokens", usage.CompletionTokens),
		slog.Int("content_length", len(content)))
	return content, nil
}

func snippet(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
