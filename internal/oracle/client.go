package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"ingestor/internal/metrics"
)

// Client produces a raw completion for a schema inference prompt. The
// transport is pluggable so tests can fake the model.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ChatConfig configures the hosted-model chat client.
type ChatConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`

	// MaxAttempts bounds transport-level retries. Zero means 3.
	MaxAttempts int `json:"max_attempts"`
}

// ChatClient talks to an OpenAI-compatible chat completions endpoint.
// Transient failures (5xx, 429, transport errors) are retried with jittered
// exponential backoff.
type ChatClient struct {
	cfg  ChatConfig
	http *http.Client
}

// NewChatClient builds a client from config. Timeout zero means 60s.
func NewChatClient(cfg ChatConfig) *ChatClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ChatClient{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *ChatClient) maxAttempts() int {
	if c.cfg.MaxAttempts > 0 {
		return c.cfg.MaxAttempts
	}
	return 3
}

// Complete sends one inference prompt and returns the raw model text.
func (c *ChatClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("oracle: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts(); attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return "", err
			}
		}
		text, retryable, err := c.once(ctx, body)
		if err == nil {
			metrics.IncCounter(metrics.MetricOracleRequestsTotal, 1, metrics.Labels{"status": "ok"})
			return text, nil
		}
		metrics.IncCounter(metrics.MetricOracleRequestsTotal, 1, metrics.Labels{"status": "error"})
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", fmt.Errorf("oracle: completion failed after %d attempts: %w", c.maxAttempts(), lastErr)
}

func (c *ChatClient) once(ctx context.Context, body []byte) (text string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("oracle: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("oracle: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", true, fmt.Errorf("oracle: read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("oracle: status %d: %s", resp.StatusCode, truncateForErr(raw))
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("oracle: status %d: %s", resp.StatusCode, truncateForErr(raw))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", false, fmt.Errorf("oracle: decode response: %w", err)
	}
	if out.Error != nil {
		return "", false, fmt.Errorf("oracle: model error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", true, fmt.Errorf("oracle: empty completion")
	}
	return out.Choices[0].Message.Content, false, nil
}

const maxBackoff = 10 * time.Second

// backoffDelay is 500ms * 2^(attempt-1) plus up to 50% jitter, capped at
// maxBackoff so a large attempt budget cannot overflow the shift or stall
// the worker for minutes between tries.
func backoffDelay(attempt int) time.Duration {
	base := 500 * time.Millisecond
	for i := 1; i < attempt && base < maxBackoff; i++ {
		base *= 2
	}
	if base > maxBackoff {
		base = maxBackoff
	}
	return base + time.Duration(rand.Int63n(int64(base/2)+1))
}

func sleepBackoff(ctx context.Context, attempt int) error {
	t := time.NewTimer(backoffDelay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncateForErr(b []byte) string {
	const max = 256
	if len(b) > max {
		b = b[:max]
	}
	return string(bytes.TrimSpace(b))
}
