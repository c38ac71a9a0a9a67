// Package generation produces report narratives through a chat-completions API.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/fortune-orders/internal/fault"
	"github.com/ariefcatur/fortune-orders/internal/retry"
	"go.uber.org/zap"
)

type Config struct {
	URL          string
	APIKey       string
	Model        string
	Timeout      time.Duration
	TotalTimeout time.Duration
	SafetyMargin time.Duration
	MaxRetries   int
	BackoffUnit  time.Duration
	Temperature  float64
	MaxTokens    int
	// Mock returns a synthetic report when the key is missing or every attempt fails.
	Mock bool
}

type Request struct {
	Prompt   string
	Language string
	Persona  Persona
}

type Client struct {
	cfg    Config
	http   *http.Client
	policy retry.Policy
	log    *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.policy.Sleep = fn }
}

func New(cfg Config, log *zap.Logger, opts ...Option) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "deepseek-chat"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	c := &Client{
		cfg:  cfg,
		http: &http.Client{},
		policy: retry.Policy{
			MaxRetries:  cfg.MaxRetries,
			BaseTimeout: cfg.Timeout,
			BackoffUnit: cfg.BackoffUnit,
		},
		log: log.Named("generation"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Policy() retry.Policy { return c.policy }

// Budget is the wall-clock limit for a whole Generate call, retries included:
// the larger of TotalTimeout and every attempt timeout plus SafetyMargin.
func (c *Client) Budget() time.Duration {
	b := c.policy.TotalAttemptTime() + c.cfg.SafetyMargin
	if c.cfg.TotalTimeout > b {
		return c.cfg.TotalTimeout
	}
	return b
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fault.Newf(fault.Validation, "generation.generate", "empty prompt")
	}
	if c.cfg.APIKey == "" {
		if c.cfg.Mock {
			c.log.Warn("api key not configured, returning mock report", zap.Bool("mock", true))
			return MockReport(req), nil
		}
		return "", fault.Newf(fault.Validation, "generation.generate", "api key not configured")
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.Persona.SystemMessage(req.Language)},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fault.New(fault.Validation, "generation.generate", err)
	}

	content, err := retry.Do(ctx, c.policy, c.log, "generation.generate", func(ctx context.Context, a retry.Attempt) (string, error) {
		return c.call(ctx, body)
	})
	if err != nil {
		if c.cfg.Mock && ctx.Err() == nil {
			c.log.Warn("all attempts failed, returning mock report", zap.Bool("mock", true), zap.Error(err))
			return MockReport(req), nil
		}
		return "", err
	}
	c.log.Info("report generated", zap.Int("length", len(content)))
	return content, nil
}

func (c *Client) call(ctx context.Context, body []byte) (string, error) {
	const op = "generation.call"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fault.New(fault.Validation, op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fault.New(fault.Transient, op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fault.New(fault.Transient, op, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fault.Newf(fault.Transient, op, "status %d: %s", resp.StatusCode, snippet(raw))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fault.Newf(fault.Auth, op, "status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fault.Newf(fault.Client, op, "status %d: %s", resp.StatusCode, snippet(raw))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fault.New(fault.Parse, op, err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fault.Newf(fault.Parse, op, "no content in response")
	}
	return out.Choices[0].Message.Content, nil
}

func snippet(b []byte) string {
	if len(b) > 200 {
		return string(b[:200])
	}
	return string(b)
}

// MockReport is a deterministic placeholder narrative.
func MockReport(req Request) string {
	if isChinese(req.Language) {
		return fmt.Sprintf("【模拟报告】%s\n\n这是一份离线模式生成的示例报告，仅用于测试与开发环境。", req.Persona.Title("zh"))
	}
	return fmt.Sprintf("[Mock report] %s\n\nThis sample report was produced in offline mode for testing and development.", req.Persona.Title("en"))
}

func isChinese(lang string) bool {
	return strings.HasPrefix(strings.ToLower(lang), "zh")
}
