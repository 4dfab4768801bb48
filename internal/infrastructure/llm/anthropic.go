package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"ContentEngine/internal/config"
	"ContentEngine/internal/domain"
)

// Client wraps the Anthropic Messages API behind the TextGenerator port.
// A process-wide rate limiter keeps concurrent generation workers under
// the configured requests-per-minute budget.
type Client struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	timeout   time.Duration
	limiter   *rate.Limiter
}

func New(cfg config.GenerationConfig) *Client {
	rpm := cfg.RequestsPerMinute
	if rpm < 1 {
		rpm = 1
	}
	return &Client{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     anthropic.Model(cfg.Model),
		maxTokens: int64(cfg.MaxTokens),
		timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
	}
}

// Complete sends one prompt and returns the concatenated text blocks of
// the response. Failures are classified onto the domain sentinels so the
// caller's retry policy can distinguish transient from permanent.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", classify(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(text.String())
	if out == "" {
		return "", fmt.Errorf("%w: response contained no text blocks", domain.ErrMalformedResponse)
	}
	return out, nil
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
		}
		return err
	}
	// The SDK surfaces some transport failures as plain errors.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
	case strings.Contains(msg, "overloaded"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection"):
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	return err
}
