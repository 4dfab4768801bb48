package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"ContentEngine/internal/config"
	"ContentEngine/internal/domain"
)

// Client talks to an OpenAI-compatible /embeddings endpoint. Requests are
// split into fixed-size batches; each batch retries transient failures
// with exponential backoff before the whole call fails.
type Client struct {
	http        *http.Client
	endpoint    string
	model       string
	apiKey      string
	dimensions  int
	batchSize   int
	maxAttempts int
	logger      *slog.Logger
}

func New(cfg config.EmbeddingConfig, logger *slog.Logger) *Client {
	return &Client{
		http:        &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		endpoint:    cfg.Endpoint,
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		dimensions:  cfg.Dimensions,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger,
	}
}

type embedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedBatch returns one vector per input text, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := c.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (c *Client) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	bo := backoff.NewExponentialBackOff()
	return backoff.Retry(ctx, func() ([][]float32, error) {
		vectors, err := c.post(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		if permanent(err) {
			return nil, backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrPermanent, err))
		}
		c.logger.Warn("embedding request failed, retrying", "error", err)
		return nil, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(c.maxAttempts)))
}

func (c *Client) post(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: c.model, Input: texts, Dimensions: c.dimensions})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, &statusError{code: resp.StatusCode, status: resp.Status}
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(er.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d vectors, got %d", len(texts), len(er.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range er.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("vector index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.status)
}

// permanent reports whether the failure cannot succeed on retry. Client
// errors other than rate limiting and request timeout are permanent.
func permanent(err error) bool {
	se, ok := err.(*statusError)
	if !ok {
		return false
	}
	if se.code == http.StatusTooManyRequests || se.code == http.StatusRequestTimeout {
		return false
	}
	return se.code >= 400 && se.code < 500
}
