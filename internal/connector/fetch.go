package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// GetJSON issues a GET request and decodes the JSON response into v.
// Transient failures (network errors, 5xx, 429) are retried once
// immediately; anything that fails twice is reported upward.
func GetJSON(ctx context.Context, client *http.Client, url string, header http.Header, v any) error {
	body, err := get(ctx, client, url, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// GetBody issues a GET request and returns the raw body, with the same
// single-retry behavior as GetJSON.
func GetBody(ctx context.Context, client *http.Client, url string, header http.Header) ([]byte, error) {
	return get(ctx, client, url, header)
}

func get(ctx context.Context, client *http.Client, url string, header http.Header) ([]byte, error) {
	body, err := doOnce(ctx, client, url, header)
	if err != nil && transient(err) && ctx.Err() == nil {
		body, err = doOnce(ctx, client, url, header)
	}
	return body, err
}

func doOnce(ctx context.Context, client *http.Client, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, &statusError{status: resp.Status, code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

type statusError struct {
	status string
	code   int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.status)
}

func transient(err error) bool {
	var statusErr *statusError
	if errors.As(err, &statusErr) {
		return statusErr.code >= 500 || statusErr.code == http.StatusTooManyRequests
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// url.Error wraps dial/reset failures that do not implement net.Error.
	return strings.Contains(err.Error(), "connection reset") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "EOF")
}
