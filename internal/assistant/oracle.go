package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var errOracleUnconfigured = errors.New("oracle url not configured")

// Oracle is the upstream reasoning service.
type Oracle interface {
	// Converse posts an utterance with recent history and returns the
	// NDJSON response stream. The caller owns closing the stream.
	Converse(ctx context.Context, req Request) (io.ReadCloser, error)
}

// HTTPOracle talks to the oracle over HTTP.
type HTTPOracle struct {
	url        string
	httpClient *http.Client
}

// NewHTTPOracle creates a client for the oracle at url. The timeout
// bounds the whole exchange including the streamed body.
func NewHTTPOracle(url string, timeout time.Duration) *HTTPOracle {
	return &HTTPOracle{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Converse implements Oracle.
func (o *HTTPOracle) Converse(ctx context.Context, req Request) (io.ReadCloser, error) {
	if o.url == "" {
		return nil, errOracleUnconfigured
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	return resp.Body, nil
}
