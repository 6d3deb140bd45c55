package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ashureev/schoolinfo/internal/query"
)

// HTTPSender posts queries as JSON to an HTTP endpoint.
type HTTPSender struct {
	client *http.Client
	url    string
}

// NewHTTPSender creates an HTTP transport. A zero timeout waits indefinitely.
func NewHTTPSender(url string, timeout time.Duration) *HTTPSender {
	return &HTTPSender{
		client: &http.Client{Timeout: timeout},
		url:    url,
	}
}

// NewHTTPSenderWithClient creates an HTTP transport with a caller-supplied client.
func NewHTTPSenderWithClient(url string, client *http.Client) *HTTPSender {
	return &HTTPSender{client: client, url: url}
}

// Name returns the transport name.
func (s *HTTPSender) Name() string { return "http" }

// Close releases idle connections.
func (s *HTTPSender) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// Send performs one POST and returns the status and body.
func (s *HTTPSender) Send(ctx context.Context, req query.Request) (*Reply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request to %s: %w", s.url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Reply{
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status: resp.StatusCode,
		Body:   body,
	}, nil
}
