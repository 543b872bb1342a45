package rpc

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// MaxResponseSize caps how much of a response body HTTPTransport reads.
const MaxResponseSize = 8 << 20

// Transport performs one round trip. Implementations must abort when ctx
// is cancelled.
type Transport interface {
	Do(ctx context.Context, url string) ([]byte, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, url string) ([]byte, error)

// Do calls f.
func (f TransportFunc) Do(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rpc: unexpected status %d", e.Code)
}

// HTTPTransport issues plain GET requests.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport returns a transport using client, or http.DefaultClient.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{Client: client}
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/javascript")

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
