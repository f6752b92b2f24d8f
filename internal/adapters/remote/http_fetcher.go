package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lcalzada-xor/devicenames/internal/core/domain"
	"github.com/lcalzada-xor/devicenames/internal/core/ports"
)

const (
	// DefaultTimeout bounds a single download, including reading the body.
	DefaultTimeout = 30 * time.Second

	// MaxBodySize caps how much of the remote table is read.
	MaxBodySize = 8 << 20
)

// ErrBodyTooLarge indicates the remote table exceeded MaxBodySize
var ErrBodyTooLarge = errors.New("response body too large")

// HTTPFetcher downloads the device table over HTTP.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates a fetcher with the given timeout. The transport is
// instrumented with OpenTelemetry.
func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		userAgent: userAgent,
	}
}

// NewHTTPFetcherWithClient wraps an existing client, e.g. one from httptest.
func NewHTTPFetcherWithClient(client *http.Client) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

// FetchText implements ports.Fetcher
func (f *HTTPFetcher) FetchText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &domain.FetchError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "text/plain, text/csv, */*")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &domain.FetchError{URL: url, Err: fmt.Errorf("HTTP GET failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &domain.FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return "", &domain.FetchError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}
	if len(body) > MaxBodySize {
		return "", &domain.FetchError{URL: url, StatusCode: resp.StatusCode, Err: ErrBodyTooLarge}
	}

	return string(body), nil
}

var _ ports.Fetcher = (*HTTPFetcher)(nil)
