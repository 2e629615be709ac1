// StreamSentry - Media Server Session Lifecycle and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamsentry

package mediaserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/streamsentry/internal/logging"
	"github.com/tomtom215/streamsentry/internal/metrics"
	"github.com/tomtom215/streamsentry/internal/models"
)

// requestTimeout bounds every adapter call. Overridable at startup via
// SetRequestTimeout; clients built afterwards pick it up.
var requestTimeout = 10 * time.Second

// SetRequestTimeout changes the per-request timeout for adapters built
// afterwards. Call before constructing clients.
func SetRequestTimeout(d time.Duration) {
	if d > 0 {
		requestTimeout = d
	}
}

// httpClient is the shared outbound plumbing: per-server circuit breaker,
// per-server rate limiter, auth header injection, JSON decoding.
type httpClient struct {
	base    *url.URL
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	limiter *rate.Limiter
	variant models.ServerVariant

	// header name/value carrying the access token.
	authHeader string
	authToken  string
}

func newHTTPClient(server models.Server, authHeader string) *httpClient {
	base, err := url.Parse(strings.TrimRight(server.URL, "/"))
	if err != nil {
		// A malformed base URL fails every request with a clear error
		// instead of failing construction; config validation catches it
		// earlier in practice.
		base = &url.URL{}
		logging.Warn().
			Str("component", "mediaserver").
			Str("server", server.Name).
			Err(err).
			Msg("malformed server url")
	}

	breakerName := string(server.Variant) + "-" + server.Name
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("component", "mediaserver").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return &httpClient{
		base:       base,
		client:     &http.Client{Timeout: requestTimeout},
		breaker:    breaker,
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		variant:    server.Variant,
		authHeader: authHeader,
		authToken:  server.Token,
	}
}

// getJSON fetches path and decodes the JSON body into result. The breaker
// sees every outcome; a rejected call surfaces as its error.
func (h *httpClient) getJSON(ctx context.Context, operation, path string, query url.Values, result any) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	start := time.Now()
	body, err := h.breaker.Execute(func() ([]byte, error) {
		return h.fetch(ctx, path, query)
	})
	metrics.AdapterRequestDuration.WithLabelValues(string(h.variant), operation).
		Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.AdapterRequests.WithLabelValues(string(h.variant), operation, "error").Inc()
		return err
	}
	metrics.AdapterRequests.WithLabelValues(string(h.variant), operation, "ok").Inc()

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func (h *httpClient) fetch(ctx context.Context, path string, query url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	reqURL := *h.base
	reqURL.Path = strings.TrimRight(reqURL.Path, "/") + path
	if len(query) > 0 {
		reqURL.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(h.authHeader, h.authToken)
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request %s: unexpected status %d", path, resp.StatusCode)
	}

	// 32 MiB guards against a misbehaving server; session listings are
	// orders of magnitude smaller.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	return body, nil
}
