// Package client provides the upstream HTTP client for the XS2Event API.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"xs2event-gateway/internal/config"
	"xs2event-gateway/internal/metrics"
	"xs2event-gateway/internal/model"
)

// ErrInvalidRequest is returned when the outbound request cannot be built.
// Nothing was sent, so the call must not be retried.
var ErrInvalidRequest = errors.New("invalid upstream request")

// UpstreamClient sends single requests to the upstream API. It never retries;
// the retry policy lives in the proxy service.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The connect timeout bounds dialing; the request timeout bounds one attempt
// end to end, including reading the body.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: cfg.Upstream.ConnectTimeout(),
		DialContext: (&net.Dialer{
			Timeout:   cfg.Upstream.ConnectTimeout(),
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Upstream.Timeout(),
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do executes one request against the upstream and returns the raw response.
// The provided context controls the lifetime of the upstream request: when it
// is canceled (e.g. client disconnects), the upstream request is also canceled.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(ctx context.Context, method, url string, header http.Header, body []byte) (*model.ProxyResponse, error) {
	var rd io.Reader
	if len(body) > 0 {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	req.Header = header

	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	label := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(label).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(label).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(label, status).Inc()
	}

	return &model.ProxyResponse{
		StatusCode:    resp.StatusCode,
		Header:        model.HeaderFromHTTP(resp.Header),
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
	}, nil
}
