// Package service implements the upstream proxy engine: header and body
// preparation, the retry loop and failure classification.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"xs2event-gateway/internal/client"
	"xs2event-gateway/internal/config"
	"xs2event-gateway/internal/metrics"
	"xs2event-gateway/internal/model"
	"xs2event-gateway/internal/retry"
)

// allowedUpstreamHosts restricts which hosts the proxy will forward to.
var allowedUpstreamHosts = map[string]bool{
	"api.xs2event.com":     true,
	"testapi.xs2event.com": true,
}

// Retry reasons, also used as metric labels.
const (
	reasonConnection  = "connection"
	reasonRateLimited = "rate_limited"
	reasonServerError = "server_error"
	reasonTimeout     = "request_timeout"
)

// Transport performs a single upstream HTTP exchange.
type Transport interface {
	Do(ctx context.Context, method, url string, header http.Header, body []byte) (*model.ProxyResponse, error)
}

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	transport Transport
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	baseURL   *url.URL
	policy    retry.Policy
	sleep     retry.Sleeper
}

// NewProxyService creates a ProxyService.
// The metrics parameter is optional; pass nil to disable retry metrics.
func NewProxyService(t Transport, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	s, err := NewProxyServiceForTest(t, cfg, logger, m)
	if err != nil {
		return nil, err
	}
	if !allowedUpstreamHosts[s.baseURL.Hostname()] {
		return nil, fmt.Errorf("upstream host %q is not in the allowlist", s.baseURL.Hostname())
	}
	return s, nil
}

// NewProxyServiceForTest creates a ProxyService without host allowlist validation.
// This is intended only for tests that use httptest servers on localhost.
func NewProxyServiceForTest(t Transport, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	return &ProxyService{
		transport: t,
		cfg:       cfg,
		logger:    logger.With("component", "proxy_service"),
		metrics:   m,
		baseURL:   u,
		policy: retry.Policy{
			MaxRetries:  cfg.Upstream.MaxRetries,
			BaseBackoff: time.Duration(cfg.Upstream.BackoffMS) * time.Millisecond,
			MaxBackoff:  time.Duration(cfg.Upstream.MaxBackoffMS) * time.Millisecond,
		},
		sleep: retry.TimerSleep,
	}, nil
}

// Forward sends a ProxyRequest upstream, retrying transient failures, and
// returns the response to relay. The caller is responsible for closing the
// response body. Terminal failures are *ProxyError values; a canceled
// inbound request yields an error wrapping context.Canceled.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target := s.buildUpstreamURL(pr.Path, pr.RawQuery)
	header := s.buildRequestHeaders(pr.Header)

	contentType := pr.ContentType
	if contentType == "" {
		contentType = header.Get("Content-Type")
	}
	body, kind := encodeBody(contentType, pr.Body)
	httpHeader := header.HTTP()

	attempt := func(ctx context.Context, st *retry.State) retry.Result[*model.ProxyResponse] {
		s.logAttempt(pr.Method, target, header, body, kind, st.Attempt)

		resp, err := s.transport.Do(ctx, pr.Method, target, httpHeader.Clone(), body)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return retry.Fail[*model.ProxyResponse](fmt.Errorf("forward to upstream: %w", ctxErr))
			}
			if errors.Is(err, client.ErrInvalidRequest) {
				return retry.Fail[*model.ProxyResponse](&ProxyError{
					Kind:       ErrUpstream,
					StatusCode: http.StatusBadGateway,
					Attempts:   st.Attempt + 1,
					Err:        err,
				})
			}
			return retry.Retry[*model.ProxyResponse](reasonConnection, err, st.NextBackoff())
		}
		return s.classify(pr.Method, target, resp, st)
	}

	resp, err := retry.Do(pr.Ctx, s.policy, s.sleep, s.observeRetry(pr.Method, target), attempt)
	if err != nil {
		return nil, s.translate(err)
	}

	resp.Header = filterResponseHeaders(resp.Header)
	if resp.StatusCode >= http.StatusBadRequest {
		s.logErrorResponse(pr.Method, target, resp)
	}
	return resp, nil
}

// classify decides whether an upstream response is relayed or retried.
func (s *ProxyService) classify(method, target string, resp *model.ProxyResponse, st *retry.State) retry.Result[*model.ProxyResponse] {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := parseRetryAfter(resp.Header.Get("Retry-After"))
		if wait <= 0 {
			wait = s.policy.ExponentialDelay(st.Attempt)
		}
		discard(resp.Body)
		return retry.Retry[*model.ProxyResponse](reasonRateLimited,
			&StatusError{StatusCode: resp.StatusCode, RetryAfter: wait}, wait)

	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusRequestTimeout:
		reason := reasonServerError
		if resp.StatusCode == http.StatusRequestTimeout {
			reason = reasonTimeout
		}
		s.logErrorResponse(method, target, resp)
		discard(resp.Body)
		return retry.Retry[*model.ProxyResponse](reason,
			&StatusError{StatusCode: resp.StatusCode}, st.NextBackoff())
	}

	return retry.Ok(resp)
}

// translate maps a retry loop error onto the proxy failure taxonomy.
func (s *ProxyService) translate(err error) error {
	var pe *ProxyError
	var ex *retry.ExhaustedError

	// Exhaustion is checked before context errors: a per-attempt timeout
	// wraps context.DeadlineExceeded but is a connection failure.
	switch {
	case errors.As(err, &pe):
		// already classified

	case errors.As(err, &ex):
		var se *StatusError
		errors.As(ex.Err, &se)

		switch ex.Reason {
		case reasonConnection:
			pe = &ProxyError{Kind: ErrConnection, StatusCode: http.StatusBadGateway, Attempts: ex.Attempts, Err: ex}
		case reasonRateLimited:
			pe = &ProxyError{Kind: ErrRateLimitExceeded, StatusCode: http.StatusTooManyRequests, Attempts: ex.Attempts, Err: ex}
			if se != nil {
				pe.UpstreamStatus = se.StatusCode
				pe.RetryAfter = se.RetryAfter
			}
		default:
			pe = &ProxyError{Kind: ErrRetriesExhausted, StatusCode: http.StatusServiceUnavailable, Attempts: ex.Attempts, Err: ex}
			if se != nil {
				pe.UpstreamStatus = se.StatusCode
			}
		}

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Info("upstream call abandoned", "err", SanitizeError(err))
		s.countFailure("canceled")
		return err

	default:
		pe = &ProxyError{Kind: ErrInternal, StatusCode: http.StatusInternalServerError, Err: err}
	}

	s.logger.Error("upstream call failed",
		"kind", pe.Kind.Error(),
		"status", pe.StatusCode,
		"upstream_status", pe.UpstreamStatus,
		"attempts", pe.Attempts,
		"err", SanitizeError(pe.Err),
	)
	s.countFailure(failureLabel(pe.Kind))
	return pe
}

// buildUpstreamURL joins path onto the base URL. The query string is not
// re-encoded, so key order, repeated keys and escaping reach the upstream
// unchanged.
func (s *ProxyService) buildUpstreamURL(path, rawQuery string) string {
	u := s.baseURL.JoinPath(path)
	u.RawQuery = rawQuery
	return u.String()
}

func (s *ProxyService) observeRetry(method, target string) retry.Observer {
	return func(st *retry.State, reason string, wait time.Duration, err error) {
		s.logger.Warn("retrying upstream request",
			"method", method,
			"url", target,
			"attempt", st.Attempt,
			"reason", reason,
			"wait_ms", wait.Milliseconds(),
			"err", SanitizeError(err),
		)
		if s.metrics != nil {
			s.metrics.UpstreamRetries.WithLabelValues(reason).Inc()
		}
	}
}

func (s *ProxyService) logAttempt(method, target string, header *model.Header, body []byte, kind bodyKind, attempt int) {
	attrs := []any{
		"method", method,
		"url", target,
		"attempt", attempt + 1,
		"headers", RedactHeaders(header),
		"body_kind", string(kind),
	}
	if method == http.MethodGet {
		attrs = append(attrs, "body_size", len(body))
	} else {
		attrs = append(attrs, "body_preview", preview(body, maxRequestPreview))
	}
	s.logger.Debug("upstream attempt", attrs...)
}

func (s *ProxyService) logErrorResponse(method, target string, resp *model.ProxyResponse) {
	body := peekBody(resp, maxErrorPreview)
	s.logger.Warn("upstream error response",
		"method", method,
		"url", target,
		"status", resp.StatusCode,
		"headers", RedactHeaders(resp.Header),
		"body", preview(body, maxErrorPreview),
	)
}

func (s *ProxyService) countFailure(kind string) {
	if s.metrics != nil {
		s.metrics.UpstreamFailures.WithLabelValues(kind).Inc()
	}
}

func failureLabel(kind error) string {
	switch kind {
	case ErrConnection:
		return "connection"
	case ErrUpstream:
		return "upstream"
	case ErrRateLimitExceeded:
		return "rate_limited"
	case ErrRetriesExhausted:
		return "retries_exhausted"
	}
	return "internal"
}
