package service

import (
	"strconv"
	"strings"
	"time"

	"xs2event-gateway/internal/model"
)

// strippedRequestHeaders are never forwarded upstream.
var strippedRequestHeaders = map[string]bool{
	"host":              true,
	"content-length":    true,
	"connection":        true,
	"accept-encoding":   true,
	"user-agent":        true,
	"x-forwarded-for":   true,
	"x-forwarded-proto": true,
	"x-forwarded-port":  true,
}

// strippedResponseHeaders are hop-by-hop or describe an encoding the
// gateway does not preserve.
var strippedResponseHeaders = map[string]bool{
	"connection":          true,
	"transfer-encoding":   true,
	"content-encoding":    true,
	"content-length":      true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"upgrade":             true,
	"host":                true,
	"x-powered-by":        true,
}

const userAgent = "xs2event-gateway/1.0"

// buildRequestHeaders sets the gateway defaults first and lets the caller's
// remaining headers override them.
func (s *ProxyService) buildRequestHeaders(src *model.Header) *model.Header {
	h := model.NewHeader()
	h.Set("X-Api-Key", s.cfg.Upstream.APIKey)
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	if src != nil {
		h.Merge(src.Without(strippedRequestHeaders))
	}
	h.Set("User-Agent", userAgent)
	return h
}

func filterResponseHeaders(src *model.Header) *model.Header {
	return src.Without(strippedResponseHeaders)
}

// parseRetryAfter reads a delta-seconds Retry-After value. Zero means absent
// or unusable.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
