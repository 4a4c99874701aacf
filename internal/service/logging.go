package service

import (
	"bytes"
	"encoding/json"
	"io"
	"regexp"
	"strings"

	"xs2event-gateway/internal/model"
)

const (
	redacted = "[REDACTED]"

	maxRequestPreview = 10 * 1024
	maxErrorPreview   = 5 * 1024
)

var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"cookie":        true,
	"set-cookie":    true,
}

// apiKeyPattern matches api key query parameter values in URLs embedded in error messages.
var apiKeyPattern = regexp.MustCompile(`(?i)(api_?key=)[^&\s"]+`)

// RedactHeaders renders h for logging with sensitive values masked.
func RedactHeaders(h *model.Header) map[string]string {
	out := make(map[string]string, h.Len())
	for _, name := range h.Names() {
		if sensitiveHeaders[name] {
			out[name] = redacted
			continue
		}
		out[name] = strings.Join(h.Values(name), ", ")
	}
	return out
}

// SanitizeError redacts API keys from error messages that may contain upstream URLs.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return apiKeyPattern.ReplaceAllString(err.Error(), "${1}"+redacted)
}

// preview returns at most limit bytes of body for logging. JSON is decoded
// so structured handlers render it as an object.
func preview(body []byte, limit int) any {
	truncated := len(body) > limit
	if truncated {
		body = body[:limit]
	}
	if !truncated {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			return v
		}
	}
	s := string(body)
	if truncated {
		s += "...(truncated)"
	}
	return s
}

type replayBody struct {
	io.Reader
	io.Closer
}

// peekBody reads up to limit bytes from resp.Body and re-attaches them so the
// relayed body stays byte-identical.
func peekBody(resp *model.ProxyResponse, limit int) []byte {
	buf := make([]byte, limit)
	n, _ := io.ReadFull(resp.Body, buf)
	buf = buf[:n]
	resp.Body = replayBody{
		Reader: io.MultiReader(bytes.NewReader(buf), resp.Body),
		Closer: resp.Body,
	}
	return buf
}

// discard drains a bounded amount of the body so the connection can be reused.
func discard(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	_ = body.Close()
}
