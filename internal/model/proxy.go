// Package model defines shared types for the gateway.
package model

import (
	"context"
	"io"
)

// ProxyRequest represents a client request to be forwarded upstream.
// RawQuery is forwarded upstream exactly as received. Body is fully
// buffered so that every retry replays the same bytes.
type ProxyRequest struct {
	Ctx         context.Context
	Method      string
	Path        string
	RawQuery    string
	Header      *Header
	Body        []byte
	ContentType string
}

// ProxyResponse represents the upstream response to be relayed back.
// ContentLength is -1 when the upstream did not announce a length.
type ProxyResponse struct {
	StatusCode    int
	Header        *Header
	Body          io.ReadCloser
	ContentLength int64
}
