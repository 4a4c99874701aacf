package service

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/url"
	"strings"
)

type bodyKind string

const (
	bodyNone bodyKind = "none"
	bodyJSON bodyKind = "json"
	bodyForm bodyKind = "form"
	bodyRaw  bodyKind = "raw"
)

// encodeBody prepares the outbound payload from the inbound bytes.
// JSON is compacted, form bodies are re-encoded as form params, and anything
// that fails to parse is sent as-is.
func encodeBody(contentType string, raw []byte) ([]byte, bodyKind) {
	if len(raw) == 0 {
		return nil, bodyNone
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return raw, bodyRaw
	}

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err == nil {
			return buf.Bytes(), bodyJSON
		}
	case mediaType == "application/x-www-form-urlencoded":
		if vals, err := url.ParseQuery(string(raw)); err == nil {
			return []byte(vals.Encode()), bodyForm
		}
	}
	return raw, bodyRaw
}
