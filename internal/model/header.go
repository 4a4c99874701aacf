package model

import (
	"net/http"
	"slices"
	"strings"
)

// Header is an ordered, case-insensitive multi-value header map.
// Names are stored lowercased; insertion order of names is preserved.
type Header struct {
	names  []string
	values map[string][]string
}

// NewHeader returns an empty Header.
func NewHeader() *Header {
	return &Header{values: make(map[string][]string)}
}

// HeaderFromHTTP converts an http.Header. Names are added in sorted order
// because map iteration order is not stable.
func HeaderFromHTTP(src http.Header) *Header {
	h := NewHeader()
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		for _, v := range src[k] {
			h.Add(k, v)
		}
	}
	return h
}

// Add appends a value to the named header.
func (h *Header) Add(name, value string) {
	key := strings.ToLower(name)
	if _, ok := h.values[key]; !ok {
		h.names = append(h.names, key)
	}
	h.values[key] = append(h.values[key], value)
}

// Set replaces all values of the named header, keeping its position if present.
func (h *Header) Set(name string, values ...string) {
	key := strings.ToLower(name)
	if _, ok := h.values[key]; !ok {
		h.names = append(h.names, key)
	}
	h.values[key] = slices.Clone(values)
}

// Get returns the first value of the named header or "".
func (h *Header) Get(name string) string {
	if vals := h.values[strings.ToLower(name)]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Values returns all values of the named header.
func (h *Header) Values(name string) []string {
	return h.values[strings.ToLower(name)]
}

// Has reports whether the named header is present.
func (h *Header) Has(name string) bool {
	_, ok := h.values[strings.ToLower(name)]
	return ok
}

// Del removes the named header.
func (h *Header) Del(name string) {
	key := strings.ToLower(name)
	if _, ok := h.values[key]; !ok {
		return
	}
	delete(h.values, key)
	h.names = slices.DeleteFunc(h.names, func(n string) bool { return n == key })
}

// Names returns header names in insertion order.
func (h *Header) Names() []string {
	return slices.Clone(h.names)
}

// Len returns the number of distinct header names.
func (h *Header) Len() int {
	return len(h.names)
}

// Without returns a copy of h with the given names removed.
func (h *Header) Without(strip map[string]bool) *Header {
	out := NewHeader()
	for _, name := range h.names {
		if strip[name] {
			continue
		}
		out.Set(name, h.values[name]...)
	}
	return out
}

// Merge copies every header of other into h, replacing existing values.
func (h *Header) Merge(other *Header) {
	for _, name := range other.names {
		h.Set(name, other.values[name]...)
	}
}

// HTTP converts h to an http.Header with canonicalized names.
func (h *Header) HTTP() http.Header {
	out := make(http.Header, len(h.names))
	for _, name := range h.names {
		out[http.CanonicalHeaderKey(name)] = slices.Clone(h.values[name])
	}
	return out
}
