package email

import (
	"bytes"
	"encoding/json"
)

// Header is an ordered, case-sensitive header mapping. Keys are unique; a
// later Set for an existing key replaces the value in place.
// The zero value is not usable, call NewHeader.
type Header struct {
	keys   []string
	values map[string]string
}

// NewHeader returns an empty Header.
func NewHeader() *Header {
	return &Header{values: make(map[string]string)}
}

// Set stores value under key.
func (h *Header) Set(key, value string) {
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

// Get returns the value for key, or "" when absent.
func (h *Header) Get(key string) string {
	return h.values[key]
}

// Has reports whether key is present.
func (h *Header) Has(key string) bool {
	_, ok := h.values[key]
	return ok
}

// Del removes key.
func (h *Header) Del(key string) {
	if _, ok := h.values[key]; !ok {
		return
	}
	delete(h.values, key)
	for i, k := range h.keys {
		if k == key {
			h.keys = append(h.keys[:i:i], h.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (h *Header) Keys() []string {
	out := make([]string, len(h.keys))
	copy(out, h.keys)
	return out
}

// Len returns the number of headers.
func (h *Header) Len() int {
	if h == nil {
		return 0
	}
	return len(h.keys)
}

// Each calls fn for every header in insertion order.
func (h *Header) Each(fn func(key, value string)) {
	if h == nil {
		return
	}
	for _, k := range h.keys {
		fn(k, h.values[k])
	}
}

// MarshalJSON encodes the headers as a JSON object in insertion order.
func (h *Header) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range h.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(h.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
