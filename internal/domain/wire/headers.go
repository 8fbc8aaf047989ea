package wire

import (
	"net/http"
	"strings"
)

// hopHeaders never cross the boundary on the outgoing leg.
var hopHeaders = []string{
	"Host",
	"Content-Length",
	"Connection",
	"Transfer-Encoding",
	"Keep-Alive",
	"Upgrade",
}

// HeaderMap flattens h into lowercase names. Repeated values are joined
// with ", ".
func HeaderMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return out
}

// Header expands a flattened map back into an http.Header.
func Header(m map[string]string) http.Header {
	h := make(http.Header, len(m))
	for name, value := range m {
		h.Set(name, value)
	}
	return h
}

// StripHopHeaders removes headers the transport computes itself.
func StripHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}
