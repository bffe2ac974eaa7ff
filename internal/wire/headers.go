package wire

import "net/http"

// hopByHop lists the eight header names that must never cross the
// control channel, per spec.md §4.2.
var hopByHop = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// SanitizeHeaders returns a copy of h with hop-by-hop headers removed.
// http.Header keys are already canonicalised, so the map above matches
// case-insensitively by construction.
func SanitizeHeaders(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		if _, skip := hopByHop[http.CanonicalHeaderKey(k)]; skip {
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	return out
}

// ApplyHeaders copies sanitised wire headers onto an http.Header,
// stripping any hop-by-hop header a misbehaving peer slipped through.
func ApplyHeaders(dst http.Header, src map[string][]string) {
	for k, v := range src {
		if _, skip := hopByHop[http.CanonicalHeaderKey(k)]; skip {
			continue
		}
		for _, vv := range v {
			dst.Add(k, vv)
		}
	}
}
