package swarm

import "net/http"

// BrowserHeaders returns the default outbound header profile, matching what
// a desktop Chrome sends on a top-level navigation. The dispatcher copies
// this into its own configuration at construction and never mutates it
// afterwards; each request gets a fresh copy.
func BrowserHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Cache-Control", "max-age=0")
	return h
}

// cloneHeader deep-copies a header map.
func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vv := range h {
		out[k] = append([]string(nil), vv...)
	}
	return out
}

// applyHeaders copies the configured profile onto a request without
// overriding anything the caller set explicitly.
func applyHeaders(req *http.Request, profile http.Header) {
	for k, vv := range profile {
		if req.Header.Get(k) != "" {
			continue
		}
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
}
