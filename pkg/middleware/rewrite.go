package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// EdgeConfig controls the outermost HTTP middleware. The router matches
// paths after this layer runs, so URL canonicalization has to live here
// rather than in a gin middleware.
type EdgeConfig struct {
	// APIPrefix is the mounted prefix without slashes, e.g. "scim". An
	// inbound /<prefix>/v2/... path is rewritten to /<prefix>/... before
	// routing.
	APIPrefix string
	// MaxBodyBytes caps request body size. Zero means 5 MiB.
	MaxBodyBytes int64
	// RequestTimeout bounds request handling. Zero means 30 s.
	RequestTimeout time.Duration
}

// Edge canonicalizes the URL, caps the body size, and applies the
// per-request deadline.
func Edge(cfg EdgeConfig) func(http.Handler) http.Handler {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 5 << 20
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	v2 := "/" + cfg.APIPrefix + "/v2"
	base := "/" + cfg.APIPrefix

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			for strings.HasPrefix(path, "//") {
				path = path[1:]
			}
			if path == v2 {
				path = base
			} else if strings.HasPrefix(path, v2+"/") {
				path = base + path[len(v2):]
			}
			r.URL.Path = path

			r.Body = http.MaxBytesReader(w, r.Body, maxBody)

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
