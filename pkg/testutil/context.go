package testutil

import (
	"net/http"
	"time"

	"botgate/pkg/platform/middleware/metadata"
	"botgate/pkg/requestcontext"
)

// WithClient attaches resolved client metadata to the request, as the
// metadata middleware would for a request arriving through provider.
func WithClient(req *http.Request, ip, provider string, trusted bool) *http.Request {
	ctx := metadata.WithClient(req.Context(), metadata.Client{IP: ip, Provider: provider, Trusted: trusted})
	return req.WithContext(ctx)
}

// WithRequestTime pins the request clock read by requestcontext.Now.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
