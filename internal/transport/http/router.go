package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"botgate/pkg/platform/httputil"
	mwmetadata "botgate/pkg/platform/middleware/metadata"
	"botgate/pkg/platform/middleware/requesttime"
)

// RouterConfig holds the collaborators of the top-level router.
type RouterConfig struct {
	Resolver mwmetadata.Resolver
	Metrics  http.Handler
	// Degraded reports that a dependency is being served from a fallback.
	// The gate keeps answering, so health stays 200.
	Degraded func() bool
}

// NewRouter builds the process router: infra endpoints first, then the gate.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requesttime.Middleware)
	r.Use(cfg.Resolver.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		status := "ok"
		if cfg.Degraded != nil && cfg.Degraded() {
			status = "degraded"
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": status, "time": time.Now().UTC().Format(time.RFC3339)})
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	h.Register(r)
	return r
}
