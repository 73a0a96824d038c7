// Package httptransport applies gate verdicts to HTTP traffic and serves the
// challenge, nonce and honeypot endpoints under /_bg/.
package httptransport

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"botgate/internal/decision"
	"botgate/internal/platform/logger"
	"botgate/pkg/platform/httputil"
	"botgate/pkg/platform/privacy"
	"botgate/pkg/requestcontext"
)

// Engine is the decision engine as seen by the transport.
type Engine interface {
	Decide(ctx context.Context, rc *decision.RequestContext) decision.Decision
	IssueNonce(ctx context.Context, rc *decision.RequestContext) (string, error)
	VerifyChallenge(ctx context.Context, rc *decision.RequestContext, sub decision.ChallengeSubmission) (decision.ChallengeResult, error)
	BanTTL() time.Duration
}

// Trap records honeypot hits.
type Trap interface {
	IncHoneypot(ctx context.Context, address string, asn uint32) (int64, error)
}

// ASNResolver maps an address to its autonomous system.
type ASNResolver interface {
	ResolveASN(ip string) (uint32, string, error)
}

// Handler wires gate endpoints to the decision engine.
type Handler struct {
	engine       Engine
	upstream     http.Handler
	safePage     http.Handler
	trap         Trap
	asn          ASNResolver
	asnHeader    string
	corsOrigins  []string
	cookieDomain string
	logger       *slog.Logger
}

type Option func(*Handler)

func WithTrap(t Trap) Option {
	return func(h *Handler) {
		h.trap = t
	}
}

func WithASNResolver(r ASNResolver) Option {
	return func(h *Handler) {
		h.asn = r
	}
}

// WithASNHeader names an edge-populated header carrying the client ASN.
func WithASNHeader(name string) Option {
	return func(h *Handler) {
		h.asnHeader = name
	}
}

// WithSafePage replaces the default safe response served for HARD_SAFE
// and SOFT_SAFE.
func WithSafePage(page http.Handler) Option {
	return func(h *Handler) {
		if page != nil {
			h.safePage = page
		}
	}
}

func WithCORSOrigins(origins []string) Option {
	return func(h *Handler) {
		h.corsOrigins = origins
	}
}

func WithCookieDomain(domain string) Option {
	return func(h *Handler) {
		h.cookieDomain = domain
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// New constructs a gate handler forwarding admitted traffic to upstream.
func New(engine Engine, upstream http.Handler, opts ...Option) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("decision engine is required")
	}
	if upstream == nil {
		return nil, errors.New("upstream handler is required")
	}
	h := &Handler{
		engine:      engine,
		upstream:    upstream,
		safePage:    http.HandlerFunc(defaultSafePage),
		corsOrigins: []string{"*"},
		logger:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the gate API and the catch-all gate on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/_bg", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.corsOrigins,
			AllowedMethods:   []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", HeaderFingerprint},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Post("/nonce", h.HandleNonce)
		r.Post("/verify", h.HandleVerify)
		r.HandleFunc("/trap/*", h.HandleTrap)
	})
	r.HandleFunc("/*", h.HandleGate)
}

// HandleGate decides the request and applies the verdict.
func (h *Handler) HandleGate(w http.ResponseWriter, r *http.Request) {
	rc := h.buildRequestContext(r)
	d := h.engine.Decide(r.Context(), rc)

	w.Header().Set("X-BG-Verdict", d.Verdict.String())
	elapsed := time.Since(requestcontext.Now(r.Context()))
	w.Header().Set("Server-Timing", fmt.Sprintf("bg;dur=%.1f", float64(elapsed.Microseconds())/1000))
	switch d.Verdict {
	case decision.VerdictBypass, decision.VerdictTrustedPass, decision.VerdictPass:
		h.upstream.ServeHTTP(w, r)
	case decision.VerdictChallenge:
		h.serveChallenge(w, r, d)
	default:
		if d.Banned {
			http.SetCookie(w, h.cookie(decision.CookieBan, "1", h.engine.BanTTL()))
		}
		w.Header().Set("Cache-Control", "no-store")
		h.safePage.ServeHTTP(w, r)
	}
}

type nonceResponse struct {
	OK    bool   `json:"ok"`
	Token string `json:"token,omitempty"`
}

// HandleNonce handles POST /_bg/nonce.
func (h *Handler) HandleNonce(w http.ResponseWriter, r *http.Request) {
	rc := h.buildRequestContext(r)
	tok, err := h.engine.IssueNonce(r.Context(), rc)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "nonce issuance failed", "request_id", rc.RequestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nonceResponse{OK: true, Token: tok})
}

type verifyResponse struct {
	OK bool `json:"ok"`
}

// HandleVerify handles POST /_bg/verify.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var sub decision.ChallengeSubmission
	if err := httputil.DecodeJSON(r, &sub); err != nil {
		httputil.WriteError(w, err)
		return
	}

	sub.FPHash = privacy.Truncate(sub.FPHash, maxFingerprintLen)
	rc := h.buildRequestContext(r)
	res, err := h.engine.VerifyChallenge(r.Context(), rc, sub)
	if err != nil {
		if errors.Is(err, decision.ErrChallengeFailed) {
			httputil.WriteJSON(w, http.StatusForbidden, verifyResponse{OK: false})
			return
		}
		httputil.WriteError(w, err)
		return
	}

	http.SetCookie(w, h.cookie(decision.CookieSession, res.SessionToken, res.MaxAge))
	// Navigations cannot carry the fingerprint header, so the cookie does.
	if res.Fingerprint != "" && res.Fingerprint != rc.Cookies[CookieFingerprint] {
		http.SetCookie(w, h.cookie(CookieFingerprint, res.Fingerprint, res.MaxAge))
	}
	httputil.WriteJSON(w, http.StatusOK, verifyResponse{OK: true})
}

// HandleTrap records a honeypot hit and answers 404 like a missing page.
func (h *Handler) HandleTrap(w http.ResponseWriter, r *http.Request) {
	if h.trap != nil {
		rc := h.buildRequestContext(r)
		if rc.Address != "" {
			if _, err := h.trap.IncHoneypot(r.Context(), rc.Address, rc.ASN); err != nil {
				h.logger.DebugContext(r.Context(), "honeypot hit not recorded",
					"ip_prefix", privacy.AnonymizeIP(rc.Address),
					"error", err,
				)
			}
		}
	}
	http.NotFound(w, r)
}

func (h *Handler) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.cookieDomain,
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *Handler) serveChallenge(w http.ResponseWriter, r *http.Request, d decision.Decision) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := challengePage.Execute(w, challengeData{Token: d.Token, Return: r.URL.RequestURI()}); err != nil {
		h.logger.DebugContext(r.Context(), "challenge page write failed", "error", err)
	}
}

func defaultSafePage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte("<!doctype html><title>Unavailable</title><p>This page is not available.</p>\n"))
}

type challengeData struct {
	Token  string
	Return string
}

// challengePage solves the proof of work in the browser: find n with
// sha256(token + n) starting with two zero bytes, post it, then reload.
var challengePage = template.Must(template.New("challenge").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><meta name="robots" content="noindex"><title>Checking your browser</title></head>
<body><p>Checking your browser&hellip;</p>
<noscript><p>JavaScript is required to continue.</p></noscript>
<script>
(async function () {
  const token = {{.Token}};
  const enc = new TextEncoder();
  for (let n = 0; n < 8000000; n++) {
    const d = new Uint8Array(await crypto.subtle.digest("SHA-256", enc.encode(token + n)));
    if (d[0] === 0 && d[1] === 0) {
      let webgl = "";
      try {
        const gl = document.createElement("canvas").getContext("webgl");
        const ext = gl && gl.getExtension("WEBGL_debug_renderer_info");
        webgl = ext ? gl.getParameter(ext.UNMASKED_RENDERER_WEBGL) : "";
      } catch (e) {}
      const res = await fetch("/_bg/verify", {
        method: "POST", credentials: "same-origin",
        headers: {"Content-Type": "application/json"},
        body: JSON.stringify({token: token, solution: String(n), webgl: webgl})
      });
      if (res.ok) { location.replace({{.Return}}); }
      return;
    }
  }
})();
</script></body></html>
`))
