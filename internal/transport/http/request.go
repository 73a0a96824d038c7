package httptransport

import (
	"net/http"
	"strconv"
	"strings"

	"botgate/internal/decision"
	"botgate/pkg/platform/middleware/metadata"
	"botgate/pkg/platform/privacy"
	"botgate/pkg/requestcontext"
)

// Headers and cookies the gate reads beyond the standard set.
const (
	HeaderFingerprint = "X-BG-Fingerprint"
	HeaderVariant     = "X-BG-Variant"
	HeaderJA4         = "X-JA4"
	HeaderJA3         = "X-JA3"
	CookieFingerprint = "bg_fp"
	CookieVariant     = "bg_variant"

	maxFingerprintLen = 128
)

// buildRequestContext assembles the engine's view of r. The client must
// already be resolved by the metadata middleware.
func (h *Handler) buildRequestContext(r *http.Request) *decision.RequestContext {
	ctx := r.Context()
	client := metadata.GetClient(ctx)

	cookies := make(map[string]string, len(r.Cookies()))
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}

	rc := &decision.RequestContext{
		RequestID:       requestcontext.RequestID(ctx),
		Address:         client.IP,
		Provider:        client.Provider,
		ProviderTrusted: client.Trusted,
		ASN:             h.resolveASN(r, client.IP),
		Method:          r.Method,
		Path:            r.URL.Path,
		UserAgent:       r.UserAgent(),
		Accept:          r.Header.Get("Accept"),
		AcceptLanguage:  r.Header.Get("Accept-Language"),
		Referer:         r.Referer(),
		SecFetchMode:    r.Header.Get("Sec-Fetch-Mode"),
		SecFetchDest:    r.Header.Get("Sec-Fetch-Dest"),
		SecFetchSite:    r.Header.Get("Sec-Fetch-Site"),
		Cookies:         cookies,
		Fingerprint:     firstNonEmpty(r.Header.Get(HeaderFingerprint), cookies[CookieFingerprint]),
		Variant:         firstNonEmpty(r.Header.Get(HeaderVariant), cookies[CookieVariant]),
	}
	// TLS fingerprints are only meaningful from the trusted edge.
	if client.Trusted {
		rc.TLSSignature = firstNonEmpty(r.Header.Get(HeaderJA4), r.Header.Get(HeaderJA3))
	}
	rc.Fingerprint = privacy.Truncate(rc.Fingerprint, maxFingerprintLen)
	return rc
}

// resolveASN prefers the edge-populated header and falls back to the local
// ASN database.
func (h *Handler) resolveASN(r *http.Request, ip string) uint32 {
	if h.asnHeader != "" {
		raw := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(r.Header.Get(h.asnHeader))), "AS")
		if n, err := strconv.ParseUint(raw, 10, 32); err == nil && n > 0 {
			return uint32(n)
		}
	}
	if h.asn == nil || ip == "" {
		return 0
	}
	asn, _, err := h.asn.ResolveASN(ip)
	if err != nil {
		return 0
	}
	return asn
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
