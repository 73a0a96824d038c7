// Package metadata resolves who a request comes from: the client address,
// which source supplied it, and whether that source is trusted.
package metadata

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/google/uuid"

	"botgate/pkg/requestcontext"
)

// Provider names for untrusted address sources.
const (
	ProviderGeneric = "generic"
	ProviderDirect  = "direct"
)

// RequestIDHeader is echoed back so a client report can be matched to a
// decision record.
const RequestIDHeader = "X-Request-ID"

// Client is the resolved origin of a request.
type Client struct {
	IP       string
	Provider string
	Trusted  bool
}

type contextKeyClient struct{}

// Resolver classifies the address source. Only the platform header named by
// TrustedHeader (set by the CDN or load balancer in front of the gate) is
// trusted; forwarding headers any client can forge are "generic".
//
// With TrustedProxies empty every peer may set these headers, which is only
// safe when the gate is reachable solely through a proxy that overwrites
// them. With TrustedProxies set, headers are read only from peers inside
// those prefixes and X-Forwarded-For is walked from the right, skipping
// trusted hops, so a client cannot choose its own address.
type Resolver struct {
	TrustedHeader   string
	TrustedProvider string
	TrustedProxies  []netip.Prefix
}

// ParsePrefixes parses CIDRs or bare addresses (as /32 or /128).
func ParsePrefixes(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !strings.Contains(v, "/") {
			addr, err := netip.ParseAddr(v)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", v, err)
			}
			out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(v)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", v, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

func (res Resolver) trustedPeer(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, p := range res.TrustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// forwardedFor returns the client hop of X-Forwarded-For: the first entry
// without proxy checks, otherwise the right-most entry that is not a
// trusted proxy.
func (res Resolver) forwardedFor(xff string) (string, bool) {
	hops := strings.Split(xff, ",")
	if len(res.TrustedProxies) == 0 {
		return parseIP(hops[0])
	}
	for i := len(hops) - 1; i >= 0; i-- {
		ip, ok := parseIP(hops[i])
		if !ok {
			return "", false
		}
		if !res.trustedPeer(ip) {
			return ip, true
		}
	}
	return "", false
}

// Resolve picks the client address in order: trusted header, X-Forwarded-For,
// X-Real-IP, then the connection's remote address. Headers are skipped when
// the peer is not a trusted proxy.
func (res Resolver) Resolve(r *http.Request) Client {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	remote, _ := parseIP(host)
	if len(res.TrustedProxies) > 0 && !res.trustedPeer(remote) {
		return Client{IP: remote, Provider: ProviderDirect}
	}

	if res.TrustedHeader != "" {
		if ip, ok := parseIP(r.Header.Get(res.TrustedHeader)); ok {
			provider := res.TrustedProvider
			if provider == "" {
				provider = strings.ToLower(res.TrustedHeader)
			}
			return Client{IP: ip, Provider: provider, Trusted: true}
		}
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip, ok := res.forwardedFor(xff); ok {
			return Client{IP: ip, Provider: ProviderGeneric}
		}
	}
	if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
		return Client{IP: ip, Provider: ProviderGeneric}
	}
	return Client{IP: remote, Provider: ProviderDirect}
}

// Middleware stores the resolved client, the user agent and a request ID in
// the context. It should run before any handler that reads them.
func (res Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := res.Resolve(r)

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), contextKeyClient{}, client)
		ctx = requestcontext.WithClientMetadata(ctx, client.IP, r.Header.Get("User-Agent"))
		ctx = requestcontext.WithRequestID(ctx, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClient returns the client stored by Middleware.
func GetClient(ctx context.Context) Client {
	if c, ok := ctx.Value(contextKeyClient{}).(Client); ok {
		return c
	}
	return Client{}
}

// WithClient injects a resolved client into a context.
// Useful for handler tests that don't run the middleware.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, contextKeyClient{}, c)
}

func parseIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
