package metadata

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botgate/pkg/requestcontext"
)

func TestResolve(t *testing.T) {
	res := Resolver{TrustedHeader: "CF-Connecting-IP", TrustedProvider: "cloudflare"}

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    Client
	}{
		{
			name:    "trusted header wins",
			headers: map[string]string{"CF-Connecting-IP": "203.0.113.5", "X-Forwarded-For": "10.0.0.1"},
			remote:  "198.51.100.1:443",
			want:    Client{IP: "203.0.113.5", Provider: "cloudflare", Trusted: true},
		},
		{
			name:    "garbage trusted header falls through",
			headers: map[string]string{"CF-Connecting-IP": "nope", "X-Forwarded-For": "192.0.2.7, 10.0.0.1"},
			remote:  "198.51.100.1:443",
			want:    Client{IP: "192.0.2.7", Provider: ProviderGeneric},
		},
		{
			name:    "x-real-ip",
			headers: map[string]string{"X-Real-IP": "2001:db8::7"},
			remote:  "198.51.100.1:443",
			want:    Client{IP: "2001:db8::7", Provider: ProviderGeneric},
		},
		{
			name:   "remote addr ipv6",
			remote: "[2001:db8::1]:5555",
			want:   Client{IP: "2001:db8::1", Provider: ProviderDirect},
		},
		{
			name:   "ipv4 mapped is unmapped",
			remote: "[::ffff:192.0.2.9]:80",
			want:   Client{IP: "192.0.2.9", Provider: ProviderDirect},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, res.Resolve(r))
		})
	}
}

func TestResolveWithTrustedProxies(t *testing.T) {
	proxies, err := ParsePrefixes([]string{"10.0.0.0/8", " 198.51.100.1 "})
	require.NoError(t, err)
	res := Resolver{TrustedHeader: "CF-Connecting-IP", TrustedProvider: "cloudflare", TrustedProxies: proxies}

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    Client
	}{
		{
			name:    "forged trusted header from an arbitrary peer",
			headers: map[string]string{"CF-Connecting-IP": "203.0.113.5"},
			remote:  "192.0.2.66:40000",
			want:    Client{IP: "192.0.2.66", Provider: ProviderDirect},
		},
		{
			name:    "forged forwarding header from an arbitrary peer",
			headers: map[string]string{"X-Forwarded-For": "8.8.8.8"},
			remote:  "192.0.2.66:40000",
			want:    Client{IP: "192.0.2.66", Provider: ProviderDirect},
		},
		{
			name:    "trusted header from a proxy",
			headers: map[string]string{"CF-Connecting-IP": "203.0.113.5"},
			remote:  "198.51.100.1:443",
			want:    Client{IP: "203.0.113.5", Provider: "cloudflare", Trusted: true},
		},
		{
			name:    "right-most untrusted hop wins",
			headers: map[string]string{"X-Forwarded-For": "8.8.8.8, 192.0.2.44, 10.1.2.3"},
			remote:  "10.0.0.9:443",
			want:    Client{IP: "192.0.2.44", Provider: ProviderGeneric},
		},
		{
			name:    "only proxies in the chain",
			headers: map[string]string{"X-Forwarded-For": "10.1.2.3"},
			remote:  "10.0.0.9:443",
			want:    Client{IP: "10.0.0.9", Provider: ProviderDirect},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, res.Resolve(r))
		})
	}
}

func TestParsePrefixes(t *testing.T) {
	got, err := ParsePrefixes([]string{"10.1.2.3/8", "2001:db8::1", ""})
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8"), netip.MustParsePrefix("2001:db8::1/128")}, got)

	_, err = ParsePrefixes([]string{"not-a-cidr"})
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	var got Client
	var requestID, ua string
	h := Resolver{}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetClient(r.Context())
		requestID = requestcontext.RequestID(r.Context())
		ua = requestcontext.UserAgent(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	r.Header.Set("User-Agent", "test-agent")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)

	assert.Equal(t, Client{IP: "192.0.2.1", Provider: ProviderDirect}, got)
	assert.NotEmpty(t, requestID)
	assert.Equal(t, requestID, rr.Header().Get(RequestIDHeader))
	assert.Equal(t, "test-agent", ua)
}
