package decision

import (
	"strings"
	"time"

	"botgate/internal/token"
	"botgate/pkg/platform/privacy"
)

// Verdict is the routing outcome for one request.
type Verdict string

const (
	// VerdictBypass skips the gate entirely (infra, asset and API paths).
	VerdictBypass Verdict = "BYPASS"
	// VerdictHardSafe serves the safe page and never challenges.
	VerdictHardSafe Verdict = "HARD_SAFE"
	// VerdictTrustedPass forwards without scoring.
	VerdictTrustedPass Verdict = "TRUSTED_PASS"
	// VerdictChallenge serves the proof-of-work interstitial.
	VerdictChallenge Verdict = "CHALLENGE"
	// VerdictSoftSafe serves the safe page where a challenge cannot run.
	VerdictSoftSafe Verdict = "SOFT_SAFE"
	// VerdictPass forwards after scoring.
	VerdictPass Verdict = "PASS"
)

func (v Verdict) String() string {
	return string(v)
}

// Cookie names read and written by the gate.
const (
	CookieSession = "bg_session"
	CookieBan     = "bg_ban"
)

// RequestContext is the per-request view the engine decides on. Address is
// the resolved client address; ProviderTrusted records whether it came from
// a platform-populated header.
type RequestContext struct {
	RequestID string

	Address         string
	Provider        string
	ProviderTrusted bool
	ASN             uint32

	Method string
	Path   string

	UserAgent      string
	Accept         string
	AcceptLanguage string
	Referer        string
	SecFetchMode   string
	SecFetchDest   string
	SecFetchSite   string

	Cookies      map[string]string
	Fingerprint  string
	TLSSignature string
	Variant      string
}

// NetworkPrefix is the /24 (IPv4) or /64 (IPv6) tokens are bound to.
func (rc *RequestContext) NetworkPrefix() string {
	return privacy.NetworkPrefix(rc.Address)
}

// Binding is what tokens issued to or presented by this request are
// checked against.
func (rc *RequestContext) Binding() token.Binding {
	return token.Binding{
		IPCIDR:     rc.NetworkPrefix(),
		Provider:   rc.Provider,
		FPHash:     rc.Fingerprint,
		TLSSig:     rc.TLSSignature,
		ExpVariant: rc.Variant,
	}
}

// Cookie returns the named cookie value or "".
func (rc *RequestContext) Cookie(name string) string {
	if rc.Cookies == nil {
		return ""
	}
	return rc.Cookies[name]
}

func (rc *RequestContext) acceptsHTML() bool {
	return strings.Contains(strings.ToLower(rc.Accept), "text/html")
}

// Decision is the engine's answer. Token is set only for CHALLENGE; Banned
// is set when the decision wrote a ban marker.
type Decision struct {
	Verdict Verdict  `json:"verdict"`
	Reasons []string `json:"reasons"`
	Score   float64  `json:"score"`
	Token   string   `json:"token,omitempty"`
	Banned  bool     `json:"-"`
}

// ChallengeSubmission is the body of POST /_bg/verify.
type ChallengeSubmission struct {
	Token    string `json:"token"`
	Solution string `json:"solution"`
	WebGL    string `json:"webgl,omitempty"`
	FPHash   string `json:"fpHash"`
}

// ChallengeResult carries the session token minted by a passed challenge.
// Fingerprint is the value the session is bound to; the caller must present
// it again on later requests or the session will not match.
type ChallengeResult struct {
	SessionToken string
	Fingerprint  string
	MaxAge       time.Duration
}
