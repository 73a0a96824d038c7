// Package token issues and verifies the signed, time-bound binding tokens
// used for challenge nonces and verified sessions.
//
// Wire format: base64url(json payload) "." base64url(HMAC-SHA256(subkey, payload)).
// Verification is stateless: every binding field travels inside the token.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"botgate/internal/platform/logger"
	"botgate/internal/platform/metrics"
	"botgate/pkg/platform/sentinel"
)

// ErrInvalidToken is returned for every verification failure.
var ErrInvalidToken = sentinel.ErrInvalidToken

// Type separates nonce tokens from session tokens. Each type is signed with
// its own subkey.
type Type string

const (
	TypeNonce   Type = "nonce"
	TypeSession Type = "session"
)

const (
	DefaultNonceTTL   = 2 * time.Minute
	DefaultSessionTTL = 1800 * time.Second

	separator = "."
)

// Strict decoding rejects non-zero padding bits, so every encoded bit is
// covered by the MAC check.
var decoding = base64.RawURLEncoding.Strict()

// Payload is the signed document.
type Payload struct {
	Type       Type   `json:"typ"`
	Exp        int64  `json:"exp"`
	IPCIDR     string `json:"ip_cidr"`
	Provider   string `json:"provider"`
	FPHash     string `json:"fpHash"`
	TLSSig     string `json:"tlsSig,omitempty"`
	ExpVariant string `json:"expVariant,omitempty"`
}

// ExpiresAt returns Exp as a time.
func (p Payload) ExpiresAt() time.Time {
	return time.UnixMilli(p.Exp)
}

// Binding is what the verifying request presents. Network prefix and
// provider must always match; fingerprint, TLS signature and variant must
// match whenever the token carries them.
type Binding struct {
	IPCIDR     string
	Provider   string
	FPHash     string
	TLSSig     string
	ExpVariant string
}

func (b Binding) payload(typ Type, exp time.Time) Payload {
	return Payload{
		Type:       typ,
		Exp:        exp.UnixMilli(),
		IPCIDR:     b.IPCIDR,
		Provider:   b.Provider,
		FPHash:     b.FPHash,
		TLSSig:     b.TLSSig,
		ExpVariant: b.ExpVariant,
	}
}

func (p Payload) matches(b Binding) bool {
	if !hmac.Equal([]byte(p.IPCIDR), []byte(b.IPCIDR)) || p.Provider != b.Provider {
		return false
	}
	if p.FPHash != "" && p.FPHash != b.FPHash {
		return false
	}
	if p.TLSSig != "" && p.TLSSig != b.TLSSig {
		return false
	}
	if p.ExpVariant != "" && p.ExpVariant != b.ExpVariant {
		return false
	}
	return true
}

// Service signs and verifies tokens.
type Service struct {
	keys       map[Type][]byte
	nonceTTL   time.Duration
	sessionTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithNonceTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.nonceTTL = d
		}
	}
}

func WithSessionTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sessionTTL = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a Service from a master secret.
func New(secret []byte, opts ...Option) (*Service, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("signing secret must be at least %d bytes", minSecretLen)
	}
	nonceKey, err := deriveKey(secret, TypeNonce)
	if err != nil {
		return nil, err
	}
	sessionKey, err := deriveKey(secret, TypeSession)
	if err != nil {
		return nil, err
	}
	s := &Service{
		keys:       map[Type][]byte{TypeNonce: nonceKey, TypeSession: sessionKey},
		nonceTTL:   DefaultNonceTTL,
		sessionTTL: DefaultSessionTTL,
		now:        time.Now,
		logger:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) NonceTTL() time.Duration   { return s.nonceTTL }
func (s *Service) SessionTTL() time.Duration { return s.sessionTTL }

// IssueNonce signs a challenge nonce bound to b.
func (s *Service) IssueNonce(b Binding) (string, error) {
	return s.Issue(b.payload(TypeNonce, s.now().Add(s.nonceTTL)))
}

// IssueSession signs a session token bound to b.
func (s *Service) IssueSession(b Binding) (string, error) {
	return s.Issue(b.payload(TypeSession, s.now().Add(s.sessionTTL)))
}

// Issue signs p as-is. The payload type selects the subkey.
func (s *Service) Issue(p Payload) (string, error) {
	key, ok := s.keys[p.Type]
	if !ok {
		return "", fmt.Errorf("unknown token type %q", p.Type)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(raw) + separator + enc.EncodeToString(sign(key, raw)), nil
}

// Verify checks structure, signature and expiry. Every failure is
// ErrInvalidToken.
func (s *Service) Verify(token string) (Payload, error) {
	p, err := s.verify(token)
	if err != nil {
		s.metrics.IncTokenVerifyFailure("any")
		return Payload{}, ErrInvalidToken
	}
	return p, nil
}

// VerifyBound additionally requires the token type and binding to match.
func (s *Service) VerifyBound(token string, typ Type, b Binding) (Payload, error) {
	p, err := s.verify(token)
	if err == nil && (p.Type != typ || !p.matches(b)) {
		err = ErrInvalidToken
	}
	if err != nil {
		s.metrics.IncTokenVerifyFailure(string(typ))
		return Payload{}, ErrInvalidToken
	}
	return p, nil
}

func (s *Service) verify(token string) (Payload, error) {
	var p Payload
	encPayload, encMAC, ok := strings.Cut(token, separator)
	if !ok || encPayload == "" || encMAC == "" || strings.Contains(encMAC, separator) {
		return p, ErrInvalidToken
	}
	raw, err := decoding.DecodeString(encPayload)
	if err != nil {
		return p, ErrInvalidToken
	}
	mac, err := decoding.DecodeString(encMAC)
	if err != nil {
		return p, ErrInvalidToken
	}
	// The type has to be read before the MAC can be checked; nothing else in
	// the payload is trusted until then.
	var head struct {
		Type Type `json:"typ"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return p, ErrInvalidToken
	}
	key, ok := s.keys[head.Type]
	if !ok {
		return p, ErrInvalidToken
	}
	if !hmac.Equal(mac, sign(key, raw)) {
		return p, ErrInvalidToken
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, ErrInvalidToken
	}
	if p.Exp <= s.now().UnixMilli() {
		return p, ErrInvalidToken
	}
	return p, nil
}

func sign(key, msg []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	return h.Sum(nil)
}
