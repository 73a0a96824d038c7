package token

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"botgate/internal/platform/config"
)

type TokenServiceSuite struct {
	suite.Suite
	svc   *Service
	clock time.Time
	bind  Binding
}

func TestTokenServiceSuite(t *testing.T) {
	suite.Run(t, new(TokenServiceSuite))
}

func (s *TokenServiceSuite) SetupTest() {
	s.clock = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, err := New([]byte("0123456789abcdef0123456789abcdef"), WithClock(func() time.Time { return s.clock }))
	s.Require().NoError(err)
	s.svc = svc
	s.bind = Binding{IPCIDR: "203.0.113.0/24", Provider: "cloudflare", FPHash: "fp-1"}
}

// =============================================================================
// Construction
// =============================================================================

func (s *TokenServiceSuite) TestNewRejectsShortSecret() {
	_, err := New([]byte("short"))
	s.Error(err)
}

// =============================================================================
// Issue / Verify
// =============================================================================

func (s *TokenServiceSuite) TestRoundTrip() {
	tok, err := s.svc.IssueNonce(s.bind)
	s.Require().NoError(err)
	s.Equal(1, strings.Count(tok, "."))

	p, err := s.svc.Verify(tok)
	s.Require().NoError(err)
	s.Equal(TypeNonce, p.Type)
	s.Equal("203.0.113.0/24", p.IPCIDR)
	s.Equal("cloudflare", p.Provider)
	s.Equal("fp-1", p.FPHash)
	s.Equal(s.clock.Add(DefaultNonceTTL).UnixMilli(), p.Exp)
}

func (s *TokenServiceSuite) TestWireFormat() {
	tok, err := s.svc.IssueSession(Binding{IPCIDR: "10.0.0.0/24", Provider: "direct", FPHash: "x", ExpVariant: "b"})
	s.Require().NoError(err)

	payload, _, _ := strings.Cut(tok, ".")
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	s.Require().NoError(err)

	var doc map[string]any
	s.Require().NoError(json.Unmarshal(raw, &doc))
	s.Equal("session", doc["typ"])
	s.Equal("10.0.0.0/24", doc["ip_cidr"])
	s.Equal("b", doc["expVariant"])
	s.NotContains(doc, "tlsSig")
	s.EqualValues(s.clock.Add(DefaultSessionTTL).UnixMilli(), doc["exp"])
}

func (s *TokenServiceSuite) TestExpiry() {
	tok, err := s.svc.IssueNonce(s.bind)
	s.Require().NoError(err)

	s.clock = s.clock.Add(DefaultNonceTTL - time.Millisecond)
	_, err = s.svc.Verify(tok)
	s.NoError(err)

	s.clock = s.clock.Add(time.Millisecond)
	_, err = s.svc.Verify(tok)
	s.ErrorIs(err, ErrInvalidToken)
}

func (s *TokenServiceSuite) TestAnyFlippedBitFails() {
	tok, err := s.svc.IssueNonce(s.bind)
	s.Require().NoError(err)

	for i := 0; i < len(tok); i++ {
		if tok[i] == '.' {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			b := []byte(tok)
			b[i] ^= 1 << bit
			if string(b) == tok {
				continue
			}
			_, err := s.svc.Verify(string(b))
			s.Require().ErrorIs(err, ErrInvalidToken, "byte %d bit %d", i, bit)
		}
	}
}

func (s *TokenServiceSuite) TestMalformed() {
	for _, tok := range []string{"", ".", "abc", "abc.", ".abc", "a.b.c", "!!!.###"} {
		_, err := s.svc.Verify(tok)
		s.ErrorIs(err, ErrInvalidToken, tok)
	}
}

func (s *TokenServiceSuite) TestForeignSecret() {
	other, err := New([]byte("another-secret-of-sufficient-len"), WithClock(func() time.Time { return s.clock }))
	s.Require().NoError(err)
	tok, err := other.IssueNonce(s.bind)
	s.Require().NoError(err)

	_, err = s.svc.Verify(tok)
	s.ErrorIs(err, ErrInvalidToken)
}

// =============================================================================
// Type separation and binding
// =============================================================================

func (s *TokenServiceSuite) TestTypeCannotBeSwapped() {
	tok, err := s.svc.IssueNonce(s.bind)
	s.Require().NoError(err)

	// Re-encode the same payload claiming to be a session token, keeping the MAC.
	enc, mac, _ := strings.Cut(tok, ".")
	raw, _ := base64.RawURLEncoding.DecodeString(enc)
	var p Payload
	s.Require().NoError(json.Unmarshal(raw, &p))
	p.Type = TypeSession
	forged, _ := json.Marshal(p)
	_, err = s.svc.Verify(base64.RawURLEncoding.EncodeToString(forged) + "." + mac)
	s.ErrorIs(err, ErrInvalidToken)

	_, err = s.svc.VerifyBound(tok, TypeSession, s.bind)
	s.ErrorIs(err, ErrInvalidToken)
}

func (s *TokenServiceSuite) TestVerifyBound() {
	s.bind.TLSSig = "ja4:t13d"
	tok, err := s.svc.IssueSession(s.bind)
	s.Require().NoError(err)

	s.Run("matching binding", func() {
		_, err := s.svc.VerifyBound(tok, TypeSession, s.bind)
		s.NoError(err)
	})

	cases := map[string]func(b *Binding){
		"other prefix":      func(b *Binding) { b.IPCIDR = "198.51.100.0/24" },
		"other provider":    func(b *Binding) { b.Provider = "generic" },
		"other fingerprint": func(b *Binding) { b.FPHash = "fp-2" },
		"missing tls sig":   func(b *Binding) { b.TLSSig = "" },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			b := s.bind
			mutate(&b)
			_, err := s.svc.VerifyBound(tok, TypeSession, b)
			s.ErrorIs(err, ErrInvalidToken)
		})
	}

	s.Run("fields absent from the token are not required", func() {
		tok, err := s.svc.IssueSession(Binding{IPCIDR: "203.0.113.0/24", Provider: "cloudflare"})
		s.Require().NoError(err)
		_, err = s.svc.VerifyBound(tok, TypeSession, s.bind)
		s.NoError(err)
	})
}

// =============================================================================
// Secret loading
// =============================================================================

func (s *TokenServiceSuite) TestLoadSecret() {
	s.Run("raw value", func() {
		secret, err := LoadSecret(config.NewStaticProvider(map[string]any{"secret": "plain-secret-value"}), nil)
		s.Require().NoError(err)
		s.Equal([]byte("plain-secret-value"), secret)
	})

	s.Run("base64 value", func() {
		v := "base64:" + base64.StdEncoding.EncodeToString([]byte("binary\x00secret\x01bytes!"))
		secret, err := LoadSecret(config.NewStaticProvider(map[string]any{"secret": v}), nil)
		s.Require().NoError(err)
		s.Equal([]byte("binary\x00secret\x01bytes!"), secret)
	})

	s.Run("missing secret is ephemeral and random", func() {
		a, err := LoadSecret(config.NewStaticProvider(nil), nil)
		s.Require().NoError(err)
		b, err := LoadSecret(config.NewStaticProvider(nil), nil)
		s.Require().NoError(err)
		s.Len(a, 32)
		s.NotEqual(a, b)
	})
}
