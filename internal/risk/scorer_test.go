package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"botgate/internal/behavior"
	"botgate/internal/counter"
	"botgate/internal/honeypot"
	"botgate/internal/platform/config"
	"botgate/internal/signals/reputation"
)

type stubReputation struct {
	verdict reputation.Verdict
	err     error
}

func (r stubReputation) Lookup(context.Context, string) (reputation.Verdict, error) {
	return r.verdict, r.err
}

type ScorerSuite struct {
	suite.Suite
	store    *counter.MemoryStore
	tracker  *honeypot.Tracker
	analyzer *behavior.Analyzer
	ctx      context.Context
}

func TestScorerSuite(t *testing.T) {
	suite.Run(t, new(ScorerSuite))
}

func (s *ScorerSuite) SetupTest() {
	s.store = counter.NewMemoryStore()
	tracker, err := honeypot.New(s.store)
	s.Require().NoError(err)
	s.tracker = tracker
	analyzer, err := behavior.New(s.store)
	s.Require().NoError(err)
	s.analyzer = analyzer
	s.ctx = context.Background()
}

func (s *ScorerSuite) scorer(p config.Provider, opts ...Option) *Scorer {
	tables, err := NewTables(p)
	s.Require().NoError(err)
	sc, err := New(tables, opts...)
	s.Require().NoError(err)
	return sc
}

// browser is a request that fires no risk signal and no trust signal
// besides the provider classification.
func browser() Input {
	return Input{
		Address:         "198.51.100.20",
		NetworkPrefix:   "198.51.100.0/24",
		Provider:        "cloudflare",
		ProviderTrusted: true,
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0",
		Accept:          "text/html,application/xhtml+xml",
		AcceptLanguage:  "en-US,en;q=0.9",
		Fingerprint:     "fp-browser",
	}
}

func (s *ScorerSuite) TestNewRequiresTables() {
	_, err := New(nil)
	s.Error(err)
}

func (s *ScorerSuite) TestCleanBrowserScoresBelowPrior() {
	a := s.scorer(nil).Assess(s.ctx, browser())
	s.Equal([]string{TagProviderTrusted}, a.Reasons)
	s.InDelta(0.45, a.Probability, 1e-9)
	s.Equal(DefaultThresholds(), a.Thresholds)
}

func (s *ScorerSuite) TestHoneypotHitRaisesProbability() {
	sc := s.scorer(nil, WithHoneypot(s.tracker))
	in := browser()
	in.ASN = 64496

	before := sc.Assess(s.ctx, in)
	_, err := s.tracker.IncHoneypot(s.ctx, in.Address, in.ASN)
	s.Require().NoError(err)
	after := sc.Assess(s.ctx, in)

	s.Greater(after.Probability, before.Probability)
	s.Contains(after.Reasons, "honeypot:hit(1)")
	s.Contains(after.Reasons, TagASNWatch)
}

func (s *ScorerSuite) TestWatchedASNRaisesCoTenants() {
	sc := s.scorer(nil, WithHoneypot(s.tracker))
	s.tracker.WatchASN(s.ctx, 64496, 0)

	in := browser()
	in.Address = "198.51.100.99"
	in.ASN = 64496
	a := sc.Assess(s.ctx, in)
	s.Contains(a.Reasons, TagASNWatch)
	s.NotContains(a.Reasons, "honeypot:hit(1)")
}

func (s *ScorerSuite) TestStaticAndHeaderSignals() {
	sc := s.scorer(nil)
	in := Input{
		Address: "203.0.113.4",
		Static:  StaticSignals{UABlock: true, IPBlacklist: true},
	}
	a := sc.Assess(s.ctx, in)
	s.Equal([]string{
		TagUABlock, TagUAEmpty, TagIPBlacklist, TagProviderUntrusted,
		TagNoLang, TagNoHTML, TagFPMissing,
	}, a.Reasons)
	s.Equal(1.0, a.Probability, "probability is clamped")
}

func (s *ScorerSuite) TestSessionTrustClampsAtZero() {
	sc := s.scorer(config.NewStaticProvider(map[string]any{
		KeyWeights: map[string]any{TagSessionValid: -2.0},
	}))
	in := browser()
	in.SessionValid = true
	a := sc.Assess(s.ctx, in)
	s.Equal(0.0, a.Probability)
	s.Contains(a.Reasons, TagSessionValid)
}

func (s *ScorerSuite) TestReputation() {
	s.Run("abuse and tor", func() {
		sc := s.scorer(nil, WithReputation(stubReputation{verdict: reputation.Verdict{AbuseScore: 92, IsTor: true}}))
		a := sc.Assess(s.ctx, browser())
		s.Contains(a.Reasons, "rep:abuse(92)")
		s.Contains(a.Reasons, TagRepTor)
	})

	s.Run("below minimum score", func() {
		sc := s.scorer(nil, WithReputation(stubReputation{verdict: reputation.Verdict{AbuseScore: 10}}))
		a := sc.Assess(s.ctx, browser())
		s.Equal([]string{TagProviderTrusted}, a.Reasons)
	})

	s.Run("unconfigured client is not consulted", func() {
		var disabled *reputation.Client
		sc := s.scorer(nil, WithReputation(disabled))
		s.Nil(sc.reputation)
		a := sc.Assess(s.ctx, browser())
		s.Equal([]string{TagProviderTrusted}, a.Reasons)
	})

	s.Run("failed lookup is omitted", func() {
		sc := s.scorer(nil, WithReputation(stubReputation{err: errors.New("timeout")}))
		a := sc.Assess(s.ctx, browser())
		s.Equal([]string{TagProviderTrusted}, a.Reasons)
	})
}

func (s *ScorerSuite) TestRateSignals() {
	sc := s.scorer(config.NewStaticProvider(map[string]any{
		KeyRate: map[string]any{"per_address": 2},
	}), WithBehavior(s.analyzer))

	var a Assessment
	for range 3 {
		a = sc.Assess(s.ctx, browser())
	}
	s.Contains(a.Reasons, "rate:high(3)")
	// Three back-to-back requests are also fast.
	s.Contains(a.Reasons, TagBehFast)
}

func (s *ScorerSuite) TestBindingChurn() {
	sc := s.scorer(nil, WithBehavior(s.analyzer))
	in := browser()
	sc.Assess(s.ctx, in)

	in.Address = "203.0.113.50"
	in.NetworkPrefix = "203.0.113.0/24"
	a := sc.Assess(s.ctx, in)
	s.Contains(a.Reasons, TagBindChurn)
}

func (s *ScorerSuite) TestVariantWeights() {
	sc := s.scorer(config.NewStaticProvider(map[string]any{
		KeyVariants: map[string]any{
			"strict": map[string]any{"weights": map[string]any{TagProviderTrusted: 0.25}},
		},
	}))
	in := browser()
	in.Variant = "strict"
	a := sc.Assess(s.ctx, in)
	s.InDelta(0.75, a.Probability, 1e-9)
}

func (s *ScorerSuite) TestStrictBoundaryIsExact() {
	// 0.5 + 0.30 + 0.15 + 0.20 + 0.10 - 0.40 is 0.85 in decimal but not in
	// a naive float64 sum.
	b := &builder{table: DefaultTable()}
	for _, tag := range []string{TagUAEmpty, TagBehFast, TagBehUniform, TagNoLang, TagSessionValid} {
		b.add(tag)
	}
	a := b.assessment()
	s.Equal(0.85, a.Probability)
	s.GreaterOrEqual(a.Probability, a.Thresholds.Strict)
}

func (s *ScorerSuite) TestQuantize() {
	s.Equal(0.85, Quantize(0.84999999999999987))
	s.Equal(0.55, Quantize(0.60-0.05))
	s.Equal(0.123456789, Quantize(0.1234567891))
}

func (s *ScorerSuite) TestClamp() {
	s.Equal(0.0, Clamp(-0.3))
	s.Equal(1.0, Clamp(1.7))
	s.Equal(0.42, Clamp(0.42))
}
