// Package risk fuses request signals into an automation probability.
//
// The model is linear and table driven: start at a neutral prior, add the
// weight of every fired signal, clamp to [0,1]. Every contribution is
// reported as a reason tag so a score can always be explained.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"botgate/internal/behavior"
	"botgate/internal/platform/logger"
	"botgate/internal/signals/reputation"
	"botgate/pkg/platform/privacy"
)

// Prior is the neutral starting probability.
const Prior = 0.5

// Behavior is the rate and timing analyzer.
type Behavior interface {
	BumpAndPenalize(ctx context.Context, in behavior.Input, limits behavior.Limits) behavior.Result
	CheckBinding(ctx context.Context, fingerprint, networkPrefix string) bool
}

// Honeypot is the read side of the trap tracker.
type Honeypot interface {
	HoneypotHits(ctx context.Context, address string) int64
	IsASNWatched(ctx context.Context, asn uint32) bool
}

// Reputation looks up third-party IP reputation.
type Reputation interface {
	Lookup(ctx context.Context, ip string) (reputation.Verdict, error)
}

// StaticSignals are blocklist matches computed before scoring.
type StaticSignals struct {
	UABlock      bool
	UAAutomation bool
	IPBlacklist  bool
	ASNBlacklist bool
	RDNSCrawler  bool
}

// Input is everything the scorer needs about one request.
type Input struct {
	Address         string
	NetworkPrefix   string
	Provider        string
	ProviderTrusted bool
	ASN             uint32
	UserAgent       string
	Accept          string
	AcceptLanguage  string
	Fingerprint     string
	Variant         string
	Static          StaticSignals
	SessionValid    bool
}

// Contribution is one fired signal.
type Contribution struct {
	Tag    string
	Weight float64
}

// Assessment is the scorer's output. Thresholds are those of the request's
// variant so the caller compares against the same table that weighted it.
type Assessment struct {
	Probability   float64
	Reasons       []string
	Contributions []Contribution
	Thresholds    Thresholds
}

type Scorer struct {
	tables     *Tables
	behavior   Behavior
	honeypot   Honeypot
	reputation Reputation
	tracer     trace.Tracer
	logger     *slog.Logger
}

type Option func(*Scorer)

func WithBehavior(b Behavior) Option {
	return func(s *Scorer) {
		s.behavior = b
	}
}

func WithHoneypot(h Honeypot) Option {
	return func(s *Scorer) {
		s.honeypot = h
	}
}

// WithReputation enables the reputation signal. A nil *reputation.Client,
// which is what reputation.New returns without a URL, leaves it disabled.
func WithReputation(r Reputation) Option {
	return func(s *Scorer) {
		if c, ok := r.(*reputation.Client); ok && c == nil {
			return
		}
		s.reputation = r
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scorer) {
		s.logger = l
	}
}

// New creates a Scorer. Signal sources left unset are skipped.
func New(tables *Tables, opts ...Option) (*Scorer, error) {
	if tables == nil {
		return nil, errors.New("weight tables are required")
	}
	s := &Scorer{
		tables: tables,
		tracer: otel.Tracer("botgate/risk"),
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Tables returns the weight tables the scorer reads.
func (s *Scorer) Tables() *Tables {
	return s.tables
}

// observations gathered from the stateful and remote sources.
type observations struct {
	rate        behavior.Result
	churn       bool
	hits        int64
	asnWatch    bool
	rep         reputation.Verdict
	repOK       bool
	hasRate     bool
	hasHoneypot bool
}

// Assess scores in. Each source is evaluated in isolation: a failing source
// is omitted from the result and never fails the assessment.
func (s *Scorer) Assess(ctx context.Context, in Input) Assessment {
	ctx, span := s.tracer.Start(ctx, "risk.Assess")
	defer span.End()

	table := s.tables.For(in.Variant)
	obs := s.observe(ctx, in, table)

	var b builder
	b.table = table

	st := in.Static
	b.addIf(st.UABlock, TagUABlock)
	b.addIf(st.UAAutomation, TagUAAutomation)
	b.addIf(strings.TrimSpace(in.UserAgent) == "", TagUAEmpty)
	b.addIf(st.IPBlacklist, TagIPBlacklist)
	b.addIf(st.ASNBlacklist, TagASNBlacklist)
	if obs.repOK {
		b.addCountIf(obs.rep.AbuseScore >= table.MinAbuseScore, TagRepAbuse, int64(obs.rep.AbuseScore))
		b.addIf(obs.rep.IsTor, TagRepTor)
	}
	b.addIf(st.RDNSCrawler, TagRDNSCrawler)
	if in.ProviderTrusted {
		b.add(TagProviderTrusted)
	} else {
		b.add(TagProviderUntrusted)
	}
	if obs.hasRate {
		b.addCountIf(obs.rate.RateHigh, TagRateHigh, obs.rate.Count)
		b.addIf(obs.rate.Fast, TagBehFast)
		b.addIf(obs.rate.Uniform, TagBehUniform)
		b.addIf(obs.churn, TagBindChurn)
	}
	if obs.hasHoneypot {
		b.addCountIf(obs.hits > 0, TagHoneypotHit, obs.hits)
		b.addIf(obs.asnWatch, TagASNWatch)
	}
	b.addIf(strings.TrimSpace(in.AcceptLanguage) == "", TagNoLang)
	b.addIf(!strings.Contains(strings.ToLower(in.Accept), "text/html"), TagNoHTML)
	b.addIf(in.Fingerprint == "", TagFPMissing)
	b.addIf(in.SessionValid, TagSessionValid)

	a := b.assessment()
	span.SetAttributes(
		attribute.Float64("risk.probability", a.Probability),
		attribute.Int("risk.signals", len(a.Reasons)),
	)
	s.logger.DebugContext(ctx, "risk assessed",
		"ip_prefix", privacy.AnonymizeIP(in.Address),
		"probability", a.Probability,
		"reasons", a.Reasons,
	)
	return a
}

func (s *Scorer) observe(ctx context.Context, in Input, table Table) observations {
	var obs observations
	var g errgroup.Group

	if s.behavior != nil {
		obs.hasRate = true
		g.Go(func() error {
			obs.rate = s.behavior.BumpAndPenalize(ctx, behavior.Input{
				Address:     in.Address,
				Fingerprint: in.Fingerprint,
				UserAgent:   in.UserAgent,
				ASN:         in.ASN,
			}, table.Limits)
			obs.churn = s.behavior.CheckBinding(ctx, in.Fingerprint, in.NetworkPrefix)
			return nil
		})
	}
	if s.honeypot != nil {
		obs.hasHoneypot = true
		g.Go(func() error {
			obs.hits = s.honeypot.HoneypotHits(ctx, in.Address)
			obs.asnWatch = s.honeypot.IsASNWatched(ctx, in.ASN)
			return nil
		})
	}
	if s.reputation != nil && in.Address != "" {
		g.Go(func() error {
			v, err := s.reputation.Lookup(ctx, in.Address)
			if err != nil {
				s.logger.DebugContext(ctx, "reputation signal omitted", "error", err)
				return nil
			}
			obs.rep, obs.repOK = v, true
			return nil
		})
	}
	_ = g.Wait()
	return obs
}

type builder struct {
	table         Table
	sum           float64
	reasons       []string
	contributions []Contribution
}

func (b *builder) add(tag string) {
	b.push(tag, tag)
}

func (b *builder) addIf(cond bool, tag string) {
	if cond {
		b.add(tag)
	}
}

func (b *builder) addCountIf(cond bool, tag string, n int64) {
	if cond {
		b.push(tag, fmt.Sprintf("%s(%d)", tag, n))
	}
}

func (b *builder) push(tag, reason string) {
	w := b.table.Weight(tag)
	b.sum += w
	b.reasons = append(b.reasons, reason)
	b.contributions = append(b.contributions, Contribution{Tag: reason, Weight: w})
}

func (b *builder) assessment() Assessment {
	return Assessment{
		Probability:   Clamp(Quantize(Prior + b.sum)),
		Reasons:       b.reasons,
		Contributions: b.contributions,
		Thresholds:    b.table.Thresholds,
	}
}

// Quantize rounds p to nine decimal places, so a sum of decimal weights
// compares exactly against a decimal threshold.
func Quantize(p float64) float64 {
	return math.Round(p*1e9) / 1e9
}

// Clamp bounds p to [0,1].
func Clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
