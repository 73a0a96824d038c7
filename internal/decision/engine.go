// Package decision turns a request context into a routing verdict and runs
// the proof-of-work challenge round-trip.
//
// Decide evaluates, first match wins: bypass paths, a valid session token,
// the strict navigation allowlist, hard static signals (ban marker,
// blocklists, automation signatures, crawler rDNS), and finally the risk
// score against the variant's thresholds.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"botgate/internal/audit"
	"botgate/internal/counter"
	"botgate/internal/platform/logger"
	"botgate/internal/platform/metrics"
	"botgate/internal/pow"
	"botgate/internal/risk"
	"botgate/internal/token"
	"botgate/pkg/platform/privacy"
	"botgate/pkg/platform/sentinel"
)

// DefaultBanTTL is how long a probabilistic HARD_SAFE sticks to an address.
const DefaultBanTTL = time.Hour

// Reason tags emitted by the engine itself. Score reasons come from risk.
const (
	ReasonBypass        = "path:bypass"
	ReasonAllowlist     = "allow:referrer"
	ReasonBanMarker     = "ban:marker"
	ReasonChallengeOff  = "challenge:disabled"
	ReasonNotNavigation = "challenge:non_html"
	ReasonNonceFailed   = "challenge:unavailable"
)

// ErrChallengeFailed is returned by VerifyChallenge for every rejected
// submission. The cause is logged, never returned to the client.
var ErrChallengeFailed = errors.New("challenge verification failed")

var softwareRenderer = regexp.MustCompile(`(?i)swiftshader|llvmpipe|softpipe|software rasterizer|microsoft basic render`)

// Scorer fuses signals into a probability.
type Scorer interface {
	Assess(ctx context.Context, in risk.Input) risk.Assessment
}

// Tokens issues and verifies binding tokens.
type Tokens interface {
	IssueNonce(b token.Binding) (string, error)
	IssueSession(b token.Binding) (string, error)
	Verify(tok string) (token.Payload, error)
	VerifyBound(tok string, typ token.Type, b token.Binding) (token.Payload, error)
	SessionTTL() time.Duration
}

// Redeemer checks a proof-of-work solution and consumes its nonce.
type Redeemer interface {
	Redeem(ctx context.Context, tok, solution string, ttl time.Duration) error
}

// CrawlerChecker verifies search-engine crawlers by reverse DNS.
type CrawlerChecker interface {
	IsCrawler(ctx context.Context, ip string) (string, bool, error)
}

// AuditPublisher receives every decision without blocking.
type AuditPublisher interface {
	Publish(ctx context.Context, rec audit.Record) bool
}

type Engine struct {
	rules    *RuleSet
	scorer   Scorer
	tokens   Tokens
	redeemer Redeemer
	store    counter.Store
	crawler  CrawlerChecker
	audit    AuditPublisher
	banTTL   time.Duration
	now      func() time.Time
	tracer   trace.Tracer
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Engine)

func WithCrawlerChecker(c CrawlerChecker) Option {
	return func(e *Engine) {
		e.crawler = c
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(e *Engine) {
		e.audit = p
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithBanTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.banTTL = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an Engine.
func New(rules *RuleSet, scorer Scorer, tokens Tokens, redeemer Redeemer, store counter.Store, opts ...Option) (*Engine, error) {
	if rules == nil {
		return nil, errors.New("rule set is required")
	}
	if scorer == nil {
		return nil, errors.New("scorer is required")
	}
	if tokens == nil {
		return nil, errors.New("token service is required")
	}
	if redeemer == nil {
		return nil, errors.New("proof-of-work gate is required")
	}
	if store == nil {
		return nil, errors.New("counter store is required")
	}
	e := &Engine{
		rules:    rules,
		scorer:   scorer,
		tokens:   tokens,
		redeemer: redeemer,
		store:    store,
		banTTL:   DefaultBanTTL,
		now:      time.Now,
		tracer:   otel.Tracer("botgate/decision"),
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// BanTTL is the lifetime of ban markers, for the bg_ban cookie.
func (e *Engine) BanTTL() time.Duration {
	return e.banTTL
}

// SessionTTL is the lifetime of session tokens, for the bg_session cookie.
func (e *Engine) SessionTTL() time.Duration {
	return e.tokens.SessionTTL()
}

// Decide classifies rc. It never fails: unavailable signal sources are
// omitted and the remaining signals decide.
func (e *Engine) Decide(ctx context.Context, rc *RequestContext) Decision {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "decision.Decide")
	defer span.End()

	d := e.decide(ctx, rc)

	span.SetAttributes(
		attribute.String("decision.verdict", d.Verdict.String()),
		attribute.Float64("decision.score", d.Score),
	)
	e.metrics.IncDecision(d.Verdict.String(), d.Score)
	e.report(ctx, rc, d, start)
	return d
}

func (e *Engine) decide(ctx context.Context, rc *RequestContext) Decision {
	rules := e.rules.Current()

	if rules.Bypass(rc.Path) {
		return Decision{Verdict: VerdictBypass, Reasons: []string{ReasonBypass}}
	}

	sessionSigned := false
	if tok := rc.Cookie(CookieSession); tok != "" {
		if _, err := e.tokens.VerifyBound(tok, token.TypeSession, rc.Binding()); err == nil {
			return Decision{Verdict: VerdictTrustedPass, Reasons: []string{risk.TagSessionValid}}
		}
		// A genuine session presented from a different binding (new network,
		// rotated fingerprint) is still a trust signal for scoring.
		if p, err := e.tokens.Verify(tok); err == nil && p.Type == token.TypeSession {
			sessionSigned = true
		}
	}

	if rules.Allowlisted(rc) {
		return Decision{Verdict: VerdictTrustedPass, Reasons: []string{ReasonAllowlist}}
	}

	if reasons := e.hardSignals(ctx, rc, rules); len(reasons) > 0 {
		return Decision{Verdict: VerdictHardSafe, Reasons: reasons, Score: 1}
	}

	a := e.scorer.Assess(ctx, risk.Input{
		Address:         rc.Address,
		NetworkPrefix:   rc.NetworkPrefix(),
		Provider:        rc.Provider,
		ProviderTrusted: rc.ProviderTrusted,
		ASN:             rc.ASN,
		UserAgent:       rc.UserAgent,
		Accept:          rc.Accept,
		AcceptLanguage:  rc.AcceptLanguage,
		Fingerprint:     rc.Fingerprint,
		Variant:         rc.Variant,
		SessionValid:    sessionSigned,
	})
	return e.applyThresholds(ctx, rc, rules, a)
}

// hardSignals returns the static reasons that force HARD_SAFE. The crawler
// lookup only runs when nothing cheaper fired.
func (e *Engine) hardSignals(ctx context.Context, rc *RequestContext, rules *Rules) []string {
	var reasons []string
	if e.banned(ctx, rc) {
		reasons = append(reasons, ReasonBanMarker)
	}
	if rules.UABlocked(rc.UserAgent) {
		reasons = append(reasons, risk.TagUABlock)
	}
	if rules.Automation(rc.UserAgent) {
		reasons = append(reasons, risk.TagUAAutomation)
	}
	if rules.IPBlacklisted(rc.Address) {
		reasons = append(reasons, risk.TagIPBlacklist)
	}
	if rules.ASNBlacklisted(rc.ASN) {
		reasons = append(reasons, risk.TagASNBlacklist)
	}
	if len(reasons) > 0 || e.crawler == nil || rc.Address == "" {
		return reasons
	}

	name, ok, err := e.crawler.IsCrawler(ctx, rc.Address)
	if err != nil {
		e.logger.DebugContext(ctx, "rdns signal omitted", "ip_prefix", privacy.AnonymizeIP(rc.Address), "error", err)
		return nil
	}
	if ok {
		e.logger.DebugContext(ctx, "crawler verified", "ip_prefix", privacy.AnonymizeIP(rc.Address), "host", name)
		reasons = append(reasons, risk.TagRDNSCrawler)
	}
	return reasons
}

func (e *Engine) banned(ctx context.Context, rc *RequestContext) bool {
	if rc.Cookie(CookieBan) != "" {
		return true
	}
	if rc.Address == "" {
		return false
	}
	_, found, err := e.store.Get(ctx, counter.KeyPrefixBan+rc.Address)
	return err == nil && found
}

func (e *Engine) applyThresholds(ctx context.Context, rc *RequestContext, rules *Rules, a risk.Assessment) Decision {
	p, th := a.Probability, a.Thresholds
	reasons := a.Reasons
	if reasons == nil {
		reasons = []string{}
	}

	switch {
	case p >= th.Strict:
		if rc.Address != "" {
			if err := e.store.SetWithExpiry(ctx, counter.KeyPrefixBan+rc.Address, "1", e.banTTL); err != nil {
				e.logger.DebugContext(ctx, "ban marker not written", "error", err)
			}
		}
		return Decision{Verdict: VerdictHardSafe, Reasons: reasons, Score: p, Banned: true}

	case p >= th.Base || (p >= risk.Quantize(th.Base-th.Margin) && !rc.ProviderTrusted):
		if !rules.ChallengeEnabled() {
			return Decision{Verdict: VerdictSoftSafe, Reasons: append(reasons, ReasonChallengeOff), Score: p}
		}
		if !rc.acceptsHTML() {
			return Decision{Verdict: VerdictSoftSafe, Reasons: append(reasons, ReasonNotNavigation), Score: p}
		}
		tok, err := e.tokens.IssueNonce(rc.Binding())
		if err != nil {
			e.logger.WarnContext(ctx, "nonce issuance failed", "event", "nonce_issue_failed", "error", err)
			return Decision{Verdict: VerdictSoftSafe, Reasons: append(reasons, ReasonNonceFailed), Score: p}
		}
		return Decision{Verdict: VerdictChallenge, Reasons: reasons, Score: p, Token: tok}

	default:
		return Decision{Verdict: VerdictPass, Reasons: reasons, Score: p}
	}
}

// IssueNonce mints a fresh challenge nonce bound to rc.
func (e *Engine) IssueNonce(_ context.Context, rc *RequestContext) (string, error) {
	tok, err := e.tokens.IssueNonce(rc.Binding())
	if err != nil {
		return "", fmt.Errorf("issue nonce: %w", err)
	}
	return tok, nil
}

// VerifyChallenge checks a proof-of-work submission against the nonce it
// answers and, on success, mints a session token bound to rc. Missing
// fields are sentinel.ErrMalformed; every other rejection is
// ErrChallengeFailed.
func (e *Engine) VerifyChallenge(ctx context.Context, rc *RequestContext, sub ChallengeSubmission) (ChallengeResult, error) {
	ctx, span := e.tracer.Start(ctx, "decision.VerifyChallenge")
	defer span.End()

	if sub.Token == "" || sub.Solution == "" {
		e.metrics.IncChallengeResult("malformed")
		return ChallengeResult{}, fmt.Errorf("%w: token and solution are required", sentinel.ErrMalformed)
	}

	if sub.FPHash != "" && rc.Fingerprint != "" && sub.FPHash != rc.Fingerprint {
		return ChallengeResult{}, e.reject(ctx, rc, "fp_mismatch", nil)
	}
	b := rc.Binding()
	if sub.FPHash != "" {
		b.FPHash = sub.FPHash
	}

	payload, err := e.tokens.VerifyBound(sub.Token, token.TypeNonce, b)
	if err != nil {
		return ChallengeResult{}, e.reject(ctx, rc, "invalid_token", err)
	}
	if softwareRenderer.MatchString(sub.WebGL) {
		return ChallengeResult{}, e.reject(ctx, rc, "software_renderer", nil)
	}

	ttl := payload.ExpiresAt().Sub(e.now())
	if ttl <= 0 {
		return ChallengeResult{}, e.reject(ctx, rc, "invalid_token", token.ErrInvalidToken)
	}
	if err := e.redeemer.Redeem(ctx, sub.Token, sub.Solution, ttl); err != nil {
		result := "bad_solution"
		if errors.Is(err, pow.ErrAlreadyRedeemed) {
			result = "replay"
		}
		return ChallengeResult{}, e.reject(ctx, rc, result, err)
	}

	session, err := e.tokens.IssueSession(b)
	if err != nil {
		e.metrics.IncChallengeResult("issue_failed")
		return ChallengeResult{}, fmt.Errorf("issue session: %w", err)
	}
	e.metrics.IncChallengeResult("passed")
	span.SetAttributes(attribute.Bool("challenge.passed", true))
	e.logger.InfoContext(ctx, "challenge passed",
		"event", "challenge_passed",
		"ip_prefix", privacy.AnonymizeIP(rc.Address),
	)
	return ChallengeResult{SessionToken: session, Fingerprint: b.FPHash, MaxAge: e.tokens.SessionTTL()}, nil
}

func (e *Engine) reject(ctx context.Context, rc *RequestContext, result string, cause error) error {
	e.metrics.IncChallengeResult(result)
	attrs := []any{
		"event", "challenge_rejected",
		"result", result,
		"ip_prefix", privacy.AnonymizeIP(rc.Address),
	}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	e.logger.InfoContext(ctx, "challenge rejected", attrs...)
	return ErrChallengeFailed
}

func (e *Engine) report(ctx context.Context, rc *RequestContext, d Decision, start time.Time) {
	if e.audit == nil {
		return
	}
	rec := audit.Record{
		RequestID:  rc.RequestID,
		Verdict:    d.Verdict.String(),
		Score:      d.Score,
		Reasons:    d.Reasons,
		IPPrefix:   privacy.AnonymizeIP(rc.Address),
		ASN:        rc.ASN,
		Provider:   rc.Provider,
		Method:     rc.Method,
		Path:       privacy.Truncate(rc.Path, 256),
		UserAgent:  privacy.Truncate(rc.UserAgent, 64),
		Variant:    rc.Variant,
		DurationMS: float64(e.now().Sub(start).Microseconds()) / 1000,
	}
	if rc.Fingerprint != "" {
		rec.Fingerprint = privacy.HashIdentifier(rc.Fingerprint)
	}
	e.audit.Publish(context.WithoutCancel(ctx), rec)
}
