package decision

import (
	"log/slog"
	"net/netip"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mssola/useragent"

	"botgate/internal/blocklist"
	"botgate/internal/platform/config"
	"botgate/internal/platform/logger"
	bgstrings "botgate/pkg/platform/strings"
)

// Provider keys read by RuleSet.
const (
	KeyUABlock          = "ua_block"
	KeyIPBlacklist      = "ip_blacklist"
	KeyASNBlacklist     = "asn_blacklist"
	KeyTrustedReferrers = "trusted_referrers"
	KeyBypassPrefixes   = "bypass_prefixes"
	KeyAssetExtensions  = "asset_extensions"
	KeyChallengeEnabled = "challenge_enabled"
)

// DefaultUABlock lists user-agent substrings of HTTP libraries and CLI
// clients. Matching is case-insensitive.
func DefaultUABlock() []string {
	return []string{
		"curl", "wget", "python-requests", "python-urllib", "aiohttp", "httpx",
		"go-http-client", "scrapy", "libwww", "java/", "okhttp",
		"apache-httpclient", "node-fetch", "axios", "httpie", "postman", "insomnia",
	}
}

func DefaultBypassPrefixes() []string {
	return []string{"/_bg/", "/api/", "/healthz", "/metrics", "/.well-known/"}
}

func DefaultAssetExtensions() []string {
	return []string{
		".css", ".js", ".mjs", ".map", ".png", ".jpg", ".jpeg", ".gif", ".svg",
		".webp", ".avif", ".ico", ".woff", ".woff2", ".ttf", ".otf",
	}
}

var automationPattern = regexp.MustCompile(`(?i)headless|phantomjs|selenium|webdriver|puppeteer|playwright|cypress|nightwatch|zombie|electron|slimerjs`)

// Rules is an immutable snapshot of the static lists.
type Rules struct {
	uaBlock          []string
	ipBlacklist      []netip.Prefix
	asnBlacklist     map[uint32]struct{}
	trustedReferrers []string
	bypassPrefixes   []string
	assetExtensions  map[string]struct{}
	challengeEnabled bool
}

// Bypass reports whether p is an infra, API or static asset path.
func (r *Rules) Bypass(p string) bool {
	for _, prefix := range r.bypassPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	_, ok := r.assetExtensions[strings.ToLower(path.Ext(p))]
	return ok
}

// UABlocked reports whether ua contains a blocklisted substring.
func (r *Rules) UABlocked(ua string) bool {
	lower := strings.ToLower(ua)
	for _, pattern := range r.uaBlock {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// Automation reports a headless-browser or self-declared bot user agent.
func (r *Rules) Automation(ua string) bool {
	if strings.TrimSpace(ua) == "" {
		return false
	}
	if automationPattern.MatchString(ua) {
		return true
	}
	return useragent.New(ua).Bot()
}

func (r *Rules) IPBlacklisted(address string) bool {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range r.ipBlacklist {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (r *Rules) ASNBlacklisted(asn uint32) bool {
	if asn == 0 {
		return false
	}
	_, ok := r.asnBlacklist[asn]
	return ok
}

// Allowlisted is the strict navigation allowlist: a trusted referrer host
// together with a top-level document navigation that accepts HTML.
func (r *Rules) Allowlisted(rc *RequestContext) bool {
	if len(r.trustedReferrers) == 0 || rc.Referer == "" {
		return false
	}
	if !strings.EqualFold(rc.SecFetchMode, "navigate") || !strings.EqualFold(rc.SecFetchDest, "document") {
		return false
	}
	// An inbound referral is cross-site; browsers that omit the header are
	// judged on the other fields.
	if rc.SecFetchSite != "" && !strings.EqualFold(rc.SecFetchSite, "cross-site") {
		return false
	}
	if !rc.acceptsHTML() {
		return false
	}
	ref, err := url.Parse(rc.Referer)
	if err != nil || ref.Hostname() == "" {
		return false
	}
	for _, domain := range r.trustedReferrers {
		if bgstrings.HasDomainSuffix(ref.Hostname(), domain) {
			return true
		}
	}
	return false
}

func (r *Rules) ChallengeEnabled() bool {
	return r.challengeEnabled
}

// RuleSet builds Rules from the configuration provider merged with the
// database blocklist and swaps snapshots atomically on reload.
type RuleSet struct {
	provider config.Provider
	logger   *slog.Logger

	mu    sync.Mutex
	lists blocklist.Lists
	rules atomic.Pointer[Rules]
}

type RuleOption func(*RuleSet)

func WithRulesLogger(l *slog.Logger) RuleOption {
	return func(rs *RuleSet) {
		if l != nil {
			rs.logger = l
		}
	}
}

// NewRuleSet builds the first snapshot. A nil provider serves defaults.
func NewRuleSet(p config.Provider, opts ...RuleOption) *RuleSet {
	rs := &RuleSet{provider: p, logger: logger.Discard()}
	for _, opt := range opts {
		opt(rs)
	}
	rs.Reload()
	return rs
}

// Current returns the active snapshot.
func (rs *RuleSet) Current() *Rules {
	return rs.rules.Load()
}

// SetBlocklist merges lists into future snapshots and rebuilds.
func (rs *RuleSet) SetBlocklist(lists blocklist.Lists) {
	rs.mu.Lock()
	rs.lists = lists
	rs.mu.Unlock()
	rs.Reload()
}

// Reload rebuilds the snapshot from the provider.
func (rs *RuleSet) Reload() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	p := rs.provider
	r := &Rules{
		uaBlock:          bgstrings.DedupeAndTrimLower(append(config.Strings(p, KeyUABlock, DefaultUABlock()), rs.lists.UserAgents...)),
		asnBlacklist:     map[uint32]struct{}{},
		trustedReferrers: config.Strings(p, KeyTrustedReferrers, nil),
		assetExtensions:  map[string]struct{}{},
		challengeEnabled: config.Bool(p, KeyChallengeEnabled, true),
	}

	for _, raw := range config.Strings(p, KeyIPBlacklist, nil) {
		prefix, err := blocklist.ParsePrefix(raw)
		if err != nil {
			rs.logger.Warn("ignoring ip blacklist entry", "event", "rules_invalid_entry", "error", err)
			continue
		}
		r.ipBlacklist = append(r.ipBlacklist, prefix)
	}
	r.ipBlacklist = append(r.ipBlacklist, rs.lists.CIDRs...)

	for _, raw := range config.Strings(p, KeyASNBlacklist, nil) {
		n, err := strconv.ParseUint(strings.TrimPrefix(raw, "as"), 10, 32)
		if err != nil || n == 0 {
			rs.logger.Warn("ignoring asn blacklist entry", "event", "rules_invalid_entry", "value", raw)
			continue
		}
		r.asnBlacklist[uint32(n)] = struct{}{}
	}
	for _, asn := range rs.lists.ASNs {
		r.asnBlacklist[asn] = struct{}{}
	}

	// Prefixes are case-sensitive paths, so they skip the lowercasing helper.
	for _, prefix := range stringList(p, KeyBypassPrefixes, DefaultBypassPrefixes()) {
		if prefix != "" {
			r.bypassPrefixes = append(r.bypassPrefixes, prefix)
		}
	}
	for _, ext := range config.Strings(p, KeyAssetExtensions, DefaultAssetExtensions()) {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.assetExtensions[ext] = struct{}{}
	}

	rs.rules.Store(r)
}

func stringList(p config.Provider, key string, def []string) []string {
	if p == nil {
		return def
	}
	v, found := p.Get(key)
	if !found {
		return def
	}
	var out []string
	switch t := v.(type) {
	case string:
		out = strings.Split(t, ",")
	case []any:
		for _, item := range t {
			if s, isString := item.(string); isString {
				out = append(out, s)
			}
		}
	default:
		return def
	}
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	return out
}
