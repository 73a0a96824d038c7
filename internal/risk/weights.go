package risk

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"botgate/internal/behavior"
	"botgate/internal/platform/config"
)

// Signal tags. Tags that carry a count are rendered as "tag(N)".
const (
	TagUABlock           = "ua:block"
	TagUAAutomation      = "ua:automation"
	TagUAEmpty           = "ua:empty"
	TagIPBlacklist       = "ip:blacklist"
	TagASNBlacklist      = "asn:blacklist"
	TagASNWatch          = "asn:watch"
	TagRepAbuse          = "rep:abuse"
	TagRepTor            = "rep:tor"
	TagRDNSCrawler       = "rdns:crawler"
	TagProviderUntrusted = "provider:untrusted"
	TagProviderTrusted   = "provider:trusted"
	TagRateHigh          = "rate:high"
	TagBehFast           = "beh:fast"
	TagBehUniform        = "beh:uniform"
	TagBindChurn         = "bind:churn"
	TagHoneypotHit       = "honeypot:hit"
	TagNoLang            = "hdr:no_lang"
	TagNoHTML            = "hdr:no_html"
	TagFPMissing         = "fp:missing"
	TagSessionValid      = "session:valid"
)

// DefaultWeights is the built-in weight table. Positive weights push toward
// automation, negative weights are trust signals.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		TagUABlock:           0.50,
		TagUAAutomation:      0.35,
		TagUAEmpty:           0.30,
		TagIPBlacklist:       0.50,
		TagASNBlacklist:      0.25,
		TagASNWatch:          0.20,
		TagRepAbuse:          0.30,
		TagRepTor:            0.25,
		TagRDNSCrawler:       0.40,
		TagProviderUntrusted: 0.05,
		TagProviderTrusted:   -0.05,
		TagRateHigh:          0.25,
		TagBehFast:           0.15,
		TagBehUniform:        0.20,
		TagBindChurn:         0.15,
		TagHoneypotHit:       0.40,
		TagNoLang:            0.10,
		TagNoHTML:            0.05,
		TagFPMissing:         0.05,
		TagSessionValid:      -0.40,
	}
}

// Thresholds map a probability onto a verdict band.
type Thresholds struct {
	Base   float64 `yaml:"base"`
	Strict float64 `yaml:"strict"`
	Margin float64 `yaml:"margin"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Base: 0.60, Strict: 0.85, Margin: 0.05}
}

func (t Thresholds) validate() error {
	if t.Base < 0 || t.Strict > 1 || t.Base > t.Strict {
		return fmt.Errorf("thresholds must satisfy 0 <= base <= strict <= 1, got base=%v strict=%v", t.Base, t.Strict)
	}
	if t.Margin < 0 || t.Margin > t.Base {
		return fmt.Errorf("margin must be within [0, base], got %v", t.Margin)
	}
	return nil
}

// DefaultMinAbuseScore is the reputation confidence at which rep:abuse fires.
const DefaultMinAbuseScore = 50

// Table is the complete tuning for one experiment variant.
type Table struct {
	Weights       map[string]float64
	Thresholds    Thresholds
	Limits        behavior.Limits
	MinAbuseScore int
}

// Weight returns the weight for tag, 0 when unset.
func (t Table) Weight(tag string) float64 {
	return t.Weights[tag]
}

// DefaultTable returns the built-in tuning.
func DefaultTable() Table {
	return Table{
		Weights:       DefaultWeights(),
		Thresholds:    DefaultThresholds(),
		Limits:        behavior.DefaultLimits(),
		MinAbuseScore: DefaultMinAbuseScore,
	}
}

// Configuration keys read from the provider.
const (
	KeyWeights       = "weights"
	KeyThresholds    = "thresholds"
	KeyRate          = "rate"
	KeyMinAbuseScore = "reputation_min_score"
	KeyVariants      = "variants"
)

// overlay is the partial document accepted at the top level and per variant.
type overlay struct {
	Weights    map[string]float64 `yaml:"weights"`
	Thresholds struct {
		Base   *float64 `yaml:"base"`
		Strict *float64 `yaml:"strict"`
		Margin *float64 `yaml:"margin"`
	} `yaml:"thresholds"`
	Rate struct {
		// Window must be a duration string ("90s").
		Window         *time.Duration `yaml:"window"`
		PerAddress     *int64         `yaml:"per_address"`
		PerFingerprint *int64         `yaml:"per_fingerprint"`
		PerASN         *int64         `yaml:"per_asn"`
	} `yaml:"rate"`
	MinAbuseScore *int `yaml:"reputation_min_score"`
}

func (o overlay) apply(t Table) Table {
	weights := make(map[string]float64, len(t.Weights)+len(o.Weights))
	for k, v := range t.Weights {
		weights[k] = v
	}
	for k, v := range o.Weights {
		weights[k] = v
	}
	t.Weights = weights
	setF := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setF(&t.Thresholds.Base, o.Thresholds.Base)
	setF(&t.Thresholds.Strict, o.Thresholds.Strict)
	setF(&t.Thresholds.Margin, o.Thresholds.Margin)
	if o.Rate.Window != nil && *o.Rate.Window > 0 {
		t.Limits.Window = *o.Rate.Window
	}
	setI := func(dst *int64, src *int64) {
		if src != nil {
			*dst = *src
		}
	}
	setI(&t.Limits.PerAddress, o.Rate.PerAddress)
	setI(&t.Limits.PerFingerprint, o.Rate.PerFingerprint)
	setI(&t.Limits.PerASN, o.Rate.PerASN)
	if o.MinAbuseScore != nil {
		t.MinAbuseScore = *o.MinAbuseScore
	}
	return t
}

// Tables resolves the tuning per variant: built-in defaults, then the
// top-level provider keys, then the variant's own overlay. It rebuilds on
// Reload and serves lock-free snapshots in between.
type Tables struct {
	provider config.Provider
	mu       sync.Mutex // serializes Reload
	current  atomic.Pointer[snapshot]
}

type snapshot struct {
	base     Table
	variants map[string]Table
}

// NewTables builds the tables from p. p may be nil (defaults only).
func NewTables(p config.Provider) (*Tables, error) {
	t := &Tables{provider: p}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload re-reads the provider. On error the previous tables stay active.
func (t *Tables) Reload() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var top overlay
	if _, err := config.Decode(t.provider, KeyWeights, &top.Weights); err != nil {
		return err
	}
	if _, err := config.Decode(t.provider, KeyThresholds, &top.Thresholds); err != nil {
		return err
	}
	if _, err := config.Decode(t.provider, KeyRate, &top.Rate); err != nil {
		return err
	}
	if _, err := config.Decode(t.provider, KeyMinAbuseScore, &top.MinAbuseScore); err != nil {
		return err
	}
	base := top.apply(DefaultTable())
	if err := base.Thresholds.validate(); err != nil {
		return err
	}

	var variantOverlays map[string]overlay
	if _, err := config.Decode(t.provider, KeyVariants, &variantOverlays); err != nil {
		return err
	}
	variants := make(map[string]Table, len(variantOverlays))
	for name, o := range variantOverlays {
		vt := o.apply(base)
		if err := vt.Thresholds.validate(); err != nil {
			return fmt.Errorf("variant %q: %w", name, err)
		}
		variants[name] = vt
	}

	t.current.Store(&snapshot{base: base, variants: variants})
	return nil
}

// For returns the table for variant, falling back to the base table.
func (t *Tables) For(variant string) Table {
	s := t.current.Load()
	if variant != "" {
		if vt, ok := s.variants[variant]; ok {
			return vt
		}
	}
	return s.base
}
