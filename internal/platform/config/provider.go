package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	bgstrings "botgate/pkg/platform/strings"
)

// Provider is the dynamic configuration source consulted by services.
// Get returns a string, number, bool or structured (map/slice) value, or
// false when the key is unknown.
type Provider interface {
	Get(key string) (any, bool)
}

// Layered consults providers in order and returns the first hit. The
// standard layering is file (hot-reloaded) first, then environment.
type Layered []Provider

func (l Layered) Get(key string) (any, bool) {
	for _, p := range l {
		if p == nil {
			continue
		}
		if v, ok := p.Get(key); ok {
			return v, true
		}
	}
	return nil, false
}

// EnvProvider maps key "signing_secret" to BOTGATE_SIGNING_SECRET.
type EnvProvider struct {
	Prefix string
}

func NewEnvProvider() EnvProvider {
	return EnvProvider{Prefix: EnvPrefix}
}

func (e EnvProvider) Get(key string) (any, bool) {
	name := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	if e.Prefix != "" {
		name = e.Prefix + "_" + name
	}
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil, false
	}
	return v, true
}

// FileProvider serves top-level keys of a YAML document. The document is
// re-read on Reload; readers always see a complete snapshot.
type FileProvider struct {
	path string

	mu       sync.RWMutex
	values   map[string]any
	onReload []func()
}

// NewFileProvider loads path. A missing file yields an empty provider so the
// environment layer still applies; invalid YAML is an error.
func NewFileProvider(path string) (*FileProvider, error) {
	p := &FileProvider{path: path, values: map[string]any{}}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewStaticProvider serves a fixed map. Used by tests and the CLI.
func NewStaticProvider(values map[string]any) *FileProvider {
	if values == nil {
		values = map[string]any{}
	}
	return &FileProvider{values: values}
}

func (p *FileProvider) Path() string {
	return p.path
}

func (p *FileProvider) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok && v != nil
}

// Set overrides one key in memory until the next Reload.
func (p *FileProvider) Set(key string, value any) {
	p.mu.Lock()
	p.values[key] = value
	p.mu.Unlock()
}

// OnReload registers fn to run after every successful Reload.
func (p *FileProvider) OnReload(fn func()) {
	p.mu.Lock()
	p.onReload = append(p.onReload, fn)
	p.mu.Unlock()
}

// Reload re-reads the file. On error the previous snapshot is kept.
func (p *FileProvider) Reload() error {
	if p.path == "" {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	values := map[string]any{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	p.mu.Lock()
	p.values = values
	hooks := append([]func(){}, p.onReload...)
	p.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Typed accessors
// -----------------------------------------------------------------------------

// String returns the value of key rendered as a string, or def.
func String(p Provider, key, def string) string {
	v, ok := lookup(p, key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Float returns the numeric value of key, or def when absent or not numeric.
func Float(p Provider, key string, def float64) float64 {
	v, ok := lookup(p, key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return def
		}
		return f
	default:
		return def
	}
}

// Int returns the integer value of key, or def.
func Int(p Provider, key string, def int) int {
	return int(Float(p, key, float64(def)))
}

// Bool returns the boolean value of key, or def.
func Bool(p Provider, key string, def bool) bool {
	v, ok := lookup(p, key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		return b
	default:
		return def
	}
}

// Duration accepts Go duration strings ("15m") or a number of seconds.
func Duration(p Provider, key string, def time.Duration) time.Duration {
	v, ok := lookup(p, key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(t)); err == nil {
			return d
		}
		if secs, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
		return def
	case int:
		return time.Duration(t) * time.Second
	case float64:
		return time.Duration(t * float64(time.Second))
	default:
		return def
	}
}

// Strings returns a list value. YAML sequences are used as-is and strings
// are split on commas. Entries are trimmed, lowercased and deduplicated.
// An absent key returns def.
func Strings(p Provider, key string, def []string) []string {
	v, ok := lookup(p, key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case string:
		return bgstrings.SplitList(t)
	case []string:
		return bgstrings.DedupeAndTrimLower(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return bgstrings.DedupeAndTrimLower(out)
	default:
		return def
	}
}

// Decode copies a structured value into out (a pointer) by round-tripping it
// through YAML. Environment strings are parsed as YAML documents, so a JSON
// object in an environment variable works too. Returns false when absent.
func Decode(p Provider, key string, out any) (bool, error) {
	v, ok := lookup(p, key)
	if !ok {
		return false, nil
	}
	var raw []byte
	if s, isString := v.(string); isString {
		raw = []byte(s)
	} else {
		b, err := yaml.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("encode %s: %w", key, err)
		}
		raw = b
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func lookup(p Provider, key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	return p.Get(key)
}
