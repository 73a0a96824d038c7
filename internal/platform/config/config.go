package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every environment variable read by Load and EnvProvider.
const EnvPrefix = "BOTGATE"

// Server captures process level configuration. Values that operators tune at
// runtime (weights, thresholds, lists) live behind Provider instead.
type Server struct {
	Addr        string `envconfig:"ADDR" default:":8080"`
	UpstreamURL string `envconfig:"UPSTREAM_URL"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ConfigFile  string `envconfig:"CONFIG_FILE"`

	Redis      RedisConfig
	Postgres   PostgresConfig
	Kafka      KafkaConfig
	Reputation ReputationConfig
	Challenge  ChallengeConfig

	// ASNDatabase is the path of a MaxMind GeoLite2-ASN database; empty disables local ASN lookups.
	ASNDatabase string `envconfig:"ASN_DB"`
	// ASNHeader is a platform-populated header carrying the client ASN (e.g. set by the CDN).
	ASNHeader string `envconfig:"ASN_HEADER"`
	// TrustedIPHeader is a platform-populated header carrying the client address; requests
	// whose address comes from it are classified as trusted.
	TrustedIPHeader string `envconfig:"TRUSTED_IP_HEADER" default:"CF-Connecting-IP"`
	TrustedProvider string `envconfig:"TRUSTED_PROVIDER" default:"cloudflare"`
	// TrustedProxies lists the peers (CIDRs or addresses) allowed to set
	// TrustedIPHeader and forwarding headers. Empty honors them from any
	// peer, which is only safe when the gate is not reachable directly.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`
	CORSOrigins    []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// RedisConfig holds counter store connection settings. An empty URL runs the
// counter store in memory-only mode.
type RedisConfig struct {
	URL          string        `envconfig:"URL"`
	PoolSize     int           `envconfig:"POOL_SIZE" default:"20"`
	MinIdleConns int           `envconfig:"MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"500ms"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"250ms"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"250ms"`
	OpTimeout    time.Duration `envconfig:"OP_TIMEOUT" default:"300ms"`
}

// PostgresConfig points at the optional blocklist database.
type PostgresConfig struct {
	DSN             string        `envconfig:"DSN"`
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"1m"`
}

// KafkaConfig enables the Kafka decision sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `envconfig:"BROKERS"`
	Topic   string   `envconfig:"TOPIC" default:"botgate.decisions"`
}

// ReputationConfig configures the third-party IP reputation lookup.
type ReputationConfig struct {
	URL     string        `envconfig:"URL"`
	APIKey  string        `envconfig:"API_KEY"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"1200ms"`
}

// ChallengeConfig holds challenge-response and cookie settings. Whether
// challenges are served at all is dynamic configuration (challenge_enabled
// through the Provider), not process configuration.
type ChallengeConfig struct {
	NonceTTL     time.Duration `envconfig:"NONCE_TTL" default:"2m"`
	SessionTTL   time.Duration `envconfig:"SESSION_TTL" default:"30m"`
	CookieDomain string        `envconfig:"COOKIE_DOMAIN"`
}

// Load reads Server from BOTGATE_* environment variables.
func Load() (*Server, error) {
	var cfg Server
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Server) validate() error {
	if c.Challenge.NonceTTL <= 0 || c.Challenge.SessionTTL <= 0 {
		return fmt.Errorf("%s_CHALLENGE_NONCE_TTL and %s_CHALLENGE_SESSION_TTL must be positive", EnvPrefix, EnvPrefix)
	}
	if c.Reputation.URL != "" && !strings.HasPrefix(c.Reputation.URL, "http://") && !strings.HasPrefix(c.Reputation.URL, "https://") {
		return fmt.Errorf("%s_REPUTATION_URL must start with http:// or https://", EnvPrefix)
	}
	return nil
}
