package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "CF-Connecting-IP", cfg.TrustedIPHeader)
	assert.Equal(t, "cloudflare", cfg.TrustedProvider)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 2*time.Minute, cfg.Challenge.NonceTTL)
	assert.Equal(t, 30*time.Minute, cfg.Challenge.SessionTTL)
	assert.Equal(t, 300*time.Millisecond, cfg.Redis.OpTimeout)
	assert.Equal(t, "botgate.decisions", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("BOTGATE_ADDR", ":9000")
	t.Setenv("BOTGATE_REDIS_URL", "redis://cache:6379/0")
	t.Setenv("BOTGATE_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("BOTGATE_CHALLENGE_SESSION_TTL", "45m")
	t.Setenv("BOTGATE_TRUSTED_PROXIES", "10.0.0.0/8,192.0.2.1")
	t.Setenv("BOTGATE_POSTGRES_REFRESH_INTERVAL", "15s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.URL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 45*time.Minute, cfg.Challenge.SessionTTL)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, cfg.TrustedProxies)
	assert.Equal(t, 15*time.Second, cfg.Postgres.RefreshInterval)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{name: "zero nonce ttl", key: "BOTGATE_CHALLENGE_NONCE_TTL", val: "0s", want: "must be positive"},
		{name: "reputation url scheme", key: "BOTGATE_REPUTATION_URL", val: "ftp://rep", want: "must start with http"},
		{name: "bad duration", key: "BOTGATE_CHALLENGE_SESSION_TTL", val: "soon", want: "failed to load config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
