package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botgate/internal/platform/config"
)

func testConfig(url string) config.RedisConfig {
	return config.RedisConfig{
		URL:          url,
		PoolSize:     2,
		DialTimeout:  200 * time.Millisecond,
		ReadTimeout:  200 * time.Millisecond,
		WriteTimeout: 200 * time.Millisecond,
	}
}

func TestNewWithoutURL(t *testing.T) {
	c, err := New(testConfig(""))
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(testConfig("http://not-redis"))
	assert.Error(t, err)
}

func TestClientSurvivesServerDownAtStartup(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.Close()

	c, err := New(testConfig("redis://" + mr.Addr()))
	require.NoError(t, err)
	require.NotNil(t, c, "an unreachable server still yields a usable client")
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	assert.Error(t, c.Health(ctx))

	require.NoError(t, mr.Restart())
	require.NoError(t, c.Health(ctx))
	require.NoError(t, c.Set(ctx, "k", "v", time.Minute).Err())
	assert.Equal(t, "v", c.Get(ctx, "k").Val())
}
