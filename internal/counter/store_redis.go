package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"botgate/pkg/platform/sentinel"
)

// RedisStore is the shared, remote implementation of Store. Errors are
// wrapped with sentinel.ErrUnavailable so FallbackStore can treat every
// failure the same way.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore constructs a Redis-backed store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// incrementScript runs INCR and PEXPIRE as one atomic step. The expiry is
// set when the key is created, or when a key left without one is found.
var incrementScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
local ttl = tonumber(ARGV[1])
if ttl > 0 and (n == 1 or redis.call("PTTL", KEYS[1]) == -1) then
	redis.call("PEXPIRE", KEYS[1], ttl)
end
return n
`)

// Increment sets the expiry only when the key was created, so the window is
// truncated rather than sliding.
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := incrementScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: incr: %v", sentinel.ErrUnavailable, err)
	}
	return n, nil
}

// GetAndSetBinding reads and overwrites key inside MULTI/EXEC.
func (s *RedisStore) GetAndSetBinding(ctx context.Context, key, value string, ttl time.Duration) (Binding, error) {
	var prev *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		prev = pipe.Get(ctx, key)
		pipe.Set(ctx, key, value, ttl)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Binding{}, fmt.Errorf("%w: get-and-set: %v", sentinel.ErrUnavailable, err)
	}

	previous, err := prev.Result()
	if errors.Is(err, redis.Nil) {
		return Binding{}, nil
	}
	if err != nil {
		return Binding{}, fmt.Errorf("%w: get-and-set: %v", sentinel.ErrUnavailable, err)
	}
	return Binding{Changed: previous != value, Previous: previous}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get: %v", sentinel.ErrUnavailable, err)
	}
	return v, true, nil
}

func (s *RedisStore) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", sentinel.ErrUnavailable, err)
	}
	return nil
}
