//go:build integration

package counter_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"botgate/internal/counter"
	"botgate/internal/pow"
	"botgate/pkg/testutil/containers"
)

type RedisStoreIntegrationSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *counter.RedisStore
}

func TestRedisStoreIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreIntegrationSuite))
}

func (s *RedisStoreIntegrationSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = counter.NewRedisStore(s.redis.Client)
}

func (s *RedisStoreIntegrationSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

// =============================================================================
// Counters
// =============================================================================

// Justification: the TTL-on-create rule depends on server-side atomicity
// that miniredis does not reproduce under concurrent clients.
func (s *RedisStoreIntegrationSuite) TestConcurrentIncrementsAreExact() {
	ctx := context.Background()
	const workers, perWorker = 8, 25

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				_, err := s.store.Increment(ctx, "rate:ip:203.0.113.0/24", time.Minute)
				s.NoError(err)
			}
		}()
	}
	wg.Wait()

	v, ok, err := s.store.Get(ctx, "rate:ip:203.0.113.0/24")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("200", v)

	ttl, err := s.redis.Client.TTL(ctx, "rate:ip:203.0.113.0/24").Result()
	s.Require().NoError(err)
	s.Greater(ttl, 50*time.Second)
	s.LessOrEqual(ttl, time.Minute)
}

func (s *RedisStoreIntegrationSuite) TestBindingAndExpiry() {
	ctx := context.Background()

	b, err := s.store.GetAndSetBinding(ctx, "bind:fp:abc", "203.0.113.0/24", time.Minute)
	s.Require().NoError(err)
	s.False(b.Changed)

	b, err = s.store.GetAndSetBinding(ctx, "bind:fp:abc", "198.51.100.0/24", time.Minute)
	s.Require().NoError(err)
	s.True(b.Changed)
	s.Equal("203.0.113.0/24", b.Previous)

	s.Require().NoError(s.store.SetWithExpiry(ctx, "ban:203.0.113.7", "1", time.Second))
	_, ok, err := s.store.Get(ctx, "ban:203.0.113.7")
	s.Require().NoError(err)
	s.True(ok)

	s.Eventually(func() bool {
		_, ok, err := s.store.Get(ctx, "ban:203.0.113.7")
		return err == nil && !ok
	}, 5*time.Second, 100*time.Millisecond)
}

// =============================================================================
// Shared redemption
// =============================================================================

// Justification: replicas share nonce redemption through Redis; a nonce
// redeemed on one replica must be rejected by another.
func (s *RedisStoreIntegrationSuite) TestNonceRedeemedOnceAcrossReplicas() {
	ctx := context.Background()
	const tok = "integration-nonce-token"
	n, ok := pow.Solve(ctx, tok, 0)
	s.Require().True(ok)
	solution := strconv.FormatUint(n, 10)

	replicaA, err := pow.NewGate(counter.NewRedisStore(s.redis.Client))
	s.Require().NoError(err)
	replicaB, err := pow.NewGate(counter.NewRedisStore(s.redis.Client))
	s.Require().NoError(err)

	s.Require().NoError(replicaA.Redeem(ctx, tok, solution, time.Minute))
	s.ErrorIs(replicaB.Redeem(ctx, tok, solution, time.Minute), pow.ErrAlreadyRedeemed)
}
