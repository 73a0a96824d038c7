//go:build integration

package blocklist_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"botgate/internal/blocklist"
	"botgate/pkg/platform/sentinel"
	"botgate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *blocklist.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = blocklist.NewPostgres(s.postgres.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "gate_blocklist"))
}

func (s *PostgresStoreSuite) add(typ blocklist.EntryType, value string, ttl time.Duration, now time.Time) {
	e, err := blocklist.NewEntry(typ, value, "integration", ttl, now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Add(context.Background(), e))
}

func (s *PostgresStoreSuite) TestListActiveSkipsExpired() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	s.add(blocklist.EntryTypeUserAgent, "scrapy", 0, now)
	s.add(blocklist.EntryTypeASN, "64500", time.Minute, now)

	entries, err := s.store.ListActive(ctx, now)
	s.Require().NoError(err)
	s.Len(entries, 2)

	entries, err = s.store.ListActive(ctx, now.Add(2*time.Minute))
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("scrapy", entries[0].Value)
	s.Nil(entries[0].ExpiresAt)
}

func (s *PostgresStoreSuite) TestAddUpsertsByTypeAndValue() {
	ctx := context.Background()
	now := time.Now().UTC()
	s.add(blocklist.EntryTypeCIDR, "203.0.113.0/24", time.Minute, now)
	s.add(blocklist.EntryTypeCIDR, "203.0.113.9/24", 0, now)

	entries, err := s.store.ListActive(ctx, now.Add(time.Hour))
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Nil(entries[0].ExpiresAt, "second add clears the expiry")
}

func (s *PostgresStoreSuite) TestRemove() {
	ctx := context.Background()
	now := time.Now().UTC()
	s.add(blocklist.EntryTypeASN, "64501", 0, now)

	s.Require().NoError(s.store.Remove(ctx, blocklist.EntryTypeASN, "64501"))
	err := s.store.Remove(ctx, blocklist.EntryTypeASN, "64501")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresStoreSuite) TestRemoveExpiredAt() {
	ctx := context.Background()
	now := time.Now().UTC()
	s.add(blocklist.EntryTypeASN, "64502", time.Second, now)
	s.add(blocklist.EntryTypeASN, "64503", 0, now)

	n, err := s.store.RemoveExpiredAt(ctx, now.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}

func (s *PostgresStoreSuite) TestSourceLoadsFromPostgres() {
	now := time.Now().UTC()
	s.add(blocklist.EntryTypeCIDR, "198.51.100.0/24", 0, now)

	src, err := blocklist.NewSource(s.store)
	s.Require().NoError(err)
	s.Require().NoError(src.Refresh(context.Background()))
	s.Len(src.Lists().CIDRs, 1)
}

func (s *PostgresStoreSuite) TestRunInTxRollsBackOnError() {
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := blocklist.NewEntry(blocklist.EntryTypeUserAgent, "batchbot", "", 0, now)
	s.Require().NoError(err)
	second, err := blocklist.NewEntry(blocklist.EntryTypeASN, "64510", "", 0, now)
	s.Require().NoError(err)

	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		s.Require().NoError(s.store.Add(ctx, first))
		return errors.New("abort batch")
	})
	s.EqualError(err, "abort batch")

	entries, err := s.store.ListActive(ctx, now)
	s.Require().NoError(err)
	s.Empty(entries)

	s.Require().NoError(s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Add(ctx, first); err != nil {
			return err
		}
		return s.store.Add(ctx, second)
	}))
	entries, err = s.store.ListActive(ctx, now)
	s.Require().NoError(err)
	s.Len(entries, 2)
}
