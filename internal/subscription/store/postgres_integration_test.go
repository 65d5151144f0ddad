//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	spvmodels "capstack/internal/spv/models"
	spvstore "capstack/internal/spv/store"
	"capstack/internal/subscription/models"
	"capstack/internal/subscription/store"
	id "capstack/pkg/domain"
	"capstack/pkg/platform/sentinel"
	"capstack/pkg/testutil/containers"
)

type PostgresSubscriptionStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	spvs     *spvstore.PostgresStore
}

func TestPostgresSubscriptionStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresSubscriptionStoreSuite))
}

func (s *PostgresSubscriptionStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.spvs = spvstore.NewPostgres(s.postgres.DB)
}

func (s *PostgresSubscriptionStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "subscriptions", "spvs"))
}

func (s *PostgresSubscriptionStoreSuite) spv(now time.Time) id.SPVID {
	spv, err := spvmodels.NewSPV(id.NewUserID(), spvmodels.Params{
		Name:             "Pier Seven",
		Type:             spvmodels.TypeSingleName,
		FundraisingStart: now,
		FundraisingEnd:   now.Add(24 * time.Hour),
		LifespanYears:    3,
	}, now)
	s.Require().NoError(err)
	s.Require().NoError(s.spvs.Create(context.Background(), spv))
	return spv.ID
}

func (s *PostgresSubscriptionStoreSuite) TestCompletionFlow() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	spvID := s.spv(now)

	sub, err := models.NewSubscription(spvID, id.NewUserID(), decimal.RequireFromString("1000.25"), "", now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(ctx, sub))

	dup, err := models.NewSubscription(spvID, sub.InvestorID, decimal.NewFromInt(1), "", now)
	s.Require().NoError(err)
	s.ErrorIs(s.store.Create(ctx, dup), sentinel.ErrConflict)

	s.Require().NoError(s.store.MarkFunded(ctx, sub.ID, "WIRE-7", "Bank", now))
	s.Require().NoError(s.store.Claim(ctx, sub.ID, "claim-1", now, now.Add(-time.Minute)))
	s.ErrorIs(s.store.Claim(ctx, sub.ID, "claim-2", now, now.Add(-time.Minute)), sentinel.ErrStale)
	s.Require().NoError(s.store.Claim(ctx, sub.ID, "claim-2", now, now.Add(time.Second)), "stale claims are taken over")

	tokens := decimal.RequireFromString("1000.25")
	s.ErrorIs(s.store.BeginMint(ctx, sub.ID, "claim-1", tokens, now), sentinel.ErrStale)
	s.ErrorIs(s.store.RecordMintRef(ctx, sub.ID, "0xabc", now), sentinel.ErrStale, "no mint was started")
	s.Require().NoError(s.store.BeginMint(ctx, sub.ID, "claim-2", tokens, now))
	s.ErrorIs(s.store.BeginMint(ctx, sub.ID, "claim-2", tokens, now), sentinel.ErrStale)
	s.Require().NoError(s.store.RecordMintRef(ctx, sub.ID, "0xabc", now))

	funded, err := s.store.FindByID(ctx, sub.ID)
	s.Require().NoError(err)
	s.False(funded.MintUnconfirmed())
	s.False(funded.TokenAmount.Valid)
	s.True(funded.MintTokens.Decimal.Equal(tokens))
	s.Require().NotNil(funded.MintStartedAt)

	s.Require().NoError(s.store.MarkCompleted(ctx, sub.ID, "claim-2", "0xabc", tokens, now))

	got, err := s.store.FindByID(ctx, sub.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, got.Status)
	s.True(got.TokenAmount.Valid)
	s.True(got.TokenAmount.Decimal.Equal(tokens))
	s.Equal("0xabc", got.MintTxRef)
	s.Empty(got.CompletionClaim)
	s.Nil(got.ClaimedAt)
	s.Require().NotNil(got.FundedAt)

	list, err := s.store.ListBySPV(ctx, spvID)
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *PostgresSubscriptionStoreSuite) TestMissingAndCancel() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	s.ErrorIs(s.store.Cancel(ctx, id.NewSubscriptionID(), now), sentinel.ErrNotFound)

	sub, err := models.NewSubscription(s.spv(now), id.NewUserID(), decimal.NewFromInt(5), "", now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(ctx, sub))
	s.Require().NoError(s.store.Cancel(ctx, sub.ID, now))
	s.ErrorIs(s.store.Cancel(ctx, sub.ID, now), sentinel.ErrStale)

	mine, err := s.store.ListByInvestor(ctx, sub.InvestorID)
	s.Require().NoError(err)
	s.Require().Len(mine, 1)
	s.Equal(models.StatusCancelled, mine[0].Status)
}
