package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"capstack/internal/subscription/models"
	id "capstack/pkg/domain"
	"capstack/pkg/platform/sentinel"
)

type InMemorySubscriptionStoreSuite struct {
	suite.Suite
	ctx   context.Context
	now   time.Time
	store *InMemory
}

func TestInMemorySubscriptionStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemorySubscriptionStoreSuite))
}

func (s *InMemorySubscriptionStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewInMemory()
}

func (s *InMemorySubscriptionStoreSuite) create() *models.Subscription {
	sub, err := models.NewSubscription(id.NewSPVID(), id.NewUserID(), decimal.NewFromInt(100), "", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, sub))
	return sub
}

func (s *InMemorySubscriptionStoreSuite) TestOnePerPair() {
	sub := s.create()
	dup, err := models.NewSubscription(sub.SPVID, sub.InvestorID, decimal.NewFromInt(5), "", s.now)
	s.Require().NoError(err)
	s.ErrorIs(s.store.Create(s.ctx, dup), sentinel.ErrConflict)
}

func (s *InMemorySubscriptionStoreSuite) TestClaimAndComplete() {
	sub := s.create()

	s.ErrorIs(s.store.Claim(s.ctx, sub.ID, "a", s.now, s.now.Add(-time.Minute)), sentinel.ErrStale, "pending cannot be claimed")
	s.Require().NoError(s.store.MarkFunded(s.ctx, sub.ID, "W", "B", s.now))
	s.ErrorIs(s.store.MarkFunded(s.ctx, sub.ID, "W", "B", s.now), sentinel.ErrStale)

	s.Require().NoError(s.store.Claim(s.ctx, sub.ID, "a", s.now, s.now.Add(-time.Minute)))
	s.ErrorIs(s.store.Claim(s.ctx, sub.ID, "b", s.now, s.now.Add(-time.Minute)), sentinel.ErrStale)
	s.ErrorIs(s.store.MarkCompleted(s.ctx, sub.ID, "b", "0x1", decimal.NewFromInt(100), s.now), sentinel.ErrStale)

	s.ErrorIs(s.store.RecordMintRef(s.ctx, sub.ID, "0x1", s.now), sentinel.ErrStale, "no mint was started")
	s.ErrorIs(s.store.BeginMint(s.ctx, sub.ID, "b", decimal.NewFromInt(100), s.now), sentinel.ErrStale)
	s.Require().NoError(s.store.BeginMint(s.ctx, sub.ID, "a", decimal.NewFromInt(100), s.now))
	s.ErrorIs(s.store.BeginMint(s.ctx, sub.ID, "a", decimal.NewFromInt(100), s.now), sentinel.ErrStale, "a mint starts at most once")
	s.Require().NoError(s.store.RecordMintRef(s.ctx, sub.ID, "0x1", s.now))
	s.ErrorIs(s.store.RecordMintRef(s.ctx, sub.ID, "0x2", s.now), sentinel.ErrStale)
	s.ErrorIs(s.store.AbortMint(s.ctx, sub.ID, "a"), sentinel.ErrStale, "a recorded mint cannot be aborted")

	funded, err := s.store.FindByID(s.ctx, sub.ID)
	s.Require().NoError(err)
	s.False(funded.TokenAmount.Valid)
	s.True(funded.MintTokens.Decimal.Equal(decimal.NewFromInt(100)))

	s.Require().NoError(s.store.MarkCompleted(s.ctx, sub.ID, "a", "0x1", decimal.NewFromInt(100), s.now))

	got, err := s.store.FindByID(s.ctx, sub.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, got.Status)
	s.Equal("0x1", got.MintTxRef)
	s.True(got.TokenAmount.Decimal.Equal(decimal.NewFromInt(100)))
	s.Empty(got.CompletionClaim)
	s.Nil(got.ClaimedAt)
	s.Require().NotNil(got.CompletedAt)

	s.ErrorIs(s.store.ReleaseClaim(s.ctx, sub.ID, "a"), sentinel.ErrStale)
	s.ErrorIs(s.store.Cancel(s.ctx, sub.ID, s.now), sentinel.ErrStale)
}

func (s *InMemorySubscriptionStoreSuite) TestAbortMintAllowsRetry() {
	sub := s.create()
	s.Require().NoError(s.store.MarkFunded(s.ctx, sub.ID, "W", "B", s.now))
	s.Require().NoError(s.store.Claim(s.ctx, sub.ID, "a", s.now, s.now.Add(-time.Minute)))
	s.Require().NoError(s.store.BeginMint(s.ctx, sub.ID, "a", decimal.NewFromInt(7), s.now))

	s.ErrorIs(s.store.AbortMint(s.ctx, sub.ID, "other"), sentinel.ErrStale)
	s.Require().NoError(s.store.AbortMint(s.ctx, sub.ID, "a"))

	got, err := s.store.FindByID(s.ctx, sub.ID)
	s.Require().NoError(err)
	s.False(got.MintUnconfirmed())
	s.False(got.MintTokens.Valid)
	s.NoError(s.store.BeginMint(s.ctx, sub.ID, "a", decimal.NewFromInt(7), s.now))
}

func (s *InMemorySubscriptionStoreSuite) TestMissingRows() {
	missing := id.NewSubscriptionID()
	_, err := s.store.FindByID(s.ctx, missing)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Cancel(s.ctx, missing, s.now), sentinel.ErrNotFound)
}

func (s *InMemorySubscriptionStoreSuite) TestReturnsCopies() {
	sub := s.create()
	got, err := s.store.FindByID(s.ctx, sub.ID)
	s.Require().NoError(err)
	got.Status = models.StatusCompleted

	again, err := s.store.FindByID(s.ctx, sub.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, again.Status)
}
