package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"capstack/internal/captable/models"
	id "capstack/pkg/domain"
	"capstack/pkg/platform/sentinel"
)

type CapTableStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func TestCapTableStoreSuite(t *testing.T) {
	suite.Run(t, new(CapTableStoreSuite))
}

func (s *CapTableStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func (s *CapTableStoreSuite) TestCreditDebitRoundTrip() {
	spvID, investor := id.NewSPVID(), id.NewUserID()
	now := time.Now()
	s.Require().NoError(s.store.Credit(s.ctx, spvID, investor, decimal.NewFromInt(40), now))
	before, err := s.store.Entry(s.ctx, spvID, investor)
	s.Require().NoError(err)

	x := decimal.RequireFromString("12.5")
	s.Require().NoError(s.store.Credit(s.ctx, spvID, investor, x, now))
	s.Require().NoError(s.store.Debit(s.ctx, spvID, investor, x, now))

	after, err := s.store.Entry(s.ctx, spvID, investor)
	s.Require().NoError(err)
	s.True(before.TokenBalance.Equal(after.TokenBalance))
	s.True(before.OnChainBalance.Equal(after.OnChainBalance))
}

func (s *CapTableStoreSuite) TestDebitNeverGoesNegative() {
	spvID, investor := id.NewSPVID(), id.NewUserID()
	s.ErrorIs(s.store.Debit(s.ctx, spvID, investor, decimal.NewFromInt(1), time.Now()), sentinel.ErrInsufficient)

	s.Require().NoError(s.store.Credit(s.ctx, spvID, investor, decimal.NewFromInt(5), time.Now()))
	s.ErrorIs(s.store.Debit(s.ctx, spvID, investor, decimal.NewFromInt(6), time.Now()), sentinel.ErrInsufficient)

	entry, err := s.store.Entry(s.ctx, spvID, investor)
	s.Require().NoError(err)
	s.True(entry.TokenBalance.Equal(decimal.NewFromInt(5)))
}

func (s *CapTableStoreSuite) TestConcurrentCreditsCompose() {
	spvID := id.NewSPVID()
	investors := []id.UserID{id.NewUserID(), id.NewUserID()}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.NoError(s.store.Credit(s.ctx, spvID, investors[i%2], decimal.NewFromInt(2), time.Now()))
		}(i)
	}
	wg.Wait()

	total, err := s.store.TotalTokens(s.ctx, spvID)
	s.Require().NoError(err)
	s.True(total.Equal(decimal.NewFromInt(100)))

	entries, err := s.store.Entries(s.ctx, spvID)
	s.Require().NoError(err)
	s.Len(entries, 2)
}

func (s *CapTableStoreSuite) TestDistributionsNewestFirst() {
	spvID := id.NewSPVID()
	first, err := models.NewDistribution(spvID, decimal.NewFromInt(10), decimal.Zero, models.DistributionIncome, time.Now())
	s.Require().NoError(err)
	second, err := models.NewDistribution(spvID, decimal.NewFromInt(20), decimal.Zero, models.DistributionLiquidation, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.AppendDistribution(s.ctx, first))
	s.Require().NoError(s.store.AppendDistribution(s.ctx, second))

	got, err := s.store.Distributions(s.ctx, spvID)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(second.ID, got[0].ID)
}
