package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"capstack/internal/captable/models"
	"capstack/internal/captable/store"
	identitymodels "capstack/internal/identity/models"
	"capstack/internal/ledger"
	ledgermocks "capstack/internal/ledger/mocks"
	spvmodels "capstack/internal/spv/models"
	id "capstack/pkg/domain"
	dErrors "capstack/pkg/domain-errors"
	"capstack/pkg/platform/tx"
	"capstack/pkg/requestcontext"
	"capstack/pkg/testutil"
)

const wallet = "0x52908400098527886E0F7030069857D2E4169EE7"

type fakeSPVs map[id.SPVID]*spvmodels.SPV

func (f fakeSPVs) Get(_ context.Context, spvID id.SPVID) (*spvmodels.SPV, error) {
	spv, ok := f[spvID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "spv not found")
	}
	return spv, nil
}

type fakeIdentities map[id.UserID]*identitymodels.Identity

func (f fakeIdentities) Get(_ context.Context, userID id.UserID) (*identitymodels.Identity, error) {
	identity, ok := f[userID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "identity not found")
	}
	return identity, nil
}

type CapTableServiceSuite struct {
	suite.Suite
	ctx        context.Context
	spvs       fakeSPVs
	identities fakeIdentities
	tokens     *ledger.Simulated
	svc        *Service
	spvID      id.SPVID
	investor   id.UserID
}

func TestCapTableServiceSuite(t *testing.T) {
	suite.Run(t, new(CapTableServiceSuite))
}

func (s *CapTableServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	s.tokens = ledger.NewSimulated()
	contract, err := s.tokens.CreateContract(s.ctx, "manager", "Fund", decimal.NewFromInt(1_000_000))
	s.Require().NoError(err)

	s.spvID = id.NewSPVID()
	s.investor = id.NewUserID()
	s.spvs = fakeSPVs{s.spvID: {ID: s.spvID, TokenContractAddress: contract}}
	s.identities = fakeIdentities{s.investor: {UserID: s.investor, WalletAddress: wallet}}
	s.svc = New(store.NewInMemory(), s.spvs, s.identities, s.tokens, tx.NewMemoryRunner())
}

func (s *CapTableServiceSuite) TestCreditDebit() {
	s.Require().NoError(s.svc.Credit(s.ctx, s.spvID, s.investor, decimal.NewFromInt(10)))
	s.True(dErrors.HasCode(s.svc.Credit(s.ctx, s.spvID, s.investor, decimal.Zero), dErrors.CodeValidation))

	err := s.svc.Debit(s.ctx, s.spvID, s.investor, decimal.NewFromInt(11))
	s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed))

	s.Require().NoError(s.svc.Debit(s.ctx, s.spvID, s.investor, decimal.NewFromInt(10)))
	entry, err := s.svc.Entry(s.ctx, s.spvID, s.investor)
	s.Require().NoError(err)
	s.True(entry.TokenBalance.IsZero())

	_, err = s.svc.Entry(s.ctx, s.spvID, id.NewUserID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *CapTableServiceSuite) TestRecordDistributionSplitsOutstandingTokens() {
	other := id.NewUserID()
	s.Require().NoError(s.svc.Credit(s.ctx, s.spvID, s.investor, decimal.NewFromInt(300)))
	s.Require().NoError(s.svc.Credit(s.ctx, s.spvID, other, decimal.NewFromInt(100)))

	dist, err := s.svc.RecordDistribution(s.ctx, s.spvID, decimal.NewFromInt(1000), models.DistributionIncome)
	s.Require().NoError(err)
	s.Equal("2.5", dist.PerTokenAmount.String())
	s.True(dist.TotalTokens.Equal(decimal.NewFromInt(400)))

	_, err = s.svc.RecordDistribution(s.ctx, id.NewSPVID(), decimal.NewFromInt(1), models.DistributionIncome)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.svc.RecordDistribution(s.ctx, s.spvID, decimal.NewFromInt(1), "bonus")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	dists, err := s.svc.Distributions(s.ctx, s.spvID)
	s.Require().NoError(err)
	s.Len(dists, 1)
}

func (s *CapTableServiceSuite) TestMintAndBurn() {
	admin := id.NewUserID()

	minted, err := s.svc.MintTokens(s.ctx, s.spvID, s.investor, decimal.NewFromInt(50), admin)
	s.Require().NoError(err)
	s.NotEmpty(minted.TxRef)
	s.True(minted.Entry.TokenBalance.Equal(decimal.NewFromInt(50)))

	onChain, err := s.tokens.BalanceOf(s.spvs[s.spvID].TokenContractAddress, wallet)
	s.Require().NoError(err)
	s.True(onChain.Equal(decimal.NewFromInt(50)))

	_, err = s.svc.BurnTokens(s.ctx, s.spvID, s.investor, decimal.NewFromInt(51), admin)
	s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed))

	burned, err := s.svc.BurnTokens(s.ctx, s.spvID, s.investor, decimal.NewFromInt(20), admin)
	s.Require().NoError(err)
	s.True(burned.Entry.TokenBalance.Equal(decimal.NewFromInt(30)))
}

func (s *CapTableServiceSuite) TestMintPreconditions() {
	s.Run("no contract", func() {
		bare := id.NewSPVID()
		s.spvs[bare] = &spvmodels.SPV{ID: bare}
		_, err := s.svc.MintTokens(s.ctx, bare, s.investor, decimal.NewFromInt(1), id.NewUserID())
		s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed))
	})

	s.Run("no wallet", func() {
		noWallet := id.NewUserID()
		s.identities[noWallet] = &identitymodels.Identity{UserID: noWallet}
		_, err := s.svc.MintTokens(s.ctx, s.spvID, noWallet, decimal.NewFromInt(1), id.NewUserID())
		s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed))
	})

	s.Run("ledger failure leaves balances alone", func() {
		ctrl := gomock.NewController(s.T())
		tokens := ledgermocks.NewMockTokenLedger(ctrl)
		tokens.EXPECT().Mint(gomock.Any(), gomock.Any(), wallet, gomock.Any()).Return("", errors.New("nonce too low"))
		svc := New(store.NewInMemory(), s.spvs, s.identities, tokens, tx.NewMemoryRunner())

		_, err := svc.MintTokens(s.ctx, s.spvID, s.investor, decimal.NewFromInt(1), id.NewUserID())
		s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
		_, err = svc.Entry(s.ctx, s.spvID, s.investor)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestDistributionWithoutOutstandingTokens(t *testing.T) {
	spvID := id.NewSPVID()
	svc := New(store.NewInMemory(), fakeSPVs{spvID: {ID: spvID}}, fakeIdentities{}, ledger.NewSimulated(), tx.NewMemoryRunner())
	ctx := context.Background()

	testutil.Given(t, "an spv with no tokens outstanding", func(t *testing.T) {
		testutil.When(t, "a distribution is recorded", func(t *testing.T) {
			dist, err := svc.RecordDistribution(ctx, spvID, decimal.NewFromInt(5000), models.DistributionLiquidation)
			require.NoError(t, err)

			testutil.Then(t, "the per-token amount is zero", func(t *testing.T) {
				assert.True(t, dist.PerTokenAmount.IsZero())
				assert.True(t, dist.TotalTokens.IsZero())
			})
		})
	})
}
