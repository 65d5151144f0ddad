package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"capstack/internal/captable/models"
	identitymodels "capstack/internal/identity/models"
	"capstack/internal/ledger"
	"capstack/internal/platform/metrics"
	spvmodels "capstack/internal/spv/models"
	id "capstack/pkg/domain"
	dErrors "capstack/pkg/domain-errors"
	"capstack/pkg/platform/sentinel"
	"capstack/pkg/platform/tx"
	"capstack/pkg/requestcontext"
)

type Store interface {
	Credit(ctx context.Context, spvID id.SPVID, investorID id.UserID, amount decimal.Decimal, now time.Time) error
	Debit(ctx context.Context, spvID id.SPVID, investorID id.UserID, amount decimal.Decimal, now time.Time) error
	Entry(ctx context.Context, spvID id.SPVID, investorID id.UserID) (*models.Entry, error)
	Entries(ctx context.Context, spvID id.SPVID) ([]*models.Entry, error)
	TotalTokens(ctx context.Context, spvID id.SPVID) (decimal.Decimal, error)
	AppendDistribution(ctx context.Context, d *models.Distribution) error
	Distributions(ctx context.Context, spvID id.SPVID) ([]*models.Distribution, error)
}

type SPVReader interface {
	Get(ctx context.Context, spvID id.SPVID) (*spvmodels.SPV, error)
}

type IdentityReader interface {
	Get(ctx context.Context, userID id.UserID) (*identitymodels.Identity, error)
}

// Service owns cap-table balances and distribution records.
type Service struct {
	store      Store
	spvs       SPVReader
	identities IdentityReader
	tokens     ledger.TokenLedger
	tx         tx.Runner
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store Store, spvs SPVReader, identities IdentityReader, tokens ledger.TokenLedger, runner tx.Runner, opts ...Option) *Service {
	s := &Service{store: store, spvs: spvs, identities: identities, tokens: tokens, tx: runner}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Credit increments an investor's balance, creating the entry on first use.
func (s *Service) Credit(ctx context.Context, spvID id.SPVID, investorID id.UserID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	if err := s.store.Credit(ctx, spvID, investorID, amount, requestcontext.Now(ctx)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to credit cap table")
	}
	return nil
}

// Debit decrements an investor's balance. It never goes below zero.
func (s *Service) Debit(ctx context.Context, spvID id.SPVID, investorID id.UserID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	if err := s.store.Debit(ctx, spvID, investorID, amount, requestcontext.Now(ctx)); err != nil {
		if errors.Is(err, sentinel.ErrInsufficient) {
			return dErrors.New(dErrors.CodePreconditionFailed, "insufficient token balance")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to debit cap table")
	}
	return nil
}

// RecordDistribution declares totalAmount against the SPV's outstanding
// tokens. It records the split only; payouts happen elsewhere.
func (s *Service) RecordDistribution(ctx context.Context, spvID id.SPVID, totalAmount decimal.Decimal, kind models.DistributionType) (*models.Distribution, error) {
	if _, err := s.spvs.Get(ctx, spvID); err != nil {
		return nil, err
	}
	var dist *models.Distribution
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		total, err := s.store.TotalTokens(ctx, spvID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to sum token balances")
		}
		dist, err = models.NewDistribution(spvID, totalAmount, total, kind, requestcontext.Now(ctx))
		if err != nil {
			return toValidation(err)
		}
		if err := s.store.AppendDistribution(ctx, dist); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record distribution")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncDistribution(string(kind))
	s.logAudit(ctx, "distribution_recorded",
		"spv_id", spvID.String(),
		"distribution_id", dist.ID.String(),
		"type", kind,
		"amount", dist.Amount.String(),
		"per_token_amount", dist.PerTokenAmount.String(),
	)
	return dist, nil
}

// MintTokens issues tokens to an investor outside the subscription
// pipeline and credits the cap table.
func (s *Service) MintTokens(ctx context.Context, spvID id.SPVID, investorID id.UserID, amount decimal.Decimal, adminID id.UserID) (*models.Adjustment, error) {
	if !amount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	contract, wallet, err := s.resolveTarget(ctx, spvID, investorID)
	if err != nil {
		return nil, err
	}
	txRef, err := s.tokens.Mint(ctx, contract, wallet, amount)
	if err != nil {
		return nil, upstream(err, "token mint failed")
	}
	if err := s.Credit(ctx, spvID, investorID, amount); err != nil {
		s.logReconcile(ctx, "mint", spvID, investorID, amount, txRef, err)
		return nil, err
	}
	return s.adjustment(ctx, "tokens_minted", spvID, investorID, amount, txRef, adminID)
}

// BurnTokens removes tokens from an investor. The balance is checked before
// the ledger is called.
func (s *Service) BurnTokens(ctx context.Context, spvID id.SPVID, investorID id.UserID, amount decimal.Decimal, adminID id.UserID) (*models.Adjustment, error) {
	if !amount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	contract, wallet, err := s.resolveTarget(ctx, spvID, investorID)
	if err != nil {
		return nil, err
	}
	entry, err := s.store.Entry(ctx, spvID, investorID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load cap table entry")
	}
	if entry == nil || entry.TokenBalance.LessThan(amount) {
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "insufficient token balance")
	}
	txRef, err := s.tokens.Burn(ctx, contract, wallet, amount)
	if err != nil {
		return nil, upstream(err, "token burn failed")
	}
	if err := s.Debit(ctx, spvID, investorID, amount); err != nil {
		s.logReconcile(ctx, "burn", spvID, investorID, amount, txRef, err)
		return nil, err
	}
	return s.adjustment(ctx, "tokens_burned", spvID, investorID, amount, txRef, adminID)
}

func (s *Service) resolveTarget(ctx context.Context, spvID id.SPVID, investorID id.UserID) (string, string, error) {
	spv, err := s.spvs.Get(ctx, spvID)
	if err != nil {
		return "", "", err
	}
	if spv.TokenContractAddress == "" {
		return "", "", dErrors.New(dErrors.CodePreconditionFailed, "spv has no token contract")
	}
	investor, err := s.identities.Get(ctx, investorID)
	if err != nil {
		return "", "", err
	}
	if investor.WalletAddress == "" {
		return "", "", dErrors.New(dErrors.CodePreconditionFailed, "investor has no wallet address")
	}
	return spv.TokenContractAddress, investor.WalletAddress, nil
}

func (s *Service) adjustment(ctx context.Context, event string, spvID id.SPVID, investorID id.UserID, amount decimal.Decimal, txRef string, adminID id.UserID) (*models.Adjustment, error) {
	entry, err := s.Entry(ctx, spvID, investorID)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, event,
		"spv_id", spvID.String(),
		"investor_id", investorID.String(),
		"amount", amount.String(),
		"tx_ref", txRef,
		"admin_id", adminID.String(),
	)
	return &models.Adjustment{
		SPVID:      spvID,
		InvestorID: investorID,
		Amount:     amount,
		TxRef:      txRef,
		Entry:      entry,
	}, nil
}

func (s *Service) logReconcile(ctx context.Context, op string, spvID id.SPVID, investorID id.UserID, amount decimal.Decimal, txRef string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.ErrorContext(ctx, "ledger call succeeded but cap table write failed, reconciliation required",
		"operation", op,
		"spv_id", spvID.String(),
		"investor_id", investorID.String(),
		"amount", amount.String(),
		"tx_ref", txRef,
		"error", err,
	)
}

func (s *Service) Entry(ctx context.Context, spvID id.SPVID, investorID id.UserID) (*models.Entry, error) {
	entry, err := s.store.Entry(ctx, spvID, investorID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "cap table entry not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load cap table entry")
	}
	return entry, nil
}

func (s *Service) Entries(ctx context.Context, spvID id.SPVID) ([]*models.Entry, error) {
	entries, err := s.store.Entries(ctx, spvID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list cap table")
	}
	return entries, nil
}

func (s *Service) Distributions(ctx context.Context, spvID id.SPVID) ([]*models.Distribution, error) {
	dists, err := s.store.Distributions(ctx, spvID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list distributions")
	}
	return dists, nil
}

func upstream(err error, msg string) error {
	if dErrors.HasCode(err, dErrors.CodeUpstream) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeUpstream, msg)
}

func toValidation(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	return err
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if s.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}
