package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	identitymodels "capstack/internal/identity/models"
	"capstack/internal/ledger"
	"capstack/internal/platform/metrics"
	spvmodels "capstack/internal/spv/models"
	"capstack/internal/subscription/models"
	id "capstack/pkg/domain"
	dErrors "capstack/pkg/domain-errors"
	"capstack/pkg/platform/sentinel"
	"capstack/pkg/platform/tx"
	"capstack/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks CapTable

const (
	// DefaultClaimTTL is how long a completion claim blocks other callers.
	// Mint calls are bounded to half of the claim TTL.
	DefaultClaimTTL            = 10 * time.Minute
	defaultLedgerWriteAttempts = 3
)

type Store interface {
	Create(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, subID id.SubscriptionID) (*models.Subscription, error)
	ListBySPV(ctx context.Context, spvID id.SPVID) ([]*models.Subscription, error)
	ListByInvestor(ctx context.Context, investorID id.UserID) ([]*models.Subscription, error)
	MarkFunded(ctx context.Context, subID id.SubscriptionID, wireReference, bankName string, now time.Time) error
	Claim(ctx context.Context, subID id.SubscriptionID, claim string, now, staleBefore time.Time) error
	BeginMint(ctx context.Context, subID id.SubscriptionID, claim string, tokens decimal.Decimal, now time.Time) error
	AbortMint(ctx context.Context, subID id.SubscriptionID, claim string) error
	RecordMintRef(ctx context.Context, subID id.SubscriptionID, txRef string, now time.Time) error
	MarkCompleted(ctx context.Context, subID id.SubscriptionID, claim, txRef string, tokens decimal.Decimal, now time.Time) error
	ReleaseClaim(ctx context.Context, subID id.SubscriptionID, claim string) error
	Cancel(ctx context.Context, subID id.SubscriptionID, now time.Time) error
}

type SPVReader interface {
	Get(ctx context.Context, spvID id.SPVID) (*spvmodels.SPV, error)
}

type IdentityReader interface {
	Get(ctx context.Context, userID id.UserID) (*identitymodels.Identity, error)
}

// CapTable receives the credit for a completed subscription.
type CapTable interface {
	Credit(ctx context.Context, spvID id.SPVID, investorID id.UserID, amount decimal.Decimal) error
}

// Service drives subscriptions from commitment to token issuance.
type Service struct {
	store          Store
	spvs           SPVReader
	identities     IdentityReader
	captable       CapTable
	tokens         ledger.TokenLedger
	tx             tx.Runner
	policy         models.TokenPolicy
	claimTTL       time.Duration
	ledgerAttempts int
	logger         *slog.Logger
	metrics        *metrics.Metrics
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

// WithTokenPolicy replaces the default one token per unit committed.
func WithTokenPolicy(p models.TokenPolicy) Option {
	return func(s *Service) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithClaimTTL sets how long a completion claim blocks other callers.
func WithClaimTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.claimTTL = d
		}
	}
}

// WithLedgerWriteAttempts bounds the retries of the post-mint cap-table
// write.
func WithLedgerWriteAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.ledgerAttempts = n
		}
	}
}

func New(store Store, spvs SPVReader, identities IdentityReader, captable CapTable, tokens ledger.TokenLedger, runner tx.Runner, opts ...Option) *Service {
	s := &Service{
		store:          store,
		spvs:           spvs,
		identities:     identities,
		captable:       captable,
		tokens:         tokens,
		tx:             runner,
		policy:         models.OneToOne{},
		claimTTL:       DefaultClaimTTL,
		ledgerAttempts: defaultLedgerWriteAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create records an investor's commitment to a fundraising SPV.
func (s *Service) Create(ctx context.Context, spvID id.SPVID, investorID id.UserID, amount decimal.Decimal, wallet string) (*models.Subscription, error) {
	now := requestcontext.Now(ctx)
	sub, err := models.NewSubscription(spvID, investorID, amount, wallet, now)
	if err != nil {
		return nil, toValidation(err)
	}

	spv, err := s.spvs.Get(ctx, spvID)
	if err != nil {
		return nil, err
	}
	if err := spv.AcceptingSubscriptions(now); err != nil {
		return nil, err
	}
	investor, err := s.identities.Get(ctx, investorID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodePreconditionFailed, "investor identity not found")
		}
		return nil, err
	}
	if investor.Role != identitymodels.RoleInvestor {
		return nil, dErrors.New(dErrors.CodeForbidden, "only investors can subscribe")
	}
	if !investor.Cleared() {
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "investor has not cleared KYC")
	}
	if sub.WalletAddress == "" {
		sub.WalletAddress = investor.WalletAddress
	}

	if err := s.store.Create(ctx, sub); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "investor already has a subscription for this spv")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create subscription")
	}
	s.logAudit(ctx, "subscription_created",
		"subscription_id", sub.ID.String(),
		"spv_id", spvID.String(),
		"investor_id", investorID.String(),
		"amount", amount.String(),
	)
	return sub, nil
}

// SubmitFunding records the wire details. The cap table is not touched.
func (s *Service) SubmitFunding(ctx context.Context, subID id.SubscriptionID, investorID id.UserID, wireReference, bankName string) (*models.Subscription, error) {
	sub, err := s.get(ctx, subID)
	if err != nil {
		return nil, err
	}
	if sub.InvestorID != investorID {
		return nil, dErrors.New(dErrors.CodeNotFound, "subscription not found")
	}
	now := requestcontext.Now(ctx)
	if err := sub.SubmitFunding(wireReference, bankName, now); err != nil {
		return nil, toValidation(err)
	}
	if err := s.store.MarkFunded(ctx, subID, sub.WireReference, sub.BankName, now); err != nil {
		if errors.Is(err, sentinel.ErrStale) {
			return nil, dErrors.New(dErrors.CodePreconditionFailed, "subscription is no longer pending")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record funding")
	}
	s.logAudit(ctx, "subscription_funded",
		"subscription_id", subID.String(),
		"investor_id", investorID.String(),
	)
	return sub, nil
}

// Complete mints the subscription's tokens and credits the cap table.
// Concurrent callers are serialized by the completion claim; a mint that
// was recorded by an earlier failed attempt is never repeated.
func (s *Service) Complete(ctx context.Context, subID id.SubscriptionID, adminID id.UserID) (*models.Subscription, error) {
	sub, err := s.get(ctx, subID)
	if err != nil {
		return nil, err
	}
	if err := sub.CheckCompletable(); err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			s.metrics.IncCompletionConflict()
		}
		return nil, err
	}
	spv, err := s.spvs.Get(ctx, sub.SPVID)
	if err != nil {
		return nil, err
	}
	if spv.TokenContractAddress == "" {
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "spv has no token contract")
	}
	wallet, err := s.walletFor(ctx, sub)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	claim := uuid.NewString()
	if err := s.store.Claim(ctx, subID, claim, now, now.Add(-s.claimTTL)); err != nil {
		if errors.Is(err, sentinel.ErrStale) {
			s.metrics.IncCompletionConflict()
			return nil, s.claimLost(ctx, subID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim subscription")
	}

	completed, err := s.completeClaimed(ctx, subID, claim, spv, wallet)
	if err != nil {
		if releaseErr := s.store.ReleaseClaim(ctx, subID, claim); releaseErr != nil && !errors.Is(releaseErr, sentinel.ErrStale) && s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to release completion claim",
				"subscription_id", subID.String(),
				"error", releaseErr,
			)
		}
		return nil, err
	}

	s.metrics.IncSubscriptionCompleted(completed.TokenAmount.Decimal.InexactFloat64())
	s.logAudit(ctx, "subscription_completed",
		"subscription_id", subID.String(),
		"spv_id", completed.SPVID.String(),
		"investor_id", completed.InvestorID.String(),
		"admin_id", adminID.String(),
		"token_amount", completed.TokenAmount.Decimal.String(),
		"mint_tx_ref", completed.MintTxRef,
	)
	return completed, nil
}

// ConfirmMint records the ledger reference of a mint whose outcome was
// never confirmed, after an admin checked it on the ledger. The next
// Complete then finishes without minting.
func (s *Service) ConfirmMint(ctx context.Context, subID id.SubscriptionID, adminID id.UserID, txRef string) (*models.Subscription, error) {
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "mint_tx_ref is required")
	}
	sub, err := s.get(ctx, subID)
	if err != nil {
		return nil, err
	}
	if !sub.MintUnconfirmed() {
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "subscription has no unconfirmed mint")
	}
	if err := s.store.RecordMintRef(ctx, subID, txRef, requestcontext.Now(ctx)); err != nil {
		if errors.Is(err, sentinel.ErrStale) {
			return nil, dErrors.New(dErrors.CodePreconditionFailed, "subscription has no unconfirmed mint")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record mint reference")
	}
	s.logAudit(ctx, "subscription_mint_confirmed",
		"subscription_id", subID.String(),
		"admin_id", adminID.String(),
		"mint_tx_ref", txRef,
	)
	return s.get(ctx, subID)
}

func (s *Service) completeClaimed(ctx context.Context, subID id.SubscriptionID, claim string, spv *spvmodels.SPV, wallet string) (*models.Subscription, error) {
	// Reload under the claim so a mint recorded by a previous holder is seen.
	sub, err := s.get(ctx, subID)
	if err != nil {
		return nil, err
	}
	var (
		tokens decimal.Decimal
		txRef  = sub.MintTxRef
	)
	switch {
	case txRef != "":
		tokens = sub.MintTokens.Decimal
	case sub.MintUnconfirmed():
		s.logReconcile(ctx, "mint_unconfirmed", sub, sub.MintTokens.Decimal, "", nil)
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "token mint outcome is unconfirmed; reconcile with the ledger before completing")
	default:
		tokens, txRef, err = s.mint(ctx, sub, claim, spv, wallet)
		if err != nil {
			return nil, err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= s.ledgerAttempts; attempt++ {
		lastErr = s.tx.RunInTx(ctx, func(ctx context.Context) error {
			return s.recordCompletion(ctx, sub, claim, txRef, tokens)
		})
		if lastErr == nil {
			break
		}
		if dErrors.HasCode(lastErr, dErrors.CodeConflict) {
			return nil, lastErr
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "subscription completion write failed",
				"subscription_id", subID.String(),
				"attempt", attempt,
				"mint_tx_ref", txRef,
				"error", lastErr,
			)
		}
	}
	if lastErr != nil {
		s.logReconcile(ctx, "complete", sub, tokens, txRef, lastErr)
		return nil, dErrors.Wrap(lastErr, dErrors.CodeInternal, "tokens minted but completion could not be recorded")
	}
	return s.get(ctx, subID)
}

// mint marks the mint as started, calls the ledger within a deadline shorter
// than the claim TTL and records the reference.
func (s *Service) mint(ctx context.Context, sub *models.Subscription, claim string, spv *spvmodels.SPV, wallet string) (decimal.Decimal, string, error) {
	tokens, err := s.policy.TokensFor(spv, sub.Amount)
	if err != nil {
		return decimal.Zero, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute token amount")
	}
	if !tokens.IsPositive() {
		return decimal.Zero, "", dErrors.New(dErrors.CodePreconditionFailed, "token policy produced no tokens")
	}
	if err := s.store.BeginMint(ctx, sub.ID, claim, tokens, requestcontext.Now(ctx)); err != nil {
		if errors.Is(err, sentinel.ErrStale) {
			return decimal.Zero, "", dErrors.New(dErrors.CodeConflict, "subscription completion claim was lost")
		}
		return decimal.Zero, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark mint as started")
	}

	mintCtx, cancel := context.WithTimeout(ctx, s.claimTTL/2)
	txRef, err := s.tokens.Mint(mintCtx, spv.TokenContractAddress, wallet, tokens)
	cancel()
	if err != nil {
		// A timed out or cancelled call may still land on the ledger, so the
		// marker stays and the subscription waits for reconciliation.
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			if abortErr := s.store.AbortMint(ctx, sub.ID, claim); abortErr != nil {
				s.logReconcile(ctx, "abort_mint", sub, tokens, "", abortErr)
			}
		}
		return decimal.Zero, "", dErrors.Wrap(err, dErrors.CodeUpstream, "token mint failed")
	}
	if err := s.store.RecordMintRef(ctx, sub.ID, txRef, requestcontext.Now(ctx)); err != nil {
		s.logReconcile(ctx, "record_mint_ref", sub, tokens, txRef, err)
	}
	return tokens, txRef, nil
}

// recordCompletion checks the claim, credits the cap table and moves the
// subscription to completed as one unit of work.
func (s *Service) recordCompletion(ctx context.Context, sub *models.Subscription, claim, txRef string, tokens decimal.Decimal) error {
	current, err := s.store.FindByID(ctx, sub.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subscription")
	}
	if current.Status != models.StatusFunded || current.CompletionClaim != claim {
		return dErrors.New(dErrors.CodeConflict, "subscription completion claim was lost")
	}
	if err := s.captable.Credit(ctx, sub.SPVID, sub.InvestorID, tokens); err != nil {
		return err
	}
	if err := s.store.MarkCompleted(ctx, sub.ID, claim, txRef, tokens, requestcontext.Now(ctx)); err != nil {
		if errors.Is(err, sentinel.ErrStale) {
			return dErrors.New(dErrors.CodeConflict, "subscription completion claim was lost")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark subscription completed")
	}
	return nil
}

func (s *Service) claimLost(ctx context.Context, subID id.SubscriptionID) error {
	current, err := s.get(ctx, subID)
	if err != nil {
		return err
	}
	if current.Status == models.StatusCompleted {
		return dErrors.New(dErrors.CodeConflict, "subscription already completed")
	}
	if current.Status != models.StatusFunded {
		return dErrors.New(dErrors.CodePreconditionFailed, "subscription is "+string(current.Status)+", not funded")
	}
	return dErrors.New(dErrors.CodeConflict, "subscription completion already in progress")
}

func (s *Service) walletFor(ctx context.Context, sub *models.Subscription) (string, error) {
	if sub.WalletAddress != "" {
		return sub.WalletAddress, nil
	}
	investor, err := s.identities.Get(ctx, sub.InvestorID)
	if err != nil {
		return "", err
	}
	if investor.WalletAddress == "" {
		return "", dErrors.New(dErrors.CodePreconditionFailed, "investor has no wallet address")
	}
	return investor.WalletAddress, nil
}

// Cancel withdraws a pending subscription.
func (s *Service) Cancel(ctx context.Context, subID id.SubscriptionID, investorID id.UserID) (*models.Subscription, error) {
	sub, err := s.get(ctx, subID)
	if err != nil {
		return nil, err
	}
	if sub.InvestorID != investorID {
		return nil, dErrors.New(dErrors.CodeNotFound, "subscription not found")
	}
	now := requestcontext.Now(ctx)
	if err := sub.Cancel(now); err != nil {
		return nil, err
	}
	if err := s.store.Cancel(ctx, subID, now); err != nil {
		if errors.Is(err, sentinel.ErrStale) {
			return nil, dErrors.New(dErrors.CodePreconditionFailed, "subscription is no longer pending")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to cancel subscription")
	}
	s.logAudit(ctx, "subscription_cancelled",
		"subscription_id", subID.String(),
		"investor_id", investorID.String(),
	)
	return sub, nil
}

// GetWithSPVAndInvestor loads a subscription joined with its SPV and
// investor.
func (s *Service) GetWithSPVAndInvestor(ctx context.Context, subID id.SubscriptionID) (*models.Detail, error) {
	sub, err := s.get(ctx, subID)
	if err != nil {
		return nil, err
	}
	spv, err := s.spvs.Get(ctx, sub.SPVID)
	if err != nil {
		return nil, err
	}
	investor, err := s.identities.Get(ctx, sub.InvestorID)
	if err != nil {
		return nil, err
	}
	return models.NewDetail(sub, spv, investor), nil
}

// GetForUser returns the detail to the investor or the SPV's manager.
// Anyone else sees not found.
func (s *Service) GetForUser(ctx context.Context, subID id.SubscriptionID, userID id.UserID) (*models.Detail, error) {
	detail, err := s.GetWithSPVAndInvestor(ctx, subID)
	if err != nil {
		return nil, err
	}
	if detail.Subscription.InvestorID != userID && detail.SPV.ManagerID != userID {
		return nil, dErrors.New(dErrors.CodeNotFound, "subscription not found")
	}
	return detail, nil
}

func (s *Service) ListBySPV(ctx context.Context, spvID id.SPVID) ([]*models.Subscription, error) {
	subs, err := s.store.ListBySPV(ctx, spvID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list subscriptions")
	}
	return subs, nil
}

func (s *Service) ListByInvestor(ctx context.Context, investorID id.UserID) ([]*models.Subscription, error) {
	subs, err := s.store.ListByInvestor(ctx, investorID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list subscriptions")
	}
	return subs, nil
}

func (s *Service) get(ctx context.Context, subID id.SubscriptionID) (*models.Subscription, error) {
	sub, err := s.store.FindByID(ctx, subID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "subscription not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subscription")
	}
	return sub, nil
}

func (s *Service) logReconcile(ctx context.Context, op string, sub *models.Subscription, tokens decimal.Decimal, txRef string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.ErrorContext(ctx, "minted tokens need reconciliation",
		"op", op,
		"subscription_id", sub.ID.String(),
		"spv_id", sub.SPVID.String(),
		"investor_id", sub.InvestorID.String(),
		"token_amount", tokens.String(),
		"mint_tx_ref", txRef,
		"error", err,
	)
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
