package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"capstack/internal/platform/postgres"
	"capstack/internal/subscription/models"
	id "capstack/pkg/domain"
	"capstack/pkg/platform/sentinel"
)

// PostgresStore persists subscriptions. Every transition is a conditional
// UPDATE on the current status and, while completing, the claim id.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const subscriptionColumns = `id, spv_id, investor_id, amount, status, token_amount, wire_reference, bank_name,
	wallet_address, completion_claim, claimed_at, mint_tx_ref, mint_started_at, mint_tokens,
	funded_at, completed_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, sub *models.Subscription) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		uuid.UUID(sub.ID), uuid.UUID(sub.SPVID), uuid.UUID(sub.InvestorID), sub.Amount, sub.Status, sub.TokenAmount,
		sub.WireReference, sub.BankName, sub.WalletAddress, sub.CompletionClaim, sub.ClaimedAt, sub.MintTxRef,
		sub.MintStartedAt, sub.MintTokens, sub.FundedAt, sub.CompletedAt, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, subID id.SubscriptionID) (*models.Subscription, error) {
	row := postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, uuid.UUID(subID))
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return sub, err
}

func (s *PostgresStore) ListBySPV(ctx context.Context, spvID id.SPVID) ([]*models.Subscription, error) {
	return s.list(ctx, `WHERE spv_id = $1`, uuid.UUID(spvID))
}

func (s *PostgresStore) ListByInvestor(ctx context.Context, investorID id.UserID) ([]*models.Subscription, error) {
	return s.list(ctx, `WHERE investor_id = $1`, uuid.UUID(investorID))
}

func (s *PostgresStore) list(ctx context.Context, where string, args ...any) ([]*models.Subscription, error) {
	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkFunded(ctx context.Context, subID id.SubscriptionID, wireReference, bankName string, now time.Time) error {
	return s.exec(ctx, subID, `
		UPDATE subscriptions SET status = 'funded', wire_reference = $2, bank_name = $3, funded_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'pending'`,
		wireReference, bankName, now,
	)
}

// Claim takes the completion claim when it is free or older than
// staleBefore.
func (s *PostgresStore) Claim(ctx context.Context, subID id.SubscriptionID, claim string, now, staleBefore time.Time) error {
	return s.exec(ctx, subID, `
		UPDATE subscriptions SET completion_claim = $2, claimed_at = $3
		WHERE id = $1 AND status = 'funded'
			AND (completion_claim = '' OR claimed_at < $4)`,
		claim, now, staleBefore,
	)
}

// BeginMint marks a mint as started under claim, at most once per row.
func (s *PostgresStore) BeginMint(ctx context.Context, subID id.SubscriptionID, claim string, tokens decimal.Decimal, now time.Time) error {
	return s.exec(ctx, subID, `
		UPDATE subscriptions SET mint_started_at = $3, mint_tokens = $4, updated_at = $3
		WHERE id = $1 AND status = 'funded' AND completion_claim = $2 AND mint_started_at IS NULL`,
		claim, now, tokens,
	)
}

func (s *PostgresStore) AbortMint(ctx context.Context, subID id.SubscriptionID, claim string) error {
	return s.exec(ctx, subID, `
		UPDATE subscriptions SET mint_started_at = NULL, mint_tokens = NULL
		WHERE id = $1 AND status = 'funded' AND completion_claim = $2 AND mint_tx_ref = ''`,
		claim,
	)
}

// RecordMintRef stores the ledger reference of a started mint regardless of
// who holds the claim now.
func (s *PostgresStore) RecordMintRef(ctx context.Context, subID id.SubscriptionID, txRef string, now time.Time) error {
	return s.exec(ctx, subID, `
		UPDATE subscriptions SET mint_tx_ref = $2, updated_at = $3
		WHERE id = $1 AND status = 'funded' AND mint_started_at IS NOT NULL AND mint_tx_ref = ''`,
		txRef, now,
	)
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, subID id.SubscriptionID, claim, txRef string, tokens decimal.Decimal, now time.Time) error {
	return s.exec(ctx, subID, `
		UPDATE subscriptions SET status = 'completed', mint_tx_ref = $3, token_amount = $4,
			completion_claim = '', claimed_at = NULL, completed_at = $5, updated_at = $5
		WHERE id = $1 AND status = 'funded' AND completion_claim = $2`,
		claim, txRef, tokens, now,
	)
}

func (s *PostgresStore) ReleaseClaim(ctx context.Context, subID id.SubscriptionID, claim string) error {
	return s.exec(ctx, subID, `
		UPDATE subscriptions SET completion_claim = '', claimed_at = NULL
		WHERE id = $1 AND completion_claim = $2`,
		claim,
	)
}

func (s *PostgresStore) Cancel(ctx context.Context, subID id.SubscriptionID, now time.Time) error {
	return s.exec(ctx, subID, `
		UPDATE subscriptions SET status = 'cancelled', updated_at = $2
		WHERE id = $1 AND status = 'pending'`,
		now,
	)
}

// exec runs a conditional update keyed on $1 and separates a missing row
// from a failed compare.
func (s *PostgresStore) exec(ctx context.Context, subID id.SubscriptionID, query string, args ...any) error {
	res, err := postgres.Conn(ctx, s.db).ExecContext(ctx, query, append([]any{uuid.UUID(subID)}, args...)...)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}
	if _, err := s.FindByID(ctx, subID); err != nil {
		return err
	}
	return sentinel.ErrStale
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (*models.Subscription, error) {
	var (
		sub           models.Subscription
		subID         uuid.UUID
		spvID         uuid.UUID
		investorID    uuid.UUID
		claimedAt     sql.NullTime
		mintStartedAt sql.NullTime
		fundedAt      sql.NullTime
		completedAt   sql.NullTime
	)
	if err := row.Scan(&subID, &spvID, &investorID, &sub.Amount, &sub.Status, &sub.TokenAmount,
		&sub.WireReference, &sub.BankName, &sub.WalletAddress, &sub.CompletionClaim, &claimedAt,
		&sub.MintTxRef, &mintStartedAt, &sub.MintTokens, &fundedAt, &completedAt, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.ID = id.SubscriptionID(subID)
	sub.SPVID = id.SPVID(spvID)
	sub.InvestorID = id.UserID(investorID)
	sub.ClaimedAt = timePtr(claimedAt)
	sub.MintStartedAt = timePtr(mintStartedAt)
	sub.FundedAt = timePtr(fundedAt)
	sub.CompletedAt = timePtr(completedAt)
	return &sub, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
