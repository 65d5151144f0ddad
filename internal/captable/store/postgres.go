package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"capstack/internal/captable/models"
	"capstack/internal/platform/postgres"
	id "capstack/pkg/domain"
	"capstack/pkg/platform/sentinel"
)

// PostgresStore keeps balances in cap_table_entries. Credits and debits are
// SQL increments, never read-modify-write.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Credit(ctx context.Context, spvID id.SPVID, investorID id.UserID, amount decimal.Decimal, now time.Time) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO cap_table_entries (spv_id, investor_id, token_balance, on_chain_balance, last_synced_at)
		VALUES ($1, $2, $3, $3, $4)
		ON CONFLICT (spv_id, investor_id) DO UPDATE SET
			token_balance = cap_table_entries.token_balance + EXCLUDED.token_balance,
			on_chain_balance = cap_table_entries.on_chain_balance + EXCLUDED.on_chain_balance,
			last_synced_at = EXCLUDED.last_synced_at`,
		uuid.UUID(spvID), uuid.UUID(investorID), amount, now,
	)
	if err != nil {
		return fmt.Errorf("credit cap table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Debit(ctx context.Context, spvID id.SPVID, investorID id.UserID, amount decimal.Decimal, now time.Time) error {
	res, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE cap_table_entries SET
			token_balance = token_balance - $3,
			on_chain_balance = on_chain_balance - $3,
			last_synced_at = $4
		WHERE spv_id = $1 AND investor_id = $2
			AND token_balance >= $3 AND on_chain_balance >= $3`,
		uuid.UUID(spvID), uuid.UUID(investorID), amount, now,
	)
	if err != nil {
		if postgres.IsCheckViolation(err) {
			return sentinel.ErrInsufficient
		}
		return fmt.Errorf("debit cap table: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrInsufficient
	}
	return nil
}

func (s *PostgresStore) Entry(ctx context.Context, spvID id.SPVID, investorID id.UserID) (*models.Entry, error) {
	row := postgres.Conn(ctx, s.db).QueryRowContext(ctx, `
		SELECT spv_id, investor_id, token_balance, on_chain_balance, last_synced_at
		FROM cap_table_entries WHERE spv_id = $1 AND investor_id = $2`,
		uuid.UUID(spvID), uuid.UUID(investorID),
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return entry, err
}

func (s *PostgresStore) Entries(ctx context.Context, spvID id.SPVID) ([]*models.Entry, error) {
	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx, `
		SELECT spv_id, investor_id, token_balance, on_chain_balance, last_synced_at
		FROM cap_table_entries WHERE spv_id = $1
		ORDER BY token_balance DESC, investor_id`,
		uuid.UUID(spvID),
	)
	if err != nil {
		return nil, fmt.Errorf("list cap table: %w", err)
	}
	defer rows.Close()

	var out []*models.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cap table: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) TotalTokens(ctx context.Context, spvID id.SPVID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT COALESCE(SUM(token_balance), 0) FROM cap_table_entries WHERE spv_id = $1`,
		uuid.UUID(spvID),
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum token balances: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) AppendDistribution(ctx context.Context, d *models.Distribution) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO distributions (id, spv_id, amount, per_token_amount, distribution_type, total_tokens, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.UUID(d.ID), uuid.UUID(d.SPVID), d.Amount, d.PerTokenAmount, d.Type, d.TotalTokens, d.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("insert distribution: %w", err)
	}
	return nil
}

func (s *PostgresStore) Distributions(ctx context.Context, spvID id.SPVID) ([]*models.Distribution, error) {
	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx, `
		SELECT id, spv_id, amount, per_token_amount, distribution_type, total_tokens, processed_at
		FROM distributions WHERE spv_id = $1 ORDER BY processed_at DESC`,
		uuid.UUID(spvID),
	)
	if err != nil {
		return nil, fmt.Errorf("list distributions: %w", err)
	}
	defer rows.Close()

	var out []*models.Distribution
	for rows.Next() {
		var (
			d         models.Distribution
			distID    uuid.UUID
			distSPVID uuid.UUID
		)
		if err := rows.Scan(&distID, &distSPVID, &d.Amount, &d.PerTokenAmount, &d.Type, &d.TotalTokens, &d.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan distribution: %w", err)
		}
		d.ID = id.DistributionID(distID)
		d.SPVID = id.SPVID(distSPVID)
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distributions: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*models.Entry, error) {
	var (
		entry      models.Entry
		spvID      uuid.UUID
		investorID uuid.UUID
	)
	if err := row.Scan(&spvID, &investorID, &entry.TokenBalance, &entry.OnChainBalance, &entry.LastSyncedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan cap table entry: %w", err)
	}
	entry.SPVID = id.SPVID(spvID)
	entry.InvestorID = id.UserID(investorID)
	return &entry, nil
}
