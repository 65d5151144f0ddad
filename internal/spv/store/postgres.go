package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"capstack/internal/platform/postgres"
	"capstack/internal/spv/models"
	id "capstack/pkg/domain"
	"capstack/pkg/platform/sentinel"
)

// PostgresStore persists SPVs in the spvs table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const spvColumns = `id, manager_id, name, description, spv_type, status, admin_status,
	fundraising_start, fundraising_end, lifespan_years, management_fee, carry_fee, admin_fee,
	target_amount, capital_stack, token_contract_address, termination_fee, admin_notes,
	reviewed_by, reviewed_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, spv *models.SPV) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO spvs (`+spvColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		uuid.UUID(spv.ID), uuid.UUID(spv.ManagerID), spv.Name, spv.Description, spv.Type, spv.Status, spv.AdminStatus,
		spv.FundraisingStart, spv.FundraisingEnd, spv.LifespanYears, spv.ManagementFee, spv.CarryFee, spv.AdminFee,
		spv.TargetAmount, spv.CapitalStack, nullString(spv.TokenContractAddress), spv.TerminationFee, spv.AdminNotes,
		nullUserID(spv.ReviewedBy), spv.ReviewedAt, spv.CreatedAt, spv.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert spv: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, spvID id.SPVID) (*models.SPV, error) {
	row := postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+spvColumns+` FROM spvs WHERE id = $1`, uuid.UUID(spvID))
	spv, err := scanSPV(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return spv, err
}

func (s *PostgresStore) ListByManager(ctx context.Context, managerID id.UserID) ([]*models.SPV, error) {
	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx,
		`SELECT `+spvColumns+` FROM spvs WHERE manager_id = $1 ORDER BY created_at DESC`, uuid.UUID(managerID))
	if err != nil {
		return nil, fmt.Errorf("list spvs: %w", err)
	}
	defer rows.Close()

	var out []*models.SPV
	for rows.Next() {
		spv, err := scanSPV(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, spv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spvs: %w", err)
	}
	return out, nil
}

// Save writes every mutable column except the token contract address, and
// only when status and admin status still hold the expected values.
func (s *PostgresStore) Save(ctx context.Context, spv *models.SPV, expected models.Status, expectedAdmin models.AdminStatus) error {
	res, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE spvs SET
			name = $2, description = $3, spv_type = $4, status = $5, admin_status = $6,
			fundraising_start = $7, fundraising_end = $8, lifespan_years = $9,
			management_fee = $10, carry_fee = $11, admin_fee = $12, target_amount = $13,
			capital_stack = $14, termination_fee = $15, admin_notes = $16,
			reviewed_by = $17, reviewed_at = $18, updated_at = $19
		WHERE id = $1 AND status = $20 AND admin_status = $21`,
		uuid.UUID(spv.ID), spv.Name, spv.Description, spv.Type, spv.Status, spv.AdminStatus,
		spv.FundraisingStart, spv.FundraisingEnd, spv.LifespanYears,
		spv.ManagementFee, spv.CarryFee, spv.AdminFee, spv.TargetAmount,
		spv.CapitalStack, spv.TerminationFee, spv.AdminNotes,
		nullUserID(spv.ReviewedBy), spv.ReviewedAt, spv.UpdatedAt,
		expected, expectedAdmin,
	)
	if err != nil {
		return fmt.Errorf("update spv: %w", err)
	}
	return s.resolveMiss(ctx, res, spv.ID, sentinel.ErrStale)
}

// SetTokenContract writes the address once, and only on an approved SPV.
func (s *PostgresStore) SetTokenContract(ctx context.Context, spvID id.SPVID, address string, now time.Time) error {
	res, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE spvs SET token_contract_address = $2, updated_at = $3
		WHERE id = $1 AND token_contract_address IS NULL AND admin_status = 'approved'`,
		uuid.UUID(spvID), address, now,
	)
	if err != nil {
		return fmt.Errorf("set token contract: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}
	current, err := s.FindByID(ctx, spvID)
	if err != nil {
		return err
	}
	if current.TokenContractAddress != "" {
		return sentinel.ErrAlreadySet
	}
	return sentinel.ErrStale
}

// resolveMiss distinguishes a missing row from a failed compare.
func (s *PostgresStore) resolveMiss(ctx context.Context, res sql.Result, spvID id.SPVID, miss error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}
	if _, err := s.FindByID(ctx, spvID); err != nil {
		return err
	}
	return miss
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSPV(row scanner) (*models.SPV, error) {
	var (
		spv        models.SPV
		spvID      uuid.UUID
		managerID  uuid.UUID
		contract   sql.NullString
		reviewedBy uuid.NullUUID
		reviewedAt sql.NullTime
	)
	err := row.Scan(
		&spvID, &managerID, &spv.Name, &spv.Description, &spv.Type, &spv.Status, &spv.AdminStatus,
		&spv.FundraisingStart, &spv.FundraisingEnd, &spv.LifespanYears,
		&spv.ManagementFee, &spv.CarryFee, &spv.AdminFee,
		&spv.TargetAmount, &spv.CapitalStack, &contract, &spv.TerminationFee, &spv.AdminNotes,
		&reviewedBy, &reviewedAt, &spv.CreatedAt, &spv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan spv: %w", err)
	}
	spv.ID = id.SPVID(spvID)
	spv.ManagerID = id.UserID(managerID)
	spv.TokenContractAddress = contract.String
	if reviewedBy.Valid {
		reviewer := id.UserID(reviewedBy.UUID)
		spv.ReviewedBy = &reviewer
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		spv.ReviewedAt = &t
	}
	return &spv, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUserID(u *id.UserID) uuid.NullUUID {
	if u == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*u), Valid: true}
}
