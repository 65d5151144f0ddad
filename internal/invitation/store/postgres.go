package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"capstack/internal/invitation/models"
	"capstack/internal/platform/postgres"
	id "capstack/pkg/domain"
	"capstack/pkg/platform/sentinel"
)

// PostgresStore persists invitations. The partial unique index on
// (spv_id, email) WHERE status = 'pending' backs the one-pending rule.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const invitationColumns = `id, token, spv_id, email, issued_by, status, expires_at, accepted_at, accepted_by, created_at`

func (s *PostgresStore) Create(ctx context.Context, inv *models.Invitation) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO invitations (`+invitationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.UUID(inv.ID), inv.Token, uuid.UUID(inv.SPVID), inv.Email, uuid.UUID(inv.IssuedBy),
		inv.Status, inv.ExpiresAt, inv.AcceptedAt, nullUserID(inv.AcceptedBy), inv.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindPending(ctx context.Context, spvID id.SPVID, email string) (*models.Invitation, error) {
	return s.findOne(ctx, `WHERE spv_id = $1 AND email = $2 AND status = 'pending'`, uuid.UUID(spvID), email)
}

func (s *PostgresStore) FindByToken(ctx context.Context, token string) (*models.Invitation, error) {
	return s.findOne(ctx, `WHERE token = $1`, token)
}

func (s *PostgresStore) findOne(ctx context.Context, where string, args ...any) (*models.Invitation, error) {
	row := postgres.Conn(ctx, s.db).QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations `+where, args...)
	inv, err := scanInvitation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return inv, err
}

func (s *PostgresStore) ListBySPV(ctx context.Context, spvID id.SPVID) ([]*models.Invitation, error) {
	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE spv_id = $1 ORDER BY created_at DESC, email`,
		uuid.UUID(spvID))
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	var out []*models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitations: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ExtendExpiry(ctx context.Context, invID id.InvitationID, expiresAt time.Time) error {
	return s.updatePending(ctx, invID, `expires_at = $2`, expiresAt)
}

func (s *PostgresStore) MarkExpired(ctx context.Context, invID id.InvitationID) error {
	return s.updatePending(ctx, invID, `status = 'expired'`)
}

func (s *PostgresStore) Accept(ctx context.Context, invID id.InvitationID, userID id.UserID, now time.Time) error {
	return s.updatePending(ctx, invID, `status = 'accepted', accepted_by = $2, accepted_at = $3`, uuid.UUID(userID), now)
}

// updatePending applies set only while the invitation is pending.
func (s *PostgresStore) updatePending(ctx context.Context, invID id.InvitationID, set string, args ...any) error {
	conn := postgres.Conn(ctx, s.db)
	res, err := conn.ExecContext(ctx,
		`UPDATE invitations SET `+set+` WHERE id = $1 AND status = 'pending'`,
		append([]any{uuid.UUID(invID)}, args...)...)
	if err != nil {
		return fmt.Errorf("update invitation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}
	var exists bool
	if err := conn.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM invitations WHERE id = $1)`, uuid.UUID(invID)).Scan(&exists); err != nil {
		return fmt.Errorf("check invitation: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrStale
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvitation(row scanner) (*models.Invitation, error) {
	var (
		inv        models.Invitation
		invID      uuid.UUID
		spvID      uuid.UUID
		issuedBy   uuid.UUID
		acceptedAt sql.NullTime
		acceptedBy uuid.NullUUID
	)
	err := row.Scan(&invID, &inv.Token, &spvID, &inv.Email, &issuedBy, &inv.Status,
		&inv.ExpiresAt, &acceptedAt, &acceptedBy, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan invitation: %w", err)
	}
	inv.ID = id.InvitationID(invID)
	inv.SPVID = id.SPVID(spvID)
	inv.IssuedBy = id.UserID(issuedBy)
	if acceptedAt.Valid {
		t := acceptedAt.Time
		inv.AcceptedAt = &t
	}
	if acceptedBy.Valid {
		u := id.UserID(acceptedBy.UUID)
		inv.AcceptedBy = &u
	}
	return &inv, nil
}

func nullUserID(u *id.UserID) uuid.NullUUID {
	if u == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*u), Valid: true}
}
