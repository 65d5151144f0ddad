package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"capstack/internal/identity/models"
	"capstack/internal/platform/postgres"
	id "capstack/pkg/domain"
	"capstack/pkg/platform/sentinel"
)

// PostgresStore persists identities in the identities table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const identityColumns = `user_id, role, email, jurisdiction, kyc_status, aml_status, admin_kyc_status,
	applicant_ref, wallet_address, company_name, company_address, tax_id,
	reviewed_by, reviewed_at, admin_notes, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, identity *models.Identity) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		uuid.UUID(identity.UserID), identity.Role, identity.Email, identity.Jurisdiction,
		identity.KYCStatus, identity.AMLStatus, identity.AdminKYCStatus,
		nullString(identity.ApplicantRef), nullString(identity.WalletAddress),
		identity.CompanyName, identity.CompanyAddress, identity.TaxID,
		nullUserID(identity.ReviewedBy), identity.ReviewedAt, identity.AdminNotes,
		identity.CreatedAt, identity.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByUserID(ctx context.Context, userID id.UserID) (*models.Identity, error) {
	row := postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE user_id = $1`, uuid.UUID(userID))
	return scanIdentity(row)
}

func (s *PostgresStore) FindByApplicantRef(ctx context.Context, ref string) (*models.Identity, error) {
	row := postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE applicant_ref = $1`, ref)
	return scanIdentity(row)
}

func (s *PostgresStore) SetApplicantRef(ctx context.Context, userID id.UserID, ref string, now time.Time) error {
	res, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE identities SET applicant_ref = $2, kyc_status = 'pending', updated_at = $3
		WHERE user_id = $1`,
		uuid.UUID(userID), ref, now,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("set applicant ref: %w", err)
	}
	return expectOne(res)
}

func (s *PostgresStore) UpdateVendorStatus(ctx context.Context, userID id.UserID, kyc models.KYCStatus, aml models.AMLStatus, now time.Time) error {
	res, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE identities SET kyc_status = $2, aml_status = $3, updated_at = $4
		WHERE user_id = $1`,
		uuid.UUID(userID), kyc, aml, now,
	)
	if err != nil {
		return fmt.Errorf("update vendor status: %w", err)
	}
	return expectOne(res)
}

// RecordAdminDecision writes the admin gate only while the row is still
// vendor-verified; otherwise it returns sentinel.ErrStale.
func (s *PostgresStore) RecordAdminDecision(ctx context.Context, identity *models.Identity) error {
	res, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE identities
		SET admin_kyc_status = $2, reviewed_by = $3, reviewed_at = $4, admin_notes = $5, updated_at = $6
		WHERE user_id = $1 AND kyc_status = 'verified'`,
		uuid.UUID(identity.UserID), identity.AdminKYCStatus, nullUserID(identity.ReviewedBy),
		identity.ReviewedAt, identity.AdminNotes, identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("record admin decision: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record admin decision: %w", err)
	}
	if rows == 0 {
		if _, err := s.FindByUserID(ctx, identity.UserID); err != nil {
			return err
		}
		return sentinel.ErrStale
	}
	return nil
}

func (s *PostgresStore) RecordOverride(ctx context.Context, identity *models.Identity) error {
	res, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE identities
		SET kyc_status = $2, aml_status = $3, admin_kyc_status = $4,
			reviewed_by = $5, reviewed_at = $6, admin_notes = $7, updated_at = $8
		WHERE user_id = $1`,
		uuid.UUID(identity.UserID), identity.KYCStatus, identity.AMLStatus, identity.AdminKYCStatus,
		nullUserID(identity.ReviewedBy), identity.ReviewedAt, identity.AdminNotes, identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("record override: %w", err)
	}
	return expectOne(res)
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, identity *models.Identity) error {
	res, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE identities
		SET kyc_status = $2, aml_status = $3, jurisdiction = $4, company_name = $5,
			company_address = $6, tax_id = $7, wallet_address = $8, updated_at = $9
		WHERE user_id = $1`,
		uuid.UUID(identity.UserID), identity.KYCStatus, identity.AMLStatus, identity.Jurisdiction,
		identity.CompanyName, identity.CompanyAddress, identity.TaxID,
		nullString(identity.WalletAddress), identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update identity profile: %w", err)
	}
	return expectOne(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*models.Identity, error) {
	var (
		i                    models.Identity
		userID               uuid.UUID
		applicantRef, wallet sql.NullString
		reviewedBy           uuid.NullUUID
		reviewedAt           sql.NullTime
	)
	err := row.Scan(&userID, &i.Role, &i.Email, &i.Jurisdiction, &i.KYCStatus, &i.AMLStatus, &i.AdminKYCStatus,
		&applicantRef, &wallet, &i.CompanyName, &i.CompanyAddress, &i.TaxID,
		&reviewedBy, &reviewedAt, &i.AdminNotes, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	i.UserID = id.UserID(userID)
	i.ApplicantRef = applicantRef.String
	i.WalletAddress = wallet.String
	if reviewedBy.Valid {
		r := id.UserID(reviewedBy.UUID)
		i.ReviewedBy = &r
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		i.ReviewedAt = &t
	}
	return &i, nil
}

func expectOne(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
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
