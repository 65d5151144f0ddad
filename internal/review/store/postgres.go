package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"capstack/internal/platform/postgres"
	"capstack/internal/review/models"
	id "capstack/pkg/domain"
)

// PostgresStore persists reviews in admin_reviews.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, review *models.AdminReview) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO admin_reviews (id, review_type, entity_id, decision, notes, override, reviewed_by, reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.UUID(review.ID), review.Type, review.EntityID, review.Decision,
		review.Notes, review.Override, uuid.UUID(review.ReviewedBy), review.ReviewedAt,
	)
	if err != nil {
		return fmt.Errorf("append admin review: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter models.HistoryFilter) ([]*models.AdminReview, error) {
	var (
		where []string
		args  []any
	)
	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, fmt.Sprintf("review_type = $%d", len(args)))
	}
	if filter.Decision != "" {
		args = append(args, filter.Decision)
		where = append(where, fmt.Sprintf("decision = $%d", len(args)))
	}
	if filter.EntityID != uuid.Nil {
		args = append(args, filter.EntityID)
		where = append(where, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	query := `SELECT id, review_type, entity_id, decision, notes, override, reviewed_by, reviewed_at FROM admin_reviews`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY reviewed_at DESC, id LIMIT $%d", len(args))

	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list admin reviews: %w", err)
	}
	defer rows.Close()

	out := make([]*models.AdminReview, 0)
	for rows.Next() {
		var (
			r                  models.AdminReview
			reviewID, reviewer uuid.UUID
		)
		if err := rows.Scan(&reviewID, &r.Type, &r.EntityID, &r.Decision, &r.Notes, &r.Override, &reviewer, &r.ReviewedAt); err != nil {
			return nil, fmt.Errorf("scan admin review: %w", err)
		}
		r.ID = id.ReviewID(reviewID)
		r.ReviewedBy = id.UserID(reviewer)
		out = append(out, &r)
	}
	return out, rows.Err()
}
