package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"capstack/internal/platform/metrics"
	"capstack/internal/review/models"
	id "capstack/pkg/domain"
	dErrors "capstack/pkg/domain-errors"
	"capstack/pkg/requestcontext"
)

type Store interface {
	Append(ctx context.Context, review *models.AdminReview) error
	List(ctx context.Context, filter models.HistoryFilter) ([]*models.AdminReview, error)
}

// Announcer fans reviews out to downstream consumers after commit.
type Announcer interface {
	Announce(ctx context.Context, review *models.AdminReview) error
}

// Service owns the append-only admin review log.
type Service struct {
	store     Store
	announcer Announcer
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAnnouncer(a Announcer) Option {
	return func(s *Service) {
		s.announcer = a
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends one review. Callers pass the context of their unit of work
// so the review commits or rolls back with the decision it records.
func (s *Service) Record(ctx context.Context, reviewType models.ReviewType, entityID uuid.UUID, decision models.Decision, notes string, override bool, reviewer id.UserID) (*models.AdminReview, error) {
	review, err := models.NewAdminReview(reviewType, entityID, decision, notes, override, reviewer, requestcontext.Now(ctx))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}
	if err := s.store.Append(ctx, review); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record admin review")
	}
	s.metrics.IncAdminDecision(string(reviewType), string(decision))
	return review, nil
}

// Announce publishes a committed review. Failures are logged, never
// returned: the review row is the record of truth.
func (s *Service) Announce(ctx context.Context, review *models.AdminReview) {
	s.logAudit(ctx, "admin_review_recorded",
		"review_id", review.ID.String(),
		"review_type", review.Type,
		"entity_id", review.EntityID.String(),
		"decision", review.Decision,
		"override", review.Override,
		"reviewed_by", review.ReviewedBy.String(),
	)
	if s.announcer == nil {
		return
	}
	if err := s.announcer.Announce(ctx, review); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to announce admin review",
			"review_id", review.ID.String(),
			"error", err,
		)
	}
}

// History lists reviews newest first.
func (s *Service) History(ctx context.Context, filter models.HistoryFilter) ([]*models.AdminReview, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}
	reviews, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list admin reviews")
	}
	return reviews, nil
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
