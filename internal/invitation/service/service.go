package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"capstack/internal/invitation/models"
	"capstack/internal/platform/metrics"
	spvmodels "capstack/internal/spv/models"
	id "capstack/pkg/domain"
	dErrors "capstack/pkg/domain-errors"
	"capstack/pkg/platform/sentinel"
	"capstack/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, inv *models.Invitation) error
	FindPending(ctx context.Context, spvID id.SPVID, email string) (*models.Invitation, error)
	FindByToken(ctx context.Context, token string) (*models.Invitation, error)
	ListBySPV(ctx context.Context, spvID id.SPVID) ([]*models.Invitation, error)
	ExtendExpiry(ctx context.Context, invID id.InvitationID, expiresAt time.Time) error
	MarkExpired(ctx context.Context, invID id.InvitationID) error
	Accept(ctx context.Context, invID id.InvitationID, userID id.UserID, now time.Time) error
}

type SPVReader interface {
	Get(ctx context.Context, spvID id.SPVID) (*spvmodels.SPV, error)
}

// Service issues and redeems SPV invitations. Expiry is evaluated lazily
// whenever an invitation is read.
type Service struct {
	store       Store
	spvs        SPVReader
	frontendURL string
	ttlDays     int
	logger      *slog.Logger
	metrics     *metrics.Metrics
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

// WithFrontendURL sets the base for invitation links.
func WithFrontendURL(url string) Option {
	return func(s *Service) {
		s.frontendURL = strings.TrimRight(url, "/")
	}
}

// WithDefaultTTLDays sets the lifetime used when a batch does not give one.
func WithDefaultTTLDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.ttlDays = days
		}
	}
}

func New(store Store, spvs SPVReader, opts ...Option) *Service {
	s := &Service{store: store, spvs: spvs, ttlDays: models.DefaultTTLDays}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateBatch invites each email into the SPV. A pending invitation for the
// same email is extended instead of duplicated.
func (s *Service) CreateBatch(ctx context.Context, spvID id.SPVID, emails []string, issuerID id.UserID, ttlDays int) ([]models.Link, error) {
	spv, err := s.ownedSPV(ctx, spvID, issuerID)
	if err != nil {
		return nil, err
	}
	if spv.Status != spvmodels.StatusConfiguring && spv.Status != spvmodels.StatusFundraising {
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "invitations can only be sent while configuring or fundraising")
	}
	normalized, err := models.NormalizeEmails(emails)
	if err != nil {
		return nil, err
	}
	if ttlDays <= 0 {
		ttlDays = s.ttlDays
	}
	now := requestcontext.Now(ctx)
	expiresAt := now.AddDate(0, 0, ttlDays)

	links := make([]models.Link, 0, len(normalized))
	extended := 0
	for _, email := range normalized {
		inv, wasExtended, err := s.issue(ctx, spvID, email, issuerID, expiresAt, now)
		if err != nil {
			return nil, err
		}
		if wasExtended {
			extended++
		}
		links = append(links, s.link(inv))
	}

	s.metrics.AddInvitationsIssued(len(links))
	s.logAudit(ctx, "invitations_issued",
		"spv_id", spvID.String(),
		"issuer_id", issuerID.String(),
		"count", len(links),
		"extended", extended,
	)
	return links, nil
}

func (s *Service) issue(ctx context.Context, spvID id.SPVID, email string, issuerID id.UserID, expiresAt, now time.Time) (*models.Invitation, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.store.FindPending(ctx, spvID, email)
		switch {
		case err == nil:
			if err := s.store.ExtendExpiry(ctx, existing.ID, expiresAt); err != nil {
				if errors.Is(err, sentinel.ErrStale) {
					continue
				}
				return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to extend invitation")
			}
			existing.ExpiresAt = expiresAt
			return existing, true, nil
		case !errors.Is(err, sentinel.ErrNotFound):
			return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load invitation")
		}

		inv, err := models.NewInvitation(spvID, email, issuerID, expiresAt, now)
		if err != nil {
			return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create invitation")
		}
		if err := s.store.Create(ctx, inv); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				continue
			}
			return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create invitation")
		}
		return inv, false, nil
	}
	return nil, false, dErrors.New(dErrors.CodeConflict, "invitation for "+email+" changed concurrently")
}

// Resolve looks an invitation up by token for display to the invitee.
func (s *Service) Resolve(ctx context.Context, token string) (*models.View, error) {
	inv, err := s.byToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv.Status == models.StatusAccepted {
		return nil, dErrors.New(dErrors.CodeConflict, "invitation already accepted")
	}
	if err := s.checkExpiry(ctx, inv); err != nil {
		return nil, err
	}
	spv, err := s.spvs.Get(ctx, inv.SPVID)
	if err != nil {
		return nil, err
	}
	return &models.View{Invitation: inv, SPV: models.Summarize(spv)}, nil
}

// Validate checks that token is a live invitation for email.
func (s *Service) Validate(ctx context.Context, token, email string) (*models.Invitation, error) {
	inv, err := s.byToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv.Email != models.NormalizeEmail(email) {
		return nil, dErrors.New(dErrors.CodeValidation, "email does not match the invitation")
	}
	if inv.Status != models.StatusPending {
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "invitation is "+string(inv.Status))
	}
	if err := s.checkExpiry(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Accept redeems an invitation. Accepting an already accepted invitation
// returns the stored record.
func (s *Service) Accept(ctx context.Context, token string, userID id.UserID) (*models.Invitation, error) {
	inv, err := s.byToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv.Status == models.StatusAccepted {
		return inv, nil
	}
	if err := s.checkExpiry(ctx, inv); err != nil {
		return nil, err
	}

	if err := s.store.Accept(ctx, inv.ID, userID, requestcontext.Now(ctx)); err != nil {
		if !errors.Is(err, sentinel.ErrStale) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to accept invitation")
		}
	}
	accepted, err := s.byToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if accepted.Status != models.StatusAccepted {
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "invitation is "+string(accepted.Status))
	}
	s.logAudit(ctx, "invitation_accepted",
		"invitation_id", accepted.ID.String(),
		"spv_id", accepted.SPVID.String(),
		"user_id", userID.String(),
	)
	return accepted, nil
}

// ListForSPV lists every invitation of an SPV owned by issuerID.
func (s *Service) ListForSPV(ctx context.Context, spvID id.SPVID, issuerID id.UserID) ([]models.Link, error) {
	if _, err := s.ownedSPV(ctx, spvID, issuerID); err != nil {
		return nil, err
	}
	invs, err := s.store.ListBySPV(ctx, spvID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list invitations")
	}
	now := requestcontext.Now(ctx)
	links := make([]models.Link, 0, len(invs))
	for _, inv := range invs {
		if inv.Status == models.StatusPending && inv.Expired(now) {
			inv.Status = models.StatusExpired
		}
		links = append(links, s.link(inv))
	}
	return links, nil
}

func (s *Service) ownedSPV(ctx context.Context, spvID id.SPVID, issuerID id.UserID) (*spvmodels.SPV, error) {
	spv, err := s.spvs.Get(ctx, spvID)
	if err != nil {
		return nil, err
	}
	if spv.ManagerID != issuerID {
		return nil, dErrors.New(dErrors.CodeNotFound, "spv not found")
	}
	return spv, nil
}

func (s *Service) byToken(ctx context.Context, token string) (*models.Invitation, error) {
	inv, err := s.store.FindByToken(ctx, strings.TrimSpace(token))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "invitation not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load invitation")
	}
	return inv, nil
}

// checkExpiry marks a lapsed pending invitation expired.
func (s *Service) checkExpiry(ctx context.Context, inv *models.Invitation) error {
	if !inv.Expired(requestcontext.Now(ctx)) {
		return nil
	}
	if inv.Status == models.StatusPending {
		if err := s.store.MarkExpired(ctx, inv.ID); err != nil && !errors.Is(err, sentinel.ErrStale) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire invitation")
		}
		inv.Status = models.StatusExpired
	}
	return dErrors.New(dErrors.CodePreconditionFailed, "invitation expired")
}

func (s *Service) link(inv *models.Invitation) models.Link {
	return models.Link{Invitation: inv, URL: s.frontendURL + "/invite/" + inv.Token}
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
