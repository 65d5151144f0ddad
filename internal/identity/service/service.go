package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"capstack/internal/identity/models"
	"capstack/internal/identity/replay"
	"capstack/internal/platform/metrics"
	reviewmodels "capstack/internal/review/models"
	id "capstack/pkg/domain"
	dErrors "capstack/pkg/domain-errors"
	"capstack/pkg/platform/sentinel"
	"capstack/pkg/platform/tx"
	"capstack/pkg/requestcontext"
)

const (
	defaultOverrideNote = "KYC overridden by admin"
	verificationURLBase = "https://sumsub.com/idensic/l/#/access/"
)

type Store interface {
	Create(ctx context.Context, identity *models.Identity) error
	FindByUserID(ctx context.Context, userID id.UserID) (*models.Identity, error)
	FindByApplicantRef(ctx context.Context, ref string) (*models.Identity, error)
	SetApplicantRef(ctx context.Context, userID id.UserID, ref string, now time.Time) error
	UpdateVendorStatus(ctx context.Context, userID id.UserID, kyc models.KYCStatus, aml models.AMLStatus, now time.Time) error
	RecordAdminDecision(ctx context.Context, identity *models.Identity) error
	RecordOverride(ctx context.Context, identity *models.Identity) error
	UpdateProfile(ctx context.Context, identity *models.Identity) error
}

// Provider is the external verification vendor.
type Provider interface {
	Configured() bool
	CreateApplicant(ctx context.Context, subjectID, email string) (string, error)
	GenerateAccessToken(ctx context.Context, subjectID string) (string, error)
	GetStatus(ctx context.Context, applicantRef string) (models.ApplicantStatus, error)
}

// ReviewRecorder appends admin reviews inside a unit of work and announces
// them after commit.
type ReviewRecorder interface {
	Record(ctx context.Context, reviewType reviewmodels.ReviewType, entityID uuid.UUID, decision reviewmodels.Decision, notes string, override bool, reviewer id.UserID) (*reviewmodels.AdminReview, error)
	Announce(ctx context.Context, review *reviewmodels.AdminReview)
}

// ReplayGuard remembers webhook deliveries that were already applied.
type ReplayGuard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string) error
}

// Service is the identity verification gate for investors and managers.
type Service struct {
	identities    Store
	reviews       ReviewRecorder
	tx            tx.Runner
	provider      Provider
	replay        ReplayGuard
	webhookSecret []byte
	logger        *slog.Logger
	metrics       *metrics.Metrics
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

// WithProvider enables vendor verification. Without it, Initiate asks for
// form submission.
func WithProvider(p Provider) Option {
	return func(s *Service) {
		s.provider = p
	}
}

func WithReplayGuard(g ReplayGuard) Option {
	return func(s *Service) {
		s.replay = g
	}
}

func WithWebhookSecret(secret string) Option {
	return func(s *Service) {
		s.webhookSecret = []byte(secret)
	}
}

func New(identities Store, reviews ReviewRecorder, runner tx.Runner, opts ...Option) *Service {
	s := &Service{identities: identities, reviews: reviews, tx: runner}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates the identity record for a freshly registered account.
func (s *Service) Register(ctx context.Context, userID id.UserID, role models.Role, email, jurisdiction string) (*models.Identity, error) {
	identity, err := models.NewIdentity(userID, role, email, jurisdiction, requestcontext.Now(ctx))
	if err != nil {
		return nil, toValidation(err)
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "identity already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create identity")
	}
	s.logAudit(ctx, "identity_registered", "user_id", userID.String(), "role", role)
	return identity, nil
}

func (s *Service) Get(ctx context.Context, userID id.UserID) (*models.Identity, error) {
	identity, err := s.identities.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "identity not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}
	return identity, nil
}

// SetWallet records the identity's EVM wallet in checksum form.
func (s *Service) SetWallet(ctx context.Context, userID id.UserID, address string) (*models.Identity, error) {
	identity, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := identity.SetWallet(address, requestcontext.Now(ctx)); err != nil {
		return nil, err
	}
	if err := s.identities.UpdateProfile(ctx, identity); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save wallet")
	}
	return identity, nil
}

// Initiate starts a vendor verification cycle. An existing applicant is
// reused; only a fresh SDK token is issued.
func (s *Service) Initiate(ctx context.Context, userID id.UserID, email string) (*models.InitiateResult, error) {
	identity, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.provider == nil || !s.provider.Configured() {
		return &models.InitiateResult{
			UserID:                 userID.String(),
			KYCStatus:              identity.KYCStatus,
			AMLStatus:              identity.AMLStatus,
			RequiresFormSubmission: true,
		}, nil
	}

	if email = models.NormalizeEmail(email); email == "" {
		email = identity.Email
	}
	subject := userID.String()

	ref := identity.ApplicantRef
	if ref == "" {
		ref, err = s.provider.CreateApplicant(ctx, subject, email)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "failed to create verification applicant")
		}
	}
	token, err := s.provider.GenerateAccessToken(ctx, subject)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "failed to generate verification access token")
	}
	if ref != identity.ApplicantRef {
		if err := s.identities.SetApplicantRef(ctx, userID, ref, requestcontext.Now(ctx)); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return nil, dErrors.New(dErrors.CodeConflict, "applicant reference already bound to another identity")
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save applicant reference")
		}
	}

	s.logAudit(ctx, "kyc_initiated", "user_id", subject, "applicant_ref", ref)
	return &models.InitiateResult{
		UserID:          subject,
		ApplicantRef:    ref,
		SDKToken:        token,
		VerificationURL: verificationURLBase + token,
		KYCStatus:       models.KYCPending,
		AMLStatus:       identity.AMLStatus,
	}, nil
}

// RefreshStatus pulls the vendor's view when an applicant exists. Vendor
// failures fall back to the stored status.
func (s *Service) RefreshStatus(ctx context.Context, userID id.UserID) (*models.VerificationStatus, error) {
	identity, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	status := &models.VerificationStatus{
		UserID:         userID.String(),
		KYCStatus:      identity.KYCStatus,
		AMLStatus:      identity.AMLStatus,
		AdminKYCStatus: identity.AdminKYCStatus,
		Jurisdiction:   identity.Jurisdiction,
	}
	if identity.ApplicantRef == "" || s.provider == nil || !s.provider.Configured() {
		return status, nil
	}

	vendor, err := s.provider.GetStatus(ctx, identity.ApplicantRef)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "vendor status check failed, using stored status",
				"user_id", userID.String(),
				"error", err,
			)
		}
		return status, nil
	}

	kyc := models.MapVendorStatus(vendor.ReviewStatus, vendor.ReviewResult)
	aml := identity.AMLStatus
	if models.IsGreen(vendor.ReviewResult) {
		aml = models.AMLCleared
	}
	if identity.ApplyVendorStatus(kyc, aml, requestcontext.Now(ctx)) {
		if err := s.identities.UpdateVendorStatus(ctx, userID, kyc, aml, identity.UpdatedAt); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save vendor status")
		}
	}
	status.KYCStatus = kyc
	status.AMLStatus = aml
	status.ReviewStatus = vendor.ReviewStatus
	status.ReviewResult = vendor.ReviewResult
	status.VerifiedAt = vendor.ReviewDate
	return status, nil
}

// ApplyWebhook verifies and applies a vendor notification. Only the vendor
// fields change; the admin gate is never touched.
func (s *Service) ApplyWebhook(ctx context.Context, body []byte, signature string) (*models.WebhookResult, error) {
	if !s.validSignature(body, signature) {
		s.metrics.IncWebhook("invalid_signature")
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid webhook signature")
	}

	key := replay.Key(body)
	if s.replay != nil {
		seen, err := s.replay.Seen(ctx, key)
		if err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "replay guard lookup failed", "error", err)
		}
		if seen {
			s.metrics.IncWebhook("replayed")
			return &models.WebhookResult{Processed: true, Replayed: true}, nil
		}
	}

	var payload models.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.metrics.IncWebhook("malformed")
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed webhook payload")
	}
	if payload.ApplicantID == "" {
		s.metrics.IncWebhook("unmatched")
		return &models.WebhookResult{Processed: false}, nil
	}

	identity, err := s.identities.FindByApplicantRef(ctx, payload.ApplicantID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			if s.logger != nil {
				s.logger.WarnContext(ctx, "webhook for unknown applicant",
					"applicant_ref", payload.ApplicantID,
					"type", payload.Type,
				)
			}
			s.metrics.IncWebhook("unmatched")
			return &models.WebhookResult{Processed: false}, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}

	result := string(payload.ReviewResult)
	kyc := models.MapVendorStatus(payload.ReviewStatus, result)
	aml := models.AMLPending
	if models.IsGreen(result) {
		aml = models.AMLCleared
	}
	if err := s.identities.UpdateVendorStatus(ctx, identity.UserID, kyc, aml, requestcontext.Now(ctx)); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply webhook")
	}

	if s.replay != nil {
		if err := s.replay.Remember(ctx, key); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "replay guard remember failed", "error", err)
		}
	}
	s.metrics.IncWebhook("processed")
	s.logAudit(ctx, "kyc_webhook_applied",
		"user_id", identity.UserID.String(),
		"type", payload.Type,
		"review_status", payload.ReviewStatus,
		"review_result", result,
		"kyc_status", kyc,
	)
	return &models.WebhookResult{
		Processed: true,
		UserID:    identity.UserID.String(),
		Role:      identity.Role,
		KYCStatus: kyc,
	}, nil
}

func (s *Service) validSignature(body []byte, signature string) bool {
	if len(s.webhookSecret) == 0 || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, s.webhookSecret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// AdminDecide moves the admin gate on the normal path and appends the
// review in the same unit of work.
func (s *Service) AdminDecide(ctx context.Context, userID, adminID id.UserID, action models.AdminAction, notes string) (models.AdminKYCStatus, error) {
	if !action.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "action must be approve or reject")
	}
	var (
		status models.AdminKYCStatus
		review *reviewmodels.AdminReview
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		identity, err := s.Get(ctx, userID)
		if err != nil {
			return err
		}
		if err := identity.ApplyAdminDecision(action, adminID, notes, requestcontext.Now(ctx)); err != nil {
			return err
		}
		if err := s.identities.RecordAdminDecision(ctx, identity); err != nil {
			if errors.Is(err, sentinel.ErrStale) {
				return dErrors.New(dErrors.CodePreconditionFailed, "kyc must be verified before admin review")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record admin decision")
		}
		review, err = s.reviews.Record(ctx, reviewTypeFor(identity.Role), uuid.UUID(userID), decisionFor(action), notes, false, adminID)
		if err != nil {
			return err
		}
		status = identity.AdminKYCStatus
		return nil
	})
	if err != nil {
		return "", err
	}
	s.reviews.Announce(ctx, review)
	return status, nil
}

// Override sets vendor and admin fields together without the vendor. The
// review is flagged and its notes carry the override prefix.
func (s *Service) Override(ctx context.Context, userID, adminID id.UserID, action models.AdminAction, notes string) (*models.Identity, error) {
	if !action.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "action must be approve or reject")
	}
	if strings.TrimSpace(notes) == "" {
		notes = defaultOverrideNote
	}
	var (
		updated *models.Identity
		review  *reviewmodels.AdminReview
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		identity, err := s.Get(ctx, userID)
		if err != nil {
			return err
		}
		if err := identity.ApplyOverride(action, adminID, reviewmodels.OverridePrefix+notes, requestcontext.Now(ctx)); err != nil {
			return err
		}
		if err := s.identities.RecordOverride(ctx, identity); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record override")
		}
		review, err = s.reviews.Record(ctx, reviewTypeFor(identity.Role), uuid.UUID(userID), decisionFor(action), notes, true, adminID)
		if err != nil {
			return err
		}
		updated = identity
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.WarnContext(ctx, "kyc override applied",
			"user_id", userID.String(),
			"admin_id", adminID.String(),
			"action", action,
			"event", "kyc_override",
			"log_type", "audit",
		)
	}
	s.reviews.Announce(ctx, review)
	return updated, nil
}

// SubmitForm records a self-service KYC form for admin review.
func (s *Service) SubmitForm(ctx context.Context, userID id.UserID, form models.Form) (*models.VerificationStatus, error) {
	identity, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(form.Country) == "" && strings.TrimSpace(form.Nationality) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "country or nationality is required")
	}
	identity.ApplyForm(form, requestcontext.Now(ctx))
	if err := s.identities.UpdateProfile(ctx, identity); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save kyc form")
	}
	s.logAudit(ctx, "kyc_form_submitted", "user_id", userID.String(), "role", identity.Role)
	return &models.VerificationStatus{
		UserID:         userID.String(),
		KYCStatus:      identity.KYCStatus,
		AMLStatus:      identity.AMLStatus,
		AdminKYCStatus: identity.AdminKYCStatus,
		Jurisdiction:   identity.Jurisdiction,
	}, nil
}

func reviewTypeFor(role models.Role) reviewmodels.ReviewType {
	if role == models.RoleManager {
		return reviewmodels.ReviewTypeKYCManager
	}
	return reviewmodels.ReviewTypeKYCInvestor
}

func decisionFor(action models.AdminAction) reviewmodels.Decision {
	if action == models.ActionApprove {
		return reviewmodels.DecisionApproved
	}
	return reviewmodels.DecisionRejected
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
