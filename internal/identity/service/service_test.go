package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"capstack/internal/identity/models"
	"capstack/internal/identity/replay"
	"capstack/internal/identity/service/mocks"
	"capstack/internal/identity/store"
	"capstack/internal/platform/logger"
	reviewmodels "capstack/internal/review/models"
	reviewservice "capstack/internal/review/service"
	reviewstore "capstack/internal/review/store"
	id "capstack/pkg/domain"
	dErrors "capstack/pkg/domain-errors"
	"capstack/pkg/platform/tx"
	"capstack/pkg/requestcontext"
)

const webhookSecret = "whsec"

type IdentityServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	provider *mocks.MockProvider
	store    *store.InMemory
	reviews  *reviewservice.Service
	svc      *Service
	ctx      context.Context
	admin    id.UserID
}

func TestIdentityServiceSuite(t *testing.T) {
	suite.Run(t, new(IdentityServiceSuite))
}

func (s *IdentityServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.provider = mocks.NewMockProvider(s.ctrl)
	s.store = store.NewInMemory()
	s.reviews = reviewservice.New(reviewstore.NewInMemory())
	s.svc = New(s.store, s.reviews, tx.NewMemoryRunner(),
		WithProvider(s.provider),
		WithWebhookSecret(webhookSecret),
		WithReplayGuard(replay.NewMemoryGuard(time.Hour)),
		WithLogger(logger.Discard()),
	)
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	s.admin = id.NewUserID()
}

func (s *IdentityServiceSuite) register(role models.Role) *models.Identity {
	identity, err := s.svc.Register(s.ctx, id.NewUserID(), role, "user@example.com", "US")
	s.Require().NoError(err)
	return identity
}

func (s *IdentityServiceSuite) withApplicant(identity *models.Identity, ref string) {
	s.Require().NoError(s.store.SetApplicantRef(s.ctx, identity.UserID, ref, time.Now()))
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *IdentityServiceSuite) reviewsFor(entity id.UserID) []*reviewmodels.AdminReview {
	got, err := s.reviews.History(s.ctx, reviewmodels.HistoryFilter{EntityID: uuid.UUID(entity)})
	s.Require().NoError(err)
	return got
}

func (s *IdentityServiceSuite) TestRegister() {
	s.Run("duplicate registration conflicts", func() {
		identity := s.register(models.RoleInvestor)
		_, err := s.svc.Register(s.ctx, identity.UserID, models.RoleInvestor, "other@example.com", "")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("invalid email is a validation error", func() {
		_, err := s.svc.Register(s.ctx, id.NewUserID(), models.RoleInvestor, "nope", "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *IdentityServiceSuite) TestInitiate() {
	s.Run("unconfigured provider asks for form submission", func() {
		identity := s.register(models.RoleInvestor)
		s.provider.EXPECT().Configured().Return(false)

		res, err := s.svc.Initiate(s.ctx, identity.UserID, "")
		s.Require().NoError(err)
		s.True(res.RequiresFormSubmission)
		s.Empty(res.ApplicantRef)
	})

	s.Run("creates applicant once and reuses it", func() {
		identity := s.register(models.RoleManager)
		subject := identity.UserID.String()
		s.provider.EXPECT().Configured().Return(true).Times(2)
		s.provider.EXPECT().CreateApplicant(gomock.Any(), subject, "user@example.com").Return("app-1", nil).Times(1)
		s.provider.EXPECT().GenerateAccessToken(gomock.Any(), subject).Return("tok-1", nil)
		s.provider.EXPECT().GenerateAccessToken(gomock.Any(), subject).Return("tok-2", nil)

		res, err := s.svc.Initiate(s.ctx, identity.UserID, "")
		s.Require().NoError(err)
		s.Equal("app-1", res.ApplicantRef)
		s.Equal("https://sumsub.com/idensic/l/#/access/tok-1", res.VerificationURL)

		res, err = s.svc.Initiate(s.ctx, identity.UserID, "")
		s.Require().NoError(err)
		s.Equal("app-1", res.ApplicantRef)
		s.Equal("tok-2", res.SDKToken)
	})

	s.Run("vendor failure is an upstream error", func() {
		identity := s.register(models.RoleInvestor)
		s.provider.EXPECT().Configured().Return(true)
		s.provider.EXPECT().CreateApplicant(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("503"))

		_, err := s.svc.Initiate(s.ctx, identity.UserID, "")
		s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
	})

	s.Run("unknown identity", func() {
		_, err := s.svc.Initiate(s.ctx, id.NewUserID(), "")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *IdentityServiceSuite) TestRefreshStatus() {
	s.Run("maps completed green to verified and cleared", func() {
		identity := s.register(models.RoleInvestor)
		s.withApplicant(identity, "app-ok")
		s.provider.EXPECT().Configured().Return(true)
		s.provider.EXPECT().GetStatus(gomock.Any(), "app-ok").Return(models.ApplicantStatus{
			ReviewStatus: "completed", ReviewResult: "green",
		}, nil)

		status, err := s.svc.RefreshStatus(s.ctx, identity.UserID)
		s.Require().NoError(err)
		s.Equal(models.KYCVerified, status.KYCStatus)
		s.Equal(models.AMLCleared, status.AMLStatus)

		stored, err := s.svc.Get(s.ctx, identity.UserID)
		s.Require().NoError(err)
		s.Equal(models.KYCVerified, stored.KYCStatus)
	})

	s.Run("vendor failure falls back to stored status", func() {
		identity := s.register(models.RoleInvestor)
		s.withApplicant(identity, "app-down")
		s.provider.EXPECT().Configured().Return(true)
		s.provider.EXPECT().GetStatus(gomock.Any(), "app-down").Return(models.ApplicantStatus{}, errors.New("timeout"))

		status, err := s.svc.RefreshStatus(s.ctx, identity.UserID)
		s.Require().NoError(err)
		s.Equal(models.KYCPending, status.KYCStatus)
	})
}

func (s *IdentityServiceSuite) TestApplyWebhook() {
	s.Run("invalid signature is unauthorized", func() {
		_, err := s.svc.ApplyWebhook(s.ctx, []byte(`{}`), "deadbeef")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("unknown applicant is not processed", func() {
		body := []byte(`{"type":"applicantReviewed","applicantId":"ghost","reviewStatus":"completed","reviewResult":"green"}`)
		res, err := s.svc.ApplyWebhook(s.ctx, body, sign(body))
		s.Require().NoError(err)
		s.False(res.Processed)
	})

	s.Run("applies vendor result and short-circuits replays", func() {
		identity := s.register(models.RoleInvestor)
		s.withApplicant(identity, "app-wh")
		body := []byte(`{"type":"applicantReviewed","applicantId":"app-wh","reviewStatus":"completed","reviewResult":{"reviewAnswer":"GREEN"}}`)

		res, err := s.svc.ApplyWebhook(s.ctx, body, sign(body))
		s.Require().NoError(err)
		s.True(res.Processed)
		s.Equal(models.KYCVerified, res.KYCStatus)

		res, err = s.svc.ApplyWebhook(s.ctx, body, sign(body))
		s.Require().NoError(err)
		s.True(res.Replayed)
	})

	s.Run("late rejection never reverts the admin gate", func() {
		identity := s.register(models.RoleInvestor)
		s.withApplicant(identity, "app-late")
		_, err := s.svc.Override(s.ctx, identity.UserID, s.admin, models.ActionApprove, "")
		s.Require().NoError(err)

		body := []byte(`{"type":"applicantReviewed","applicantId":"app-late","reviewStatus":"completed","reviewResult":"red"}`)
		_, err = s.svc.ApplyWebhook(s.ctx, body, sign(body))
		s.Require().NoError(err)

		stored, err := s.svc.Get(s.ctx, identity.UserID)
		s.Require().NoError(err)
		s.Equal(models.KYCRejected, stored.KYCStatus)
		s.Equal(models.AdminKYCApproved, stored.AdminKYCStatus)
		s.False(stored.Cleared())
	})
}

func (s *IdentityServiceSuite) TestAdminDecide() {
	s.Run("pending kyc is a precondition failure and records nothing", func() {
		identity := s.register(models.RoleInvestor)
		_, err := s.svc.AdminDecide(s.ctx, identity.UserID, s.admin, models.ActionApprove, "")
		s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed))
		s.Empty(s.reviewsFor(identity.UserID))
	})

	s.Run("verified kyc is approved with one review", func() {
		identity := s.register(models.RoleManager)
		s.Require().NoError(s.store.UpdateVendorStatus(s.ctx, identity.UserID, models.KYCVerified, models.AMLCleared, time.Now()))

		status, err := s.svc.AdminDecide(s.ctx, identity.UserID, s.admin, models.ActionApprove, "docs ok")
		s.Require().NoError(err)
		s.Equal(models.AdminKYCApproved, status)

		reviews := s.reviewsFor(identity.UserID)
		s.Require().Len(reviews, 1)
		s.Equal(reviewmodels.ReviewTypeKYCManager, reviews[0].Type)
		s.Equal(reviewmodels.DecisionApproved, reviews[0].Decision)
		s.False(reviews[0].Override)
	})
}

func (s *IdentityServiceSuite) TestOverride() {
	identity := s.register(models.RoleInvestor)

	updated, err := s.svc.Override(s.ctx, identity.UserID, s.admin, models.ActionApprove, "")
	s.Require().NoError(err)
	s.Equal(models.KYCVerified, updated.KYCStatus)
	s.Equal(models.AMLCleared, updated.AMLStatus)
	s.Equal(models.AdminKYCApproved, updated.AdminKYCStatus)

	reviews := s.reviewsFor(identity.UserID)
	s.Require().Len(reviews, 1)
	s.True(reviews[0].Override)
	s.Equal("[override] KYC overridden by admin", reviews[0].Notes)
}

func (s *IdentityServiceSuite) TestSubmitFormAndWallet() {
	identity := s.register(models.RoleManager)

	_, err := s.svc.SubmitForm(s.ctx, identity.UserID, models.Form{})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	status, err := s.svc.SubmitForm(s.ctx, identity.UserID, models.Form{Country: "DE", CompanyName: "Acme GmbH"})
	s.Require().NoError(err)
	s.Equal("DE", status.Jurisdiction)

	_, err = s.svc.SetWallet(s.ctx, identity.UserID, "not-a-wallet")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	updated, err := s.svc.SetWallet(s.ctx, identity.UserID, "0x52908400098527886e0f7030069857d2e4169ee7")
	s.Require().NoError(err)
	s.Equal("0x52908400098527886E0F7030069857D2E4169EE7", updated.WalletAddress)

	stored, err := s.svc.Get(s.ctx, identity.UserID)
	s.Require().NoError(err)
	s.Equal("Acme GmbH", stored.CompanyName)
	s.Equal(updated.WalletAddress, stored.WalletAddress)
}
