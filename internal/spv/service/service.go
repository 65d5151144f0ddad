package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"capstack/internal/documents"
	identitymodels "capstack/internal/identity/models"
	"capstack/internal/ledger"
	"capstack/internal/platform/metrics"
	reviewmodels "capstack/internal/review/models"
	"capstack/internal/spv/models"
	id "capstack/pkg/domain"
	dErrors "capstack/pkg/domain-errors"
	"capstack/pkg/platform/sentinel"
	"capstack/pkg/platform/tx"
	"capstack/pkg/requestcontext"
)

var defaultTerminationFee = decimal.NewFromInt(5000)

type Store interface {
	Create(ctx context.Context, spv *models.SPV) error
	FindByID(ctx context.Context, spvID id.SPVID) (*models.SPV, error)
	ListByManager(ctx context.Context, managerID id.UserID) ([]*models.SPV, error)
	Save(ctx context.Context, spv *models.SPV, expected models.Status, expectedAdmin models.AdminStatus) error
	SetTokenContract(ctx context.Context, spvID id.SPVID, address string, now time.Time) error
}

// IdentityReader loads the manager's verification record.
type IdentityReader interface {
	Get(ctx context.Context, userID id.UserID) (*identitymodels.Identity, error)
}

type ReviewRecorder interface {
	Record(ctx context.Context, reviewType reviewmodels.ReviewType, entityID uuid.UUID, decision reviewmodels.Decision, notes string, override bool, reviewer id.UserID) (*reviewmodels.AdminReview, error)
	Announce(ctx context.Context, review *reviewmodels.AdminReview)
}

// Service runs the SPV lifecycle and its admin review gate.
type Service struct {
	store          Store
	identities     IdentityReader
	reviews        ReviewRecorder
	tokens         ledger.TokenLedger
	tx             tx.Runner
	documents      documents.Generator
	terminationFee decimal.Decimal
	deploys        singleflight.Group
	logger         *slog.Logger
	metrics        *metrics.Metrics
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

// WithDocuments generates baseline legal documents on create.
func WithDocuments(g documents.Generator) Option {
	return func(s *Service) {
		s.documents = g
	}
}

// WithTerminationFee sets the flat fee charged for liquidating before the
// lifespan elapses.
func WithTerminationFee(fee decimal.Decimal) Option {
	return func(s *Service) {
		s.terminationFee = fee
	}
}

func New(store Store, identities IdentityReader, reviews ReviewRecorder, tokens ledger.TokenLedger, runner tx.Runner, opts ...Option) *Service {
	s := &Service{
		store:          store,
		identities:     identities,
		reviews:        reviews,
		tokens:         tokens,
		tx:             runner,
		terminationFee: defaultTerminationFee,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates the terms and stores a new SPV in configuring/pending.
// Document generation failures are logged and do not block creation.
func (s *Service) Create(ctx context.Context, managerID id.UserID, params models.Params) (*models.SPV, error) {
	manager, err := s.identities.Get(ctx, managerID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeForbidden, "only registered managers can create an spv")
		}
		return nil, err
	}
	if manager.Role != identitymodels.RoleManager {
		return nil, dErrors.New(dErrors.CodeForbidden, "only registered managers can create an spv")
	}

	spv, err := models.NewSPV(managerID, params, requestcontext.Now(ctx))
	if err != nil {
		return nil, toValidation(err)
	}
	if err := s.store.Create(ctx, spv); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create spv")
	}
	s.logAudit(ctx, "spv_created",
		"spv_id", spv.ID.String(),
		"manager_id", managerID.String(),
		"spv_type", spv.Type,
	)
	s.generateBaseline(ctx, spv.ID)
	return spv, nil
}

func (s *Service) generateBaseline(ctx context.Context, spvID id.SPVID) {
	if s.documents == nil {
		return
	}
	for _, kind := range documents.Baseline {
		if _, err := s.documents.Generate(ctx, spvID, kind); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "document generation failed",
				"spv_id", spvID.String(),
				"kind", kind,
				"error", err,
			)
		}
	}
}

func (s *Service) Get(ctx context.Context, spvID id.SPVID) (*models.SPV, error) {
	spv, err := s.store.FindByID(ctx, spvID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "spv not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load spv")
	}
	return spv, nil
}

// GetForManager loads an SPV owned by managerID. Other managers' SPVs are
// reported as not found.
func (s *Service) GetForManager(ctx context.Context, spvID id.SPVID, managerID id.UserID) (*models.SPV, error) {
	spv, err := s.Get(ctx, spvID)
	if err != nil {
		return nil, err
	}
	if spv.ManagerID != managerID {
		return nil, dErrors.New(dErrors.CodeNotFound, "spv not found")
	}
	return spv, nil
}

func (s *Service) ListByManager(ctx context.Context, managerID id.UserID) ([]*models.SPV, error) {
	spvs, err := s.store.ListByManager(ctx, managerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list spvs")
	}
	return spvs, nil
}

// Update edits an unapproved SPV. An SPV sent back for changes returns to
// pending review.
func (s *Service) Update(ctx context.Context, spvID id.SPVID, managerID id.UserID, changes models.Changes) (*models.SPV, error) {
	spv, err := s.GetForManager(ctx, spvID, managerID)
	if err != nil {
		return nil, err
	}
	prevAdmin := spv.AdminStatus
	if err := s.save(ctx, spv, func(spv *models.SPV) error {
		return spv.ApplyChanges(changes, requestcontext.Now(ctx))
	}); err != nil {
		return nil, err
	}
	if prevAdmin == models.AdminChangesRequested {
		s.logAudit(ctx, "spv_resubmitted", "spv_id", spvID.String(), "manager_id", managerID.String())
	}
	return spv, nil
}

// Review records an admin decision and its AdminReview in one unit of
// work. Approval then provisions the token contract on a best-effort basis.
func (s *Service) Review(ctx context.Context, spvID id.SPVID, adminID id.UserID, action models.ReviewAction, notes string) (*models.SPV, error) {
	if !action.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "action must be approve, reject or request_changes")
	}
	var (
		updated *models.SPV
		review  *reviewmodels.AdminReview
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		spv, err := s.Get(ctx, spvID)
		if err != nil {
			return err
		}
		if action == models.ActionApprove {
			if err := s.requireClearedManager(ctx, spv.ManagerID); err != nil {
				return err
			}
		}
		if err := s.save(ctx, spv, func(spv *models.SPV) error {
			return spv.ApplyReview(action, adminID, notes, requestcontext.Now(ctx))
		}); err != nil {
			return err
		}
		review, err = s.reviews.Record(ctx, reviewmodels.ReviewTypeSPVApproval, uuid.UUID(spvID), decisionFor(action), notes, false, adminID)
		if err != nil {
			return err
		}
		updated = spv
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.reviews.Announce(ctx, review)

	if updated.AdminStatus == models.AdminApproved {
		address, err := s.DeployTokenContract(ctx, spvID)
		if err != nil {
			s.metrics.IncProvisioningFailure()
			if s.logger != nil {
				s.logger.WarnContext(ctx, "token contract provisioning after approval failed",
					"spv_id", spvID.String(),
					"error", err,
				)
			}
		} else {
			updated.TokenContractAddress = address
		}
	}
	return updated, nil
}

func (s *Service) requireClearedManager(ctx context.Context, managerID id.UserID) error {
	manager, err := s.identities.Get(ctx, managerID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return dErrors.New(dErrors.CodePreconditionFailed, "manager identity not found")
		}
		return err
	}
	if !manager.Cleared() {
		return dErrors.New(dErrors.CodePreconditionFailed, "manager must pass kyc and admin review before fundraising")
	}
	return nil
}

// DeployTokenContract provisions the SPV's token contract. It returns the
// existing address when one is already set. Concurrent calls for the same
// SPV share one ledger call, which is not cancelled when the caller that
// started it goes away.
func (s *Service) DeployTokenContract(ctx context.Context, spvID id.SPVID) (string, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.deploys.DoChan(spvID.String(), func() (any, error) {
		return s.deploy(shared, spvID)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (s *Service) deploy(ctx context.Context, spvID id.SPVID) (string, error) {
	spv, err := s.Get(ctx, spvID)
	if err != nil {
		return "", err
	}
	if spv.TokenContractAddress != "" {
		return spv.TokenContractAddress, nil
	}
	if err := spv.ReadyForContract(); err != nil {
		return "", err
	}

	address, err := s.tokens.CreateContract(ctx, spv.ManagerID.String(), spv.Name, spv.TargetAmount.Decimal)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeUpstream) {
			return "", err
		}
		return "", dErrors.Wrap(err, dErrors.CodeUpstream, "token contract creation failed")
	}

	err = s.store.SetTokenContract(ctx, spvID, address, requestcontext.Now(ctx))
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrAlreadySet):
		current, getErr := s.Get(ctx, spvID)
		if getErr != nil {
			return "", getErr
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "token contract already recorded, discarding new contract",
				"spv_id", spvID.String(),
				"kept", current.TokenContractAddress,
				"discarded", address,
			)
		}
		return current.TokenContractAddress, nil
	case errors.Is(err, sentinel.ErrStale):
		return "", dErrors.New(dErrors.CodePreconditionFailed, "spv must be approved before deploying a token contract")
	default:
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to record token contract")
	}

	s.logAudit(ctx, "token_contract_deployed",
		"spv_id", spvID.String(),
		"contract", address,
		"supply_cap", spv.TargetAmount.Decimal.String(),
	)
	return address, nil
}

// CloseFundraising moves a fundraising SPV to active.
func (s *Service) CloseFundraising(ctx context.Context, spvID id.SPVID) (*models.SPV, error) {
	spv, err := s.Get(ctx, spvID)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, spv, func(spv *models.SPV) error {
		return spv.CloseFundraising(requestcontext.Now(ctx))
	}); err != nil {
		return nil, err
	}
	s.logAudit(ctx, "spv_fundraising_closed", "spv_id", spvID.String())
	return spv, nil
}

// InitiateLiquidation starts winding the SPV down. Liquidating before the
// lifespan elapses charges the early termination fee.
func (s *Service) InitiateLiquidation(ctx context.Context, spvID id.SPVID, managerID id.UserID) (*models.SPV, error) {
	spv, err := s.GetForManager(ctx, spvID, managerID)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, spv, func(spv *models.SPV) error {
		return spv.InitiateLiquidation(s.terminationFee, requestcontext.Now(ctx))
	}); err != nil {
		return nil, err
	}
	s.logAudit(ctx, "spv_liquidation_initiated",
		"spv_id", spvID.String(),
		"manager_id", managerID.String(),
		"termination_fee", spv.TerminationFee.Decimal.String(),
	)
	return spv, nil
}

func (s *Service) CompleteLiquidation(ctx context.Context, spvID id.SPVID) (*models.SPV, error) {
	spv, err := s.Get(ctx, spvID)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, spv, func(spv *models.SPV) error {
		return spv.CompleteLiquidation(requestcontext.Now(ctx))
	}); err != nil {
		return nil, err
	}
	s.logAudit(ctx, "spv_liquidated", "spv_id", spvID.String())
	return spv, nil
}

// save applies mutate and writes the result only if nobody moved the SPV
// in between.
func (s *Service) save(ctx context.Context, spv *models.SPV, mutate func(*models.SPV) error) error {
	prevStatus, prevAdmin := spv.Status, spv.AdminStatus
	if err := mutate(spv); err != nil {
		return toValidation(err)
	}
	if err := s.store.Save(ctx, spv, prevStatus, prevAdmin); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrStale):
			return dErrors.New(dErrors.CodeConflict, "spv was modified concurrently")
		case errors.Is(err, sentinel.ErrNotFound):
			return dErrors.New(dErrors.CodeNotFound, "spv not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save spv")
	}
	return nil
}

func decisionFor(action models.ReviewAction) reviewmodels.Decision {
	switch action {
	case models.ActionApprove:
		return reviewmodels.DecisionApproved
	case models.ActionReject:
		return reviewmodels.DecisionRejected
	}
	return reviewmodels.DecisionChangesRequested
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
