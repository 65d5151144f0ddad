package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	id "capstack/pkg/domain"
	dErrors "capstack/pkg/domain-errors"
)

// Status is the lifecycle stage of an SPV.
type Status string

const (
	StatusConfiguring Status = "configuring"
	StatusFundraising Status = "fundraising"
	StatusActive      Status = "active"
	StatusLiquidating Status = "liquidating"
	StatusLiquidated  Status = "liquidated"
)

// statusTransitions is the complete lifecycle graph.
var statusTransitions = map[Status][]Status{
	StatusConfiguring: {StatusFundraising, StatusLiquidating},
	StatusFundraising: {StatusActive, StatusLiquidating},
	StatusActive:      {StatusLiquidating},
	StatusLiquidating: {StatusLiquidated},
	StatusLiquidated:  nil,
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AdminStatus is the admin review gate on an SPV.
type AdminStatus string

const (
	AdminPending          AdminStatus = "pending"
	AdminApproved         AdminStatus = "approved"
	AdminRejected         AdminStatus = "rejected"
	AdminChangesRequested AdminStatus = "changes_requested"
)

// Reviewable reports whether an admin may decide on the SPV.
func (a AdminStatus) Reviewable() bool {
	return a == AdminPending || a == AdminChangesRequested
}

type Type string

const (
	TypeSingleName Type = "single_name"
	TypeMultiName  Type = "multi_name"
	TypeRealEstate Type = "real_estate"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeSingleName, TypeMultiName, TypeRealEstate:
		return true
	}
	return false
}

// ReviewAction is an admin's decision on an SPV.
type ReviewAction string

const (
	ActionApprove        ReviewAction = "approve"
	ActionReject         ReviewAction = "reject"
	ActionRequestChanges ReviewAction = "request_changes"
)

func (a ReviewAction) IsValid() bool {
	_, ok := a.target()
	return ok
}

func (a ReviewAction) target() (AdminStatus, bool) {
	switch a {
	case ActionApprove:
		return AdminApproved, true
	case ActionReject:
		return AdminRejected, true
	case ActionRequestChanges:
		return AdminChangesRequested, true
	}
	return "", false
}

const MinLifespanYears = 3

var maxFeePercent = decimal.NewFromInt(100)

// CapitalStack splits the raise across tranches.
type CapitalStack struct {
	Equity    decimal.Decimal `json:"equity"`
	Preferred decimal.Decimal `json:"preferred"`
	Mezzanine decimal.Decimal `json:"mezzanine"`
}

// Value stores the stack as JSONB.
func (c CapitalStack) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *CapitalStack) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	}
	return errors.New("capital stack: unsupported column type")
}

type SPV struct {
	ID                   id.SPVID            `json:"id"`
	ManagerID            id.UserID           `json:"manager_id"`
	Name                 string              `json:"name"`
	Description          string              `json:"description,omitempty"`
	Type                 Type                `json:"spv_type"`
	Status               Status              `json:"status"`
	AdminStatus          AdminStatus         `json:"admin_status"`
	FundraisingStart     time.Time           `json:"fundraising_start"`
	FundraisingEnd       time.Time           `json:"fundraising_end"`
	LifespanYears        int                 `json:"lifespan_years"`
	ManagementFee        decimal.Decimal     `json:"management_fee"`
	CarryFee             decimal.Decimal     `json:"carry_fee"`
	AdminFee             decimal.Decimal     `json:"admin_fee"`
	TargetAmount         decimal.NullDecimal `json:"target_amount"`
	CapitalStack         *CapitalStack       `json:"capital_stack,omitempty"`
	TokenContractAddress string              `json:"token_contract_address,omitempty"`
	TerminationFee       decimal.NullDecimal `json:"termination_fee"`
	AdminNotes           string              `json:"admin_notes,omitempty"`
	ReviewedBy           *id.UserID          `json:"reviewed_by,omitempty"`
	ReviewedAt           *time.Time          `json:"reviewed_at,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

// Params are the manager-supplied terms of an SPV.
type Params struct {
	Name             string           `json:"name"`
	Description      string           `json:"description"`
	Type             Type             `json:"spv_type"`
	FundraisingStart time.Time        `json:"fundraising_start"`
	FundraisingEnd   time.Time        `json:"fundraising_end"`
	LifespanYears    int              `json:"lifespan_years"`
	ManagementFee    decimal.Decimal  `json:"management_fee"`
	CarryFee         decimal.Decimal  `json:"carry_fee"`
	AdminFee         decimal.Decimal  `json:"admin_fee"`
	TargetAmount     *decimal.Decimal `json:"target_amount,omitempty"`
	CapitalStack     *CapitalStack    `json:"capital_stack,omitempty"`
}

// Changes is a partial update. Nil fields are left alone.
type Changes struct {
	Name             *string          `json:"name,omitempty"`
	Description      *string          `json:"description,omitempty"`
	Type             *Type            `json:"spv_type,omitempty"`
	FundraisingStart *time.Time       `json:"fundraising_start,omitempty"`
	FundraisingEnd   *time.Time       `json:"fundraising_end,omitempty"`
	LifespanYears    *int             `json:"lifespan_years,omitempty"`
	ManagementFee    *decimal.Decimal `json:"management_fee,omitempty"`
	CarryFee         *decimal.Decimal `json:"carry_fee,omitempty"`
	AdminFee         *decimal.Decimal `json:"admin_fee,omitempty"`
	TargetAmount     *decimal.Decimal `json:"target_amount,omitempty"`
	CapitalStack     *CapitalStack    `json:"capital_stack,omitempty"`
}

// NewSPV validates the terms and creates an SPV in configuring/pending.
func NewSPV(managerID id.UserID, p Params, now time.Time) (*SPV, error) {
	if managerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "manager id is required")
	}
	s := &SPV{
		ID:               id.NewSPVID(),
		ManagerID:        managerID,
		Name:             strings.TrimSpace(p.Name),
		Description:      strings.TrimSpace(p.Description),
		Type:             p.Type,
		Status:           StatusConfiguring,
		AdminStatus:      AdminPending,
		FundraisingStart: p.FundraisingStart,
		FundraisingEnd:   p.FundraisingEnd,
		LifespanYears:    p.LifespanYears,
		ManagementFee:    p.ManagementFee,
		CarryFee:         p.CarryFee,
		AdminFee:         p.AdminFee,
		CapitalStack:     p.CapitalStack,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if p.TargetAmount != nil {
		s.TargetAmount = decimal.NewNullDecimal(*p.TargetAmount)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SPV) validate() error {
	switch {
	case s.Name == "":
		return invariant("name is required")
	case !s.Type.IsValid():
		return invariant("spv type must be single_name, multi_name or real_estate")
	case s.FundraisingStart.IsZero() || s.FundraisingEnd.IsZero():
		return invariant("fundraising window is required")
	case !s.FundraisingEnd.After(s.FundraisingStart):
		return invariant("fundraising end must be after fundraising start")
	case s.LifespanYears < MinLifespanYears:
		return invariant("lifespan must be at least 3 years")
	}
	fees := []struct {
		name  string
		value decimal.Decimal
	}{
		{"management fee", s.ManagementFee},
		{"carry fee", s.CarryFee},
		{"admin fee", s.AdminFee},
	}
	for _, fee := range fees {
		if fee.value.IsNegative() || fee.value.GreaterThan(maxFeePercent) {
			return invariant(fee.name + " must be between 0 and 100")
		}
	}
	if s.TargetAmount.Valid && !s.TargetAmount.Decimal.IsPositive() {
		return invariant("target amount must be positive")
	}
	if c := s.CapitalStack; c != nil && (c.Equity.IsNegative() || c.Preferred.IsNegative() || c.Mezzanine.IsNegative()) {
		return invariant("capital stack tranches must not be negative")
	}
	return nil
}

func invariant(msg string) error {
	return dErrors.New(dErrors.CodeInvariantViolation, msg)
}

// ApplyChanges edits the terms of an SPV that has not been approved yet.
// An SPV sent back for changes is re-submitted for review.
func (s *SPV) ApplyChanges(c Changes, now time.Time) error {
	if s.Status != StatusConfiguring || s.AdminStatus == AdminApproved {
		return dErrors.New(dErrors.CodePreconditionFailed, "spv can only be edited while configuring and unapproved")
	}
	next := *s
	if c.Name != nil {
		next.Name = strings.TrimSpace(*c.Name)
	}
	if c.Description != nil {
		next.Description = strings.TrimSpace(*c.Description)
	}
	if c.Type != nil {
		next.Type = *c.Type
	}
	if c.FundraisingStart != nil {
		next.FundraisingStart = *c.FundraisingStart
	}
	if c.FundraisingEnd != nil {
		next.FundraisingEnd = *c.FundraisingEnd
	}
	if c.LifespanYears != nil {
		next.LifespanYears = *c.LifespanYears
	}
	if c.ManagementFee != nil {
		next.ManagementFee = *c.ManagementFee
	}
	if c.CarryFee != nil {
		next.CarryFee = *c.CarryFee
	}
	if c.AdminFee != nil {
		next.AdminFee = *c.AdminFee
	}
	if c.TargetAmount != nil {
		next.TargetAmount = decimal.NewNullDecimal(*c.TargetAmount)
	}
	if c.CapitalStack != nil {
		next.CapitalStack = c.CapitalStack
	}
	if err := next.validate(); err != nil {
		return err
	}
	if next.AdminStatus == AdminChangesRequested {
		next.AdminStatus = AdminPending
	}
	next.UpdatedAt = now
	*s = next
	return nil
}

// ApplyReview records an admin decision. Approval opens fundraising.
func (s *SPV) ApplyReview(action ReviewAction, reviewer id.UserID, notes string, now time.Time) error {
	target, ok := action.target()
	if !ok {
		return dErrors.New(dErrors.CodeValidation, "action must be approve, reject or request_changes")
	}
	if !s.AdminStatus.Reviewable() {
		return dErrors.New(dErrors.CodePreconditionFailed, "spv is already "+string(s.AdminStatus))
	}
	if target == AdminApproved {
		if err := s.transition(StatusFundraising, now); err != nil {
			return err
		}
	}
	s.AdminStatus = target
	r, t := reviewer, now
	s.ReviewedBy = &r
	s.ReviewedAt = &t
	s.AdminNotes = notes
	s.UpdatedAt = now
	return nil
}

// ReadyForContract reports why a token contract cannot be provisioned yet.
func (s *SPV) ReadyForContract() error {
	if s.AdminStatus != AdminApproved {
		return dErrors.New(dErrors.CodePreconditionFailed, "spv must be approved before deploying a token contract")
	}
	if !s.TargetAmount.Valid {
		return dErrors.New(dErrors.CodePreconditionFailed, "spv needs a target amount before deploying a token contract")
	}
	return nil
}

// CloseFundraising moves a fundraising SPV to active.
func (s *SPV) CloseFundraising(now time.Time) error {
	return s.transition(StatusActive, now)
}

// InitiateLiquidation moves the SPV to liquidating and charges fee when the
// lifespan has not elapsed yet.
func (s *SPV) InitiateLiquidation(fee decimal.Decimal, now time.Time) error {
	if err := s.transition(StatusLiquidating, now); err != nil {
		return err
	}
	if now.Before(s.MaturesAt()) {
		s.TerminationFee = decimal.NewNullDecimal(fee)
	} else {
		s.TerminationFee = decimal.NewNullDecimal(decimal.Zero)
	}
	return nil
}

func (s *SPV) CompleteLiquidation(now time.Time) error {
	return s.transition(StatusLiquidated, now)
}

// MaturesAt is the end of the SPV's lifespan.
func (s *SPV) MaturesAt() time.Time {
	return s.CreatedAt.AddDate(s.LifespanYears, 0, 0)
}

// AcceptingSubscriptions reports whether investors may commit at now.
func (s *SPV) AcceptingSubscriptions(now time.Time) error {
	if s.Status != StatusFundraising || s.AdminStatus != AdminApproved {
		return dErrors.New(dErrors.CodePreconditionFailed, "spv is not open for fundraising")
	}
	if now.Before(s.FundraisingStart) || !now.Before(s.FundraisingEnd) {
		return dErrors.New(dErrors.CodePreconditionFailed, "outside the fundraising window")
	}
	return nil
}

func (s *SPV) transition(next Status, now time.Time) error {
	if !s.Status.CanTransitionTo(next) {
		return dErrors.New(dErrors.CodePreconditionFailed, "spv cannot move from "+string(s.Status)+" to "+string(next))
	}
	s.Status = next
	s.UpdatedAt = now
	return nil
}
