package models

import (
	"time"

	"github.com/google/uuid"

	id "capstack/pkg/domain"
	dErrors "capstack/pkg/domain-errors"
)

// ReviewType names what an admin reviewed.
type ReviewType string

const (
	ReviewTypeKYCInvestor ReviewType = "kyc_investor"
	ReviewTypeKYCManager  ReviewType = "kyc_manager"
	ReviewTypeSPVApproval ReviewType = "spv_approval"
)

func (t ReviewType) IsValid() bool {
	switch t {
	case ReviewTypeKYCInvestor, ReviewTypeKYCManager, ReviewTypeSPVApproval:
		return true
	}
	return false
}

// Decision is the outcome an admin recorded.
type Decision string

const (
	DecisionApproved         Decision = "approved"
	DecisionRejected         Decision = "rejected"
	DecisionChangesRequested Decision = "changes_requested"
)

func (d Decision) IsValid() bool {
	switch d {
	case DecisionApproved, DecisionRejected, DecisionChangesRequested:
		return true
	}
	return false
}

// OverridePrefix marks notes written by the KYC override path.
const OverridePrefix = "[override] "

// AdminReview is one append-only admin decision.
type AdminReview struct {
	ID         id.ReviewID `json:"id"`
	Type       ReviewType  `json:"review_type"`
	EntityID   uuid.UUID   `json:"entity_id"`
	Decision   Decision    `json:"decision"`
	Notes      string      `json:"notes"`
	Override   bool        `json:"override"`
	ReviewedBy id.UserID   `json:"reviewed_by"`
	ReviewedAt time.Time   `json:"reviewed_at"`
}

// NewAdminReview builds a review, enforcing enum and actor invariants.
// Override reviews always carry the override prefix in their notes.
func NewAdminReview(reviewType ReviewType, entityID uuid.UUID, decision Decision, notes string, override bool, reviewedBy id.UserID, now time.Time) (*AdminReview, error) {
	if !reviewType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown review type")
	}
	if !decision.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown review decision")
	}
	if entityID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "reviewed entity is required")
	}
	if reviewedBy.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "reviewer is required")
	}
	if override {
		notes = OverridePrefix + notes
	}
	return &AdminReview{
		ID:         id.NewReviewID(),
		Type:       reviewType,
		EntityID:   entityID,
		Decision:   decision,
		Notes:      notes,
		Override:   override,
		ReviewedBy: reviewedBy,
		ReviewedAt: now,
	}, nil
}

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// HistoryFilter narrows a review history query. Zero fields match all.
type HistoryFilter struct {
	Type     ReviewType
	Decision Decision
	EntityID uuid.UUID
	Limit    int
}

// Normalize validates the filter and applies the default limit.
func (f HistoryFilter) Normalize() (HistoryFilter, error) {
	if f.Type != "" && !f.Type.IsValid() {
		return f, dErrors.New(dErrors.CodeValidation, "unknown review type filter")
	}
	if f.Decision != "" && !f.Decision.IsValid() {
		return f, dErrors.New(dErrors.CodeValidation, "unknown decision filter")
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultHistoryLimit
	case f.Limit > MaxHistoryLimit:
		f.Limit = MaxHistoryLimit
	}
	return f, nil
}

// Matches reports whether r passes the filter, ignoring Limit.
func (f HistoryFilter) Matches(r *AdminReview) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Decision != "" && r.Decision != f.Decision {
		return false
	}
	if f.EntityID != uuid.Nil && r.EntityID != f.EntityID {
		return false
	}
	return true
}
