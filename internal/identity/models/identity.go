package models

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	id "capstack/pkg/domain"
	dErrors "capstack/pkg/domain-errors"
)

// Role distinguishes the two verified actor kinds.
type Role string

const (
	RoleInvestor Role = "investor"
	RoleManager  Role = "manager"
)

func (r Role) IsValid() bool {
	return r == RoleInvestor || r == RoleManager
}

// KYCStatus is the vendor-controlled verification outcome.
type KYCStatus string

const (
	KYCPending  KYCStatus = "pending"
	KYCVerified KYCStatus = "verified"
	KYCRejected KYCStatus = "rejected"
)

// AMLStatus is the vendor-controlled screening outcome.
type AMLStatus string

const (
	AMLPending AMLStatus = "pending"
	AMLCleared AMLStatus = "cleared"
	AMLFlagged AMLStatus = "flagged"
)

// AdminKYCStatus is the admin gate entered after vendor verification.
type AdminKYCStatus string

const (
	AdminKYCNone     AdminKYCStatus = "none"
	AdminKYCApproved AdminKYCStatus = "admin_approved"
	AdminKYCRejected AdminKYCStatus = "admin_rejected"
)

// AdminAction is an admin's decision on an identity.
type AdminAction string

const (
	ActionApprove AdminAction = "approve"
	ActionReject  AdminAction = "reject"
)

func (a AdminAction) IsValid() bool {
	return a == ActionApprove || a == ActionReject
}

// adminTransitions lists the admin gate moves allowed on the normal path.
var adminTransitions = map[AdminKYCStatus][]AdminKYCStatus{
	AdminKYCNone:     {AdminKYCApproved, AdminKYCRejected},
	AdminKYCApproved: {AdminKYCRejected},
	AdminKYCRejected: {AdminKYCApproved},
}

// Identity is the verification record of one investor or manager. It is
// keyed by the owning user's id and never deleted.
type Identity struct {
	UserID         id.UserID      `json:"user_id"`
	Role           Role           `json:"role"`
	Email          string         `json:"email"`
	Jurisdiction   string         `json:"jurisdiction,omitempty"`
	KYCStatus      KYCStatus      `json:"kyc_status"`
	AMLStatus      AMLStatus      `json:"aml_status"`
	AdminKYCStatus AdminKYCStatus `json:"admin_kyc_status"`
	ApplicantRef   string         `json:"applicant_ref,omitempty"`
	WalletAddress  string         `json:"wallet_address,omitempty"`
	CompanyName    string         `json:"company_name,omitempty"`
	CompanyAddress string         `json:"company_address,omitempty"`
	TaxID          string         `json:"tax_id,omitempty"`
	ReviewedBy     *id.UserID     `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time     `json:"reviewed_at,omitempty"`
	AdminNotes     string         `json:"admin_notes,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewIdentity creates a record in pending/pending/none.
func NewIdentity(userID id.UserID, role Role, email, jurisdiction string, now time.Time) (*Identity, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "user id is required")
	}
	if !role.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "role must be investor or manager")
	}
	email = NormalizeEmail(email)
	if !strings.Contains(email, "@") {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "email is invalid")
	}
	return &Identity{
		UserID:         userID,
		Role:           role,
		Email:          email,
		Jurisdiction:   strings.TrimSpace(jurisdiction),
		KYCStatus:      KYCPending,
		AMLStatus:      AMLPending,
		AdminKYCStatus: AdminKYCNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Cleared reports whether the identity passed both the vendor and the admin
// gate.
func (i *Identity) Cleared() bool {
	return i.KYCStatus == KYCVerified && i.AdminKYCStatus == AdminKYCApproved
}

// IsCompliant reports whether the vendor verified the identity and cleared
// AML screening.
func (i *Identity) IsCompliant() bool {
	return i.KYCStatus == KYCVerified && i.AMLStatus == AMLCleared
}

// ApplyAdminDecision moves the admin gate on the normal path. Approval is
// only legal while the vendor reports verified.
func (i *Identity) ApplyAdminDecision(action AdminAction, reviewer id.UserID, notes string, now time.Time) error {
	target, err := adminTarget(action)
	if err != nil {
		return err
	}
	if i.KYCStatus != KYCVerified {
		return dErrors.New(dErrors.CodePreconditionFailed, "kyc must be verified before admin review")
	}
	allowed := false
	for _, next := range adminTransitions[i.AdminKYCStatus] {
		if next == target {
			allowed = true
			break
		}
	}
	if !allowed {
		return dErrors.New(dErrors.CodePreconditionFailed, "identity is already "+string(i.AdminKYCStatus))
	}
	i.AdminKYCStatus = target
	i.stampReview(reviewer, notes, now)
	return nil
}

// ApplyOverride sets vendor and admin fields together without consulting
// the vendor.
func (i *Identity) ApplyOverride(action AdminAction, reviewer id.UserID, notes string, now time.Time) error {
	target, err := adminTarget(action)
	if err != nil {
		return err
	}
	if target == AdminKYCApproved {
		i.KYCStatus = KYCVerified
		i.AMLStatus = AMLCleared
	} else {
		i.KYCStatus = KYCRejected
		i.AMLStatus = AMLFlagged
	}
	i.AdminKYCStatus = target
	i.stampReview(reviewer, notes, now)
	return nil
}

func adminTarget(action AdminAction) (AdminKYCStatus, error) {
	switch action {
	case ActionApprove:
		return AdminKYCApproved, nil
	case ActionReject:
		return AdminKYCRejected, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "action must be approve or reject")
}

func (i *Identity) stampReview(reviewer id.UserID, notes string, now time.Time) {
	r := reviewer
	t := now
	i.ReviewedBy = &r
	i.ReviewedAt = &t
	i.AdminNotes = notes
	i.UpdatedAt = now
}

// ApplyVendorStatus overwrites only the vendor-controlled fields. It never
// touches the admin gate. Reports whether anything changed.
func (i *Identity) ApplyVendorStatus(kyc KYCStatus, aml AMLStatus, now time.Time) bool {
	if i.KYCStatus == kyc && i.AMLStatus == aml {
		return false
	}
	i.KYCStatus = kyc
	i.AMLStatus = aml
	i.UpdatedAt = now
	return true
}

// Form is the self-service KYC submission used when no vendor is
// configured.
type Form struct {
	Country        string `json:"country"`
	Nationality    string `json:"nationality"`
	CompanyName    string `json:"company_name"`
	CompanyAddress string `json:"company_address"`
	TaxID          string `json:"tax_id"`
}

// ApplyForm resets the vendor fields to pending for admin review and records
// the submitted details. Company fields only apply to managers.
func (i *Identity) ApplyForm(f Form, now time.Time) {
	i.KYCStatus = KYCPending
	i.AMLStatus = AMLPending
	if j := strings.TrimSpace(f.Country); j != "" {
		i.Jurisdiction = j
	} else if j := strings.TrimSpace(f.Nationality); j != "" {
		i.Jurisdiction = j
	}
	if i.Role == RoleManager {
		if v := strings.TrimSpace(f.CompanyName); v != "" {
			i.CompanyName = v
		}
		if v := strings.TrimSpace(f.CompanyAddress); v != "" {
			i.CompanyAddress = v
		}
		if v := strings.TrimSpace(f.TaxID); v != "" {
			i.TaxID = v
		}
	}
	i.UpdatedAt = now
}

// SetWallet validates and stores an EVM address in checksum form.
func (i *Identity) SetWallet(address string, now time.Time) error {
	normalized, err := NormalizeWallet(address)
	if err != nil {
		return err
	}
	i.WalletAddress = normalized
	i.UpdatedAt = now
	return nil
}

// NormalizeWallet validates an EVM hex address and returns its checksum
// form.
func NormalizeWallet(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", dErrors.New(dErrors.CodeValidation, "wallet address must be a 20-byte hex address")
	}
	return common.HexToAddress(address).Hex(), nil
}
