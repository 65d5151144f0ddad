package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	identitymodels "capstack/internal/identity/models"
	spvmodels "capstack/internal/spv/models"
	id "capstack/pkg/domain"
	dErrors "capstack/pkg/domain-errors"
)

// Status is the stage of an investor commitment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFunded    Status = "funded"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var statusTransitions = map[Status][]Status{
	StatusPending:   {StatusFunded, StatusCancelled},
	StatusFunded:    {StatusCompleted},
	StatusCompleted: nil,
	StatusCancelled: nil,
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Subscription is one investor's commitment to one SPV.
type Subscription struct {
	ID            id.SubscriptionID   `json:"id"`
	SPVID         id.SPVID            `json:"spv_id"`
	InvestorID    id.UserID           `json:"investor_id"`
	Amount        decimal.Decimal     `json:"amount"`
	Status        Status              `json:"status"`
	TokenAmount   decimal.NullDecimal `json:"token_amount"`
	WireReference string              `json:"wire_reference,omitempty"`
	BankName      string              `json:"bank_name,omitempty"`
	WalletAddress string              `json:"wallet_address,omitempty"`
	MintTxRef     string              `json:"mint_tx_ref,omitempty"`
	FundedAt      *time.Time          `json:"funded_at,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`

	// CompletionClaim is held by the caller currently completing the
	// subscription.
	CompletionClaim string     `json:"-"`
	ClaimedAt       *time.Time `json:"-"`

	// MintStartedAt is written under the claim before the ledger is called.
	// Once set, only a recorded MintTxRef lets completion proceed.
	MintStartedAt *time.Time          `json:"-"`
	MintTokens    decimal.NullDecimal `json:"-"`
}

// MintUnconfirmed reports whether a mint was started but its ledger
// reference was never recorded.
func (s *Subscription) MintUnconfirmed() bool {
	return s.MintStartedAt != nil && s.MintTxRef == ""
}

func NewSubscription(spvID id.SPVID, investorID id.UserID, amount decimal.Decimal, wallet string, now time.Time) (*Subscription, error) {
	if !amount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "amount must be positive")
	}
	if wallet != "" {
		normalized, err := identitymodels.NormalizeWallet(wallet)
		if err != nil {
			return nil, err
		}
		wallet = normalized
	}
	return &Subscription{
		ID:            id.NewSubscriptionID(),
		SPVID:         spvID,
		InvestorID:    investorID,
		Amount:        amount,
		Status:        StatusPending,
		WalletAddress: wallet,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// SubmitFunding records the investor's wire details.
func (s *Subscription) SubmitFunding(wireReference, bankName string, now time.Time) error {
	wireReference = strings.TrimSpace(wireReference)
	if wireReference == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "wire reference is required")
	}
	if err := s.transition(StatusFunded, now); err != nil {
		return err
	}
	s.WireReference = wireReference
	s.BankName = strings.TrimSpace(bankName)
	s.FundedAt = &now
	return nil
}

// CheckCompletable reports whether Complete may start on s.
func (s *Subscription) CheckCompletable() error {
	switch s.Status {
	case StatusFunded:
		return nil
	case StatusCompleted:
		return dErrors.New(dErrors.CodeConflict, "subscription already completed")
	default:
		return dErrors.New(dErrors.CodePreconditionFailed, "subscription is "+string(s.Status)+", not funded")
	}
}

func (s *Subscription) Cancel(now time.Time) error {
	return s.transition(StatusCancelled, now)
}

func (s *Subscription) transition(next Status, now time.Time) error {
	if !s.Status.CanTransitionTo(next) {
		return dErrors.New(dErrors.CodePreconditionFailed, "subscription cannot move from "+string(s.Status)+" to "+string(next))
	}
	s.Status = next
	s.UpdatedAt = now
	return nil
}

// TokenPolicy converts a committed amount into tokens.
type TokenPolicy interface {
	TokensFor(spv *spvmodels.SPV, amount decimal.Decimal) (decimal.Decimal, error)
}

// OneToOne issues one token per unit committed.
type OneToOne struct{}

func (OneToOne) TokensFor(_ *spvmodels.SPV, amount decimal.Decimal) (decimal.Decimal, error) {
	return amount, nil
}

// Detail is a subscription together with the SPV and investor it joins.
type Detail struct {
	Subscription *Subscription  `json:"subscription"`
	SPV          SPVSummary      `json:"spv"`
	Investor     InvestorSummary `json:"investor"`
}

type SPVSummary struct {
	ID                   id.SPVID         `json:"id"`
	ManagerID            id.UserID        `json:"manager_id"`
	Name                 string           `json:"name"`
	Status               spvmodels.Status `json:"status"`
	TokenContractAddress string           `json:"token_contract_address,omitempty"`
}

type InvestorSummary struct {
	ID             id.UserID                     `json:"id"`
	Email          string                        `json:"email"`
	WalletAddress  string                        `json:"wallet_address,omitempty"`
	KYCStatus      identitymodels.KYCStatus      `json:"kyc_status"`
	AdminKYCStatus identitymodels.AdminKYCStatus `json:"admin_kyc_status"`
}

func NewDetail(sub *Subscription, spv *spvmodels.SPV, investor *identitymodels.Identity) *Detail {
	return &Detail{
		Subscription: sub,
		SPV: SPVSummary{
			ID:                   spv.ID,
			ManagerID:            spv.ManagerID,
			Name:                 spv.Name,
			Status:               spv.Status,
			TokenContractAddress: spv.TokenContractAddress,
		},
		Investor: InvestorSummary{
			ID:             investor.UserID,
			Email:          investor.Email,
			WalletAddress:  investor.WalletAddress,
			KYCStatus:      investor.KYCStatus,
			AdminKYCStatus: investor.AdminKYCStatus,
		},
	}
}
