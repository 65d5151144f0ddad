package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "capstack/pkg/domain"
	dErrors "capstack/pkg/domain-errors"
)

// PerTokenPrecision is the number of decimal places kept on per-token
// distribution amounts.
const PerTokenPrecision = 18

// Entry is one investor's position in an SPV.
type Entry struct {
	SPVID          id.SPVID        `json:"spv_id"`
	InvestorID     id.UserID       `json:"investor_id"`
	TokenBalance   decimal.Decimal `json:"token_balance"`
	OnChainBalance decimal.Decimal `json:"on_chain_balance"`
	LastSyncedAt   time.Time       `json:"last_synced_at"`
}

type DistributionType string

const (
	DistributionIncome      DistributionType = "income"
	DistributionCapitalGain DistributionType = "capital_gain"
	DistributionLiquidation DistributionType = "liquidation"
)

func (t DistributionType) IsValid() bool {
	switch t {
	case DistributionIncome, DistributionCapitalGain, DistributionLiquidation:
		return true
	}
	return false
}

// Distribution is an immutable record of an amount declared against the
// outstanding tokens of an SPV. Paying it out happens elsewhere.
type Distribution struct {
	ID             id.DistributionID `json:"id"`
	SPVID          id.SPVID          `json:"spv_id"`
	Amount         decimal.Decimal   `json:"amount"`
	PerTokenAmount decimal.Decimal   `json:"per_token_amount"`
	TotalTokens    decimal.Decimal   `json:"total_tokens"`
	Type           DistributionType  `json:"distribution_type"`
	ProcessedAt    time.Time         `json:"processed_at"`
}

// NewDistribution divides amount across totalTokens. With no tokens
// outstanding the per-token amount is zero.
func NewDistribution(spvID id.SPVID, amount, totalTokens decimal.Decimal, kind DistributionType, now time.Time) (*Distribution, error) {
	if !kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "distribution type must be income, capital_gain or liquidation")
	}
	if !amount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "distribution amount must be positive")
	}
	perToken := decimal.Zero
	if totalTokens.IsPositive() {
		perToken = amount.DivRound(totalTokens, PerTokenPrecision)
	}
	return &Distribution{
		ID:             id.NewDistributionID(),
		SPVID:          spvID,
		Amount:         amount,
		PerTokenAmount: perToken,
		TotalTokens:    totalTokens,
		Type:           kind,
		ProcessedAt:    now,
	}, nil
}

// Adjustment is the outcome of an admin mint or burn.
type Adjustment struct {
	SPVID      id.SPVID        `json:"spv_id"`
	InvestorID id.UserID       `json:"investor_id"`
	Amount     decimal.Decimal `json:"amount"`
	TxRef      string          `json:"tx_ref"`
	Entry      *Entry          `json:"entry"`
}
