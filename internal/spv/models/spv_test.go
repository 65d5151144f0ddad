package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "capstack/pkg/domain"
	dErrors "capstack/pkg/domain-errors"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func validParams() Params {
	target := decimal.NewFromInt(1_000_000)
	return Params{
		Name:             "Harbor Street Fund",
		Type:             TypeRealEstate,
		FundraisingStart: now,
		FundraisingEnd:   now.AddDate(0, 3, 0),
		LifespanYears:    5,
		ManagementFee:    decimal.NewFromInt(2),
		CarryFee:         decimal.NewFromInt(20),
		AdminFee:         decimal.RequireFromString("0.5"),
		TargetAmount:     &target,
	}
}

func TestNewSPVValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Params)
	}{
		{"empty name", func(p *Params) { p.Name = "  " }},
		{"unknown type", func(p *Params) { p.Type = "fund_of_funds" }},
		{"end equals start", func(p *Params) { p.FundraisingEnd = p.FundraisingStart }},
		{"end before start", func(p *Params) { p.FundraisingEnd = p.FundraisingStart.Add(-time.Hour) }},
		{"short lifespan", func(p *Params) { p.LifespanYears = 2 }},
		{"negative fee", func(p *Params) { p.ManagementFee = decimal.NewFromInt(-1) }},
		{"fee above 100", func(p *Params) { p.CarryFee = decimal.NewFromInt(101) }},
		{"zero target", func(p *Params) { z := decimal.Zero; p.TargetAmount = &z }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			_, err := NewSPV(id.NewUserID(), p, now)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation), "got %v", err)
		})
	}

	spv, err := NewSPV(id.NewUserID(), validParams(), now)
	require.NoError(t, err)
	assert.Equal(t, StatusConfiguring, spv.Status)
	assert.Equal(t, AdminPending, spv.AdminStatus)
	assert.True(t, spv.TargetAmount.Valid)
}

func TestApplyChangesResubmits(t *testing.T) {
	spv, err := NewSPV(id.NewUserID(), validParams(), now)
	require.NoError(t, err)
	require.NoError(t, spv.ApplyReview(ActionRequestChanges, id.NewUserID(), "fix fees", now))
	assert.Equal(t, AdminChangesRequested, spv.AdminStatus)

	bad := 1
	err = spv.ApplyChanges(Changes{LifespanYears: &bad}, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	assert.Equal(t, 5, spv.LifespanYears)
	assert.Equal(t, AdminChangesRequested, spv.AdminStatus)

	fee := decimal.NewFromInt(15)
	require.NoError(t, spv.ApplyChanges(Changes{CarryFee: &fee}, now.Add(time.Hour)))
	assert.Equal(t, AdminPending, spv.AdminStatus)
	assert.True(t, spv.CarryFee.Equal(fee))
}

func TestApplyReview(t *testing.T) {
	t.Run("approve opens fundraising", func(t *testing.T) {
		spv, err := NewSPV(id.NewUserID(), validParams(), now)
		require.NoError(t, err)
		require.NoError(t, spv.ApplyReview(ActionApprove, id.NewUserID(), "", now))
		assert.Equal(t, StatusFundraising, spv.Status)
		assert.Equal(t, AdminApproved, spv.AdminStatus)
		require.NotNil(t, spv.ReviewedAt)

		err = spv.ApplyReview(ActionReject, id.NewUserID(), "", now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodePreconditionFailed))

		err = spv.ApplyChanges(Changes{}, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodePreconditionFailed))
	})

	t.Run("reject leaves status alone", func(t *testing.T) {
		spv, err := NewSPV(id.NewUserID(), validParams(), now)
		require.NoError(t, err)
		require.NoError(t, spv.ApplyReview(ActionReject, id.NewUserID(), "no", now))
		assert.Equal(t, StatusConfiguring, spv.Status)
		assert.Equal(t, AdminRejected, spv.AdminStatus)
	})

	t.Run("unknown action", func(t *testing.T) {
		spv, err := NewSPV(id.NewUserID(), validParams(), now)
		require.NoError(t, err)
		err = spv.ApplyReview("escalate", id.NewUserID(), "", now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestLiquidation(t *testing.T) {
	fee := decimal.NewFromInt(5000)

	t.Run("early termination charges the fee", func(t *testing.T) {
		spv, err := NewSPV(id.NewUserID(), validParams(), now)
		require.NoError(t, err)
		require.NoError(t, spv.InitiateLiquidation(fee, now.AddDate(1, 0, 0)))
		assert.Equal(t, StatusLiquidating, spv.Status)
		assert.True(t, spv.TerminationFee.Decimal.Equal(fee))

		err = spv.InitiateLiquidation(fee, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodePreconditionFailed))

		require.NoError(t, spv.CompleteLiquidation(now))
		assert.Equal(t, StatusLiquidated, spv.Status)
	})

	t.Run("mature spv pays nothing", func(t *testing.T) {
		spv, err := NewSPV(id.NewUserID(), validParams(), now)
		require.NoError(t, err)
		require.NoError(t, spv.InitiateLiquidation(fee, spv.MaturesAt()))
		assert.True(t, spv.TerminationFee.Decimal.IsZero())
	})
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusConfiguring.CanTransitionTo(StatusFundraising))
	assert.True(t, StatusActive.CanTransitionTo(StatusLiquidating))
	assert.False(t, StatusConfiguring.CanTransitionTo(StatusActive))
	assert.False(t, StatusLiquidated.CanTransitionTo(StatusLiquidating))
	assert.False(t, StatusFundraising.CanTransitionTo(StatusConfiguring))
}

func TestAcceptingSubscriptions(t *testing.T) {
	spv, err := NewSPV(id.NewUserID(), validParams(), now)
	require.NoError(t, err)
	assert.Error(t, spv.AcceptingSubscriptions(now))

	require.NoError(t, spv.ApplyReview(ActionApprove, id.NewUserID(), "", now))
	assert.NoError(t, spv.AcceptingSubscriptions(now))
	assert.Error(t, spv.AcceptingSubscriptions(spv.FundraisingEnd))
	assert.Error(t, spv.AcceptingSubscriptions(now.Add(-time.Second)))
}

func TestCapitalStackScan(t *testing.T) {
	var c CapitalStack
	require.NoError(t, c.Scan([]byte(`{"equity":"60","preferred":"30","mezzanine":"10"}`)))
	assert.True(t, c.Preferred.Equal(decimal.NewFromInt(30)))
	assert.Error(t, c.Scan(42))
}
