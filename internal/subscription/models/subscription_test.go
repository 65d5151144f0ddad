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

func TestNewSubscription(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("normalizes the wallet", func(t *testing.T) {
		sub, err := NewSubscription(id.NewSPVID(), id.NewUserID(), decimal.NewFromInt(10), "0x52908400098527886e0f7030069857d2e4169ee7", now)
		require.NoError(t, err)
		assert.Equal(t, "0x52908400098527886E0F7030069857D2E4169EE7", sub.WalletAddress)
		assert.Equal(t, StatusPending, sub.Status)
		assert.False(t, sub.TokenAmount.Valid)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		_, err := NewSubscription(id.NewSPVID(), id.NewUserID(), decimal.NewFromInt(-1), "", now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func TestLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub, err := NewSubscription(id.NewSPVID(), id.NewUserID(), decimal.NewFromInt(10), "", now)
	require.NoError(t, err)

	assert.True(t, dErrors.HasCode(sub.CheckCompletable(), dErrors.CodePreconditionFailed))
	assert.True(t, dErrors.HasCode(sub.SubmitFunding("", "", now), dErrors.CodeInvariantViolation))

	require.NoError(t, sub.SubmitFunding(" W-1 ", " Bank ", now))
	assert.Equal(t, "W-1", sub.WireReference)
	assert.Equal(t, "Bank", sub.BankName)
	assert.NoError(t, sub.CheckCompletable())
	assert.True(t, dErrors.HasCode(sub.Cancel(now), dErrors.CodePreconditionFailed))

	sub.Status = StatusCompleted
	assert.True(t, dErrors.HasCode(sub.CheckCompletable(), dErrors.CodeConflict))
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusFunded))
	assert.True(t, StatusPending.CanTransitionTo(StatusCancelled))
	assert.True(t, StatusFunded.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusFunded.CanTransitionTo(StatusCancelled))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusFunded))
	assert.False(t, StatusCancelled.CanTransitionTo(StatusPending))
}

func TestOneToOne(t *testing.T) {
	tokens, err := OneToOne{}.TokensFor(nil, decimal.RequireFromString("12.5"))
	require.NoError(t, err)
	assert.True(t, tokens.Equal(decimal.RequireFromString("12.5")))
}
