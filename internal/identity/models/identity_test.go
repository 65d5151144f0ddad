package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "capstack/pkg/domain"
	dErrors "capstack/pkg/domain-errors"
)

func newInvestor(t *testing.T) *Identity {
	t.Helper()
	i, err := NewIdentity(id.NewUserID(), RoleInvestor, " Alice@Example.com ", "US", time.Now())
	require.NoError(t, err)
	return i
}

func TestNewIdentity(t *testing.T) {
	i := newInvestor(t)
	assert.Equal(t, "alice@example.com", i.Email)
	assert.Equal(t, KYCPending, i.KYCStatus)
	assert.Equal(t, AMLPending, i.AMLStatus)
	assert.Equal(t, AdminKYCNone, i.AdminKYCStatus)

	_, err := NewIdentity(id.NewUserID(), Role("admin"), "a@b.c", "", time.Now())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestMapVendorStatus(t *testing.T) {
	cases := []struct {
		status, result string
		want           KYCStatus
	}{
		{"completed", "green", KYCVerified},
		{"completed", "GREEN", KYCVerified},
		{"completed", "red", KYCRejected},
		{"rejected", "", KYCRejected},
		{"onHold", "amber", KYCPending},
		{"pending", "", KYCPending},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MapVendorStatus(tc.status, tc.result), "%s/%s", tc.status, tc.result)
	}
}

func TestAdminDecisionRequiresVerified(t *testing.T) {
	admin := id.NewUserID()

	t.Run("pending kyc cannot be approved", func(t *testing.T) {
		i := newInvestor(t)
		err := i.ApplyAdminDecision(ActionApprove, admin, "", time.Now())
		assert.True(t, dErrors.HasCode(err, dErrors.CodePreconditionFailed))
		assert.Equal(t, AdminKYCNone, i.AdminKYCStatus)
	})

	t.Run("verified kyc is approved once", func(t *testing.T) {
		i := newInvestor(t)
		i.ApplyVendorStatus(KYCVerified, AMLCleared, time.Now())
		require.NoError(t, i.ApplyAdminDecision(ActionApprove, admin, "ok", time.Now()))
		assert.True(t, i.Cleared())
		assert.Equal(t, admin, *i.ReviewedBy)

		err := i.ApplyAdminDecision(ActionApprove, admin, "again", time.Now())
		assert.True(t, dErrors.HasCode(err, dErrors.CodePreconditionFailed))
	})
}

func TestOverride(t *testing.T) {
	i := newInvestor(t)
	require.NoError(t, i.ApplyOverride(ActionApprove, id.NewUserID(), "[override] note", time.Now()))
	assert.Equal(t, KYCVerified, i.KYCStatus)
	assert.Equal(t, AMLCleared, i.AMLStatus)
	assert.Equal(t, AdminKYCApproved, i.AdminKYCStatus)

	require.NoError(t, i.ApplyOverride(ActionReject, id.NewUserID(), "", time.Now()))
	assert.Equal(t, KYCRejected, i.KYCStatus)
	assert.Equal(t, AMLFlagged, i.AMLStatus)
	assert.Equal(t, AdminKYCRejected, i.AdminKYCStatus)
}

func TestVendorStatusNeverTouchesAdminGate(t *testing.T) {
	i := newInvestor(t)
	require.NoError(t, i.ApplyOverride(ActionApprove, id.NewUserID(), "", time.Now()))

	changed := i.ApplyVendorStatus(KYCRejected, AMLPending, time.Now())
	assert.True(t, changed)
	assert.Equal(t, AdminKYCApproved, i.AdminKYCStatus)
	assert.False(t, i.Cleared())
}

func TestNormalizeWallet(t *testing.T) {
	got, err := NormalizeWallet("0x52908400098527886e0f7030069857d2e4169ee7")
	require.NoError(t, err)
	assert.Equal(t, "0x52908400098527886E0F7030069857D2E4169EE7", got)

	_, err = NormalizeWallet("0x1234")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestApplyFormCompanyFieldsOnlyForManagers(t *testing.T) {
	i := newInvestor(t)
	i.ApplyForm(Form{Nationality: "CA", CompanyName: "Ignored"}, time.Now())
	assert.Equal(t, "CA", i.Jurisdiction)
	assert.Empty(t, i.CompanyName)

	m, err := NewIdentity(id.NewUserID(), RoleManager, "m@example.com", "", time.Now())
	require.NoError(t, err)
	m.ApplyForm(Form{Country: "UK", CompanyName: "Fund Co", TaxID: "T-1"}, time.Now())
	assert.Equal(t, "UK", m.Jurisdiction)
	assert.Equal(t, "Fund Co", m.CompanyName)
	assert.Equal(t, "T-1", m.TaxID)
}
