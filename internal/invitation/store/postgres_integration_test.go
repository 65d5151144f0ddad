//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"capstack/internal/invitation/models"
	"capstack/internal/invitation/store"
	spvmodels "capstack/internal/spv/models"
	spvstore "capstack/internal/spv/store"
	id "capstack/pkg/domain"
	"capstack/pkg/platform/sentinel"
	"capstack/pkg/testutil/containers"
)

type PostgresInvitationStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	spvs     *spvstore.PostgresStore
}

func TestPostgresInvitationStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresInvitationStoreSuite))
}

func (s *PostgresInvitationStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.spvs = spvstore.NewPostgres(s.postgres.DB)
}

func (s *PostgresInvitationStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "invitations", "spvs"))
}

func (s *PostgresInvitationStoreSuite) spv(manager id.UserID, now time.Time) id.SPVID {
	spv, err := spvmodels.NewSPV(manager, spvmodels.Params{
		Name:             "Harbor Two",
		Type:             spvmodels.TypeSingleName,
		FundraisingStart: now,
		FundraisingEnd:   now.Add(24 * time.Hour),
		LifespanYears:    5,
	}, now)
	s.Require().NoError(err)
	s.Require().NoError(s.spvs.Create(context.Background(), spv))
	return spv.ID
}

func (s *PostgresInvitationStoreSuite) TestPendingUniquenessAndAccept() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	manager := id.NewUserID()
	spvID := s.spv(manager, now)

	inv, err := models.NewInvitation(spvID, "lp@example.com", manager, now.AddDate(0, 0, 30), now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(ctx, inv))

	dup, err := models.NewInvitation(spvID, "lp@example.com", manager, now.AddDate(0, 0, 30), now)
	s.Require().NoError(err)
	s.ErrorIs(s.store.Create(ctx, dup), sentinel.ErrConflict)

	pending, err := s.store.FindPending(ctx, spvID, "lp@example.com")
	s.Require().NoError(err)
	s.Equal(inv.Token, pending.Token)

	later := now.AddDate(0, 0, 45)
	s.Require().NoError(s.store.ExtendExpiry(ctx, inv.ID, later))

	investor := id.NewUserID()
	s.Require().NoError(s.store.Accept(ctx, inv.ID, investor, now))
	s.ErrorIs(s.store.Accept(ctx, inv.ID, investor, now), sentinel.ErrStale)
	s.ErrorIs(s.store.MarkExpired(ctx, id.NewInvitationID()), sentinel.ErrNotFound)

	accepted, err := s.store.FindByToken(ctx, inv.Token)
	s.Require().NoError(err)
	s.Equal(models.StatusAccepted, accepted.Status)
	s.True(later.Equal(accepted.ExpiresAt))
	s.Require().NotNil(accepted.AcceptedBy)
	s.Equal(investor, *accepted.AcceptedBy)

	s.Require().NoError(s.store.Create(ctx, dup), "a new pending invitation is allowed once the old one is accepted")

	list, err := s.store.ListBySPV(ctx, spvID)
	s.Require().NoError(err)
	s.Len(list, 2)
}
