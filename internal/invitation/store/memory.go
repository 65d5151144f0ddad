package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"capstack/internal/invitation/models"
	id "capstack/pkg/domain"
	"capstack/pkg/platform/sentinel"
)

// InMemory enforces one pending invitation per (SPV, email) like the
// partial unique index in Postgres.
type InMemory struct {
	mu          sync.RWMutex
	invitations map[id.InvitationID]*models.Invitation
}

func NewInMemory() *InMemory {
	return &InMemory{invitations: make(map[id.InvitationID]*models.Invitation)}
}

func (s *InMemory) Create(_ context.Context, inv *models.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.invitations {
		if other.Token == inv.Token {
			return sentinel.ErrConflict
		}
		if inv.Status == models.StatusPending && other.Status == models.StatusPending &&
			other.SPVID == inv.SPVID && other.Email == inv.Email {
			return sentinel.ErrConflict
		}
	}
	cp := *inv
	s.invitations[inv.ID] = &cp
	return nil
}

func (s *InMemory) FindPending(_ context.Context, spvID id.SPVID, email string) (*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invitations {
		if inv.SPVID == spvID && inv.Email == email && inv.Status == models.StatusPending {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindByToken(_ context.Context, token string) (*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invitations {
		if inv.Token == token {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) ListBySPV(_ context.Context, spvID id.SPVID) ([]*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Invitation
	for _, inv := range s.invitations {
		if inv.SPVID == spvID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Email < out[j].Email
	})
	return out, nil
}

// ExtendExpiry moves expires_at on a pending invitation.
func (s *InMemory) ExtendExpiry(_ context.Context, invID id.InvitationID, expiresAt time.Time) error {
	return s.ifPending(invID, func(inv *models.Invitation) {
		inv.ExpiresAt = expiresAt
	})
}

func (s *InMemory) MarkExpired(_ context.Context, invID id.InvitationID) error {
	return s.ifPending(invID, func(inv *models.Invitation) {
		inv.Status = models.StatusExpired
	})
}

func (s *InMemory) Accept(_ context.Context, invID id.InvitationID, userID id.UserID, now time.Time) error {
	return s.ifPending(invID, func(inv *models.Invitation) {
		u, t := userID, now
		inv.Status = models.StatusAccepted
		inv.AcceptedBy = &u
		inv.AcceptedAt = &t
	})
}

func (s *InMemory) ifPending(invID id.InvitationID, fn func(*models.Invitation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[invID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if inv.Status != models.StatusPending {
		return sentinel.ErrStale
	}
	fn(inv)
	return nil
}
