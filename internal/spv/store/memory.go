package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"capstack/internal/spv/models"
	id "capstack/pkg/domain"
	"capstack/pkg/platform/sentinel"
)

// InMemory keeps SPVs in a map. Save and SetTokenContract compare the
// stored state before writing, like the Postgres WHERE clauses.
type InMemory struct {
	mu   sync.RWMutex
	spvs map[id.SPVID]*models.SPV
}

func NewInMemory() *InMemory {
	return &InMemory{spvs: make(map[id.SPVID]*models.SPV)}
}

func (s *InMemory) Create(_ context.Context, spv *models.SPV) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.spvs[spv.ID]; exists {
		return sentinel.ErrConflict
	}
	s.spvs[spv.ID] = clone(spv)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, spvID id.SPVID) (*models.SPV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spv, ok := s.spvs[spvID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(spv), nil
}

func (s *InMemory) ListByManager(_ context.Context, managerID id.UserID) ([]*models.SPV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.SPV
	for _, spv := range s.spvs {
		if spv.ManagerID == managerID {
			out = append(out, clone(spv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) Save(_ context.Context, spv *models.SPV, expected models.Status, expectedAdmin models.AdminStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.spvs[spv.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.Status != expected || stored.AdminStatus != expectedAdmin {
		return sentinel.ErrStale
	}
	next := clone(spv)
	next.TokenContractAddress = stored.TokenContractAddress
	s.spvs[spv.ID] = next
	return nil
}

func (s *InMemory) SetTokenContract(_ context.Context, spvID id.SPVID, address string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.spvs[spvID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.TokenContractAddress != "" {
		return sentinel.ErrAlreadySet
	}
	if stored.AdminStatus != models.AdminApproved {
		return sentinel.ErrStale
	}
	stored.TokenContractAddress = address
	stored.UpdatedAt = now
	return nil
}

func clone(spv *models.SPV) *models.SPV {
	cp := *spv
	if spv.CapitalStack != nil {
		stack := *spv.CapitalStack
		cp.CapitalStack = &stack
	}
	return &cp
}
