package store

import (
	"context"
	"sync"

	"capstack/internal/review/models"
)

// InMemory keeps reviews in append order.
type InMemory struct {
	mu      sync.RWMutex
	reviews []*models.AdminReview
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(_ context.Context, review *models.AdminReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *review
	s.reviews = append(s.reviews, &cp)
	return nil
}

// List returns matching reviews newest first.
func (s *InMemory) List(_ context.Context, filter models.HistoryFilter) ([]*models.AdminReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.AdminReview, 0)
	for i := len(s.reviews) - 1; i >= 0 && len(out) < filter.Limit; i-- {
		if filter.Matches(s.reviews[i]) {
			cp := *s.reviews[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}
