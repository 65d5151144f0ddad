package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"capstack/internal/captable/models"
	id "capstack/pkg/domain"
	"capstack/pkg/platform/sentinel"
)

type entryKey struct {
	spv      id.SPVID
	investor id.UserID
}

// InMemory applies credits and debits under a single lock so concurrent
// increments compose.
type InMemory struct {
	mu            sync.RWMutex
	entries       map[entryKey]*models.Entry
	distributions []*models.Distribution
}

func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[entryKey]*models.Entry)}
}

func (s *InMemory) Credit(_ context.Context, spvID id.SPVID, investorID id.UserID, amount decimal.Decimal, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entryKey{spvID, investorID}
	entry, ok := s.entries[key]
	if !ok {
		entry = &models.Entry{SPVID: spvID, InvestorID: investorID}
		s.entries[key] = entry
	}
	entry.TokenBalance = entry.TokenBalance.Add(amount)
	entry.OnChainBalance = entry.OnChainBalance.Add(amount)
	entry.LastSyncedAt = now
	return nil
}

func (s *InMemory) Debit(_ context.Context, spvID id.SPVID, investorID id.UserID, amount decimal.Decimal, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryKey{spvID, investorID}]
	if !ok || entry.TokenBalance.LessThan(amount) || entry.OnChainBalance.LessThan(amount) {
		return sentinel.ErrInsufficient
	}
	entry.TokenBalance = entry.TokenBalance.Sub(amount)
	entry.OnChainBalance = entry.OnChainBalance.Sub(amount)
	entry.LastSyncedAt = now
	return nil
}

func (s *InMemory) Entry(_ context.Context, spvID id.SPVID, investorID id.UserID) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[entryKey{spvID, investorID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (s *InMemory) Entries(_ context.Context, spvID id.SPVID) ([]*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Entry
	for key, entry := range s.entries {
		if key.spv == spvID {
			cp := *entry
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].TokenBalance.Cmp(out[j].TokenBalance); c != 0 {
			return c > 0
		}
		return out[i].InvestorID.String() < out[j].InvestorID.String()
	})
	return out, nil
}

func (s *InMemory) TotalTokens(_ context.Context, spvID id.SPVID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for key, entry := range s.entries {
		if key.spv == spvID {
			total = total.Add(entry.TokenBalance)
		}
	}
	return total, nil
}

func (s *InMemory) AppendDistribution(_ context.Context, d *models.Distribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.distributions = append(s.distributions, &cp)
	return nil
}

// Distributions lists an SPV's distributions newest first.
func (s *InMemory) Distributions(_ context.Context, spvID id.SPVID) ([]*models.Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Distribution
	for i := len(s.distributions) - 1; i >= 0; i-- {
		if d := s.distributions[i]; d.SPVID == spvID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}
