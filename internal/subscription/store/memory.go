package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"capstack/internal/subscription/models"
	id "capstack/pkg/domain"
	"capstack/pkg/platform/sentinel"
)

type pairKey struct {
	spvID      id.SPVID
	investorID id.UserID
}

// InMemory mirrors the Postgres compare-and-set semantics under one mutex.
type InMemory struct {
	mu            sync.RWMutex
	subscriptions map[id.SubscriptionID]*models.Subscription
	pairs         map[pairKey]id.SubscriptionID
}

func NewInMemory() *InMemory {
	return &InMemory{
		subscriptions: make(map[id.SubscriptionID]*models.Subscription),
		pairs:         make(map[pairKey]id.SubscriptionID),
	}
}

func (s *InMemory) Create(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{sub.SPVID, sub.InvestorID}
	if _, ok := s.pairs[key]; ok {
		return sentinel.ErrConflict
	}
	cp := *sub
	s.subscriptions[sub.ID] = &cp
	s.pairs[key] = sub.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, subID id.SubscriptionID) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[subID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *InMemory) ListBySPV(_ context.Context, spvID id.SPVID) ([]*models.Subscription, error) {
	return s.list(func(sub *models.Subscription) bool { return sub.SPVID == spvID }), nil
}

func (s *InMemory) ListByInvestor(_ context.Context, investorID id.UserID) ([]*models.Subscription, error) {
	return s.list(func(sub *models.Subscription) bool { return sub.InvestorID == investorID }), nil
}

func (s *InMemory) list(match func(*models.Subscription) bool) []*models.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Subscription
	for _, sub := range s.subscriptions {
		if match(sub) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *InMemory) MarkFunded(_ context.Context, subID id.SubscriptionID, wireReference, bankName string, now time.Time) error {
	return s.update(subID, func(sub *models.Subscription) bool {
		if sub.Status != models.StatusPending {
			return false
		}
		sub.Status = models.StatusFunded
		sub.WireReference = wireReference
		sub.BankName = bankName
		sub.FundedAt = &now
		sub.UpdatedAt = now
		return true
	})
}

func (s *InMemory) Claim(_ context.Context, subID id.SubscriptionID, claim string, now, staleBefore time.Time) error {
	return s.update(subID, func(sub *models.Subscription) bool {
		if sub.Status != models.StatusFunded {
			return false
		}
		if sub.CompletionClaim != "" && !sub.ClaimedAt.Before(staleBefore) {
			return false
		}
		sub.CompletionClaim = claim
		sub.ClaimedAt = &now
		return true
	})
}

// BeginMint marks a mint as started under claim. A subscription is minted
// at most once, so a second BeginMint fails even for the same claim.
func (s *InMemory) BeginMint(_ context.Context, subID id.SubscriptionID, claim string, tokens decimal.Decimal, now time.Time) error {
	return s.update(subID, func(sub *models.Subscription) bool {
		if sub.Status != models.StatusFunded || sub.CompletionClaim != claim || sub.MintStartedAt != nil {
			return false
		}
		sub.MintStartedAt = &now
		sub.MintTokens = decimal.NewNullDecimal(tokens)
		sub.UpdatedAt = now
		return true
	})
}

// AbortMint clears the marker after the ledger rejected the mint.
func (s *InMemory) AbortMint(_ context.Context, subID id.SubscriptionID, claim string) error {
	return s.update(subID, func(sub *models.Subscription) bool {
		if sub.Status != models.StatusFunded || sub.CompletionClaim != claim || sub.MintTxRef != "" {
			return false
		}
		sub.MintStartedAt = nil
		sub.MintTokens = decimal.NullDecimal{}
		return true
	})
}

// RecordMintRef stores the ledger reference of a started mint. It does not
// check the claim: the reference must survive a lost claim.
func (s *InMemory) RecordMintRef(_ context.Context, subID id.SubscriptionID, txRef string, now time.Time) error {
	return s.update(subID, func(sub *models.Subscription) bool {
		if sub.Status != models.StatusFunded || sub.MintStartedAt == nil || sub.MintTxRef != "" {
			return false
		}
		sub.MintTxRef = txRef
		sub.UpdatedAt = now
		return true
	})
}

func (s *InMemory) MarkCompleted(_ context.Context, subID id.SubscriptionID, claim, txRef string, tokens decimal.Decimal, now time.Time) error {
	return s.update(subID, func(sub *models.Subscription) bool {
		if sub.Status != models.StatusFunded || sub.CompletionClaim != claim {
			return false
		}
		sub.Status = models.StatusCompleted
		sub.MintTxRef = txRef
		sub.TokenAmount = decimal.NewNullDecimal(tokens)
		sub.CompletionClaim = ""
		sub.ClaimedAt = nil
		sub.CompletedAt = &now
		sub.UpdatedAt = now
		return true
	})
}

func (s *InMemory) ReleaseClaim(_ context.Context, subID id.SubscriptionID, claim string) error {
	return s.update(subID, func(sub *models.Subscription) bool {
		if sub.CompletionClaim != claim {
			return false
		}
		sub.CompletionClaim = ""
		sub.ClaimedAt = nil
		return true
	})
}

func (s *InMemory) Cancel(_ context.Context, subID id.SubscriptionID, now time.Time) error {
	return s.update(subID, func(sub *models.Subscription) bool {
		if sub.Status != models.StatusPending {
			return false
		}
		sub.Status = models.StatusCancelled
		sub.UpdatedAt = now
		return true
	})
}

// update applies fn when the row exists; fn reports whether its compare
// held.
func (s *InMemory) update(subID id.SubscriptionID, fn func(*models.Subscription) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[subID]
	if !ok {
		return sentinel.ErrNotFound
	}
	cp := *sub
	if !fn(&cp) {
		return sentinel.ErrStale
	}
	s.subscriptions[subID] = &cp
	return nil
}
