package store

import (
	"context"
	"sync"
	"time"

	"capstack/internal/identity/models"
	id "capstack/pkg/domain"
	"capstack/pkg/platform/sentinel"
)

// InMemory stores identities keyed by user id. Conditional updates mirror
// the Postgres WHERE clauses.
type InMemory struct {
	mu         sync.RWMutex
	identities map[id.UserID]*models.Identity
}

func NewInMemory() *InMemory {
	return &InMemory{identities: make(map[id.UserID]*models.Identity)}
}

func (s *InMemory) Create(_ context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.identities[identity.UserID]; exists {
		return sentinel.ErrConflict
	}
	cp := *identity
	s.identities[identity.UserID] = &cp
	return nil
}

func (s *InMemory) FindByUserID(_ context.Context, userID id.UserID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *identity
	return &cp, nil
}

func (s *InMemory) FindByApplicantRef(_ context.Context, ref string) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, identity := range s.identities {
		if identity.ApplicantRef != "" && identity.ApplicantRef == ref {
			cp := *identity
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) SetApplicantRef(_ context.Context, userID id.UserID, ref string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[userID]
	if !ok {
		return sentinel.ErrNotFound
	}
	for other, o := range s.identities {
		if other != userID && o.ApplicantRef == ref {
			return sentinel.ErrConflict
		}
	}
	identity.ApplicantRef = ref
	identity.KYCStatus = models.KYCPending
	identity.UpdatedAt = now
	return nil
}

func (s *InMemory) UpdateVendorStatus(_ context.Context, userID id.UserID, kyc models.KYCStatus, aml models.AMLStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[userID]
	if !ok {
		return sentinel.ErrNotFound
	}
	identity.ApplyVendorStatus(kyc, aml, now)
	return nil
}

// RecordAdminDecision writes the admin gate only while the stored record is
// still vendor-verified.
func (s *InMemory) RecordAdminDecision(_ context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.identities[identity.UserID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.KYCStatus != models.KYCVerified {
		return sentinel.ErrStale
	}
	stored.AdminKYCStatus = identity.AdminKYCStatus
	copyReview(stored, identity)
	return nil
}

func (s *InMemory) RecordOverride(_ context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.identities[identity.UserID]
	if !ok {
		return sentinel.ErrNotFound
	}
	stored.KYCStatus = identity.KYCStatus
	stored.AMLStatus = identity.AMLStatus
	stored.AdminKYCStatus = identity.AdminKYCStatus
	copyReview(stored, identity)
	return nil
}

// UpdateProfile saves self-service fields: vendor status reset, jurisdiction,
// company details and wallet.
func (s *InMemory) UpdateProfile(_ context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.identities[identity.UserID]
	if !ok {
		return sentinel.ErrNotFound
	}
	stored.KYCStatus = identity.KYCStatus
	stored.AMLStatus = identity.AMLStatus
	stored.Jurisdiction = identity.Jurisdiction
	stored.CompanyName = identity.CompanyName
	stored.CompanyAddress = identity.CompanyAddress
	stored.TaxID = identity.TaxID
	stored.WalletAddress = identity.WalletAddress
	stored.UpdatedAt = identity.UpdatedAt
	return nil
}

func copyReview(dst, src *models.Identity) {
	dst.ReviewedBy = src.ReviewedBy
	dst.ReviewedAt = src.ReviewedAt
	dst.AdminNotes = src.AdminNotes
	dst.UpdatedAt = src.UpdatedAt
}
