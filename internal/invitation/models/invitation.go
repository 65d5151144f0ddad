package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"
	"time"

	spvmodels "capstack/internal/spv/models"
	id "capstack/pkg/domain"
	dErrors "capstack/pkg/domain-errors"
)

const (
	tokenBytes     = 32
	DefaultTTLDays = 30
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusExpired  Status = "expired"
)

// Invitation admits one email into one SPV's investor pool until it
// expires or is accepted.
type Invitation struct {
	ID         id.InvitationID `json:"id"`
	Token      string          `json:"token"`
	SPVID      id.SPVID        `json:"spv_id"`
	Email      string          `json:"email"`
	IssuedBy   id.UserID       `json:"issued_by"`
	Status     Status          `json:"status"`
	ExpiresAt  time.Time       `json:"expires_at"`
	AcceptedAt *time.Time      `json:"accepted_at,omitempty"`
	AcceptedBy *id.UserID      `json:"accepted_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func NewInvitation(spvID id.SPVID, email string, issuer id.UserID, expiresAt, now time.Time) (*Invitation, error) {
	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	return &Invitation{
		ID:        id.NewInvitationID(),
		Token:     token,
		SPVID:     spvID,
		Email:     NormalizeEmail(email),
		IssuedBy:  issuer,
		Status:    StatusPending,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// NewToken returns 32 random bytes, hex encoded.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate invitation token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeEmails validates, lower-cases and de-duplicates a batch,
// keeping first-seen order.
func NormalizeEmails(emails []string) ([]string, error) {
	if len(emails) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one email is required")
	}
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, raw := range emails {
		email := NormalizeEmail(raw)
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			return nil, dErrors.New(dErrors.CodeValidation, "invalid email: "+raw)
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	return out, nil
}

// Expired reports whether a pending invitation has lapsed at now.
func (i *Invitation) Expired(now time.Time) bool {
	return i.Status == StatusExpired || (i.Status == StatusPending && !now.Before(i.ExpiresAt))
}

// SPVSummary is the part of an SPV an invitee sees before registering.
type SPVSummary struct {
	ID             id.SPVID         `json:"id"`
	Name           string           `json:"name"`
	Type           spvmodels.Type   `json:"spv_type"`
	Status         spvmodels.Status `json:"status"`
	FundraisingEnd time.Time        `json:"fundraising_end"`
}

func Summarize(spv *spvmodels.SPV) SPVSummary {
	return SPVSummary{
		ID:             spv.ID,
		Name:           spv.Name,
		Type:           spv.Type,
		Status:         spv.Status,
		FundraisingEnd: spv.FundraisingEnd,
	}
}

// View is a resolved invitation with its SPV.
type View struct {
	Invitation *Invitation `json:"invitation"`
	SPV        SPVSummary  `json:"spv"`
}

// Link pairs an invitation with the URL sent to the invitee.
type Link struct {
	*Invitation
	URL string `json:"url"`
}
