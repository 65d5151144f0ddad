package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Typed identifiers keep an SPV id from being passed where a subscription id
// is expected. Construct them with the Parse* functions at trust boundaries.
type (
	// UserID identifies an account. Investor and manager identity records share
	// their owning user's id.
	UserID         uuid.UUID
	SPVID          uuid.UUID
	SubscriptionID uuid.UUID
	InvitationID   uuid.UUID
	ReviewID       uuid.UUID
	DistributionID uuid.UUID
)

func (i UserID) String() string         { return uuid.UUID(i).String() }
func (i SPVID) String() string          { return uuid.UUID(i).String() }
func (i SubscriptionID) String() string { return uuid.UUID(i).String() }
func (i InvitationID) String() string   { return uuid.UUID(i).String() }
func (i ReviewID) String() string       { return uuid.UUID(i).String() }
func (i DistributionID) String() string { return uuid.UUID(i).String() }

func (i UserID) IsNil() bool         { return uuid.UUID(i) == uuid.Nil }
func (i SPVID) IsNil() bool          { return uuid.UUID(i) == uuid.Nil }
func (i SubscriptionID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }

func NewUserID() UserID                 { return UserID(uuid.New()) }
func NewSPVID() SPVID                   { return SPVID(uuid.New()) }
func NewSubscriptionID() SubscriptionID { return SubscriptionID(uuid.New()) }
func NewInvitationID() InvitationID     { return InvitationID(uuid.New()) }
func NewReviewID() ReviewID             { return ReviewID(uuid.New()) }
func NewDistributionID() DistributionID { return DistributionID(uuid.New()) }

func ParseUserID(s string) (UserID, error) {
	u, err := parse("user", s)
	return UserID(u), err
}

func ParseSPVID(s string) (SPVID, error) {
	u, err := parse("spv", s)
	return SPVID(u), err
}

func ParseSubscriptionID(s string) (SubscriptionID, error) {
	u, err := parse("subscription", s)
	return SubscriptionID(u), err
}

func parse(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("%s id is required", kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id: %w", kind, err)
	}
	if u == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%s id must not be nil", kind)
	}
	return u, nil
}

// Text marshalling lets typed ids appear as strings in JSON bodies.

func (i UserID) MarshalText() ([]byte, error)         { return uuid.UUID(i).MarshalText() }
func (i SPVID) MarshalText() ([]byte, error)          { return uuid.UUID(i).MarshalText() }
func (i SubscriptionID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }
func (i InvitationID) MarshalText() ([]byte, error)   { return uuid.UUID(i).MarshalText() }
func (i ReviewID) MarshalText() ([]byte, error)       { return uuid.UUID(i).MarshalText() }
func (i DistributionID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }

func (i *UserID) UnmarshalText(b []byte) error         { return (*uuid.UUID)(i).UnmarshalText(b) }
func (i *SPVID) UnmarshalText(b []byte) error          { return (*uuid.UUID)(i).UnmarshalText(b) }
func (i *SubscriptionID) UnmarshalText(b []byte) error { return (*uuid.UUID)(i).UnmarshalText(b) }
func (i *InvitationID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(i).UnmarshalText(b) }
func (i *ReviewID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(i).UnmarshalText(b) }
func (i *DistributionID) UnmarshalText(b []byte) error { return (*uuid.UUID)(i).UnmarshalText(b) }
