package domain

import (
	"fmt"
	"time"
)

// AccountTier is the subscription level of an account.
type AccountTier string

const (
	TierFree       AccountTier = "free"
	TierPremium    AccountTier = "premium"
	TierEnterprise AccountTier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t AccountTier) Valid() bool {
	switch t {
	case TierFree, TierPremium, TierEnterprise:
		return true
	}
	return false
}

// LabelClean is the generation pattern of accounts that carry no archetype label.
const LabelClean = ""

// User is an account identity plus its ground-truth label.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	HomeCountry string    `json:"homeCountry"`
	CreatedAt   time.Time `json:"createdAt"`

	// GenerationPattern names the archetype that produced the account's
	// timeline. Empty for organically labeled data.
	GenerationPattern string `json:"generationPattern,omitempty"`
	// IsFraud is true when GenerationPattern is an adversarial archetype.
	IsFraud       bool `json:"isFraud"`
	IsFraudVictim bool `json:"isFraudVictim"`
	// Fishy accounts were created to execute an adversarial pattern.
	Fishy bool `json:"fishy"`

	Profile UserProfile `json:"profile"`
}

// UserProfile holds the mutable, display-facing attributes of an account.
type UserProfile struct {
	DisplayName      string `json:"displayName"`
	Headline         string `json:"headline"`
	Summary          string `json:"summary"`
	Location         string `json:"location,omitempty"`
	HasPhoto         bool   `json:"hasPhoto"`
	ClonedFromUserID string `json:"clonedFromUserId,omitempty"`

	EmailVerified    bool        `json:"emailVerified"`
	TwoFactorEnabled bool        `json:"twoFactorEnabled"`
	PhoneVerified    bool        `json:"phoneVerified"`
	Tier             AccountTier `json:"tier"`

	ConnectionsCount     int      `json:"connectionsCount"`
	EndorsementsCount    int      `json:"endorsementsCount"`
	ProfileViewsReceived int      `json:"profileViewsReceived"`
	Groups               []string `json:"groups,omitempty"`
}

// NewUser builds a user and checks its identity and profile rules.
func NewUser(id, homeCountry string, createdAt time.Time, profile UserProfile) (User, error) {
	if id == "" {
		return User{}, &ValidationError{Invariant: InvTargetPresence, Field: "user_id", Reason: "user id is required"}
	}
	if err := profile.Check(id); err != nil {
		return User{}, err
	}
	return User{
		ID:          id,
		Email:       id + "@example.com",
		HomeCountry: homeCountry,
		CreatedAt:   createdAt.UTC(),
		Profile:     profile,
	}, nil
}

// Check validates the profile as owned by ownerID.
func (p UserProfile) Check(ownerID string) error {
	if p.ClonedFromUserID != "" && p.ClonedFromUserID == ownerID {
		return &ValidationError{Invariant: InvClonedFromSelf, Field: "cloned_from_user_id", Reason: "a profile cannot be cloned from its own account"}
	}
	if p.Tier != "" && !p.Tier.Valid() {
		return &ValidationError{Invariant: InvMetadataKind, Field: "tier", Reason: fmt.Sprintf("unknown account tier %q", p.Tier)}
	}
	if p.ConnectionsCount < 0 || p.EndorsementsCount < 0 || p.ProfileViewsReceived < 0 {
		return &ValidationError{Invariant: InvMetadataKind, Field: "counts", Reason: "profile counts must not be negative"}
	}
	return nil
}

// CloneOf returns a copy of p marked as impersonating source. The display
// fields are copied from source, counts and verification are not.
func (p UserProfile) CloneOf(ownerID string, source User) (UserProfile, error) {
	if source.ID == "" {
		return UserProfile{}, &ValidationError{Invariant: InvClonedFromSelf, Field: "cloned_from_user_id", Reason: "clone source is required"}
	}
	p.DisplayName = source.Profile.DisplayName
	p.Headline = source.Profile.Headline
	p.Summary = source.Profile.Summary
	p.Location = source.Profile.Location
	p.HasPhoto = source.Profile.HasPhoto
	p.ClonedFromUserID = source.ID
	if err := p.Check(ownerID); err != nil {
		return UserProfile{}, err
	}
	return p, nil
}

// Completeness is the share of the display fields that are filled in.
func (p UserProfile) Completeness() float64 {
	filled := 0
	for _, ok := range []bool{
		p.DisplayName != "",
		p.Headline != "",
		p.Summary != "",
		p.Location != "",
		p.HasPhoto,
	} {
		if ok {
			filled++
		}
	}
	return float64(filled) / 5
}

// InGroup reports whether the profile lists groupID among its memberships.
func (p UserProfile) InGroup(groupID string) bool {
	for _, g := range p.Groups {
		if g == groupID {
			return true
		}
	}
	return false
}

// Labeled reports whether the account carries an archetype label.
func (u User) Labeled() bool { return u.GenerationPattern != LabelClean }
