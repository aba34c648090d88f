package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clubkit/pkg/plan"
)

// Status represents the lifecycle state of a club's subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusTrialling Status = "trialling"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// ActiveLike reports whether the status grants access to the club.
func (s Status) ActiveLike() bool {
	return s == StatusActive || s == StatusTrialling
}

// StatusFromProvider maps the processor's subscription status vocabulary to
// the internal one. Unrecognized statuses fold to expired so a vocabulary
// drift on the provider side locks access rather than granting it.
func StatusFromProvider(s string) Status {
	switch s {
	case "trialing", "trialling":
		return StatusTrialling
	case "active":
		return StatusActive
	case "canceled", "cancelled":
		return StatusCancelled
	default:
		return StatusExpired
	}
}

// Club is a scheduling club. Created by the fulfillment reconciler as a side
// effect of a first successful subscription, or directly for free-tier use.
type Club struct {
	ID        uuid.UUID
	Name      string
	Slug      string // unique, URL-safe, derived from Name
	CreatedAt time.Time
}

// Membership associates a user with a club as its organiser.
type Membership struct {
	ClubID    uuid.UUID
	UserID    uuid.UUID
	CreatedAt time.Time
}

// Subscription is the durable billing state of a club. A club owns at most
// one row with an active-like status at any time.
type Subscription struct {
	ID     uuid.UUID
	ClubID uuid.UUID
	Tier   plan.Tier
	Status Status

	// Provider identifiers. Empty for free-tier rows. ProviderSubID, when
	// present, is unique across all rows: it is the idempotency key that
	// prevents double fulfillment.
	ProviderCustomerID string
	ProviderSubID      string

	// EverPro records that the row has at some point reached the pro tier.
	// Never cleared, even by downgrade; trial eligibility depends on it.
	EverPro bool

	CurrentPeriodEnd *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Upgradeable reports whether the subscription can be taken through a paid
// upgrade checkout: only a free-tier row in active status qualifies.
func (s *Subscription) Upgradeable() bool {
	return s.Tier == plan.TierFree && s.Status == StatusActive
}
