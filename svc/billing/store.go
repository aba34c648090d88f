package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clubkit/pkg/plan"
)

// Fulfillment is the unit of work the reconciler hands to the store for a
// new-club or trial intent: club, organiser membership, and subscription,
// created atomically or not at all.
type Fulfillment struct {
	UserID   uuid.UUID
	ClubName string

	Tier   plan.Tier
	Status Status

	ProviderCustomerID string
	ProviderSubID      string // empty only for free-tier creation
	CurrentPeriodEnd   *time.Time
}

// FulfillmentResult is the committed triple.
type FulfillmentResult struct {
	Club         Club
	Membership   Membership
	Subscription Subscription
}

// UpgradeParams carries the provider identifiers an in-place upgrade writes
// onto the existing free-tier row.
type UpgradeParams struct {
	ProviderCustomerID string
	ProviderSubID      string
	Status             Status
	CurrentPeriodEnd   *time.Time
}

// Store is the durable subscription store. It owns the uniqueness and
// idempotency invariants: provider subscription ids are globally unique, and
// a club has at most one active-like subscription row.
//
// Every mutating method is a single transaction; a failure mid-way leaves no
// partial state visible to any reader.
type Store interface {
	// SubscriptionByClub returns the club's subscription row.
	// Returns ErrSubscriptionNotFound when none exists.
	SubscriptionByClub(ctx context.Context, clubID uuid.UUID) (*Subscription, error)

	// SubscriptionByProviderSubID looks a row up by the idempotency key.
	SubscriptionByProviderSubID(ctx context.Context, providerSubID string) (*Subscription, error)

	// CreateFulfillment atomically creates the club, organiser membership
	// and subscription. Returns ErrAlreadyFulfilled when a row for the same
	// provider subscription id already exists; a slug collision is resolved
	// internally by uniquifying the slug.
	CreateFulfillment(ctx context.Context, f Fulfillment) (*FulfillmentResult, error)

	// UpgradeInPlace mutates the club's existing free-tier active row to the
	// pro tier with new provider identifiers, preserving the row id. Returns
	// ErrNotUpgradeable when the row is not free and active, and
	// ErrAlreadyFulfilled when the provider subscription id is already
	// recorded.
	UpgradeInPlace(ctx context.Context, clubID uuid.UUID, p UpgradeParams) (*Subscription, error)

	// Downgrade moves the club's subscription to free/active and clears the
	// provider identifiers. Local-only; no processor interaction.
	Downgrade(ctx context.Context, clubID uuid.UUID) error

	// ApplyStatusChange updates the row identified by the provider
	// subscription id with a pushed lifecycle status. Returns
	// ErrSubscriptionNotFound for unknown ids.
	ApplyStatusChange(ctx context.Context, providerSubID string, status Status, periodEnd *time.Time) error

	// IsOrganiser reports whether the user holds an organiser membership.
	IsOrganiser(ctx context.Context, clubID, userID uuid.UUID) (bool, error)

	// TrialEverUsed reports whether any subscription linked to the user's
	// memberships has ever reached the pro tier. Lifetime-once; downgrades
	// do not restore eligibility.
	TrialEverUsed(ctx context.Context, userID uuid.UUID) (bool, error)

	// ActiveClubIDs returns clubs where the user is an organiser and the
	// subscription status is active-like. The Access Gate's only query.
	ActiveClubIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}
