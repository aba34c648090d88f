package payment

import (
	"context"
	"time"
)

// Processor is the contract this system requires from the external payment
// provider. Implementations handle all payment complexity through hosted
// checkout pages; the application never touches card data.
type Processor interface {
	// CreateCustomer registers a billing customer and returns the provider's
	// customer id.
	CreateCustomer(ctx context.Context, name, email string, metadata map[string]string) (string, error)

	// CreateCheckoutSession opens a hosted checkout session in subscription
	// mode. The request metadata must round-trip unmodified to the session
	// returned by RetrieveCheckoutSession and to pushed events.
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)

	// RetrieveCheckoutSession resolves a session by id with its subscription
	// expanded. Returns ErrSessionNotFound for unknown ids.
	RetrieveCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)

	// VerifyEvent checks the signature of a pushed event payload and returns
	// the normalized event. Returns ErrInvalidSignature when the payload
	// cannot be trusted; no field of an unverified payload may be read.
	VerifyEvent(payload []byte, signature string) (*Event, error)
}

// CheckoutSessionRequest describes a checkout to open.
type CheckoutSessionRequest struct {
	CustomerID string
	PriceID    string
	Metadata   map[string]string
	SuccessURL string
	CancelURL  string
	TrialDays  int64 // 0 means no trial period
}

// PaymentStatus is the provider's payment state for a checkout session.
type PaymentStatus string

const (
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusNoPaymentRequired PaymentStatus = "no_payment_required"
	PaymentStatusUnpaid            PaymentStatus = "unpaid"
)

// Complete reports whether the session's payment has finished. Unpaid
// sessions may still complete later (async payment methods), so callers
// treat incomplete as retryable rather than fatal.
func (s PaymentStatus) Complete() bool {
	return s == PaymentStatusPaid || s == PaymentStatusNoPaymentRequired
}

// CheckoutSession is the normalized view of a provider checkout session.
type CheckoutSession struct {
	ID            string
	URL           string // hosted checkout URL, set on creation
	CustomerID    string
	PaymentStatus PaymentStatus
	Metadata      map[string]string
	Subscription  *SubscriptionInfo // nil until the provider attaches one
}

// SubscriptionInfo is the slice of provider subscription state fulfillment
// needs: identity, lifecycle status, and the paid-through timestamp.
type SubscriptionInfo struct {
	ID               string
	Status           string // provider vocabulary: trialing, active, canceled, ...
	CurrentPeriodEnd time.Time
}

// EventType is the normalized pushed-event type.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout_completed"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	EventUnknown             EventType = "unknown"
)

// Event is a verified, normalized pushed event.
type Event struct {
	Type          EventType
	ProviderEvent string // original provider event name

	// CheckoutSessionID is set for checkout completion events.
	CheckoutSessionID string

	// Subscription fields are set for subscription lifecycle events.
	SubscriptionID   string
	Status           string
	CurrentPeriodEnd time.Time
}
