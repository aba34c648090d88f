package billing

import "errors"

var (
	// ErrUnauthenticated means no caller identity was provided where one is required.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrNotOrganiser means the caller has no organiser membership for the club.
	ErrNotOrganiser = errors.New("caller is not an organiser of this club")

	// ErrIdentityMismatch means the authenticated caller does not match the
	// user identity carried in the checkout intent metadata.
	ErrIdentityMismatch = errors.New("caller identity does not match checkout intent")

	// ErrValidation marks missing or malformed request fields.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidSession means the checkout session could not be resolved to
	// a subscription and intent.
	ErrInvalidSession = errors.New("checkout session could not be resolved")

	// ErrInvalidIntent marks intent metadata that fails exhaustive validation.
	ErrInvalidIntent = errors.New("invalid checkout intent metadata")

	// ErrPaymentIncomplete means the session's payment has not finished.
	// Recoverable: the caller may retry, or the other notification path may
	// complete fulfillment once payment settles.
	ErrPaymentIncomplete = errors.New("checkout payment not completed")

	// ErrNotUpgradeable means the club's subscription is not a free-tier
	// active row and cannot be upgraded.
	ErrNotUpgradeable = errors.New("club subscription is not upgradeable")

	// ErrAlreadyTrialled means the user has already consumed their lifetime
	// trial eligibility.
	ErrAlreadyTrialled = errors.New("trial already used")

	// ErrAlreadyFulfilled is the idempotency gate's signal: a subscription
	// row with this provider subscription id already exists. Never surfaced
	// to callers as a failure; fulfillment treats it as success.
	ErrAlreadyFulfilled = errors.New("checkout already fulfilled")

	// ErrSubscriptionNotFound means no subscription row exists for the key.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)
