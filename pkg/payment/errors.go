package payment

import "errors"

var (
	// ErrProcessor wraps network/API failures from the external provider.
	// Retried by caller-side policy, never by this package.
	ErrProcessor = errors.New("payment processor error")

	// ErrInvalidSignature marks a pushed payload that failed verification.
	ErrInvalidSignature = errors.New("event signature verification failed")

	// ErrSessionNotFound marks a checkout session id the provider does not know.
	ErrSessionNotFound = errors.New("checkout session not found")

	// ErrMissingAPIKey and ErrMissingWebhookSecret guard construction.
	ErrMissingAPIKey        = errors.New("payment provider API key is required")
	ErrMissingWebhookSecret = errors.New("payment provider webhook secret is required")

	// ErrNoCheckoutURL is returned when the provider creates a session
	// without a hosted redirect URL.
	ErrNoCheckoutURL = errors.New("no checkout URL returned from provider")
)
