// Package payment abstracts the external payment processor behind the
// minimal contract the billing core needs: customer creation, hosted
// checkout sessions carrying round-trip metadata, session retrieval with the
// subscription expanded, and signed-event verification.
//
// The Stripe implementation uses the official stripe-go SDK. A Mock double
// backs the billing service tests and lets them drive payment completion and
// event delivery deterministically.
package payment
