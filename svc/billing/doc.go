// Package billing owns the club subscription lifecycle: creating checkout
// sessions, reconciling their outcomes into club state, and answering the
// access questions the rest of the application asks.
//
// A checkout carries its intent (new club, trial club, or upgrade of an
// existing club) as session metadata, so fulfillment needs no local state
// written ahead of payment. Two notification paths converge on Fulfil: the
// provider webhook and the client confirmation redirect. Either may arrive
// first, both may arrive, and running both is safe: a unique index on the
// provider subscription id turns the second attempt into ErrAlreadyFulfilled,
// which callers report as success.
//
// Access is derived, never granted directly: a user may act in the clubs
// where they hold a membership and the subscription status is active or
// trialling. Revocation is therefore just a status change.
package billing
