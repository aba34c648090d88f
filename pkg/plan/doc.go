// Package plan maps subscription tiers to feature limits and flags. Pure
// lookup, no state or I/O; the billing service records a club's tier and the
// rest of the application consults this package to decide what that tier
// permits.
package plan
