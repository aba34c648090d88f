// Package redis provides connection helpers around the go-redis client:
// a retrying Connect bounded by a timeout, env-driven configuration, and a
// readiness probe. Sentinel errors wrap the driver errors with errors.Join
// so callers can compare with errors.Is.
package redis
