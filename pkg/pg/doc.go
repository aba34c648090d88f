// Package pg bootstraps PostgreSQL connectivity for the application: a
// pgx/v5 connection pool with retrying startup, goose schema migrations
// routed through the application logger, a health-check probe, and error
// classification helpers for SQLSTATE codes the storage layer cares about
// (unique and foreign key violations, no-rows results).
//
// The uniqueness helpers matter here: the billing store's idempotency gate
// is a unique index, and callers must be able to tell which constraint a
// 23505 came from.
package pg
