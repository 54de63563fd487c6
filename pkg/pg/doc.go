// Package pg bootstraps the PostgreSQL layer: a pgx/v5 connection pool with
// retrying startup, goose schema migrations, a health probe, and error
// classification helpers used by the stores.
package pg
