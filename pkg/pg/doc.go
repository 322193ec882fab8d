// Package pg provides PostgreSQL connection pooling, health checks, and
// goose-based schema migrations for the flag store.
package pg
