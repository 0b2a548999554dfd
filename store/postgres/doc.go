// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: atomic copy accounting with guarded UPDATEs, TTL-based
// leader election, partial indexes for open loans and active holds,
// embedded SQL migrations.
package postgres
