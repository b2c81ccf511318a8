// Package postgres implements queue.Backend using pgx/v5 with raw SQL.
// Features: row-locking Pop for competing engines, LISTEN/NOTIFY change
// notification across processes, embedded SQL migrations.
package postgres
