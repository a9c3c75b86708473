// Package ledger records which input resources have been fully synchronized.
//
// A record is written only after every primary CRM write for a resource has
// succeeded, so presence of a completed record is the sole authority for
// "already synced". An interrupted run leaves nothing behind and the resource
// stays eligible for a clean retry.
//
// # Backends
//
//   - SQLite (default): a local file in WAL mode, schema embedded from
//     schema.sql, upgraded through PRAGMA user_version migrations.
//   - PostgreSQL: selected when the location is a postgres:// DSN.
//
// # Idempotency
//
// MarkProcessed is a single-statement upsert keyed by resource_id. Calling it
// twice with the same id leaves exactly one record and the second call is a
// no-op. Forget is the only way a record is removed.
package ledger
