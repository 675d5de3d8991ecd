// Package jobs persists tracked transcode jobs and their retry history in
// SQLite.
//
// The store is the single shared mutable resource in the daemon. Webhook
// ingestion and reconciliation polling both write through UpsertState,
// which validates lifecycle transitions and guards every write with a
// revision check so concurrent writers for the same job race safely: the
// last valid transition wins and redundant or stale writes are dropped
// without error.
package jobs
