// Package ingest implements the write path of the dual-store model: the
// coordinator that persists a document's chunks to PostgreSQL and Qdrant as
// one logical unit, and the reconciler that brings both stores back into
// agreement when a document changes or is removed.
//
// Consistency is achieved by ordering and idempotence, not by distributed
// transactions:
//
//   - The relational batch write is the only store-native transaction; it
//     commits rows flagged pending_index.
//   - Vector writes are idempotent upserts keyed by deterministic chunk
//     ids, retried with bounded exponential backoff. Exhausted retries
//     leave the relational rows pending; RetryPending re-runs the vector
//     phase alone, reading the persisted embeddings.
//   - Re-indexing deletes old chunks from the vector store first, then the
//     relational store, before recreating, so a changed document never
//     serves stale chunks.
//
// All mutations for one source key are serialized through a process-wide
// keyed lock; different keys proceed in parallel.
package ingest
