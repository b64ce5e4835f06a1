package ingest

import "errors"

var (
	// ErrMetadataWriteFailed indicates the relational batch write failed.
	// The transaction rolled back; no partial state is visible. Not
	// retried automatically.
	ErrMetadataWriteFailed = errors.New("metadata write failed")

	// ErrVectorWriteFailed indicates vector upserts failed after bounded
	// retries. The relational rows remain flagged pending_index;
	// RetryPending restores consistency without re-embedding.
	ErrVectorWriteFailed = errors.New("vector write failed")

	// ErrReconciliationFailed indicates a deletion phase broke partway.
	// The document is left in the failed state and requires operator
	// action; automatic retry could duplicate or lose chunks.
	ErrReconciliationFailed = errors.New("reconciliation failed")
)
