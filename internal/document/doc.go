// Package document defines the core entities of the ingestion model and the
// PostgreSQL-backed stores that persist them.
//
// Two entities:
//
//   - SourceDocument: one uploaded file, keyed by its file path, carrying a
//     content fingerprint and the reconciliation state.
//   - Chunk: a contiguous slice of a document's text, the unit of embedding
//     and retrieval. Chunk identity is a deterministic UUID derived from
//     (file path, ordinal), so re-splitting identical content yields
//     identical ids.
//
// The package also provides the deterministic Splitter that turns a
// document's text into ordered chunks, the Registry over the
// source_documents table, and the ChunkStore over the chunks table.
//
// The chunks table keeps the dense embedding alongside the metadata
// (pgvector column): the relational side is the source of truth for what
// should exist, and holding the vector there lets a failed vector-store
// write be retried without re-embedding.
package document
