package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IndexState is the reconciliation state of a source document.
type IndexState string

// Reconciliation states. A document moves clean -> dirty on re-upload with a
// changed fingerprint, dirty -> reindexing when a reconciliation starts, and
// reindexing -> clean on success or -> failed when deletion broke partway.
// Failed is terminal until an operator intervenes.
const (
	StateClean      IndexState = "clean"
	StateDirty      IndexState = "dirty"
	StateReindexing IndexState = "reindexing"
	StateFailed     IndexState = "failed"
)

// SourceDocument is one registered upload, keyed by file path.
// Immutable once fingerprinted except for metadata and modification time.
type SourceDocument struct {
	FilePath      string
	ContentLength int64
	Fingerprint   string
	IndexState    IndexState
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SparseEmbedding holds the optional sparse representation of a chunk as
// parallel index/value pairs.
type SparseEmbedding struct {
	Indices []int32   `json:"indices"`
	Values  []float32 `json:"values"`
}

// Chunk is a contiguous slice of a source document's text.
type Chunk struct {
	ID        uuid.UUID
	FilePath  string
	Ordinal   int
	PageHint  int // 0 means no hint
	Content   string
	Embedding []float32
	Sparse    *SparseEmbedding
	Metadata  map[string]any
	CreatedAt time.Time
}

// chunkNamespace is the fixed UUID namespace for chunk identity. Changing it
// would orphan every previously written vector-store point.
var chunkNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// ChunkID derives the stable chunk identifier from the owning document's
// file path and the chunk's ordinal. SHA-1 UUIDs are deterministic, so
// re-indexing identical content produces identical ids, and they are valid
// Qdrant point ids.
func ChunkID(filePath string, ordinal int) uuid.UUID {
	return uuid.NewSHA1(chunkNamespace, fmt.Appendf(nil, "%s#%d", filePath, ordinal))
}

// Fingerprint computes the content fingerprint used to detect whether a
// document's bytes changed since last indexed.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
