package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/wragapp/wrag/internal/document"
	"github.com/wragapp/wrag/internal/vector"
)

// ChunkReader fetches chunk metadata for retrieved ids.
// *document.ChunkStore satisfies this interface.
type ChunkReader interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]document.Chunk, error)
}

// ContextBlock is one deduplicated passage with its provenance.
type ContextBlock struct {
	Chunk document.Chunk
	Score float32
}

// AssembleOptions control ordering and size of the assembled context.
type AssembleOptions struct {
	// MaxContextChunks caps the number of blocks; zero means no cap.
	MaxContextChunks int

	// DocumentOrder orders blocks by (file path, ordinal) instead of the
	// default descending score. Useful when the prompt benefits from
	// locally coherent passages.
	DocumentOrder bool
}

// Assembler turns ranked retrieval hits into an ordered, deduplicated list
// of context blocks. Hits whose metadata is missing from the relational
// store are skipped and logged, never fatal.
type Assembler struct {
	chunks  ChunkReader
	length  int
	overlap int
	logger  *slog.Logger
}

// NewAssembler creates an Assembler. length and overlap are the configured
// split window parameters; they decide which ordinals of the same document
// share text.
func NewAssembler(chunks ChunkReader, length, overlap int, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{chunks: chunks, length: length, overlap: overlap, logger: logger}
}

// Assemble resolves hit ids against the relational store, collapses
// overlapping passages of the same document to the highest-scored one, and
// orders the result.
func (a *Assembler) Assemble(ctx context.Context, hits []vector.ScoredID, opts AssembleOptions) ([]ContextBlock, error) {
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}

	chunks, err := a.chunks.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve chunk metadata: %w", err)
	}
	byID := make(map[uuid.UUID]document.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	blocks := make([]ContextBlock, 0, len(hits))
	for _, h := range hits {
		c, ok := byID[h.ID]
		if !ok {
			a.logger.Warn("retrieved chunk has no relational record, skipping",
				"chunk_id", h.ID)
			continue
		}
		blocks = append(blocks, ContextBlock{Chunk: c, Score: h.Score})
	}

	blocks = a.dedupe(blocks)

	if opts.DocumentOrder {
		sort.SliceStable(blocks, func(i, j int) bool {
			if blocks[i].Chunk.FilePath != blocks[j].Chunk.FilePath {
				return blocks[i].Chunk.FilePath < blocks[j].Chunk.FilePath
			}
			return blocks[i].Chunk.Ordinal < blocks[j].Chunk.Ordinal
		})
	} else {
		sort.SliceStable(blocks, func(i, j int) bool {
			return blocks[i].Score > blocks[j].Score
		})
	}

	if opts.MaxContextChunks > 0 && len(blocks) > opts.MaxContextChunks {
		blocks = blocks[:opts.MaxContextChunks]
	}
	return blocks, nil
}

// dedupe keeps the highest-scored block of every overlapping group. Two
// ordinals n and m of the same document share text when the windows
// starting at n*step and m*step intersect, i.e. |n-m|*step < length with
// step = length-overlap. Overlap is transitive within a group: each block
// joins the group of any already-kept block it overlaps.
func (a *Assembler) dedupe(blocks []ContextBlock) []ContextBlock {
	step := a.length - a.overlap

	// Highest score first so the first block seen per group is the keeper.
	sorted := make([]ContextBlock, len(blocks))
	copy(sorted, blocks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	type keptBlock struct {
		filePath string
		ordinal  int
	}
	var kept []keptBlock
	var out []ContextBlock
	for _, b := range sorted {
		overlapping := false
		for _, k := range kept {
			if k.filePath != b.Chunk.FilePath {
				continue
			}
			diff := b.Chunk.Ordinal - k.ordinal
			if diff < 0 {
				diff = -diff
			}
			if diff*step < a.length {
				overlapping = true
				break
			}
		}
		if overlapping {
			continue
		}
		kept = append(kept, keptBlock{b.Chunk.FilePath, b.Chunk.Ordinal})
		out = append(out, b)
	}
	return out
}
