package document

import (
	"fmt"
	"strings"
)

// SplitUnit selects what the splitter counts: words or characters.
type SplitUnit string

const (
	SplitWord      SplitUnit = "word"
	SplitCharacter SplitUnit = "character"
)

// Splitter splits a source document into ordered chunks.
//
// Splitting is deterministic: identical input and configuration always
// produce the same chunk sequence and the same chunk ids. Re-indexing
// relies on this to be idempotent and diffable.
type Splitter struct {
	unit    SplitUnit
	length  int // maximum units per chunk
	overlap int // units shared with the previous chunk
}

// NewSplitter validates the configuration and returns a Splitter.
// length must be positive and overlap must be in [0, length).
func NewSplitter(unit SplitUnit, length, overlap int) (*Splitter, error) {
	switch unit {
	case SplitWord, SplitCharacter:
	default:
		return nil, fmt.Errorf("%w: unknown split unit %q", ErrInvalidSplitConfig, unit)
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: split length must be positive, got %d", ErrInvalidSplitConfig, length)
	}
	if overlap < 0 || overlap >= length {
		return nil, fmt.Errorf("%w: split overlap must be in [0, %d), got %d", ErrInvalidSplitConfig, length, overlap)
	}
	return &Splitter{unit: unit, length: length, overlap: overlap}, nil
}

// Split splits content into ordered chunks owned by filePath.
// Ordinals are contiguous from 0; chunk ids follow ChunkID. A document
// shorter than the configured length yields exactly one chunk. Chunks carry
// text only; embeddings are attached later in the pipeline.
func (s *Splitter) Split(filePath, content string, meta map[string]any) ([]Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty content for %q", ErrInvalidDocument, filePath)
	}

	units := s.tokenize(content)

	step := s.length - s.overlap
	var chunks []Chunk
	start := 0
	for {
		end := start + s.length
		last := end >= len(units)
		if last {
			end = len(units)
		}

		ordinal := len(chunks)
		chunks = append(chunks, Chunk{
			ID:       ChunkID(filePath, ordinal),
			FilePath: filePath,
			Ordinal:  ordinal,
			Content:  s.join(units[start:end]),
			Metadata: chunkMeta(meta, filePath, ordinal, start),
		})

		if last {
			return chunks, nil
		}
		start += step
	}
}

// Unit returns the configured split unit.
func (s *Splitter) Unit() SplitUnit { return s.unit }

// Length returns the maximum units per chunk.
func (s *Splitter) Length() int { return s.length }

// Overlap returns the units shared with the previous chunk.
func (s *Splitter) Overlap() int { return s.overlap }

func (s *Splitter) tokenize(content string) []string {
	if s.unit == SplitWord {
		return strings.Fields(content)
	}
	// Character mode counts runes, not bytes.
	runes := []rune(content)
	units := make([]string, len(runes))
	for i, r := range runes {
		units[i] = string(r)
	}
	return units
}

func (s *Splitter) join(units []string) string {
	if s.unit == SplitWord {
		return strings.Join(units, " ")
	}
	return strings.Join(units, "")
}

// chunkMeta copies the source metadata and extends it with split provenance.
func chunkMeta(src map[string]any, filePath string, ordinal, start int) map[string]any {
	m := make(map[string]any, len(src)+3)
	for k, v := range src {
		m[k] = v
	}
	m["file_path"] = filePath
	m["split_id"] = ordinal
	m["split_idx_start"] = start
	return m
}
