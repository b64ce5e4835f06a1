package vector

import "errors"

var (
	// ErrUnreachable indicates the Qdrant server did not answer health checks.
	ErrUnreachable = errors.New("qdrant server unreachable")

	// ErrDimensionMismatch indicates an embedding whose dimension does not
	// match the collection configuration.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
