package document

import "errors"

var (
	// ErrInvalidDocument indicates empty content or a malformed file path.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrNotFound indicates no registered document exists for the path.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidSplitConfig indicates rejected splitter parameters.
	ErrInvalidSplitConfig = errors.New("invalid split configuration")
)
