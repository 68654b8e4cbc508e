package graph

import "errors"

var (
	// ErrNotFound is returned when a node, file or repository is not in the store.
	ErrNotFound = errors.New("not found in graph")

	// ErrStoreUnavailable wraps driver failures while opening or pinging the store.
	ErrStoreUnavailable = errors.New("graph store unavailable")

	// ErrInvalidWrite is returned when a file write is missing its identity fields.
	ErrInvalidWrite = errors.New("invalid file write")
)
