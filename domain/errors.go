package domain

import "errors"

var (
	// ErrNotFound is returned when a board, column or task does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller does not own the board.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation is returned for malformed input. It is usually wrapped.
	ErrValidation = errors.New("validation failed")
	// ErrColumnLimit is returned when a board already holds the maximum number of columns.
	ErrColumnLimit = errors.New("column limit reached")
)
