package api

import (
	"context"

	"prism-board/domain"
)

// Storage abstracts board persistence for handlers. Every call is scoped to
// the authenticated user; entities owned by someone else are reported as
// domain.ErrForbidden or domain.ErrNotFound.
type Storage interface {
	// BoardForUser returns the user's current board, provisioning a default
	// one on first use.
	BoardForUser(ctx context.Context, userID string) (domain.Board, error)
	FetchBoard(ctx context.Context, userID, boardID string) (domain.Board, []domain.Column, error)
	CreateColumn(ctx context.Context, userID string, col domain.Column) (domain.Column, error)
	CreateTask(ctx context.Context, userID string, task domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, userID, taskID string) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the write fails.
	Remove(ctx context.Context, userID, key string) error
}

// Identifier is optionally implemented by an Authenticator that can report
// profile claims for GET /auth/me.
type Identifier interface {
	UserFromAuthHeader(string) (domain.User, error)
}

// Option tunes handler behaviour.
type Option func(*options)

type options struct {
	maxColumns int
}

// WithMaxColumns caps the number of columns per board. Zero means unlimited.
func WithMaxColumns(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.maxColumns = n
	}
}
