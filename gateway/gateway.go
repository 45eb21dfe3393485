// Package gateway is the request/response boundary to the board persistence
// service.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"prism-board/domain"
)

// Gateway is the remote board service as seen by the store.
type Gateway interface {
	// FetchBoard loads a board with its columns and tasks. An empty boardID
	// selects the caller's current board.
	FetchBoard(ctx context.Context, boardID string) (BoardResponse, error)
	CreateColumn(ctx context.Context, req CreateColumnRequest) (domain.Column, error)
	CreateTask(ctx context.Context, req CreateTaskRequest) (domain.Task, error)
	UpdateTask(ctx context.Context, taskID string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, taskID string) error
	CurrentUser(ctx context.Context) (domain.User, error)
}

// Credentials supplies the bearer token attached to every request.
type Credentials interface {
	Token() string
}

// BoardResponse is the body of GET /board.
type BoardResponse struct {
	Board   domain.Board    `json:"board"`
	Columns []domain.Column `json:"columns"`
}

// CreateColumnRequest is the body of POST /column.
type CreateColumnRequest struct {
	Title   string `json:"title"`
	BoardID string `json:"boardId"`
}

// CreateTaskRequest is the body of POST /task.
type CreateTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ColumnID    string `json:"columnId"`
	BoardID     string `json:"boardId"`
}

type columnResponse struct {
	Column domain.Column `json:"column"`
}

type taskResponse struct {
	Task domain.Task `json:"task"`
}

type userResponse struct {
	User domain.User `json:"user"`
}

// ErrorResponse is the body the service sends with non-2xx responses.
type ErrorResponse struct {
	Message string `json:"message"`
}

// Error is returned for non-2xx responses.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway: status %d: %s", e.StatusCode, e.Message)
}

// MessageOf returns the human-readable message the service attached to err.
func MessageOf(err error) (string, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return gwErr.Message, true
	}
	return "", false
}
