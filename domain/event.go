package domain

import "encoding/json"

// Change feed event types published by the board service.
const (
	BoardCreated  = "board-created"
	ColumnCreated = "column-created"
	TaskCreated   = "task-created"
	TaskUpdated   = "task-updated"
	TaskDeleted   = "task-deleted"
)

// Event describes a persisted change to a board.
type Event struct {
	ID         string          `json:"id"`
	EntityID   string          `json:"entityId"`
	EntityType string          `json:"entityType"`
	Type       string          `json:"type"`
	BoardID    string          `json:"boardId"`
	UserID     string          `json:"userId"`
	Data       json.RawMessage `json:"data,omitempty"`
	Time       int64           `json:"time"`
}
