package domain

import "time"

// Board is the top-level container owned by a user.
type Board struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	UserID      string    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Column is an ordered lane of a board.
type Column struct {
	ID      string `json:"_id"`
	Title   string `json:"title"`
	BoardID string `json:"boardId"`
	Order   int    `json:"order"`
	Tasks   []Task `json:"tasks"`
}

// Task is a unit of work belonging to exactly one column.
type Task struct {
	ID          string     `json:"_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	ColumnID    string     `json:"columnId"`
	BoardID     string     `json:"boardId"`
	Order       int        `json:"order"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// TaskPatch carries partial task updates. Nil fields are left unchanged.
type TaskPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	ColumnID    *string    `json:"columnId,omitempty"`
	Order       *int       `json:"order,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.ColumnID == nil &&
		p.Order == nil && p.DueDate == nil && p.Labels == nil
}

// ApplyTo returns a copy of t with the set fields of p applied.
func (p TaskPatch) ApplyTo(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.ColumnID != nil {
		t.ColumnID = *p.ColumnID
	}
	if p.Order != nil {
		t.Order = *p.Order
	}
	if p.DueDate != nil {
		due := *p.DueDate
		t.DueDate = &due
	}
	if p.Labels != nil {
		t.Labels = append([]string(nil), p.Labels...)
	}
	return t
}

// User is the authenticated identity as reported by the service.
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	BoardID string `json:"boardId,omitempty"`
}

// Snapshot is a point-in-time copy of the client board state.
type Snapshot struct {
	Board   *Board   `json:"board"`
	Columns []Column `json:"columns"`
	Loading bool     `json:"loading"`
	Error   string   `json:"error,omitempty"`
}

// FindTask returns the task and the index of its column.
func FindTask(columns []Column, taskID string) (Task, int, bool) {
	for ci := range columns {
		for _, t := range columns[ci].Tasks {
			if t.ID == taskID {
				return t, ci, true
			}
		}
	}
	return Task{}, -1, false
}

// ColumnIndex returns the index of the column with the given ID or -1.
func ColumnIndex(columns []Column, columnID string) int {
	for i := range columns {
		if columns[i].ID == columnID {
			return i
		}
	}
	return -1
}

// CloneColumns deep copies columns, their tasks and task labels.
func CloneColumns(columns []Column) []Column {
	if columns == nil {
		return nil
	}
	out := make([]Column, len(columns))
	for i, c := range columns {
		out[i] = c
		out[i].Tasks = cloneTasks(c.Tasks)
	}
	return out
}

func cloneTasks(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		out[i] = cloneTask(t)
	}
	return out
}

func cloneTask(t Task) Task {
	if t.DueDate != nil {
		due := *t.DueDate
		t.DueDate = &due
	}
	if t.Labels != nil {
		t.Labels = append([]string(nil), t.Labels...)
	}
	return t
}
