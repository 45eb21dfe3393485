package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"prism-board/domain"
)

// Memory keeps boards in process memory. It is safe for concurrent use.
type Memory struct {
	mu          sync.Mutex
	boards      map[string]domain.Board
	boardByUser map[string]string
	columns     map[string]domain.Column
	tasks       map[string]domain.Task
	now         func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		boards:      make(map[string]domain.Board),
		boardByUser: make(map[string]string),
		columns:     make(map[string]domain.Column),
		tasks:       make(map[string]domain.Task),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// BoardForUser returns the user's board, creating the default one if needed.
func (m *Memory) BoardForUser(_ context.Context, userID string) (domain.Board, error) {
	if userID == "" {
		return domain.Board{}, invalid("user is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.boardByUser[userID]; ok {
		return m.boards[id], nil
	}
	board := domain.Board{
		ID:        uuid.NewString(),
		Title:     DefaultBoardTitle,
		UserID:    userID,
		CreatedAt: m.now(),
	}
	m.boards[board.ID] = board
	m.boardByUser[userID] = board.ID
	for i, title := range DefaultColumnTitles {
		col := domain.Column{ID: uuid.NewString(), Title: title, BoardID: board.ID, Order: i}
		m.columns[col.ID] = col
	}
	return board, nil
}

// FetchBoard returns the board with its columns and tasks in display order.
func (m *Memory) FetchBoard(_ context.Context, userID, boardID string) (domain.Board, []domain.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	board, err := m.ownedBoard(userID, boardID)
	if err != nil {
		return domain.Board{}, nil, err
	}
	byColumn := make(map[string]int)
	columns := []domain.Column{}
	for _, col := range m.columns {
		if col.BoardID != board.ID {
			continue
		}
		col.Tasks = []domain.Task{}
		byColumn[col.ID] = len(columns)
		columns = append(columns, col)
	}
	for _, t := range m.tasks {
		if i, ok := byColumn[t.ColumnID]; ok {
			columns[i].Tasks = append(columns[i].Tasks, t)
		}
	}
	sortColumns(columns)
	return board, domain.CloneColumns(columns), nil
}

// CreateColumn appends a column to the end of the board.
func (m *Memory) CreateColumn(_ context.Context, userID string, col domain.Column) (domain.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.ownedBoard(userID, col.BoardID); err != nil {
		return domain.Column{}, err
	}
	col.ID = uuid.NewString()
	col.Order = m.columnCount(col.BoardID)
	col.Tasks = []domain.Task{}
	m.columns[col.ID] = domain.Column{ID: col.ID, Title: col.Title, BoardID: col.BoardID, Order: col.Order}
	return col, nil
}

// CreateTask appends a task to the end of its column.
func (m *Memory) CreateTask(_ context.Context, userID string, task domain.Task) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.ownedBoard(userID, task.BoardID); err != nil {
		return domain.Task{}, err
	}
	if err := m.checkColumn(task.BoardID, task.ColumnID); err != nil {
		return domain.Task{}, err
	}
	task.ID = uuid.NewString()
	task.Order = m.taskCount(task.ColumnID)
	task.CreatedAt = m.now()
	if task.Labels != nil {
		task.Labels = append([]string(nil), task.Labels...)
	}
	m.tasks[task.ID] = task
	return task, nil
}

// UpdateTask applies patch. Moving to another column without an explicit
// order appends the task there.
func (m *Memory) UpdateTask(_ context.Context, userID, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, err := m.ownedTask(userID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if patch.ColumnID != nil && *patch.ColumnID != task.ColumnID {
		if err := m.checkColumn(task.BoardID, *patch.ColumnID); err != nil {
			return domain.Task{}, err
		}
		if patch.Order == nil {
			order := m.taskCount(*patch.ColumnID)
			patch.Order = &order
		}
	}
	task = patch.ApplyTo(task)
	m.tasks[task.ID] = task
	return task, nil
}

// DeleteTask removes the task.
func (m *Memory) DeleteTask(_ context.Context, userID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.ownedTask(userID, taskID); err != nil {
		return err
	}
	delete(m.tasks, taskID)
	return nil
}

func (m *Memory) ownedBoard(userID, boardID string) (domain.Board, error) {
	board, ok := m.boards[boardID]
	if !ok {
		return domain.Board{}, domain.ErrNotFound
	}
	if board.UserID != userID {
		return domain.Board{}, domain.ErrForbidden
	}
	return board, nil
}

func (m *Memory) ownedTask(userID, taskID string) (domain.Task, error) {
	task, ok := m.tasks[taskID]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	if _, err := m.ownedBoard(userID, task.BoardID); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (m *Memory) checkColumn(boardID, columnID string) error {
	col, ok := m.columns[columnID]
	if !ok || col.BoardID != boardID {
		return invalid("column %q does not belong to board", columnID)
	}
	return nil
}

func (m *Memory) columnCount(boardID string) int {
	n := 0
	for _, c := range m.columns {
		if c.BoardID == boardID {
			n++
		}
	}
	return n
}

func (m *Memory) taskCount(columnID string) int {
	n := 0
	for _, t := range m.tasks {
		if t.ColumnID == columnID {
			n++
		}
	}
	return n
}
