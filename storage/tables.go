package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// TablesConfig names the Azure resources used by Tables.
type TablesConfig struct {
	ConnectionString string
	BoardsTable      string
	ColumnsTable     string
	TasksTable       string
	// EventsQueue is optional. When set every mutation is published to it.
	EventsQueue string
}

// Tables persists boards in Azure Table Storage. Boards are partitioned by
// user, columns and tasks by board.
type Tables struct {
	boards  *aztables.Client
	columns *aztables.Client
	tasks   *aztables.Client
	events  *azqueue.QueueClient
	log     *log.Logger
	now     func() time.Time
}

var retryStatusCodes = []int{408, 429, 500, 502, 503, 504}

// NewTables creates a Tables backend from cfg.
func NewTables(cfg TablesConfig, logger *log.Logger) (*Tables, error) {
	if cfg.ConnectionString == "" || cfg.BoardsTable == "" || cfg.ColumnsTable == "" || cfg.TasksTable == "" {
		return nil, errors.New("storage: missing tables config")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	svc, err := aztables.NewServiceClientFromConnectionString(cfg.ConnectionString, &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   retryStatusCodes,
			},
		},
	})
	if err != nil {
		return nil, err
	}
	t := &Tables{
		boards:  svc.NewClient(cfg.BoardsTable),
		columns: svc.NewClient(cfg.ColumnsTable),
		tasks:   svc.NewClient(cfg.TasksTable),
		log:     logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if cfg.EventsQueue != "" {
		t.events, err = azqueue.NewQueueClientFromConnectionString(cfg.ConnectionString, cfg.EventsQueue, &azqueue.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				Retry: policy.RetryOptions{
					MaxRetries:    5,
					RetryDelay:    time.Second,
					MaxRetryDelay: time.Minute,
					StatusCodes:   retryStatusCodes,
				},
			},
		})
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// EnsureResources creates the tables and the events queue when missing.
func (t *Tables) EnsureResources(ctx context.Context) error {
	for _, c := range []*aztables.Client{t.boards, t.columns, t.tasks} {
		if _, err := c.CreateTable(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
	}
	if t.events != nil {
		if _, err := t.events.Create(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return err
			}
		}
	}
	return nil
}

type boardEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description,omitempty"`
	CreatedAt   string `json:"CreatedAt"`
}

type columnEntity struct {
	aztables.Entity
	Title string `json:"Title"`
	Order int    `json:"Order"`
}

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description,omitempty"`
	ColumnID    string `json:"ColumnId"`
	Order       int    `json:"Order"`
	DueDate     string `json:"DueDate,omitempty"`
	Labels      string `json:"Labels,omitempty"`
	CreatedAt   string `json:"CreatedAt"`
}

// BoardForUser returns the user's board, provisioning the default one.
func (t *Tables) BoardForUser(ctx context.Context, userID string) (domain.Board, error) {
	if userID == "" {
		return domain.Board{}, invalid("user is required")
	}
	var found []domain.Board
	err := listEntities(ctx, t.boards, partitionFilter(userID), func(data []byte) error {
		var ent boardEntity
		if err := json.Unmarshal(data, &ent); err != nil {
			return err
		}
		found = append(found, boardFromEntity(ent))
		return nil
	})
	if err != nil {
		return domain.Board{}, err
	}
	if len(found) > 0 {
		oldest := found[0]
		for _, b := range found[1:] {
			if b.CreatedAt.Before(oldest.CreatedAt) {
				oldest = b
			}
		}
		return oldest, nil
	}

	board := domain.Board{ID: uuid.NewString(), Title: DefaultBoardTitle, UserID: userID, CreatedAt: t.now()}
	if err := addEntity(ctx, t.boards, boardToEntity(board)); err != nil {
		return domain.Board{}, err
	}
	for i, title := range DefaultColumnTitles {
		col := domain.Column{ID: uuid.NewString(), Title: title, BoardID: board.ID, Order: i}
		if err := addEntity(ctx, t.columns, columnToEntity(col)); err != nil {
			return domain.Board{}, err
		}
	}
	t.publish(ctx, userID, board.ID, "board", board.ID, domain.BoardCreated, board)
	return board, nil
}

// FetchBoard loads the board with its columns and tasks. Boards of other
// users are reported as not found.
func (t *Tables) FetchBoard(ctx context.Context, userID, boardID string) (domain.Board, []domain.Column, error) {
	board, err := t.board(ctx, userID, boardID)
	if err != nil {
		return domain.Board{}, nil, err
	}
	columns, err := t.listColumns(ctx, boardID)
	if err != nil {
		return domain.Board{}, nil, err
	}
	tasks, err := t.listTasks(ctx, boardID, "")
	if err != nil {
		return domain.Board{}, nil, err
	}
	index := make(map[string]int, len(columns))
	for i := range columns {
		index[columns[i].ID] = i
	}
	for _, task := range tasks {
		if i, ok := index[task.ColumnID]; ok {
			columns[i].Tasks = append(columns[i].Tasks, task)
		}
	}
	sortColumns(columns)
	return board, columns, nil
}

// CreateColumn appends a column to the board.
func (t *Tables) CreateColumn(ctx context.Context, userID string, col domain.Column) (domain.Column, error) {
	if _, err := t.board(ctx, userID, col.BoardID); err != nil {
		return domain.Column{}, err
	}
	existing, err := t.listColumns(ctx, col.BoardID)
	if err != nil {
		return domain.Column{}, err
	}
	col.ID = uuid.NewString()
	col.Order = len(existing)
	col.Tasks = []domain.Task{}
	if err := addEntity(ctx, t.columns, columnToEntity(col)); err != nil {
		return domain.Column{}, err
	}
	t.publish(ctx, userID, col.BoardID, "column", col.ID, domain.ColumnCreated, col)
	return col, nil
}

// CreateTask appends a task to its column.
func (t *Tables) CreateTask(ctx context.Context, userID string, task domain.Task) (domain.Task, error) {
	if _, err := t.board(ctx, userID, task.BoardID); err != nil {
		return domain.Task{}, err
	}
	if err := t.checkColumn(ctx, task.BoardID, task.ColumnID); err != nil {
		return domain.Task{}, err
	}
	siblings, err := t.listTasks(ctx, task.BoardID, task.ColumnID)
	if err != nil {
		return domain.Task{}, err
	}
	task.ID = uuid.NewString()
	task.Order = len(siblings)
	task.CreatedAt = t.now()
	ent, err := taskToEntity(task)
	if err != nil {
		return domain.Task{}, err
	}
	if err := addEntity(ctx, t.tasks, ent); err != nil {
		return domain.Task{}, err
	}
	t.publish(ctx, userID, task.BoardID, "task", task.ID, domain.TaskCreated, task)
	return task, nil
}

// UpdateTask applies patch and replaces the stored entity.
func (t *Tables) UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	task, err := t.ownedTask(ctx, userID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if patch.ColumnID != nil && *patch.ColumnID != task.ColumnID {
		if err := t.checkColumn(ctx, task.BoardID, *patch.ColumnID); err != nil {
			return domain.Task{}, err
		}
		if patch.Order == nil {
			siblings, err := t.listTasks(ctx, task.BoardID, *patch.ColumnID)
			if err != nil {
				return domain.Task{}, err
			}
			order := len(siblings)
			patch.Order = &order
		}
	}
	task = patch.ApplyTo(task)
	ent, err := taskToEntity(task)
	if err != nil {
		return domain.Task{}, err
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := t.tasks.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return domain.Task{}, err
	}
	t.publish(ctx, userID, task.BoardID, "task", task.ID, domain.TaskUpdated, patch)
	return task, nil
}

// DeleteTask removes the task entity.
func (t *Tables) DeleteTask(ctx context.Context, userID, taskID string) error {
	task, err := t.ownedTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	if _, err := t.tasks.DeleteEntity(ctx, task.BoardID, task.ID, nil); err != nil {
		if isNotFound(err) {
			return domain.ErrNotFound
		}
		return err
	}
	t.publish(ctx, userID, task.BoardID, "task", task.ID, domain.TaskDeleted, nil)
	return nil
}

func (t *Tables) board(ctx context.Context, userID, boardID string) (domain.Board, error) {
	if boardID == "" {
		return domain.Board{}, domain.ErrNotFound
	}
	resp, err := t.boards.GetEntity(ctx, userID, boardID, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Board{}, domain.ErrNotFound
		}
		return domain.Board{}, err
	}
	var ent boardEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Board{}, err
	}
	return boardFromEntity(ent), nil
}

// ownedTask searches the user's boards for the task.
func (t *Tables) ownedTask(ctx context.Context, userID, taskID string) (domain.Task, error) {
	var boardIDs []string
	err := listEntities(ctx, t.boards, partitionFilter(userID), func(data []byte) error {
		var ent aztables.Entity
		if err := json.Unmarshal(data, &ent); err != nil {
			return err
		}
		boardIDs = append(boardIDs, ent.RowKey)
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	for _, boardID := range boardIDs {
		resp, err := t.tasks.GetEntity(ctx, boardID, taskID, nil)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return domain.Task{}, err
		}
		return decodeTask(resp.Value)
	}
	return domain.Task{}, domain.ErrNotFound
}

func (t *Tables) checkColumn(ctx context.Context, boardID, columnID string) error {
	if columnID == "" {
		return invalid("column is required")
	}
	if _, err := t.columns.GetEntity(ctx, boardID, columnID, nil); err != nil {
		if isNotFound(err) {
			return invalid("column %q does not belong to board", columnID)
		}
		return err
	}
	return nil
}

func (t *Tables) listColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	columns := []domain.Column{}
	err := listEntities(ctx, t.columns, partitionFilter(boardID), func(data []byte) error {
		var ent columnEntity
		if err := json.Unmarshal(data, &ent); err != nil {
			return err
		}
		columns = append(columns, columnFromEntity(ent))
		return nil
	})
	return columns, err
}

func (t *Tables) listTasks(ctx context.Context, boardID, columnID string) ([]domain.Task, error) {
	filter := partitionFilter(boardID)
	if columnID != "" {
		filter += " and ColumnId eq " + odataQuote(columnID)
	}
	var tasks []domain.Task
	err := listEntities(ctx, t.tasks, filter, func(data []byte) error {
		task, err := decodeTask(data)
		if err != nil {
			return err
		}
		tasks = append(tasks, task)
		return nil
	})
	return tasks, err
}

func (t *Tables) publish(ctx context.Context, userID, boardID, entityType, entityID, eventType string, data any) {
	if t.events == nil {
		return
	}
	ev, err := newEvent(userID, boardID, entityType, entityID, eventType, data, t.now())
	if err == nil {
		var payload []byte
		payload, err = json.Marshal(ev)
		if err == nil {
			_, err = t.events.EnqueueMessage(ctx, string(payload), nil)
		}
	}
	if err != nil {
		t.log.WithError(err).WithFields(log.Fields{
			"event_type": eventType,
			"entity_id":  entityID,
		}).Warn("publish board event")
	}
}

func newEvent(userID, boardID, entityType, entityID, eventType string, data any, at time.Time) (domain.Event, error) {
	ev := domain.Event{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		EntityType: entityType,
		Type:       eventType,
		BoardID:    boardID,
		UserID:     userID,
		Time:       at.UnixMilli(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return domain.Event{}, err
		}
		ev.Data = raw
	}
	return ev, nil
}

func listEntities(ctx context.Context, c *aztables.Client, filter string, fn func([]byte) error) error {
	pager := c.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, e := range resp.Entities {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

func addEntity(ctx context.Context, c *aztables.Client, ent any) error {
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = c.AddEntity(ctx, payload, nil)
	return err
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func partitionFilter(pk string) string {
	return "PartitionKey eq " + odataQuote(pk)
}

func odataQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func boardToEntity(b domain.Board) boardEntity {
	return boardEntity{
		Entity:      aztables.Entity{PartitionKey: b.UserID, RowKey: b.ID},
		Title:       b.Title,
		Description: b.Description,
		CreatedAt:   b.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func boardFromEntity(ent boardEntity) domain.Board {
	created, _ := time.Parse(time.RFC3339Nano, ent.CreatedAt)
	return domain.Board{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		UserID:      ent.PartitionKey,
		CreatedAt:   created,
	}
}

func columnToEntity(c domain.Column) columnEntity {
	return columnEntity{
		Entity: aztables.Entity{PartitionKey: c.BoardID, RowKey: c.ID},
		Title:  c.Title,
		Order:  c.Order,
	}
}

func columnFromEntity(ent columnEntity) domain.Column {
	return domain.Column{
		ID:      ent.RowKey,
		Title:   ent.Title,
		BoardID: ent.PartitionKey,
		Order:   ent.Order,
		Tasks:   []domain.Task{},
	}
}

func taskToEntity(task domain.Task) (taskEntity, error) {
	ent := taskEntity{
		Entity:      aztables.Entity{PartitionKey: task.BoardID, RowKey: task.ID},
		Title:       task.Title,
		Description: task.Description,
		ColumnID:    task.ColumnID,
		Order:       task.Order,
		CreatedAt:   task.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if task.DueDate != nil {
		ent.DueDate = task.DueDate.UTC().Format(time.RFC3339Nano)
	}
	if len(task.Labels) > 0 {
		raw, err := json.Marshal(task.Labels)
		if err != nil {
			return taskEntity{}, err
		}
		ent.Labels = string(raw)
	}
	return ent, nil
}

func decodeTask(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	task := domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		ColumnID:    ent.ColumnID,
		BoardID:     ent.PartitionKey,
		Order:       ent.Order,
	}
	task.CreatedAt, _ = time.Parse(time.RFC3339Nano, ent.CreatedAt)
	if ent.DueDate != "" {
		due, err := time.Parse(time.RFC3339Nano, ent.DueDate)
		if err != nil {
			return domain.Task{}, err
		}
		task.DueDate = &due
	}
	if ent.Labels != "" {
		if err := json.Unmarshal([]byte(ent.Labels), &task.Labels); err != nil {
			return domain.Task{}, err
		}
	}
	return task, nil
}
