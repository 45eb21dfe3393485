package store

import (
	"context"
	"errors"
	"io"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
	"prism-board/gateway"
	"prism-board/session"
)

type fakeGateway struct {
	fetchBoardFn   func(ctx context.Context, boardID string) (gateway.BoardResponse, error)
	createColumnFn func(ctx context.Context, req gateway.CreateColumnRequest) (domain.Column, error)
	createTaskFn   func(ctx context.Context, req gateway.CreateTaskRequest) (domain.Task, error)
	updateTaskFn   func(ctx context.Context, taskID string, patch domain.TaskPatch) (domain.Task, error)
	deleteTaskFn   func(ctx context.Context, taskID string) error

	calls []string
}

func (f *fakeGateway) FetchBoard(ctx context.Context, boardID string) (gateway.BoardResponse, error) {
	f.calls = append(f.calls, "fetch:"+boardID)
	if f.fetchBoardFn == nil {
		return gateway.BoardResponse{}, errors.New("unexpected FetchBoard call")
	}
	return f.fetchBoardFn(ctx, boardID)
}

func (f *fakeGateway) CreateColumn(ctx context.Context, req gateway.CreateColumnRequest) (domain.Column, error) {
	f.calls = append(f.calls, "create_column")
	if f.createColumnFn == nil {
		return domain.Column{}, errors.New("unexpected CreateColumn call")
	}
	return f.createColumnFn(ctx, req)
}

func (f *fakeGateway) CreateTask(ctx context.Context, req gateway.CreateTaskRequest) (domain.Task, error) {
	f.calls = append(f.calls, "create_task")
	if f.createTaskFn == nil {
		return domain.Task{}, errors.New("unexpected CreateTask call")
	}
	return f.createTaskFn(ctx, req)
}

func (f *fakeGateway) UpdateTask(ctx context.Context, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	f.calls = append(f.calls, "update_task:"+taskID)
	if f.updateTaskFn == nil {
		return domain.Task{}, errors.New("unexpected UpdateTask call")
	}
	return f.updateTaskFn(ctx, taskID, patch)
}

func (f *fakeGateway) DeleteTask(ctx context.Context, taskID string) error {
	f.calls = append(f.calls, "delete_task:"+taskID)
	if f.deleteTaskFn == nil {
		return errors.New("unexpected DeleteTask call")
	}
	return f.deleteTaskFn(ctx, taskID)
}

func (f *fakeGateway) CurrentUser(context.Context) (domain.User, error) {
	return domain.User{ID: "user-1"}, nil
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func todoDoingBoard() gateway.BoardResponse {
	return gateway.BoardResponse{
		Board: domain.Board{ID: "b1", Title: "Board", UserID: "user-1"},
		Columns: []domain.Column{
			{ID: "Todo", Title: "Todo", BoardID: "b1", Order: 0, Tasks: []domain.Task{
				{ID: "t1", Title: "one", ColumnID: "Todo", BoardID: "b1", Order: 0},
				{ID: "t2", Title: "two", ColumnID: "Todo", BoardID: "b1", Order: 1},
			}},
			{ID: "Doing", Title: "Doing", BoardID: "b1", Order: 1, Tasks: []domain.Task{}},
		},
	}
}

// newLoadedStore returns a store that already fetched board.
func newLoadedStore(board gateway.BoardResponse, opts ...Option) (*Store, *fakeGateway) {
	gw := &fakeGateway{
		fetchBoardFn: func(context.Context, string) (gateway.BoardResponse, error) {
			return board, nil
		},
	}
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	s := New(gw, session.NewStatic("token", nil), opts...)
	s.FetchBoard(context.Background(), "")
	gw.calls = nil
	return s, gw
}

func taskIDs(c domain.Column) []string {
	ids := make([]string, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		ids = append(ids, t.ID)
	}
	return ids
}
