package store

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"prism-board/domain"
	"prism-board/gateway"
	"prism-board/session"
)

func TestFetchBoardWithoutTokenIsNoop(t *testing.T) {
	gw := &fakeGateway{}
	s := New(gw, session.NewStatic("", nil), WithLogger(quietLogger()))

	notified := 0
	s.Subscribe(func(domain.Snapshot) { notified++ })
	s.FetchBoard(context.Background(), "")

	if len(gw.calls) != 0 {
		t.Fatalf("expected no gateway calls, got %v", gw.calls)
	}
	if notified != 0 {
		t.Fatalf("expected no state change, got %d notifications", notified)
	}
	if s.Loading() || s.Board() != nil || s.Err() != "" {
		t.Fatalf("unexpected state: %+v", s.Snapshot())
	}
}

func TestFetchBoardReplacesSnapshot(t *testing.T) {
	s, _ := newLoadedStore(todoDoingBoard())

	snap := s.Snapshot()
	if snap.Board == nil || snap.Board.ID != "b1" {
		t.Fatalf("unexpected board: %+v", snap.Board)
	}
	if len(snap.Columns) != 2 {
		t.Fatalf("unexpected columns: %+v", snap.Columns)
	}
	for _, col := range snap.Columns {
		for _, task := range col.Tasks {
			if task.ColumnID != col.ID {
				t.Fatalf("task %s has columnId %s but lives in %s", task.ID, task.ColumnID, col.ID)
			}
		}
	}
	if snap.Loading {
		t.Fatal("loading should be cleared after fetch")
	}
}

func TestFetchBoardTwiceIsIdempotent(t *testing.T) {
	s, _ := newLoadedStore(todoDoingBoard())
	first := s.Snapshot()
	s.FetchBoard(context.Background(), "")
	second := s.Snapshot()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("snapshots differ:\n%+v\n%+v", first, second)
	}
}

func TestFetchBoardUsesBoardID(t *testing.T) {
	s, gw := newLoadedStore(todoDoingBoard())
	s.FetchBoard(context.Background(), "b1")
	if len(gw.calls) != 1 || gw.calls[0] != "fetch:b1" {
		t.Fatalf("unexpected calls: %v", gw.calls)
	}
}

func TestFetchBoardLoadingDuringCall(t *testing.T) {
	gw := &fakeGateway{}
	s := New(gw, session.NewStatic("token", nil), WithLogger(quietLogger()))
	gw.fetchBoardFn = func(context.Context, string) (gateway.BoardResponse, error) {
		if !s.Loading() {
			t.Fatal("expected loading while request is in flight")
		}
		return todoDoingBoard(), nil
	}
	s.FetchBoard(context.Background(), "")
	if s.Loading() {
		t.Fatal("loading should be cleared")
	}
}

func TestFetchBoardFailureKeepsState(t *testing.T) {
	s, gw := newLoadedStore(todoDoingBoard())
	before := s.Columns()

	gw.fetchBoardFn = func(context.Context, string) (gateway.BoardResponse, error) {
		return gateway.BoardResponse{}, errors.New("connection refused")
	}
	s.FetchBoard(context.Background(), "")

	if s.Err() != "Failed to fetch board data" {
		t.Fatalf("unexpected error %q", s.Err())
	}
	if !reflect.DeepEqual(before, s.Columns()) {
		t.Fatal("columns changed after failed fetch")
	}
	if s.Loading() {
		t.Fatal("loading should be cleared after failure")
	}
}

func TestFetchBoardClearsPreviousError(t *testing.T) {
	s, gw := newLoadedStore(todoDoingBoard())
	s.CreateColumn(context.Background(), "Review")
	if s.Err() == "" {
		t.Fatal("expected an error from the unconfigured create")
	}
	gw.fetchBoardFn = func(context.Context, string) (gateway.BoardResponse, error) {
		return todoDoingBoard(), nil
	}
	s.FetchBoard(context.Background(), "")
	if s.Err() != "" {
		t.Fatalf("expected error cleared, got %q", s.Err())
	}
}

func TestCreateColumnBlankTitleIsNoop(t *testing.T) {
	s, gw := newLoadedStore(todoDoingBoard())
	before := s.Snapshot()

	for _, title := range []string{"", "   ", "\t\n"} {
		s.CreateColumn(context.Background(), title)
	}
	if len(gw.calls) != 0 {
		t.Fatalf("expected no gateway calls, got %v", gw.calls)
	}
	if !reflect.DeepEqual(before, s.Snapshot()) {
		t.Fatal("state changed")
	}
}

func TestCreateColumnWithoutBoardIsNoop(t *testing.T) {
	gw := &fakeGateway{}
	s := New(gw, session.NewStatic("token", nil), WithLogger(quietLogger()))
	s.CreateColumn(context.Background(), "Todo")
	s.CreateTask(context.Background(), "c1", "task", "")
	s.DeleteTask(context.Background(), "t1")
	s.UpdateTask(context.Background(), "t1", domain.TaskPatch{})
	s.MoveTask(context.Background(), "t1", "a", "b", 0)
	if len(gw.calls) != 0 {
		t.Fatalf("expected no gateway calls, got %v", gw.calls)
	}
}

func TestCreateColumnAppends(t *testing.T) {
	s, gw := newLoadedStore(todoDoingBoard())
	var sent gateway.CreateColumnRequest
	gw.createColumnFn = func(_ context.Context, req gateway.CreateColumnRequest) (domain.Column, error) {
		sent = req
		return domain.Column{ID: "Done", Title: req.Title, BoardID: req.BoardID, Order: 2}, nil
	}

	s.CreateColumn(context.Background(), "  Done ")

	if sent.Title != "Done" || sent.BoardID != "b1" {
		t.Fatalf("unexpected request %+v", sent)
	}
	cols := s.Columns()
	if len(cols) != 3 || cols[2].ID != "Done" {
		t.Fatalf("unexpected columns %+v", cols)
	}
	if cols[2].Tasks == nil || len(cols[2].Tasks) != 0 {
		t.Fatalf("new column should have an empty task list, got %#v", cols[2].Tasks)
	}
}

func TestCreateColumnServiceMessage(t *testing.T) {
	s, gw := newLoadedStore(todoDoingBoard())
	before := s.Columns()
	gw.createColumnFn = func(context.Context, gateway.CreateColumnRequest) (domain.Column, error) {
		return domain.Column{}, &gateway.Error{StatusCode: 422, Message: "Column limit reached"}
	}

	s.CreateColumn(context.Background(), "Another")

	if s.Err() != "Column limit reached" {
		t.Fatalf("unexpected error %q", s.Err())
	}
	if !reflect.DeepEqual(before, s.Columns()) {
		t.Fatal("columns changed after failed create")
	}
}

func TestCreateTaskIsNotOptimistic(t *testing.T) {
	s, gw := newLoadedStore(todoDoingBoard())
	gw.createTaskFn = func(_ context.Context, req gateway.CreateTaskRequest) (domain.Task, error) {
		doing := s.Columns()[1]
		if len(doing.Tasks) != 0 {
			t.Fatalf("task visible before the service confirmed it: %+v", doing.Tasks)
		}
		if req.Title != "Write tests" || req.Description != "all of them" || req.ColumnID != "Doing" || req.BoardID != "b1" {
			t.Fatalf("unexpected request %+v", req)
		}
		return domain.Task{ID: "t3", Title: req.Title, ColumnID: req.ColumnID, BoardID: req.BoardID}, nil
	}

	s.CreateTask(context.Background(), "Doing", "Write tests", "all of them")

	if got := taskIDs(s.Columns()[1]); !reflect.DeepEqual(got, []string{"t3"}) {
		t.Fatalf("unexpected tasks %v", got)
	}
}

func TestCreateTaskBlankTitleIsNoop(t *testing.T) {
	s, gw := newLoadedStore(todoDoingBoard())
	s.CreateTask(context.Background(), "Doing", "  ", "")
	if len(gw.calls) != 0 {
		t.Fatalf("expected no gateway calls, got %v", gw.calls)
	}
}

func TestCreateTaskFailure(t *testing.T) {
	s, gw := newLoadedStore(todoDoingBoard())
	gw.createTaskFn = func(context.Context, gateway.CreateTaskRequest) (domain.Task, error) {
		return domain.Task{}, &gateway.Error{StatusCode: 500}
	}
	s.CreateTask(context.Background(), "Doing", "x", "")
	if s.Err() != "Failed to create task" {
		t.Fatalf("unexpected error %q", s.Err())
	}
	if len(s.Columns()[1].Tasks) != 0 {
		t.Fatal("task list changed after failure")
	}
}

func TestUpdateTaskReplacesInPlace(t *testing.T) {
	s, gw := newLoadedStore(todoDoingBoard())
	gw.updateTaskFn = func(_ context.Context, taskID string, patch domain.TaskPatch) (domain.Task, error) {
		if patch.Title == nil || *patch.Title != "renamed" {
			t.Fatalf("unexpected patch %+v", patch)
		}
		return domain.Task{ID: taskID, Title: *patch.Title, ColumnID: "Todo", BoardID: "b1", Order: 1}, nil
	}
	title := "renamed"
	s.UpdateTask(context.Background(), "t2", domain.TaskPatch{Title: &title})

	todo := s.Columns()[0]
	if got := taskIDs(todo); !reflect.DeepEqual(got, []string{"t1", "t2"}) {
		t.Fatalf("unexpected tasks %v", got)
	}
	if todo.Tasks[1].Title != "renamed" {
		t.Fatalf("task not updated: %+v", todo.Tasks[1])
	}
}

func TestUpdateTaskFollowsServerColumn(t *testing.T) {
	s, gw := newLoadedStore(todoDoingBoard())
	gw.updateTaskFn = func(_ context.Context, taskID string, _ domain.TaskPatch) (domain.Task, error) {
		return domain.Task{ID: taskID, Title: "one", ColumnID: "Doing", BoardID: "b1"}, nil
	}
	s.UpdateTask(context.Background(), "t1", domain.TaskPatch{})

	cols := s.Columns()
	if got := taskIDs(cols[0]); !reflect.DeepEqual(got, []string{"t2"}) {
		t.Fatalf("task should have left Todo: %v", got)
	}
	if got := taskIDs(cols[1]); !reflect.DeepEqual(got, []string{"t1"}) {
		t.Fatalf("task should be in Doing: %v", got)
	}
}

func TestUpdateTaskFailure(t *testing.T) {
	s, gw := newLoadedStore(todoDoingBoard())
	before := s.Columns()
	gw.updateTaskFn = func(context.Context, string, domain.TaskPatch) (domain.Task, error) {
		return domain.Task{}, &gateway.Error{StatusCode: 404, Message: "Task not found"}
	}
	s.UpdateTask(context.Background(), "t1", domain.TaskPatch{})
	if s.Err() != "Task not found" {
		t.Fatalf("unexpected error %q", s.Err())
	}
	if !reflect.DeepEqual(before, s.Columns()) {
		t.Fatal("columns changed after failed update")
	}
}

func TestDeleteTaskRemovesAfterConfirmation(t *testing.T) {
	board := todoDoingBoard()
	board.Columns[0].Tasks = board.Columns[0].Tasks[1:]
	s, gw := newLoadedStore(board)

	gw.deleteTaskFn = func(_ context.Context, taskID string) error {
		if len(s.Columns()[0].Tasks) != 1 {
			t.Fatal("task removed before the service confirmed")
		}
		return nil
	}
	s.DeleteTask(context.Background(), "t2")

	if todo := s.Columns()[0]; len(todo.Tasks) != 0 {
		t.Fatalf("expected empty Todo, got %v", taskIDs(todo))
	}
}

func TestDeleteTaskUnknownLocallyStillCallsService(t *testing.T) {
	s, gw := newLoadedStore(todoDoingBoard())
	gw.deleteTaskFn = func(context.Context, string) error { return nil }
	s.DeleteTask(context.Background(), "ghost")
	if len(gw.calls) != 1 || gw.calls[0] != "delete_task:ghost" {
		t.Fatalf("unexpected calls %v", gw.calls)
	}
}

func TestDeleteTaskFailure(t *testing.T) {
	s, gw := newLoadedStore(todoDoingBoard())
	gw.deleteTaskFn = func(context.Context, string) error { return errors.New("timeout") }
	s.DeleteTask(context.Background(), "t1")
	if s.Err() != "Failed to delete task" {
		t.Fatalf("unexpected error %q", s.Err())
	}
	if len(s.Columns()[0].Tasks) != 2 {
		t.Fatal("task removed despite failure")
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	s, gw := newLoadedStore(todoDoingBoard())
	gw.createColumnFn = func(_ context.Context, req gateway.CreateColumnRequest) (domain.Column, error) {
		return domain.Column{ID: "Done", Title: req.Title, BoardID: req.BoardID}, nil
	}

	var loadingSeen []bool
	unsubscribe := s.Subscribe(func(snap domain.Snapshot) {
		loadingSeen = append(loadingSeen, snap.Loading)
	})
	s.CreateColumn(context.Background(), "Done")
	unsubscribe()
	s.CreateColumn(context.Background(), "Ignored")

	if !reflect.DeepEqual(loadingSeen, []bool{true, false}) {
		t.Fatalf("unexpected notifications %v", loadingSeen)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s, _ := newLoadedStore(todoDoingBoard())
	snap := s.Snapshot()
	snap.Columns[0].Tasks[0].Title = "mutated"
	snap.Board.Title = "mutated"
	if strings.Contains(s.Columns()[0].Tasks[0].Title, "mutated") || s.Board().Title == "mutated" {
		t.Fatal("snapshot aliases store state")
	}
}
