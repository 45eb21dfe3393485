package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"prism-board/domain"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

type recordedRequest struct {
	method string
	path   string
	auth   string
	key    string
	body   []byte
}

type recorder struct {
	mu   sync.Mutex
	reqs []recordedRequest
}

func (r *recorder) get(i int) recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs[i]
}

func newTestServer(t *testing.T, status int, respBody string) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.reqs = append(rec.reqs, recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
			key:    r.Header.Get(HeaderIdempotencyKey),
			body:   body,
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestFetchBoardPaths(t *testing.T) {
	srv, reqs := newTestServer(t, http.StatusOK, `{"board":{"_id":"b1","title":"Mine"},"columns":[{"_id":"c1","title":"Todo","boardId":"b1","tasks":[{"_id":"t1","title":"x","columnId":"c1","boardId":"b1"}]}]}`)
	c := New(srv.URL, staticToken("tok"))

	resp, err := c.FetchBoard(context.Background(), "")
	if err != nil {
		t.Fatalf("fetch board: %v", err)
	}
	if resp.Board.ID != "b1" || len(resp.Columns) != 1 || len(resp.Columns[0].Tasks) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if _, err := c.FetchBoard(context.Background(), "b1"); err != nil {
		t.Fatalf("fetch board by id: %v", err)
	}

	first, second := reqs.get(0), reqs.get(1)
	if first.path != "/board" || second.path != "/board/b1" {
		t.Fatalf("unexpected paths: %q %q", first.path, second.path)
	}
	if first.auth != "Bearer tok" {
		t.Fatalf("unexpected auth header %q", first.auth)
	}
	if first.key != "" {
		t.Fatalf("GET must not carry an idempotency key, got %q", first.key)
	}
}

func TestCreateTaskSendsBodyAndIdempotencyKey(t *testing.T) {
	srv, reqs := newTestServer(t, http.StatusCreated, `{"task":{"_id":"t9","title":"Write","columnId":"c1","boardId":"b1","order":3}}`)
	c := New(srv.URL, staticToken("tok"))
	c.newKey = func() string { return "key-1" }

	task, err := c.CreateTask(context.Background(), CreateTaskRequest{Title: "Write", ColumnID: "c1", BoardID: "b1"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.ID != "t9" || task.Order != 3 {
		t.Fatalf("unexpected task: %+v", task)
	}

	req := reqs.get(0)
	if req.method != http.MethodPost || req.path != "/task" {
		t.Fatalf("unexpected request %s %s", req.method, req.path)
	}
	if req.key != "key-1" {
		t.Fatalf("unexpected idempotency key %q", req.key)
	}
	var sent map[string]any
	if err := sonic.Unmarshal(req.body, &sent); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if _, ok := sent["description"]; ok {
		t.Fatalf("empty description should be omitted: %s", req.body)
	}
	if sent["columnId"] != "c1" || sent["boardId"] != "b1" {
		t.Fatalf("unexpected body: %s", req.body)
	}
}

func TestUpdateTaskSendsOnlySetFields(t *testing.T) {
	srv, reqs := newTestServer(t, http.StatusOK, `{"task":{"_id":"t1","columnId":"c2"}}`)
	c := New(srv.URL, staticToken("tok"))

	col := "c2"
	order := 2
	if _, err := c.UpdateTask(context.Background(), "t1", domain.TaskPatch{ColumnID: &col, Order: &order}); err != nil {
		t.Fatalf("update task: %v", err)
	}
	req := reqs.get(0)
	if req.method != http.MethodPatch || req.path != "/task/t1" {
		t.Fatalf("unexpected request %s %s", req.method, req.path)
	}
	var sent map[string]any
	if err := sonic.Unmarshal(req.body, &sent); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if len(sent) != 2 || sent["columnId"] != "c2" || sent["order"] != float64(2) {
		t.Fatalf("unexpected body: %s", req.body)
	}
}

func TestErrorMessageIsSurfaced(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusUnprocessableEntity, `{"message":"Column limit reached"}`)
	c := New(srv.URL, staticToken("tok"))

	_, err := c.CreateColumn(context.Background(), CreateColumnRequest{Title: "x", BoardID: "b"})
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if gwErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status %d", gwErr.StatusCode)
	}
	if msg, ok := MessageOf(err); !ok || msg != "Column limit reached" {
		t.Fatalf("unexpected message %q (ok=%v)", msg, ok)
	}
}

func TestErrorWithoutMessage(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusInternalServerError, `oops`)
	c := New(srv.URL, staticToken("tok"))

	err := c.DeleteTask(context.Background(), "t1")
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := MessageOf(err); ok {
		t.Fatalf("expected no message for %v", err)
	}
}

func TestTransportErrorHasNoMessage(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{}`)
	url := srv.URL
	srv.Close()

	c := New(url, staticToken("tok"))
	_, err := c.FetchBoard(context.Background(), "")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if _, ok := MessageOf(err); ok {
		t.Fatal("transport errors carry no service message")
	}
}

func TestNoAuthorizationWithoutToken(t *testing.T) {
	srv, reqs := newTestServer(t, http.StatusOK, `{"user":{"id":"u1"}}`)
	c := New(srv.URL, staticToken(""))
	if _, err := c.CurrentUser(context.Background()); err != nil {
		t.Fatalf("current user: %v", err)
	}
	if auth := reqs.get(0).auth; auth != "" {
		t.Fatalf("unexpected auth header %q", auth)
	}
}

func TestSpansRecorded(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusNotFound, `{"message":"Task not found"}`)
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	c := New(srv.URL, staticToken("tok"), WithTracerProvider(tp))
	_ = c.DeleteTask(context.Background(), "t1")

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "DELETE /task/:id" {
		t.Fatalf("unexpected span name %q", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", spans[0].Status())
	}
}
