// Package store holds the client-side board state and keeps it in step with the
// board service.
//
// Every operation mutates the shared snapshot through domain.Reduce. Task moves
// are applied optimistically and resynchronized from the service when the
// service rejects them; all other operations wait for the service before
// touching local state. Failures never escape an operation: they are recorded
// as a single message readable through Err and Snapshot.
package store

import (
	"context"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
	"prism-board/gateway"
	"prism-board/session"
)

const (
	msgFetchBoard   = "Failed to fetch board data"
	msgCreateColumn = "Failed to create column"
	msgCreateTask   = "Failed to create task"
	msgUpdateTask   = "Failed to update task"
	msgDeleteTask   = "Failed to delete task"
	msgMoveTask     = "Failed to move task"
)

// Store is the board state container. It is safe for concurrent use; the lock
// is never held across a gateway call, so overlapping operations interleave and
// the last writer wins.
type Store struct {
	gw         gateway.Gateway
	session    session.Provider
	logger     *log.Logger
	movePolicy MoveOrderPolicy

	mu        sync.Mutex
	board     *domain.Board
	columns   []domain.Column
	inflight  int
	errMsg    string
	listeners map[int]func(domain.Snapshot)
	nextID    int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for operation metrics.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMoveOrderPolicy selects the order value sent with a move.
func WithMoveOrderPolicy(p MoveOrderPolicy) Option {
	return func(s *Store) { s.movePolicy = p }
}

// New creates an empty store backed by gw. sess supplies the credential; every
// operation is skipped while it has no token.
func New(gw gateway.Gateway, sess session.Provider, opts ...Option) *Store {
	if gw == nil {
		panic("store.New: gateway is nil")
	}
	if sess == nil {
		panic("store.New: session provider is nil")
	}
	s := &Store{
		gw:        gw,
		session:   sess,
		logger:    log.StandardLogger(),
		listeners: make(map[int]func(domain.Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Board returns a copy of the active board or nil before the first fetch.
func (s *Store) Board() *domain.Board {
	return s.Snapshot().Board
}

// Columns returns a deep copy of the column list.
func (s *Store) Columns() []domain.Column {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneColumns(s.columns)
}

// Loading reports whether a fetch, create, update or delete is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

// Err returns the message of the last failed operation, or "".
func (s *Store) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Subscribe registers fn to be called with a fresh snapshot after every state
// change. Calls happen outside the store lock, on the goroutine that made the
// change. The returned func removes the listener.
func (s *Store) Subscribe(fn func(domain.Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// FetchBoard replaces the board and all columns with the service copy. An empty
// boardID loads the caller's current board.
func (s *Store) FetchBoard(ctx context.Context, boardID string) {
	s.fetch(ctx, boardID, true)
}

func (s *Store) fetch(ctx context.Context, boardID string, clearErr bool) {
	if s.session.Token() == "" {
		return
	}
	m := s.newOpMetrics("fetch_board")
	m.SetBoard(boardID)
	s.begin(clearErr)

	start := time.Now()
	resp, err := s.gw.FetchBoard(ctx, boardID)
	m.ObserveGateway(time.Since(start))
	if err != nil {
		m.Log(err)
		s.finish(func() { s.errMsg = messageOr(err, msgFetchBoard) })
		return
	}

	m.SetColumns(len(resp.Columns))
	m.Log(nil)
	s.finish(func() {
		board := resp.Board
		s.board = &board
		s.columns = domain.Reduce(s.columns, domain.ReplaceColumns{Columns: resp.Columns})
	})
}

// CreateColumn asks the service for a new column and appends it once confirmed.
// Blank titles are ignored.
func (s *Store) CreateColumn(ctx context.Context, title string) {
	title = strings.TrimSpace(title)
	boardID, ok := s.ready()
	if !ok || title == "" {
		return
	}
	m := s.newOpMetrics("create_column")
	m.SetBoard(boardID)
	s.begin(true)

	start := time.Now()
	col, err := s.gw.CreateColumn(ctx, gateway.CreateColumnRequest{Title: title, BoardID: boardID})
	m.ObserveGateway(time.Since(start))
	if err != nil {
		m.Log(err)
		s.finish(func() { s.errMsg = messageOr(err, msgCreateColumn) })
		return
	}

	m.Log(nil)
	s.finish(func() {
		s.columns = domain.Reduce(s.columns, domain.AppendColumn{Column: col})
	})
}

// CreateTask asks the service for a new task and appends it to its column once
// confirmed. Blank titles are ignored.
func (s *Store) CreateTask(ctx context.Context, columnID, title, description string) {
	title = strings.TrimSpace(title)
	boardID, ok := s.ready()
	if !ok || title == "" {
		return
	}
	m := s.newOpMetrics("create_task")
	m.SetBoard(boardID)
	m.SetColumn(columnID)
	s.begin(true)

	start := time.Now()
	task, err := s.gw.CreateTask(ctx, gateway.CreateTaskRequest{
		Title:       title,
		Description: description,
		ColumnID:    columnID,
		BoardID:     boardID,
	})
	m.ObserveGateway(time.Since(start))
	if err != nil {
		m.Log(err)
		s.finish(func() { s.errMsg = messageOr(err, msgCreateTask) })
		return
	}
	if task.ColumnID == "" {
		task.ColumnID = columnID
	}

	m.SetTask(task.ID)
	m.Log(nil)
	s.finish(func() {
		s.columns = domain.Reduce(s.columns, domain.AppendTask{Task: task})
	})
}

// UpdateTask sends patch to the service and stores the returned task in the
// column the service reports, which may differ from where it was.
func (s *Store) UpdateTask(ctx context.Context, taskID string, patch domain.TaskPatch) {
	boardID, ok := s.ready()
	if !ok {
		return
	}
	m := s.newOpMetrics("update_task")
	m.SetBoard(boardID)
	m.SetTask(taskID)
	s.begin(true)

	start := time.Now()
	task, err := s.gw.UpdateTask(ctx, taskID, patch)
	m.ObserveGateway(time.Since(start))
	if err != nil {
		m.Log(err)
		s.finish(func() { s.errMsg = messageOr(err, msgUpdateTask) })
		return
	}

	m.SetColumn(task.ColumnID)
	m.Log(nil)
	s.finish(func() {
		if task.ColumnID == "" {
			if _, ci, found := domain.FindTask(s.columns, taskID); found {
				task.ColumnID = s.columns[ci].ID
			}
		}
		if task.ID == "" {
			task.ID = taskID
		}
		s.columns = domain.Reduce(s.columns, domain.ReplaceTask{Task: task})
	})
}

// DeleteTask removes the task on the service and then locally.
func (s *Store) DeleteTask(ctx context.Context, taskID string) {
	boardID, ok := s.ready()
	if !ok {
		return
	}
	m := s.newOpMetrics("delete_task")
	m.SetBoard(boardID)
	m.SetTask(taskID)

	s.mu.Lock()
	if _, ci, found := domain.FindTask(s.columns, taskID); found {
		m.SetColumn(s.columns[ci].ID)
	}
	s.mu.Unlock()
	s.begin(true)

	start := time.Now()
	err := s.gw.DeleteTask(ctx, taskID)
	m.ObserveGateway(time.Since(start))
	if err != nil {
		m.Log(err)
		s.finish(func() { s.errMsg = messageOr(err, msgDeleteTask) })
		return
	}

	m.Log(nil)
	s.finish(func() {
		s.columns = domain.Reduce(s.columns, domain.RemoveTask{TaskID: taskID})
	})
}

// ready reports the active board ID when a credential and a board are present.
func (s *Store) ready() (string, bool) {
	if s.session.Token() == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.board == nil {
		return "", false
	}
	return s.board.ID, true
}

func (s *Store) begin(clearErr bool) {
	s.mu.Lock()
	s.inflight++
	if clearErr {
		s.errMsg = ""
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Store) finish(apply func()) {
	s.mu.Lock()
	apply()
	if s.inflight > 0 {
		s.inflight--
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Store) update(apply func()) {
	s.mu.Lock()
	apply()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Store) snapshotLocked() domain.Snapshot {
	snap := domain.Snapshot{
		Columns: domain.CloneColumns(s.columns),
		Loading: s.inflight > 0,
		Error:   s.errMsg,
	}
	if s.board != nil {
		b := *s.board
		snap.Board = &b
	}
	return snap
}

func (s *Store) notify(snap domain.Snapshot) {
	s.mu.Lock()
	fns := make([]func(domain.Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func messageOr(err error, fallback string) string {
	if msg, ok := gateway.MessageOf(err); ok {
		return msg
	}
	return fallback
}
