package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"prism-board/domain"
)

// MoveOrderPolicy selects the order value sent to the service with a move.
//
// The local copy of a moved task always lands last in the destination column.
// The value sent to the service historically is the length of the source
// column before the move, which does not match the local placement; the other
// policies exist so callers can opt into a consistent contract.
type MoveOrderPolicy int

const (
	// SendSourceLength sends the source column's length before the move.
	SendSourceLength MoveOrderPolicy = iota
	// SendDestinationLength sends the order given to the local copy.
	SendDestinationLength
	// SendRequestedPosition sends the position the caller asked for, or the
	// destination length when it is negative.
	SendRequestedPosition
)

func (p MoveOrderPolicy) String() string {
	switch p {
	case SendSourceLength:
		return "source"
	case SendDestinationLength:
		return "destination"
	case SendRequestedPosition:
		return "requested"
	default:
		return fmt.Sprintf("MoveOrderPolicy(%d)", int(p))
	}
}

// ParseMoveOrderPolicy parses "source", "destination" or "requested".
func ParseMoveOrderPolicy(v string) (MoveOrderPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "source":
		return SendSourceLength, nil
	case "destination":
		return SendDestinationLength, nil
	case "requested":
		return SendRequestedPosition, nil
	default:
		return 0, fmt.Errorf("unknown move order policy %q", v)
	}
}

func (p MoveOrderPolicy) order(sourceLen, destLen, requested int) int {
	switch p {
	case SendDestinationLength:
		return destLen
	case SendRequestedPosition:
		if requested < 0 {
			return destLen
		}
		return requested
	default:
		return sourceLen
	}
}

// MoveTask moves a task to the end of another column.
//
// The local state changes immediately, before the service is contacted. If the
// service accepts the patch the local state stands; if it rejects it the error
// is recorded and the whole board is fetched again. Unknown tasks or columns
// abort the move without a request. Moving within one column is the caller's
// responsibility to avoid.
func (s *Store) MoveTask(ctx context.Context, taskID, sourceColumnID, destinationColumnID string, position int) {
	if s.session.Token() == "" {
		return
	}

	boardID, sourceLen, destLen, ok := s.applyMove(taskID, sourceColumnID, destinationColumnID)
	if !ok {
		return
	}

	m := s.newOpMetrics("move_task")
	m.SetBoard(boardID)
	m.SetTask(taskID)
	m.SetColumn(destinationColumnID)

	order := s.movePolicy.order(sourceLen, destLen, position)
	m.SetOrder(order)
	start := time.Now()
	_, err := s.gw.UpdateTask(ctx, taskID, domain.TaskPatch{
		ColumnID: &destinationColumnID,
		Order:    &order,
	})
	m.ObserveGateway(time.Since(start))
	if err == nil {
		m.Log(nil)
		return
	}

	m.SetRolledBack()
	m.Log(err)
	s.update(func() { s.errMsg = messageOr(err, msgMoveTask) })
	// The resync outlives the caller's ctx.
	s.fetch(context.WithoutCancel(ctx), boardID, false)
}

// applyMove performs the optimistic half of a move and reports the column
// lengths seen before it.
func (s *Store) applyMove(taskID, from, to string) (boardID string, sourceLen, destLen int, ok bool) {
	s.mu.Lock()
	if s.board == nil {
		s.mu.Unlock()
		return "", 0, 0, false
	}
	src := domain.ColumnIndex(s.columns, from)
	dst := domain.ColumnIndex(s.columns, to)
	if src < 0 || dst < 0 || !containsTask(s.columns[src].Tasks, taskID) {
		s.mu.Unlock()
		return "", 0, 0, false
	}
	boardID = s.board.ID
	sourceLen = len(s.columns[src].Tasks)
	destLen = len(s.columns[dst].Tasks)
	s.columns = domain.Reduce(s.columns, domain.MoveTask{TaskID: taskID, From: from, To: to})
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return boardID, sourceLen, destLen, true
}

func containsTask(tasks []domain.Task, taskID string) bool {
	for _, t := range tasks {
		if t.ID == taskID {
			return true
		}
	}
	return false
}
