package store

import (
	"time"

	log "github.com/sirupsen/logrus"
)

type opMetrics struct {
	logger          *log.Logger
	op              string
	start           time.Time
	gatewayDuration time.Duration
	boardID         string
	columnID        string
	taskID          string
	columns         int
	order           *int
	rolledBack      bool
}

func (s *Store) newOpMetrics(op string) *opMetrics {
	return &opMetrics{
		logger:  s.logger,
		op:      op,
		start:   time.Now(),
		columns: -1,
	}
}

func (m *opMetrics) ObserveGateway(d time.Duration) {
	if d <= 0 {
		return
	}
	m.gatewayDuration = d
}

func (m *opMetrics) SetBoard(id string)  { m.boardID = id }
func (m *opMetrics) SetColumn(id string) { m.columnID = id }
func (m *opMetrics) SetTask(id string)   { m.taskID = id }

func (m *opMetrics) SetColumns(n int) {
	if n < 0 {
		n = 0
	}
	m.columns = n
}

func (m *opMetrics) SetOrder(order int) { m.order = &order }

func (m *opMetrics) SetRolledBack() { m.rolledBack = true }

func (m *opMetrics) Log(err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"op":       m.op,
		"total_ms": durationToMillis(time.Since(m.start)),
		"outcome":  "ok",
	}
	if m.gatewayDuration > 0 {
		fields["gateway_ms"] = durationToMillis(m.gatewayDuration)
	}
	if m.boardID != "" {
		fields["board_id"] = m.boardID
	}
	if m.columnID != "" {
		fields["column_id"] = m.columnID
	}
	if m.taskID != "" {
		fields["task_id"] = m.taskID
	}
	if m.columns >= 0 {
		fields["columns"] = m.columns
	}
	if m.order != nil {
		fields["order_sent"] = *m.order
	}
	if m.rolledBack {
		fields["outcome"] = "rolled_back"
	}
	if err != nil {
		if !m.rolledBack {
			fields["outcome"] = "failed"
		}
		fields["error"] = err.Error()
		m.logger.WithFields(fields).Warn("board.op.metrics")
		return
	}

	m.logger.WithFields(fields).Debug("board.op.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
