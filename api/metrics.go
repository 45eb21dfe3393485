package api

import (
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const metricsContextKey = "board.request.metrics"

type requestMetrics struct {
	began         time.Time
	authDuration  time.Duration
	storeDuration time.Duration
	userID        string
	errorStage    string
}

func metricsFrom(c echo.Context) *requestMetrics {
	if m, ok := c.Get(metricsContextKey).(*requestMetrics); ok {
		return m
	}
	// Handlers invoked without the middleware still get a usable sink.
	m := &requestMetrics{began: time.Now()}
	c.Set(metricsContextKey, m)
	return m
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *requestMetrics) ObserveStore(d time.Duration) {
	if d > 0 {
		m.storeDuration += d
	}
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

func (m *requestMetrics) fields(c echo.Context, err error) log.Fields {
	fields := log.Fields{
		"method":   c.Request().Method,
		"route":    c.Path(),
		"status":   c.Response().Status,
		"total_ms": durationToMillis(time.Since(m.began)),
	}
	if m.userID != "" {
		fields["user_id"] = m.userID
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.storeDuration > 0 {
		fields["store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	return fields
}

// RequestMetrics logs one structured line per request.
func RequestMetrics(logger *log.Logger) echo.MiddlewareFunc {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m := &requestMetrics{began: time.Now()}
			c.Set(metricsContextKey, m)
			err := next(c)
			entry := logger.WithFields(m.fields(c, err))
			if c.Response().Status >= 500 {
				entry.Warn(metricsContextKey)
			} else {
				entry.Info(metricsContextKey)
			}
			return err
		}
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
