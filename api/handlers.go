package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
	"prism-board/gateway"
)

const maxBodySize = 64 * 1024

var errDuplicateRequest = errors.New("duplicate request")

type handlers struct {
	store   Storage
	auth    Authenticator
	deduper Deduper
	log     *log.Logger
	opts    options
}

// Register wires up all API routes on the provided Echo instance. deduper may
// be nil, in which case Idempotency-Key headers are ignored.
func Register(e *echo.Echo, store Storage, auth Authenticator, deduper Deduper, logger *log.Logger, opts ...Option) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	h := &handlers{store: store, auth: auth, deduper: deduper, log: logger}
	for _, opt := range opts {
		opt(&h.opts)
	}

	mw := RequestMetrics(logger)
	e.GET("/board", h.getBoard, mw)
	e.GET("/board/:id", h.getBoard, mw)
	e.POST("/column", h.postColumn, mw)
	e.POST("/task", h.postTask, mw)
	e.PATCH("/task/:id", h.patchTask, mw)
	e.DELETE("/task/:id", h.deleteTask, mw)
	e.GET("/auth/me", h.me, mw)
	e.GET("/healthz", healthz)
}

type boardResponse struct {
	Board   domain.Board    `json:"board"`
	Columns []domain.Column `json:"columns"`
}

type columnResponse struct {
	Column domain.Column `json:"column"`
}

type taskResponse struct {
	Task domain.Task `json:"task"`
}

type userResponse struct {
	User domain.User `json:"user"`
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (h *handlers) getBoard(c echo.Context) error {
	userID, ok := h.authenticate(c)
	if !ok {
		return h.unauthorized(c)
	}
	ctx := c.Request().Context()
	m := metricsFrom(c)
	start := time.Now()
	defer func() { m.ObserveStore(time.Since(start)) }()

	boardID := c.Param("id")
	if boardID == "" {
		board, err := h.store.BoardForUser(ctx, userID)
		if err != nil {
			return h.fail(c, "provision", err)
		}
		boardID = board.ID
	}
	board, columns, err := h.store.FetchBoard(ctx, userID, boardID)
	if err != nil {
		return h.fail(c, "fetch", err)
	}
	if columns == nil {
		columns = []domain.Column{}
	}
	for i := range columns {
		if columns[i].Tasks == nil {
			columns[i].Tasks = []domain.Task{}
		}
	}
	return c.JSON(http.StatusOK, boardResponse{Board: board, Columns: columns})
}

func (h *handlers) postColumn(c echo.Context) error {
	userID, ok := h.authenticate(c)
	if !ok {
		return h.unauthorized(c)
	}
	var req gateway.CreateColumnRequest
	if err := decodeBody(c, &req); err != nil {
		return h.badRequest(c, "Invalid request body")
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || req.BoardID == "" {
		return h.badRequest(c, "Title and board are required")
	}

	release, err := h.claim(c, userID)
	if err != nil {
		return h.fail(c, "idempotency", err)
	}
	ctx := c.Request().Context()
	m := metricsFrom(c)
	start := time.Now()
	defer func() { m.ObserveStore(time.Since(start)) }()

	if h.opts.maxColumns > 0 {
		_, columns, err := h.store.FetchBoard(ctx, userID, req.BoardID)
		if err != nil {
			release()
			return h.fail(c, "fetch", err)
		}
		if len(columns) >= h.opts.maxColumns {
			release()
			return h.fail(c, "column_limit", domain.ErrColumnLimit)
		}
	}
	col, err := h.store.CreateColumn(ctx, userID, domain.Column{Title: req.Title, BoardID: req.BoardID})
	if err != nil {
		release()
		return h.fail(c, "store", err)
	}
	if col.Tasks == nil {
		col.Tasks = []domain.Task{}
	}
	return c.JSON(http.StatusCreated, columnResponse{Column: col})
}

func (h *handlers) postTask(c echo.Context) error {
	userID, ok := h.authenticate(c)
	if !ok {
		return h.unauthorized(c)
	}
	var req gateway.CreateTaskRequest
	if err := decodeBody(c, &req); err != nil {
		return h.badRequest(c, "Invalid request body")
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || req.ColumnID == "" || req.BoardID == "" {
		return h.badRequest(c, "Title, column and board are required")
	}

	release, err := h.claim(c, userID)
	if err != nil {
		return h.fail(c, "idempotency", err)
	}
	m := metricsFrom(c)
	start := time.Now()
	task, err := h.store.CreateTask(c.Request().Context(), userID, domain.Task{
		Title:       req.Title,
		Description: req.Description,
		ColumnID:    req.ColumnID,
		BoardID:     req.BoardID,
	})
	m.ObserveStore(time.Since(start))
	if err != nil {
		release()
		return h.fail(c, "store", err)
	}
	return c.JSON(http.StatusCreated, taskResponse{Task: task})
}

func (h *handlers) patchTask(c echo.Context) error {
	userID, ok := h.authenticate(c)
	if !ok {
		return h.unauthorized(c)
	}
	var patch domain.TaskPatch
	if err := decodeBody(c, &patch); err != nil {
		return h.badRequest(c, "Invalid request body")
	}
	if patch.Empty() {
		return h.badRequest(c, "Nothing to update")
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return h.badRequest(c, "Title cannot be empty")
	}
	if patch.Order != nil && *patch.Order < 0 {
		return h.badRequest(c, "Order cannot be negative")
	}

	m := metricsFrom(c)
	start := time.Now()
	task, err := h.store.UpdateTask(c.Request().Context(), userID, c.Param("id"), patch)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return h.fail(c, "store", err)
	}
	return c.JSON(http.StatusOK, taskResponse{Task: task})
}

func (h *handlers) deleteTask(c echo.Context) error {
	userID, ok := h.authenticate(c)
	if !ok {
		return h.unauthorized(c)
	}
	m := metricsFrom(c)
	start := time.Now()
	err := h.store.DeleteTask(c.Request().Context(), userID, c.Param("id"))
	m.ObserveStore(time.Since(start))
	if err != nil {
		return h.fail(c, "store", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) me(c echo.Context) error {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	m := metricsFrom(c)
	authStart := time.Now()
	var (
		user domain.User
		err  error
	)
	if id, ok := h.auth.(Identifier); ok {
		user, err = id.UserFromAuthHeader(header)
	} else {
		user.ID, err = h.auth.UserIDFromAuthHeader(header)
	}
	m.ObserveAuth(time.Since(authStart))
	if err != nil {
		m.SetErrorStage("auth")
		return h.unauthorized(c)
	}
	m.userID = user.ID

	start := time.Now()
	board, err := h.store.BoardForUser(c.Request().Context(), user.ID)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return h.fail(c, "provision", err)
	}
	user.BoardID = board.ID
	return c.JSON(http.StatusOK, userResponse{User: user})
}

func (h *handlers) authenticate(c echo.Context) (string, bool) {
	m := metricsFrom(c)
	start := time.Now()
	userID, err := h.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	m.ObserveAuth(time.Since(start))
	if err != nil {
		m.SetErrorStage("auth")
		h.log.WithError(err).Debug("board.request.unauthorized")
		return "", false
	}
	m.userID = userID
	return userID, true
}

// claim records the request's idempotency key. The returned release func
// forgets the key again and must be called when the write fails.
func (h *handlers) claim(c echo.Context, userID string) (func(), error) {
	noop := func() {}
	key := strings.TrimSpace(c.Request().Header.Get(gateway.HeaderIdempotencyKey))
	if key == "" || h.deduper == nil {
		return noop, nil
	}
	ctx := c.Request().Context()
	added, err := h.deduper.Add(ctx, userID, key)
	if err != nil {
		h.log.WithError(err).Warn("idempotency check failed; processing request")
		return noop, nil
	}
	if !added {
		return nil, errDuplicateRequest
	}
	return func() {
		if err := h.deduper.Remove(context.WithoutCancel(ctx), userID, key); err != nil {
			h.log.WithError(err).Warn("release idempotency key")
		}
	}, nil
}

func (h *handlers) unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, gateway.ErrorResponse{Message: "Unauthorized"})
}

func (h *handlers) badRequest(c echo.Context, msg string) error {
	metricsFrom(c).SetErrorStage("validation")
	return c.JSON(http.StatusBadRequest, gateway.ErrorResponse{Message: msg})
}

func (h *handlers) fail(c echo.Context, stage string, err error) error {
	metricsFrom(c).SetErrorStage(stage)
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithField("route", c.Path()).Error("board request failed")
	}
	return c.JSON(status, gateway.ErrorResponse{Message: msg})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, validationMessage(err)
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "Not allowed"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, errDuplicateRequest):
		return http.StatusConflict, "Duplicate request"
	case errors.Is(err, domain.ErrColumnLimit):
		return http.StatusUnprocessableEntity, "Column limit reached"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func validationMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
	if msg == "" || msg == domain.ErrValidation.Error() {
		return "Invalid request"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
