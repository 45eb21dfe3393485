package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"prism-board/domain"
)

const (
	tracerName = "prism-board/gateway"

	// HeaderIdempotencyKey lets the service reject double submissions of a create.
	HeaderIdempotencyKey = "Idempotency-Key"

	maxErrorBody = 64 * 1024
)

// HTTPClient talks to the board service over HTTP with JSON bodies.
type HTTPClient struct {
	BaseURL     string
	Credentials Credentials
	HTTP        *http.Client

	tracer trace.Tracer
	newKey func() string
}

// Option customizes an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.HTTP = hc }
}

// WithTimeout sets the per-request timeout of the default *http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.HTTP.Timeout = d }
}

// WithTracerProvider sets the provider used for client spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *HTTPClient) { c.tracer = tp.Tracer(tracerName) }
}

// New creates a client for the service at baseURL.
func New(baseURL string, creds Credentials, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Credentials: creds,
		HTTP:        &http.Client{Timeout: 30 * time.Second},
		tracer:      otel.Tracer(tracerName),
		newKey:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchBoard implements Gateway.
func (c *HTTPClient) FetchBoard(ctx context.Context, boardID string) (BoardResponse, error) {
	path := "/board"
	if boardID != "" {
		path = "/board/" + boardID
	}
	var resp BoardResponse
	err := c.do(ctx, http.MethodGet, path, "/board", nil, &resp)
	return resp, err
}

// CreateColumn implements Gateway.
func (c *HTTPClient) CreateColumn(ctx context.Context, req CreateColumnRequest) (domain.Column, error) {
	var resp columnResponse
	err := c.do(ctx, http.MethodPost, "/column", "/column", req, &resp)
	return resp.Column, err
}

// CreateTask implements Gateway.
func (c *HTTPClient) CreateTask(ctx context.Context, req CreateTaskRequest) (domain.Task, error) {
	var resp taskResponse
	err := c.do(ctx, http.MethodPost, "/task", "/task", req, &resp)
	return resp.Task, err
}

// UpdateTask implements Gateway.
func (c *HTTPClient) UpdateTask(ctx context.Context, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	var resp taskResponse
	err := c.do(ctx, http.MethodPatch, "/task/"+taskID, "/task/:id", patch, &resp)
	return resp.Task, err
}

// DeleteTask implements Gateway.
func (c *HTTPClient) DeleteTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, "/task/"+taskID, "/task/:id", nil, nil)
}

// CurrentUser implements Gateway and session.UserLookup.
func (c *HTTPClient) CurrentUser(ctx context.Context) (domain.User, error) {
	var resp userResponse
	err := c.do(ctx, http.MethodGet, "/auth/me", "/auth/me", nil, &resp)
	return resp.User, err
}

func (c *HTTPClient) do(ctx context.Context, method, path, route string, body, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, method+" "+route, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("http.route", route),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, route, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		req.Header.Set(HeaderIdempotencyKey, c.newKey())
	}
	if c.Credentials != nil {
		if tok := c.Credentials.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, route, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, route, err)
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, route, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	gwErr := &Error{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return gwErr
	}
	var body ErrorResponse
	if sonic.Unmarshal(data, &body) == nil {
		gwErr.Message = body.Message
	}
	return gwErr
}
