// Package rest talks to the board HTTP API. It backs the dispatcher when no
// realtime channel is open and serves the full refetch after a failed bulk
// reorder.
package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/jayanth920/taskfront/domain"
)

const (
	defaultTimeout    = 15 * time.Second
	errorBodyLimit    = 512
	idempotencyKeyHdr = "Idempotency-Key"
)

// StatusError reports a non-2xx response from the server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("server returned %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// NotFound reports whether the server answered 404.
func (e *StatusError) NotFound() bool { return e.Code == http.StatusNotFound }

// Options tunes a Client. The zero value is usable.
type Options struct {
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client is a thin authenticated wrapper over the board REST endpoints.
// Methods are safe for concurrent use.
type Client struct {
	base   *url.URL
	token  string
	httpc  *http.Client
	logger *log.Entry
}

// New builds a client for the API rooted at serverURL. The token, when not
// empty, is sent as a bearer credential on every request.
func New(serverURL, token string, opts Options) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{
		base:   u,
		token:  token,
		httpc:  httpc,
		logger: logger.WithField("component", "rest"),
	}, nil
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type boardsResponse struct {
	Boards []domain.Board `json:"boards"`
}

// ListTasks fetches the authoritative task set of one board.
func (c *Client) ListTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	var resp tasksResponse
	err := c.do(ctx, http.MethodGet, []string{"api", "boards", boardID, "tasks"}, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return resp.Tasks, nil
}

// GetBoard fetches one board's metadata.
func (c *Client) GetBoard(ctx context.Context, boardID string) (domain.Board, error) {
	var board domain.Board
	err := c.do(ctx, http.MethodGet, []string{"api", "boards", boardID}, nil, &board)
	if err != nil {
		return domain.Board{}, fmt.Errorf("get board: %w", err)
	}
	return board, nil
}

// ListBoards fetches the boards visible to the credential.
func (c *Client) ListBoards(ctx context.Context) ([]domain.Board, error) {
	var resp boardsResponse
	err := c.do(ctx, http.MethodGet, []string{"api", "boards"}, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	return resp.Boards, nil
}

// CreateTask asks the server to persist a new task. The server assigns the
// identifier and the rank at the end of the draft's group.
func (c *Client) CreateTask(ctx context.Context, boardID string, draft domain.TaskDraft) (domain.Task, error) {
	var task domain.Task
	err := c.do(ctx, http.MethodPost, []string{"api", "boards", boardID, "tasks"}, draft, &task)
	if err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// UpdateTask replaces one task on the server with the given object.
func (c *Client) UpdateTask(ctx context.Context, task domain.Task) (domain.Task, error) {
	var updated domain.Task
	err := c.do(ctx, http.MethodPut, []string{"api", "tasks", task.ID}, task, &updated)
	if err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	return updated, nil
}

// DeleteTask removes one task on the server.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, []string{"api", "tasks", id}, nil, nil); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method string, segments []string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := c.base.JoinPath(segments...)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet && method != http.MethodHead {
		req.Header.Set(idempotencyKeyHdr, uuid.NewString())
	}

	c.logger.WithFields(log.Fields{"method": method, "path": u.Path}).Debug("request")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
