package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/benaskins/lectern/internal/supervisor"
)

// Error kinds carried in API error responses.
const (
	KindProjectNotFound       = "project_not_found"
	KindExecutableNotFound    = "executable_not_found"
	KindScriptNotFound        = "script_not_found"
	KindStartupTimeout        = "startup_timeout"
	KindStartAborted          = "start_aborted"
	KindProcessExited         = "process_exited"
	KindUnavailable           = "unavailable"
	KindSummarizationDisabled = "summarization_disabled"
	KindBackend               = "backend"
	KindCancelled             = "cancelled"
)

// Error is a non-2xx response from the control API.
type Error struct {
	StatusCode     int
	Kind           string
	Message        string
	TimeoutSeconds int // set for KindStartupTimeout
}

func (e *Error) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// Client talks to a running lectern over its control API.
type Client struct {
	http *http.Client
	base string
}

// NewClient returns a client for the API socket at path. Requests carry no
// overall timeout; bound them with the context.
func NewClient(socketPath string) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
		base: "http://lectern",
	}
}

// NewTCPClient returns a client for an API listening on addr.
func NewTCPClient(addr string) *Client {
	return &Client{http: &http.Client{}, base: "http://" + addr}
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/health", nil)
}

func (c *Client) Status(ctx context.Context) (supervisor.Snapshot, error) {
	var snap supervisor.Snapshot
	err := c.do(ctx, http.MethodGet, "/v1/status", &snap)
	return snap, err
}

// Start asks the client to start the backend and waits until it is healthy
// or the start fails.
func (c *Client) Start(ctx context.Context) (supervisor.Snapshot, error) {
	var snap supervisor.Snapshot
	err := c.do(ctx, http.MethodPost, "/v1/start", &snap)
	return snap, err
}

func (c *Client) Stop(ctx context.Context) (supervisor.Snapshot, error) {
	var snap supervisor.Snapshot
	err := c.do(ctx, http.MethodPost, "/v1/stop", &snap)
	return snap, err
}

func (c *Client) Restart(ctx context.Context) (supervisor.Snapshot, error) {
	var snap supervisor.Snapshot
	err := c.do(ctx, http.MethodPost, "/v1/restart", &snap)
	return snap, err
}

// Logs returns up to n recent backend output lines.
func (c *Client) Logs(ctx context.Context, n int) ([]string, error) {
	var resp logsResponse
	err := c.do(ctx, http.MethodGet, "/v1/logs?n="+strconv.Itoa(n), &resp)
	return resp.Lines, err
}

// Job runs an article action and waits for it to finish. A focused job is
// cancelled when a later focused job names a different article.
func (c *Client) Job(ctx context.Context, id int64, action string, focus bool) (JobResult, error) {
	path := "/v1/articles/" + strconv.FormatInt(id, 10) + "/" + action
	if focus {
		path += "?focus=true"
	}
	var res JobResult
	err := c.do(ctx, http.MethodPost, path, &res)
	return res, err
}

func (c *Client) do(ctx context.Context, method, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to lectern: %w (is `lectern run` running?)", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var er errorResponse
		if json.Unmarshal(body, &er) == nil && er.Error != "" {
			return &Error{StatusCode: resp.StatusCode, Kind: er.Kind, Message: er.Error, TimeoutSeconds: er.TimeoutSeconds}
		}
		return &Error{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(body))}
	}

	if v == nil {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
