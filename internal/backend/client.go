// Package backend is a thin JSON client for the backend's HTTP API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrMalformed is returned when a response body cannot be decoded or misses
// a required field.
var ErrMalformed = errors.New("malformed response")

// TransportError wraps failures to reach the backend at all.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Code, e.Body)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	IsHealthy            *bool `json:"is_healthy"`
	SummarizationEnabled bool  `json:"summarization_enabled"`
}

// RelatedLink is one entry of an article's related links.
type RelatedLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Article is the resource the long-running jobs complete into. Job results
// appear as optional fields; there is no separate job status endpoint.
type Article struct {
	ID                int64         `json:"id"`
	FeedID            int64         `json:"feed_id,omitempty"`
	Title             string        `json:"title"`
	URL               string        `json:"url,omitempty"`
	Summary           string        `json:"summary,omitempty"`
	FullSummary       string        `json:"full_summary,omitempty"`
	RelatedLinks      []RelatedLink `json:"related_links,omitempty"`
	RelatedLinksError string        `json:"related_links_error,omitempty"`
	Content           string        `json:"content,omitempty"`
	ContentError      string        `json:"content_error,omitempty"`
}

// ChatReply is the response of POST /articles/{id}/chat.
type ChatReply struct {
	Reply    string `json:"reply"`
	Modified bool   `json:"modified,omitempty"`
}

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// TokenSource supplies the bearer token for authenticated content fetches.
type TokenSource func() (string, error)

// Client talks to one backend instance.
type Client struct {
	baseURL string
	http    HTTPDoer
	limiter *rate.Limiter
	token   TokenSource
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c HTTPDoer) Option {
	return func(cl *Client) { cl.http = c }
}

// WithRateLimit caps requests per second; zero disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(cl *Client) {
		if perSecond <= 0 {
			cl.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithToken(ts TokenSource) Option {
	return func(cl *Client) { cl.token = ts }
}

// New creates a client for the backend at baseURL (e.g. http://127.0.0.1:5005).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ForPort returns a client for the loopback backend on port.
func ForPort(port int, opts ...Option) *Client {
	return New("http://127.0.0.1:"+strconv.Itoa(port), opts...)
}

// BaseURL returns the backend address.
func (c *Client) BaseURL() string { return c.baseURL }

// Health performs GET /health. A body without is_healthy is ErrMalformed.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, "health", http.MethodGet, "/health", nil, false, &resp); err != nil {
		return nil, err
	}
	if resp.IsHealthy == nil {
		return nil, fmt.Errorf("health: %w: missing is_healthy", ErrMalformed)
	}
	return &resp, nil
}

// Article fetches GET /articles/{id}.
func (c *Client) Article(ctx context.Context, id int64) (*Article, error) {
	var a Article
	if err := c.do(ctx, "get article", http.MethodGet, articlePath(id, ""), nil, false, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Summarize asks the backend to start generating the full summary.
func (c *Client) Summarize(ctx context.Context, id int64) error {
	return c.do(ctx, "summarize", http.MethodPost, articlePath(id, "summarize"), nil, false, nil)
}

// FindRelated asks the backend to start related-link discovery.
func (c *Client) FindRelated(ctx context.Context, id int64) error {
	return c.do(ctx, "find related", http.MethodPost, articlePath(id, "related"), nil, false, nil)
}

// FetchContent asks the backend to fetch the article body using the
// configured credentials.
func (c *Client) FetchContent(ctx context.Context, id int64) error {
	return c.do(ctx, "fetch content", http.MethodPost, articlePath(id, "fetch-content"), nil, true, nil)
}

// Chat sends one message about an article and returns the reply synchronously.
func (c *Client) Chat(ctx context.Context, id int64, message string) (*ChatReply, error) {
	body := map[string]string{"message": message}
	var reply ChatReply
	if err := c.do(ctx, "chat", http.MethodPost, articlePath(id, "chat"), body, false, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func articlePath(id int64, action string) string {
	p := "/articles/" + url.PathEscape(strconv.FormatInt(id, 10))
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, auth bool, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &TransportError{Op: op, Err: err}
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.token != nil {
		token, err := c.token()
		if err != nil {
			return fmt.Errorf("%s: resolving token: %w", op, err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(out); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrMalformed, err)
	}
	return nil
}
