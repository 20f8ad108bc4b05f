// Package client talks to the TaskSimple server over HTTP.
//
// Client implements reconcile.Remote. Connectivity failures and server
// errors map to errs.ErrSyncUnavailable so the reconciler queues the
// change; 401, 404 and 422 map to errs.ErrAuth, errs.ErrNotFound and
// *errs.ValidationError.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/khaledrefaat/TaskSimple/internal/errs"
	"github.com/khaledrefaat/TaskSimple/internal/reconcile"
	"github.com/khaledrefaat/TaskSimple/internal/schema"
)

// Header names shared with the server.
const (
	RefreshHeader = "X-Auth-Token"
	maxErrorBody  = 64 << 10
)

// ErrRateLimited is returned when the server throttles sign-in attempts.
var ErrRateLimited = errors.New("too many sign-in attempts, try again later")

// Config holds client configuration.
type Config struct {
	// ServerURL is the base URL of the server, e.g. http://localhost:8080.
	ServerURL string

	// Timeout bounds each request (default: 10s). Ignored when HTTPClient
	// is set.
	Timeout time.Duration

	// HTTPClient overrides the transport.
	HTTPClient *http.Client

	// OnTokenRefresh is called with a re-issued session token.
	OnTokenRefresh func(token string)
}

// Client is an HTTP client for the server API.
type Client struct {
	baseURL   string
	http      *http.Client
	onRefresh func(string)
}

var _ reconcile.Remote = (*Client)(nil)

// New creates a client for config.ServerURL.
func New(config *Config) (*Client, error) {
	if config == nil || config.ServerURL == "" {
		return nil, errors.New("server url is required")
	}
	u, err := url.Parse(config.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", config.ServerURL)
	}

	hc := config.HTTPClient
	if hc == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:   strings.TrimRight(config.ServerURL, "/"),
		http:      hc,
		onRefresh: config.OnTokenRefresh,
	}, nil
}

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// apiResponse is the server's envelope for auth results and errors.
type apiResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
	User    *schema.User        `json:"user,omitempty"`
}

// do sends a request and decodes a 2xx JSON reply into out.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%s %s: %v: %w", method, path, err, errs.ErrSyncUnavailable)
	}
	defer resp.Body.Close()

	if fresh := resp.Header.Get(RefreshHeader); fresh != "" && fresh != token && token != "" && c.onRefresh != nil {
		c.onRefresh(fresh)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resp, fmt.Errorf("failed to decode %s %s: %v: %w", method, path, err, errs.ErrSyncUnavailable)
			}
		}
		return resp, nil
	}
	return resp, statusError(method, path, resp)
}

func statusError(method, path string, resp *http.Response) error {
	var env apiResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&env)

	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized:
		return errs.ErrAuth
	case code == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, errs.ErrNotFound)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		v := errs.NewValidationError()
		for field, msgs := range env.Errors {
			for _, m := range msgs {
				v.Add(field, m)
			}
		}
		if v.Empty() {
			msg := env.Message
			if msg == "" {
				msg = http.StatusText(code)
			}
			v.Add("request", msg)
		}
		return v
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= 500:
		return fmt.Errorf("%s %s: server returned %d: %w", method, path, code, errs.ErrSyncUnavailable)
	default:
		return fmt.Errorf("%s %s: unexpected status %d", method, path, code)
	}
}

// Health probes the server. Any failure is errs.ErrSyncUnavailable.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", "", nil, nil)
	if err != nil && !errs.IsOffline(err) && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("health check: %v: %w", err, errs.ErrSyncUnavailable)
	}
	return err
}

// FetchAll returns every project and todo of the session's user.
func (c *Client) FetchAll(ctx context.Context, sess reconcile.Session) (*schema.Snapshot, error) {
	var snap schema.Snapshot
	if _, err := c.do(ctx, http.MethodGet, "/api/sync", sess.Token, nil, &snap); err != nil {
		return nil, err
	}
	if snap.Projects == nil {
		snap.Projects = []schema.Project{}
	}
	if snap.Todos == nil {
		snap.Todos = []schema.Todo{}
	}
	return &snap, nil
}

// CreateProject creates p on the server, keeping its client-chosen id.
func (c *Client) CreateProject(ctx context.Context, sess reconcile.Session, p *schema.Project) (*schema.Project, error) {
	var out schema.Project
	if _, err := c.do(ctx, http.MethodPost, "/api/projects", sess.Token, p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateProject(ctx context.Context, sess reconcile.Session, id string, patch schema.ProjectPatch) (*schema.Project, error) {
	var out schema.Project
	if _, err := c.do(ctx, http.MethodPatch, "/api/projects/"+url.PathEscape(id), sess.Token, patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteProject(ctx context.Context, sess reconcile.Session, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/projects/"+url.PathEscape(id), sess.Token, nil, nil)
	return err
}

// CreateTodo creates t on the server, keeping its client-chosen id.
func (c *Client) CreateTodo(ctx context.Context, sess reconcile.Session, t *schema.Todo) (*schema.Todo, error) {
	var out schema.Todo
	if _, err := c.do(ctx, http.MethodPost, "/api/todos", sess.Token, t, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateTodo(ctx context.Context, sess reconcile.Session, id string, patch schema.TodoPatch) (*schema.Todo, error) {
	var out schema.Todo
	if _, err := c.do(ctx, http.MethodPatch, "/api/todos/"+url.PathEscape(id), sess.Token, patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteTodo(ctx context.Context, sess reconcile.Session, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/todos/"+url.PathEscape(id), sess.Token, nil, nil)
	return err
}
