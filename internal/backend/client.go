// Package backend is the REST client for the remote shortcut service.
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
	"strings"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/snipline/internal/version"
	"pkt.systems/snipline/schema"
)

// DefaultTimeout bounds one backend request.
const DefaultTimeout = 10 * time.Second

const maxResponseBytes = 8 << 20

// Wire payloads shared with the mock backend.
type (
	LoginRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	LoginResponse struct {
		Token string      `json:"token"`
		User  schema.User `json:"user"`
	}
	ShortcutsResponse struct {
		Shortcuts []schema.Shortcut `json:"shortcuts"`
	}
	ShortcutResponse struct {
		Shortcut schema.Shortcut `json:"shortcut"`
	}
	SearchResponse struct {
		Results []schema.Shortcut `json:"results"`
	}
	CategoriesResponse struct {
		Categories []schema.Category `json:"categories"`
	}
	UseRequest struct {
		Variables map[string]string `json:"variables,omitempty"`
	}
	UseResponse struct {
		ExpandedContent *string `json:"expandedContent,omitempty"`
	}
	ExpandRequest struct {
		Content   string            `json:"content,omitempty"`
		Variables map[string]string `json:"variables,omitempty"`
	}
	ExpandResponse struct {
		ExpandedContent string `json:"expandedContent"`
	}
	ErrorResponse struct {
		Error string `json:"error"`
	}
)

// Client calls the remote backend. It holds no credential; every
// authenticated call takes the bearer token explicitly.
type Client struct {
	base *url.URL
	http *http.Client
	log  pslog.Logger
}

// Options configures a Client.
type Options struct {
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     pslog.Logger
}

// New returns a client for the backend rooted at baseURL.
func New(baseURL string, opts Options) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("backend base url is required")
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend url must be http or https: %q", baseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Client{base: base, http: hc, log: logger.With("backend", base.Host)}, nil
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	var resp LoginResponse
	err := c.do(ctx, "login", http.MethodPost, "/api/auth/login", "", nil, LoginRequest{Username: username, Password: password}, &resp)
	if err == nil && resp.Token == "" {
		err = &Error{Op: "login", Err: fmt.Errorf("%w: empty token", schema.ErrAuth)}
	}
	return resp, err
}

// Me returns the profile behind token.
func (c *Client) Me(ctx context.Context, token string) (schema.User, error) {
	var user schema.User
	err := c.do(ctx, "me", http.MethodGet, "/api/me", token, nil, nil, &user)
	return user, err
}

// Shortcuts returns the full shortcut list.
func (c *Client) Shortcuts(ctx context.Context, token string) ([]schema.Shortcut, error) {
	var resp ShortcutsResponse
	if err := c.do(ctx, "shortcuts", http.MethodGet, "/api/shortcuts", token, nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Shortcuts == nil {
		resp.Shortcuts = []schema.Shortcut{}
	}
	return resp.Shortcuts, nil
}

// FindByTrigger returns the shortcut with exactly trigger. A missing trigger
// is schema.ErrNotFound.
func (c *Client) FindByTrigger(ctx context.Context, token, trigger string) (schema.Shortcut, error) {
	var resp ShortcutResponse
	err := c.do(ctx, "find", http.MethodGet, "/api/shortcuts/by-trigger", token, url.Values{"trigger": {trigger}}, nil, &resp)
	return resp.Shortcut, err
}

// Search returns shortcuts matching query, best match first.
func (c *Client) Search(ctx context.Context, token, query string) ([]schema.Shortcut, error) {
	var resp SearchResponse
	if err := c.do(ctx, "search", http.MethodGet, "/api/shortcuts/search", token, url.Values{"q": {query}}, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Use marks a shortcut used. Variables are optional.
func (c *Client) Use(ctx context.Context, token string, id schema.ShortcutID, variables map[string]string) (UseResponse, error) {
	var resp UseResponse
	err := c.do(ctx, "use", http.MethodPost, "/api/shortcuts/"+url.PathEscape(string(id))+"/use", token, nil, UseRequest{Variables: variables}, &resp)
	return resp, err
}

// Expand renders a shortcut server-side.
func (c *Client) Expand(ctx context.Context, token string, id schema.ShortcutID, content string, variables map[string]string) (string, error) {
	var resp ExpandResponse
	err := c.do(ctx, "expand", http.MethodPost, "/api/shortcuts/"+url.PathEscape(string(id))+"/expand", token, nil, ExpandRequest{Content: content, Variables: variables}, &resp)
	return resp.ExpandedContent, err
}

// Categories returns the category list.
func (c *Client) Categories(ctx context.Context, token string) ([]schema.Category, error) {
	var resp CategoriesResponse
	if err := c.do(ctx, "categories", http.MethodGet, "/api/categories", token, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Categories, nil
}

func (c *Client) do(ctx context.Context, op, method, path, token string, query url.Values, body, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	target := *c.base
	target.Path = c.base.Path + path
	if query != nil {
		target.RawQuery = query.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err)}
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("backend request failed", "op", op, "err", err)
		if errors.Is(ctx.Err(), context.Canceled) {
			return &Error{Op: op, Err: ctx.Err()}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &Error{Op: op, Err: fmt.Errorf("%w: %w", schema.ErrNetwork, ctxErr)}
		}
		return transportError(op, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(op, err)
	}
	c.log.Trace("backend request", "op", op, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload ErrorResponse
		_ = json.Unmarshal(data, &payload)
		return statusError(op, resp.StatusCode, payload.Error)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Status: resp.StatusCode, Op: op, Err: fmt.Errorf("%w: decode response: %v", schema.ErrNetwork, err)}
	}
	return nil
}
