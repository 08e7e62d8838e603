package labbcat

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

	"ferry/internal/services"
)

const (
	defaultUserAgent   = "ferry/dev"
	defaultHTTPTimeout = 60 * time.Second
	maxErrorBody       = 4096
	maxResponseBody    = 32 << 20
)

// ErrNotFound reports that the server has no such transcript or task.
var ErrNotFound = errors.New("labbcat: not found")

// Config describes the client configuration.
type Config struct {
	BaseURL   string
	Username  string
	Password  string
	UserAgent string
	// Timeout bounds each request except uploads, which run as long as the
	// caller's context allows.
	Timeout    time.Duration
	HTTPClient *http.Client
	// Retries bounds automatic retries of read-only requests. Zero selects
	// DefaultRetries and a negative value disables retrying.
	Retries int
	// InitialBackoff is the first retry delay; it doubles up to MaxBackoff.
	InitialBackoff time.Duration
}

// Client wraps the corpus server's REST API.
type Client struct {
	baseURL        *url.URL
	username       string
	password       string
	userAgent      string
	http           *http.Client
	timeout        time.Duration
	retries        int
	initialBackoff time.Duration
}

// New creates a Client from the supplied configuration.
func New(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("labbcat: base url is required")
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("labbcat: parse base url: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("labbcat: base url must be http or https, got %q", base)
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	retries := cfg.Retries
	switch {
	case retries == 0:
		retries = DefaultRetries
	case retries < 0:
		retries = 0
	}
	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = InitialBackoff
	}
	return &Client{
		baseURL:        baseURL,
		username:       cfg.Username,
		password:       cfg.Password,
		userAgent:      userAgent,
		http:           client,
		timeout:        timeout,
		retries:        retries,
		initialBackoff: backoff,
	}, nil
}

// BaseURL returns the server root the client talks to.
func (c *Client) BaseURL() string {
	if c == nil || c.baseURL == nil {
		return ""
	}
	return c.baseURL.String()
}

// StatusError reports an HTTP-level failure.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("labbcat: server returned %s", e.Status)
	}
	return fmt.Sprintf("labbcat: server returned %s: %s", e.Status, e.Body)
}

// RemoteError carries the error messages from a response envelope.
type RemoteError struct {
	Code     int
	Messages []string
}

func (e *RemoteError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("labbcat: request failed with code %d", e.Code)
	}
	return strings.Join(e.Messages, "; ")
}

type envelope struct {
	Title    string          `json:"title"`
	Version  string          `json:"version"`
	Code     int             `json:"code"`
	Errors   []string        `json:"errors"`
	Messages []string        `json:"messages"`
	Model    json.RawMessage `json:"model"`
}

func (c *Client) endpoint(path string, query url.Values) *url.URL {
	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u
}

func (c *Client) applyHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-Id", rid)
	}
}

// get issues a read-only request, retrying transient failures.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if c == nil {
		return errors.New("labbcat: client is nil")
	}
	backoff := c.initialBackoff
	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.do(attemptCtx, http.MethodGet, c.endpoint(path, query), nil, "", out)
		cancel()
		if err == nil || attempt >= c.retries || !IsRetriable(err) || ctx.Err() != nil {
			return err
		}
		if err := SleepWithContext(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, MaxBackoff)
	}
}

// send issues a state-changing request; it is never retried.
func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	if c == nil {
		return errors.New("labbcat: client is nil")
	}
	return c.do(ctx, method, c.endpoint(path, nil), body, contentType, out)
}

func (c *Client) sendForm(ctx context.Context, method, path string, form url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.send(ctx, method, path, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", out)
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("labbcat: build %s request: %w", method, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.applyHeaders(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("labbcat: %s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, u.Path)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var env envelope
		if json.Unmarshal(raw, &env) == nil && len(env.Errors) > 0 && resp.StatusCode < 500 {
			return &RemoteError{Code: resp.StatusCode, Messages: env.Errors}
		}
		return &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(raw))}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("labbcat: read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("labbcat: decode response envelope: %w", err)
	}
	if env.Code != 0 || len(env.Errors) > 0 {
		return &RemoteError{Code: env.Code, Messages: env.Errors}
	}
	if out == nil {
		return nil
	}
	model := bytes.TrimSpace(env.Model)
	if len(model) == 0 || bytes.Equal(model, []byte("null")) {
		return fmt.Errorf("%w: empty model from %s", ErrNotFound, u.Path)
	}
	if err := json.Unmarshal(model, out); err != nil {
		return fmt.Errorf("labbcat: decode %s model: %w", u.Path, err)
	}
	return nil
}
