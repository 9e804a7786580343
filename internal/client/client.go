// Package client talks to a running zordd over HTTP.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"zord/pkg/types"
)

// DefaultBaseURL is where zordd listens by default.
const DefaultBaseURL = "http://127.0.0.1:8080"

// maxLineBytes bounds one NDJSON line.
const maxLineBytes = 1 << 20

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server http %d: %s", e.StatusCode, e.Message)
}

// IsQuotaExceeded reports whether err is the daily limit answer (429).
func IsQuotaExceeded(err error) bool {
	ae, ok := err.(*APIError)
	return ok && ae.StatusCode == http.StatusTooManyRequests
}

// Client is safe for concurrent use.
type Client struct {
	baseURL  string
	clientID string
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithClientID pins the X-Client-ID sent with every request. By default each
// Client gets a random session id, so its quota is tracked per session.
func WithClientID(id string) Option {
	return func(c *Client) {
		if id = strings.TrimSpace(id); id != "" {
			c.clientID = id
		}
	}
}

// New returns a client for baseURL (DefaultBaseURL when empty).
func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:  baseURL,
		clientID: uuid.NewString(),
		// Generations can run for minutes; callers bound them with ctx.
		http: &http.Client{Timeout: 0},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ClientID returns the X-Client-ID this client sends.
func (c *Client) ClientID() string { return c.clientID }

// BaseURL returns the daemon address.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-ID", c.clientID)
	return req, nil
}

// do sends req and decodes a JSON 2xx body into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse server response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var er types.ErrorResponse
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// Info calls GET /.
func (c *Client) Info(ctx context.Context) (types.InfoResponse, error) {
	var out types.InfoResponse
	return out, c.get(ctx, "/", &out)
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (types.HealthResponse, error) {
	var out types.HealthResponse
	return out, c.get(ctx, "/health", &out)
}

// Status calls GET /status.
func (c *Client) Status(ctx context.Context) (types.StatusResponse, error) {
	var out types.StatusResponse
	return out, c.get(ctx, "/status", &out)
}

// Usage calls GET /usage for this client's identity.
func (c *Client) Usage(ctx context.Context) (types.UsageSnapshot, error) {
	var out types.UsageSnapshot
	return out, c.get(ctx, "/usage", &out)
}

// Generate sends a non-streaming request.
func (c *Client) Generate(ctx context.Context, in types.GenerateRequest) (types.GenerateResponse, error) {
	in.Stream = false
	var out types.GenerateResponse
	req, err := c.newRequest(ctx, http.MethodPost, "/generate", in)
	if err != nil {
		return out, err
	}
	return out, c.do(req, &out)
}

// Stream sends a streaming request and calls onToken for every token line.
// It returns the payload of the final done line. A failure reported on the
// done line is returned as an *APIError.
func (c *Client) Stream(ctx context.Context, in types.GenerateRequest, onToken func(string)) (types.GenerateResponse, error) {
	in.Stream = true
	req, err := c.newRequest(ctx, http.MethodPost, "/generate", in)
	if err != nil {
		return types.GenerateResponse{}, err
	}
	req.Header.Set("Accept", "application/x-ndjson")
	resp, err := c.http.Do(req)
	if err != nil {
		return types.GenerateResponse{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return types.GenerateResponse{}, err
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var head struct {
			Done bool `json:"done"`
		}
		if err := json.Unmarshal(line, &head); err != nil {
			return types.GenerateResponse{}, fmt.Errorf("bad stream line %q: %w", line, err)
		}
		if !head.Done {
			var tok types.StreamToken
			_ = json.Unmarshal(line, &tok)
			if onToken != nil {
				onToken(tok.Token)
			}
			continue
		}
		var done types.StreamDone
		if err := json.Unmarshal(line, &done); err != nil {
			return types.GenerateResponse{}, fmt.Errorf("bad done line: %w", err)
		}
		if done.Error != "" {
			code := done.Code
			if code == 0 {
				code = http.StatusInternalServerError
			}
			return types.GenerateResponse{}, &APIError{StatusCode: code, Message: done.Error}
		}
		if done.GenerateResponse == nil {
			return types.GenerateResponse{}, nil
		}
		return *done.GenerateResponse, nil
	}
	if err := sc.Err(); err != nil {
		return types.GenerateResponse{}, err
	}
	return types.GenerateResponse{}, io.ErrUnexpectedEOF
}

// WaitHealthy polls /health until the daemon answers or ctx ends.
func (c *Client) WaitHealthy(ctx context.Context, every time.Duration) (types.HealthResponse, error) {
	if every <= 0 {
		every = 500 * time.Millisecond
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		h, err := c.Health(ctx)
		if err == nil {
			return h, nil
		}
		select {
		case <-ctx.Done():
			return h, fmt.Errorf("daemon at %s not healthy: %w", c.baseURL, err)
		case <-t.C:
		}
	}
}
