package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

// maxErrorBody caps how much of a non-envelope error body is kept.
const maxErrorBody = 512

// ResultInfo is the pagination block of the envelope.
type ResultInfo struct {
	Page       int    `json:"page"`
	PerPage    int    `json:"per_page"`
	Count      int    `json:"count"`
	TotalCount int    `json:"total_count"`
	Cursor     string `json:"cursor"`
}

type envelope struct {
	Success    bool            `json:"success"`
	Errors     []ErrorDetail   `json:"errors"`
	Messages   json.RawMessage `json:"messages"`
	Result     json.RawMessage `json:"result"`
	ResultInfo *ResultInfo     `json:"result_info"`
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the API root (default: DefaultBaseURL).
	BaseURL string

	// AccountID scopes every request path.
	AccountID string

	// APIToken is sent as a bearer token.
	APIToken string

	// HTTPClient performs the requests (default: a client with a 60s timeout).
	HTTPClient *http.Client

	// Logger receives one line per request (default: discard).
	Logger *log.Logger
}

// Client issues authenticated requests against one account.
// It holds no mutable state and is safe for concurrent use.
type Client struct {
	base   string
	token  string
	http   *http.Client
	logger *log.Logger
}

// New creates a Client. AccountID and APIToken are required.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("api config is required")
	}
	if cfg.AccountID == "" {
		return nil, fmt.Errorf("account id is required")
	}
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("api token is required")
	}

	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", base, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Client{
		base:   strings.TrimRight(base, "/") + "/accounts/" + url.PathEscape(cfg.AccountID) + "/",
		token:  cfg.APIToken,
		http:   httpClient,
		logger: logger,
	}, nil
}

// Do sends a request to an enveloped endpoint.
//
// path is relative to the account root, e.g. "storage/kv/namespaces".
// A non-nil body is JSON encoded. When out is non-nil the envelope's
// "result" is decoded into it. The returned ResultInfo is nil when the
// response carries none.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) (*ResultInfo, error) {
	status, data, err := c.send(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if status < 200 || status > 299 {
			return nil, bodyError(status, data)
		}
		return nil, fmt.Errorf("failed to decode response from %s %s: %w", method, path, err)
	}

	if !env.Success {
		return nil, &APIError{StatusCode: status, Errors: env.Errors}
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return nil, fmt.Errorf("failed to decode result from %s %s: %w", method, path, err)
		}
	}

	return env.ResultInfo, nil
}

// Raw performs a GET against a value-read endpoint and returns the body
// unmodified. No envelope is assumed on success.
func (c *Client) Raw(ctx context.Context, path string) ([]byte, error) {
	status, data, err := c.send(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	if status >= 200 && status <= 299 {
		return data, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err == nil && len(env.Errors) > 0 {
		return nil, &APIError{StatusCode: status, Errors: env.Errors}
	}
	return nil, bodyError(status, data)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any) (int, []byte, error) {
	target := c.base + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "kvns")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response from %s %s: %w", method, path, err)
	}

	c.logger.Printf("%s %s -> %d (%v)", method, path, resp.StatusCode, time.Since(start).Round(time.Millisecond))
	return resp.StatusCode, data, nil
}

// bodyError builds an APIError from a response that carried no envelope.
func bodyError(status int, data []byte) error {
	msg := strings.TrimSpace(string(data))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{
		StatusCode: status,
		Errors:     []ErrorDetail{{Code: status, Message: msg}},
	}
}
