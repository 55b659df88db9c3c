package redmine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultPageSize        = 100
	defaultBacklogPageSize = 100
)

// Options configures a Client. BaseURL and APIKey are required; the rest
// fall back to defaults.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	// PageSize and PageDelay throttle full ticket listings. The delay is a
	// politeness pause between page requests.
	PageSize  int
	PageDelay time.Duration

	// BacklogPageSize bounds the single page read in backlog mode.
	BacklogPageSize int
}

type Client struct {
	baseURL         string
	apiKey          string
	httpClient      *http.Client
	pageSize        int
	pageDelay       time.Duration
	backlogPageSize int
	sleep           func(time.Duration)
}

func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("redmine: base URL is required")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("redmine: API key is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	backlog := opts.BacklogPageSize
	if backlog < 1 {
		backlog = defaultBacklogPageSize
	}
	return &Client{
		baseURL:         baseURL,
		apiKey:          opts.APIKey,
		httpClient:      httpClient,
		pageSize:        pageSize,
		pageDelay:       opts.PageDelay,
		backlogPageSize: backlog,
		sleep:           time.Sleep,
	}, nil
}

// APIError is a non-success response from the tracker.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (err *APIError) Error() string {
	body := strings.TrimSpace(err.Body)
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	if body == "" {
		return fmt.Sprintf("redmine: %s %s returned %d", err.Method, err.Path, err.StatusCode)
	}
	return fmt.Sprintf("redmine: %s %s returned %d: %s", err.Method, err.Path, err.StatusCode, body)
}

// IsNotFound reports whether err is a tracker 404 response.
func IsNotFound(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == http.StatusNotFound
}

// do sends one request and returns the body of a 2xx response. Any other
// status becomes an *APIError. requestBody, when non-nil, is JSON encoded.
func (c *Client) do(ctx context.Context, method, path string, requestBody any) ([]byte, int, error) {
	var reader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, 0, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Redmine-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("redmine: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, resp.StatusCode, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &APIError{Method: http.MethodGet, Path: path, StatusCode: status, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
