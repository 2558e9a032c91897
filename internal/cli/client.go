package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client is an HTTP client for the API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retries    int
	retryWait  time.Duration
}

// NewClient creates a new API client
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retries:   2,
		retryWait: time.Second,
	}
}

// SetToken updates the client's token
func (c *Client) SetToken(token string) {
	c.token = token
}

// SetRetries sets how often a retriable failure of an idempotent request is
// retried
func (c *Client) SetRetries(n int) {
	c.retries = max(n, 0)
}

// APIError represents an error response from the API
type APIError struct {
	Status    int    `json:"-"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
}

// ErrorResponse wraps an API error
type ErrorResponse struct {
	Error APIError `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	if e.Retriable {
		return fmt.Sprintf("%s (%s, retriable)", e.Message, e.Code)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// IsRetriable reports whether err is an API error the server marked as
// safe to retry
func IsRetriable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retriable
}

// Do performs an HTTP request. GET and PUT requests the server rejects as
// retriable are repeated; guesses and sign-ins are not, as a retry could
// apply them twice.
func (c *Client) Do(method, path string, body, result any) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	attempts := 1
	if method == http.MethodGet || method == http.MethodPut {
		attempts += c.retries
	}

	var err error
	for i := 0; i < attempts; i++ {
		var wait time.Duration
		wait, err = c.do(method, path, data, result)
		if err == nil || !IsRetriable(err) || i == attempts-1 {
			return err
		}
		time.Sleep(wait)
	}
	return err
}

// do performs one request, returning the server's suggested retry delay
func (c *Client) do(method, path string, data []byte, result any) (time.Duration, error) {
	url := c.baseURL + path

	var bodyReader io.Reader
	if data != nil {
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}

	// Check for error responses
	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Code != "" {
			errResp.Error.Status = resp.StatusCode
			return c.retryAfter(resp), &errResp.Error
		}
		return 0, &APIError{Status: resp.StatusCode, Message: string(respBody)}
	}

	// Parse successful response
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return 0, fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return 0, nil
}

func (c *Client) retryAfter(resp *http.Response) time.Duration {
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return c.retryWait
}

// Get performs a GET request
func (c *Client) Get(path string, result any) error {
	return c.Do(http.MethodGet, path, nil, result)
}

// Post performs a POST request
func (c *Client) Post(path string, body, result any) error {
	return c.Do(http.MethodPost, path, body, result)
}

// Put performs a PUT request
func (c *Client) Put(path string, body, result any) error {
	return c.Do(http.MethodPut, path, body, result)
}
