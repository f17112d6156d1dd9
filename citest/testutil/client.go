package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opencode-ai/threadbridge/internal/platform"
	"github.com/opencode-ai/threadbridge/pkg/types"
)

// TestClient provides HTTP client utilities for testing
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a new test HTTP client
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Response wraps HTTP response with helpers
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals response body into v
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// String returns response body as string
func (r *Response) String() string {
	return string(r.Body)
}

// IsSuccess returns true if status code is 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Get performs HTTP GET request
func (c *TestClient) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs HTTP POST request with JSON body
func (c *TestClient) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Delete performs HTTP DELETE request with an optional JSON body
func (c *TestClient) Delete(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, body)
}

func (c *TestClient) do(ctx context.Context, method, path string, body any) (*Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: respBody}, nil
}

// PostMessage posts a user message; an empty threadID starts a thread.
func (c *TestClient) PostMessage(ctx context.Context, threadID, userID, text string) (*Response, error) {
	path := "/thread"
	if threadID != "" {
		path = "/thread/" + threadID + "/message"
	}
	return c.Post(ctx, path, map[string]string{"userID": userID, "text": text})
}

// StartThread posts a root message and returns it.
func (c *TestClient) StartThread(ctx context.Context, userID, text string) (platform.Message, error) {
	var msg platform.Message
	resp, err := c.PostMessage(ctx, "", userID, text)
	if err != nil {
		return msg, err
	}
	if !resp.IsSuccess() {
		return msg, fmt.Errorf("start thread: %d %s", resp.StatusCode, resp.String())
	}
	return msg, resp.JSON(&msg)
}

// React adds or removes a reaction.
func (c *TestClient) React(ctx context.Context, postID, userID, emoji string, added bool) (*Response, error) {
	body := map[string]string{"userID": userID, "emoji": emoji}
	if added {
		return c.Post(ctx, "/post/"+postID+"/reaction", body)
	}
	return c.Delete(ctx, "/post/"+postID+"/reaction", body)
}

// Thread returns a thread's posts, oldest first.
func (c *TestClient) Thread(ctx context.Context, threadID string) ([]platform.Message, error) {
	var msgs []platform.Message
	resp, err := c.Get(ctx, "/thread/"+threadID)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("thread %s: %d", threadID, resp.StatusCode)
	}
	return msgs, resp.JSON(&msgs)
}

// ListSessions returns the live sessions.
func (c *TestClient) ListSessions(ctx context.Context) ([]types.SessionInfo, error) {
	var infos []types.SessionInfo
	resp, err := c.Get(ctx, "/session")
	if err != nil {
		return nil, err
	}
	return infos, resp.JSON(&infos)
}
