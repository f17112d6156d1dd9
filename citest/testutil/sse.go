package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SSEEvent is one decoded event from the /event stream.
type SSEEvent struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// SSEClient reads the server's event stream.
type SSEClient struct {
	BaseURL string

	events chan SSEEvent
	cancel context.CancelFunc
}

// NewSSEClient creates a new SSE test client.
func NewSSEClient(baseURL string) *SSEClient {
	return &SSEClient{BaseURL: baseURL, events: make(chan SSEEvent, 100)}
}

// Connect opens the stream at path and waits for server.connected.
func (c *SSEClient) Connect(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	go func() {
		defer resp.Body.Close()
		defer close(c.events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var evt SSEEvent
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &evt); err != nil {
				continue
			}
			select {
			case c.events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	_, err = c.WaitForEvent("server.connected", 5*time.Second)
	return err
}

// WaitForEvent waits for an event of the given type, discarding others.
func (c *SSEClient) WaitForEvent(eventType string, timeout time.Duration) (*SSEEvent, error) {
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-c.events:
			if !ok {
				return nil, fmt.Errorf("connection closed")
			}
			if evt.Type == eventType {
				return &evt, nil
			}
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for event: %s", eventType)
		}
	}
}

// Close ends the stream.
func (c *SSEClient) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}
