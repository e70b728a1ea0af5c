package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SSEEvent is one frame from a session event stream.
type SSEEvent struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// SSEClient consumes a session's live event stream for assertions.
type SSEClient struct {
	BaseURL    string
	HTTPClient *http.Client

	mu     sync.Mutex
	events []SSEEvent
	cancel context.CancelFunc
	body   io.ReadCloser
}

// NewSSEClient creates an SSE test client against baseURL.
func NewSSEClient(baseURL string) *SSEClient {
	return &SSEClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 0},
	}
}

// Connect opens the stream and starts collecting frames in the background.
func (c *SSEClient) Connect(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return fmt.Errorf("unexpected content type: %s", ct)
	}

	c.body = resp.Body
	go c.readEvents(resp.Body)
	return nil
}

// Close tears the stream down.
func (c *SSEClient) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.body != nil {
		c.body.Close()
	}
}

// Events returns a snapshot of all frames received so far.
func (c *SSEClient) Events() []SSEEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SSEEvent, len(c.events))
	copy(out, c.events)
	return out
}

// EventsOfType filters the received frames by type.
func (c *SSEClient) EventsOfType(eventType string) []SSEEvent {
	var out []SSEEvent
	for _, ev := range c.Events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// WaitForEvent blocks until a frame of the given type arrives or the timeout
// passes.
func (c *SSEClient) WaitForEvent(eventType string, timeout time.Duration) (SSEEvent, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, ev := range c.EventsOfType(eventType) {
			return ev, true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return SSEEvent{}, false
}

func (c *SSEClient) readEvents(body io.Reader) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var ev SSEEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
	}
}
