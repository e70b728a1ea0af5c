package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// APIClient is a thin JSON client for the loomd HTTP API.
type APIClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewAPIClient creates a client against baseURL.
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		BaseURL:    baseURL,
		HTTPClient: http.DefaultClient,
	}
}

// Do issues one JSON request and decodes the JSON response into out (when
// non-nil). It returns the HTTP status code.
func (c *APIClient) Do(method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return resp.StatusCode, fmt.Errorf("decode response: %w", err)
			}
		}
	}
	return resp.StatusCode, nil
}

// CreateSession issues the create-or-get PUT.
func (c *APIClient) CreateSession(id string) (int, error) {
	return c.Do(http.MethodPut, "/sessions/"+id, nil, nil)
}

// SendMessage posts a user message and returns its messageId.
func (c *APIClient) SendMessage(sessionID, actorID, content string) (string, error) {
	var resp struct {
		MessageID string `json:"messageId"`
	}
	status, err := c.Do(http.MethodPost, "/sessions/"+sessionID+"/messages",
		map[string]any{"actorId": actorID, "content": content}, &resp)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("send message: status %d", status)
	}
	return resp.MessageID, nil
}
