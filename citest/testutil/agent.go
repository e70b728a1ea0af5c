package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// AgentRequest records one webhook invocation for verification.
type AgentRequest struct {
	Timestamp time.Time
	Method    string
	Headers   http.Header
	Body      map[string]any
}

// MockAgentServer mimics a webhook agent: it accepts the engine's invocation
// request and streams a scripted SSE reply.
type MockAgentServer struct {
	mu       sync.Mutex
	server   *httptest.Server
	requests []AgentRequest
	reply    []string
	status   int
	stall    bool
}

// NewMockAgentServer creates a mock agent that streams reply as one text
// chunk per element.
func NewMockAgentServer(reply ...string) *MockAgentServer {
	m := &MockAgentServer{reply: reply, status: http.StatusOK}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the agent's webhook endpoint.
func (m *MockAgentServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock agent.
func (m *MockAgentServer) Close() {
	m.server.Close()
}

// SetStatus makes subsequent invocations fail with the given HTTP status.
func (m *MockAgentServer) SetStatus(status int) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}

// SetStall makes the agent send its reply and then hold the stream open
// until the engine aborts it.
func (m *MockAgentServer) SetStall(stall bool) {
	m.mu.Lock()
	m.stall = stall
	m.mu.Unlock()
}

// Requests returns all recorded invocations.
func (m *MockAgentServer) Requests() []AgentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AgentRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestCount returns how many times the agent was invoked.
func (m *MockAgentServer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockAgentServer) handle(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)

	m.mu.Lock()
	m.requests = append(m.requests, AgentRequest{
		Timestamp: time.Now(),
		Method:    r.Method,
		Headers:   r.Header.Clone(),
		Body:      body,
	})
	status := m.status
	stall := m.stall
	reply := m.reply
	m.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	fl := w.(http.Flusher)
	for _, content := range reply {
		fmt.Fprintf(w, "data: {\"type\":\"text\",\"content\":%q}\n\n", content)
		fl.Flush()
	}
	if stall {
		<-r.Context().Done()
		return
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}
