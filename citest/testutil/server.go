// Package testutil provides helpers for end-to-end tests: a full in-process
// loomd instance and a mock webhook agent.
package testutil

import (
	"fmt"
	"net/http/httptest"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/loomchat/loom/internal/approval"
	"github.com/loomchat/loom/internal/event"
	"github.com/loomchat/loom/internal/eventlog"
	"github.com/loomchat/loom/internal/server"
	"github.com/loomchat/loom/internal/session"
)

// TestServer wraps a full engine instance behind an httptest listener.
type TestServer struct {
	BaseURL   string
	Registry  *session.Registry
	Approvals *approval.Manager
	Bus       *event.Bus
	TempDir   string

	http *httptest.Server
}

// TestServerOption configures TestServer.
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	dataDir         string
	approvalTimeout time.Duration
}

// WithDataDir makes session logs file-backed under dir.
func WithDataDir(dir string) TestServerOption {
	return func(c *testServerConfig) {
		c.dataDir = dir
	}
}

// WithApprovalTimeout overrides the approval timeout.
func WithApprovalTimeout(d time.Duration) TestServerOption {
	return func(c *testServerConfig) {
		c.approvalTimeout = d
	}
}

// StartTestServer boots the whole stack: event bus, log store, trigger
// engine, approvals, and the HTTP surface.
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	cfg := &testServerConfig{approvalTimeout: time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}

	_ = godotenv.Load("../../.env")

	tempDir, err := os.MkdirTemp("", "loom-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	bus := event.NewBus()
	store := eventlog.NewStore(cfg.dataDir)
	invoker := session.NewInvoker(bus, nil)
	trigger := session.NewTrigger(invoker)
	registry := session.NewRegistry(store, bus, trigger)
	approvals := approval.NewManager(bus, cfg.approvalTimeout)

	serverCfg := server.DefaultConfig()
	serverCfg.EnableCORS = false
	srv := server.New(serverCfg, registry, approvals, bus)

	ts := httptest.NewServer(srv.Router())

	return &TestServer{
		BaseURL:   ts.URL,
		Registry:  registry,
		Approvals: approvals,
		Bus:       bus,
		TempDir:   tempDir,
		http:      ts,
	}, nil
}

// Stop tears the instance down and removes its temp data.
func (t *TestServer) Stop() {
	t.http.Close()
	t.Registry.Close()
	t.Bus.Close()
	os.RemoveAll(t.TempDir)
}
