package testutil

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/opencode-ai/threadbridge/internal/agent/agenttest"
	"github.com/opencode-ai/threadbridge/internal/event"
	"github.com/opencode-ai/threadbridge/internal/platform/memory"
	"github.com/opencode-ai/threadbridge/internal/server"
	"github.com/opencode-ai/threadbridge/internal/session"
	"github.com/opencode-ai/threadbridge/internal/storage"
)

// TestServer is a listening server backed by fake agent processes.
type TestServer struct {
	Server   *server.Server
	Sessions *session.Manager
	Chat     *memory.Platform
	Spawner  *agenttest.Spawner
	Bus      *event.Bus
	BaseURL  string
	TempDir  string
}

// StartTestServer creates and starts a test server allowing maxSessions
// concurrent sessions.
func StartTestServer(maxSessions int) (*TestServer, error) {
	tempDir, err := os.MkdirTemp("", "threadbridge-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	port, err := findAvailablePort()
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}

	bus := event.NewBus()
	spawner := &agenttest.Spawner{}
	mgr := session.NewManager(session.Config{
		MaxSessions: maxSessions,
		WorkDir:     tempDir,
		Spawner:     spawner,
		Snapshots:   storage.NewSnapshots(storage.New(filepath.Join(tempDir, "storage"))),
		Bus:         bus,
	})
	chat := memory.New("memory")
	mgr.AddPlatform(chat)
	chat.SetHandler(mgr)

	serverConfig := server.DefaultConfig()
	serverConfig.Port = port
	srv := server.New(serverConfig, mgr, chat, bus)

	go func() {
		_ = srv.Start()
	}()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	if err := waitForServer(baseURL, 10*time.Second); err != nil {
		srv.Shutdown(context.Background())
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("server failed to start: %w", err)
	}

	return &TestServer{
		Server:   srv,
		Sessions: mgr,
		Chat:     chat,
		Spawner:  spawner,
		Bus:      bus,
		BaseURL:  baseURL,
		TempDir:  tempDir,
	}, nil
}

// Stop shuts down the test server and cleans up
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = ts.Sessions.Shutdown(ctx)
	err := ts.Server.Shutdown(ctx)
	_ = ts.Bus.Close()
	os.RemoveAll(ts.TempDir)
	return err
}

// Client returns a new test client for this server
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL)
}

// SSEClient returns a new SSE client for this server
func (ts *TestServer) SSEClient() *SSEClient {
	return NewSSEClient(ts.BaseURL)
}

// findAvailablePort finds an available TCP port
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForServer waits for the server to be ready
func waitForServer(baseURL string, timeout time.Duration) error {
	client := NewTestClient(baseURL)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(context.Background(), "/status")
		if err == nil && resp.IsSuccess() {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}
