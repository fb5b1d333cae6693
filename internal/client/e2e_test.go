//go:build !windows

package client

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XERGER/EmbedPython/internal/broker"
	"github.com/XERGER/EmbedPython/internal/protocol"
	"github.com/XERGER/EmbedPython/internal/runner"
)

// e2eOps answers every operation from canned results.
type e2eOps struct{}

func (e2eOps) RunScript(id, script string, args []any, timeout time.Duration) runner.Result {
	return runner.Result{ExecutionID: id, Success: true, Stdout: "30\n", Duration: 3 * time.Millisecond}
}

func (e2eOps) CheckSyntax(id, script string, timeout time.Duration) runner.Result {
	return runner.Result{ExecutionID: id, Success: true}
}

func (e2eOps) RunPackage(id string, op protocol.OperationType, identifier string, progress runner.ProgressFunc) runner.Result {
	progress(id, op, "Collecting package information...")
	return runner.Result{ExecutionID: id, Success: true, Stdout: "done"}
}

func (e2eOps) Cancel(id string) bool { return true }

func (e2eOps) PackageInfo(name string) (map[string]string, error) {
	return map[string]string{"Name": name}, nil
}

func (e2eOps) ListInstalled() []string             { return []string{"requests"} }
func (e2eOps) IsInstalled(name string) bool        { return name == "requests" }
func (e2eOps) InstalledVersion(name string) string { return "2.31.0" }

func e2eKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(200 - i)
	}
	return key
}

func startBroker(t *testing.T, path string) *broker.Server {
	t.Helper()
	s := broker.New(path, e2eKey(), e2eOps{})
	require.NoError(t, s.Listen())
	go s.Serve()
	return s
}

func TestClientExecuteEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.sock")
	s := startBroker(t, path)
	defer s.Shutdown()

	var mu sync.Mutex
	var scripts []Result
	done := make(chan struct{}, 4)

	c := New(Notifications{
		ScriptExecutionFinished: func(r Result) {
			mu.Lock()
			scripts = append(scripts, r)
			mu.Unlock()
			done <- struct{}{}
		},
	}).WithEndpoint(path, e2eKey())
	defer c.Close()

	require.NoError(t, c.ConnectToServer())
	require.NoError(t, c.Execute("E1", "result = 10 + 20\nprint(result)", nil, 5000))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no script-finished notification")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, scripts, 1)
	assert.Equal(t, "E1", scripts[0].ExecutionID)
	assert.True(t, scripts[0].Success)
	assert.Equal(t, "30\n", scripts[0].Stdout)
}

func TestClientPackageProgressEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.sock")
	s := startBroker(t, path)
	defer s.Shutdown()

	progress := make(chan string, 8)
	finished := make(chan Result, 1)

	c := New(Notifications{
		PackageOperationProgress: func(op protocol.OperationType, stage, id string) {
			progress <- op.String() + "|" + stage
		},
		PackageOperationFinished: func(r Result) { finished <- r },
	}).WithEndpoint(path, e2eKey())
	defer c.Close()

	require.NoError(t, c.ConnectToServer())
	require.NoError(t, c.InstallPackage("E2", "requests"))

	select {
	case stage := <-progress:
		assert.Equal(t, "install|Collecting package information...", stage)
	case <-time.After(2 * time.Second):
		t.Fatal("no progress notification")
	}

	select {
	case r := <-finished:
		assert.Equal(t, "E2", r.ExecutionID)
		assert.True(t, r.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("no package-finished notification")
	}
}

func TestClientReconnect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.sock")
	s := startBroker(t, path)

	connected := make(chan struct{}, 4)
	disconnected := make(chan struct{}, 4)

	c := New(Notifications{
		ConnectedToServer:      func() { connected <- struct{}{} },
		DisconnectedFromServer: func() { disconnected <- struct{}{} },
	}).WithEndpoint(path, e2eKey())
	c.reconnectEvery = 100 * time.Millisecond
	defer c.Close()

	require.NoError(t, c.ConnectToServer())
	<-connected

	s.Shutdown()
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect notification")
	}

	// Restart the broker on the same endpoint; the reconnect timer
	// finds it.
	s2 := startBroker(t, path)
	defer s2.Shutdown()

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("no reconnect notification")
	}
	assert.True(t, c.IsConnected())
}
