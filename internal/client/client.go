// Package client is the in-process library consumers link against: it
// hides framing, encryption, reconnection, and broker supervision
// behind an asynchronous notification surface keyed by executionId.
package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/XERGER/EmbedPython/internal/logx"
	"github.com/XERGER/EmbedPython/internal/protocol"
	"github.com/XERGER/EmbedPython/internal/wire"
)

const (
	dialTimeout       = 5 * time.Second
	readyRetries      = 4
	readyRetryDelay   = 5 * time.Second
	reconnectInterval = 5 * time.Second
	writeTimeout      = 5 * time.Second
)

// Client connects to the broker and demultiplexes its responses into
// notifications.
type Client struct {
	socketPath string
	key        []byte
	notify     Notifications
	log        *slog.Logger

	reconnectEvery time.Duration

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	closed    bool
	reconnect chan struct{} // non-nil while the reconnect timer runs
}

// New returns a client for this host's broker endpoint.
func New(notify Notifications) *Client {
	return &Client{
		socketPath:     wire.SocketPath(),
		key:            wire.SecretKey(),
		notify:         notify,
		log:            logx.WithComponent("client"),
		reconnectEvery: reconnectInterval,
	}
}

// WithEndpoint overrides the derived endpoint and key.
func (c *Client) WithEndpoint(path string, key []byte) *Client {
	c.socketPath = path
	c.key = key
	return c
}

// NewExecutionID mints an executionId for a submission.
func NewExecutionID() string {
	return uuid.NewString()
}

// ConnectToServer dials the broker with a 5 s deadline. Already
// connected is a no-op.
func (c *Client) ConnectToServer() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout)
	if err != nil {
		return fmt.Errorf("connect to server: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("client is closed")
	}
	c.conn = conn
	c.connected = true
	c.stopReconnectLocked()
	c.mu.Unlock()

	go c.readLoop(conn)

	if c.notify.ConnectedToServer != nil {
		c.notify.ConnectedToServer()
	}
	return nil
}

// WaitForServerReady retries the connection for roughly 20 seconds.
func (c *Client) WaitForServerReady() bool {
	for i := 0; i < readyRetries; i++ {
		if err := c.ConnectToServer(); err == nil {
			return true
		}
		time.Sleep(readyRetryDelay)
	}
	c.log.Warn("server is not ready")
	return false
}

// IsConnected reports the connection state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close stops reconnection attempts and drops the connection.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopReconnectLocked()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (c *Client) stopReconnectLocked() {
	if c.reconnect != nil {
		close(c.reconnect)
		c.reconnect = nil
	}
}

// readLoop drives the same framed receive path as the broker side.
func (c *Client) readLoop(conn net.Conn) {
	dec := wire.NewDecoder(c.key)
	buf := make([]byte, 64*1024)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			if !c.drain(dec, conn) {
				break
			}
		}
		if err != nil {
			break
		}
	}

	c.onDisconnected(conn)
}

func (c *Client) drain(dec *wire.Decoder, conn net.Conn) bool {
	for {
		step := dec.Next()
		switch step.Kind {
		case wire.NeedMore:
			return true
		case wire.Message:
			c.handleResponse(step.Payload)
		case wire.BadMessage:
			c.log.Warn("dropping undecodable response", "reason", step.Reason)
		case wire.Fatal:
			c.log.Warn("fatal framing error from server", "reason", step.Reason)
			conn.Close()
			return false
		}
	}
}

// handleResponse demultiplexes one decoded response.
func (c *Client) handleResponse(raw []byte) {
	var resp protocol.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.log.Warn("dropping unparsable response", "error", err)
		return
	}

	if resp.UpdateEvent {
		if c.notify.PackageOperationProgress != nil {
			c.notify.PackageOperationProgress(protocol.OperationFromStatus(resp.Status), resp.Stage, resp.ExecutionID)
		}
		return
	}

	if resp.IsScript {
		if c.notify.ScriptExecutionFinished != nil {
			c.notify.ScriptExecutionFinished(resultFromResponse(&resp))
		}
		return
	}

	if resp.IsTerminal() {
		if c.notify.PackageOperationFinished != nil {
			c.notify.PackageOperationFinished(resultFromResponse(&resp))
		}
		return
	}

	c.log.Debug("intermediate status", "status", resp.Status, "executionId", resp.ExecutionID)
}

func (c *Client) onDisconnected(conn net.Conn) {
	conn.Close()

	c.mu.Lock()
	wasConnected := c.connected && c.conn == conn
	if wasConnected {
		c.connected = false
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if !wasConnected {
		return
	}

	c.log.Warn("disconnected from server")
	if c.notify.DisconnectedFromServer != nil {
		c.notify.DisconnectedFromServer()
	}
	if !closed {
		c.startReconnect()
	}
}

// startReconnect runs the 5 s-interval retry loop until the connection
// is restored or the client is closed.
func (c *Client) startReconnect() {
	c.mu.Lock()
	if c.reconnect != nil || c.closed {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.reconnect = stop
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.reconnectEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := c.ConnectToServer(); err == nil {
					return
				}
			}
		}
	}()
}

// sendCommand serializes, encrypts, and writes one command.
func (c *Client) sendCommand(cmd *protocol.Command) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("not connected to server")
	}

	plain, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := wire.WriteFrame(conn, c.key, plain); err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	return nil
}

// Execute submits a script run.
func (c *Client) Execute(executionID, script string, arguments []any, timeoutMs int) error {
	return c.sendCommand(&protocol.Command{
		Command:     protocol.CmdExecute,
		ExecutionID: executionID,
		Script:      script,
		Arguments:   arguments,
		Timeout:     timeoutMs,
	})
}

// CheckSyntax submits a compile-only check of the script.
func (c *Client) CheckSyntax(executionID, script string) error {
	return c.sendCommand(&protocol.Command{
		Command:     protocol.CmdCheckSyntax,
		ExecutionID: executionID,
		Script:      script,
	})
}

// Cancel requests termination of a running execution.
func (c *Client) Cancel(executionID string) error {
	return c.sendCommand(&protocol.Command{
		Command:     protocol.CmdCancel,
		ExecutionID: executionID,
	})
}

func (c *Client) packageCommand(command, executionID, pkg string) error {
	return c.sendCommand(&protocol.Command{
		Command:     command,
		ExecutionID: executionID,
		Package:     pkg,
	})
}

func (c *Client) InstallPackage(executionID, pkg string) error {
	return c.packageCommand(protocol.CmdInstallPackage, executionID, pkg)
}

func (c *Client) ReinstallPackage(executionID, pkg string) error {
	return c.packageCommand(protocol.CmdReinstallPackage, executionID, pkg)
}

func (c *Client) UpdatePackage(executionID, pkg string) error {
	return c.packageCommand(protocol.CmdUpdatePackage, executionID, pkg)
}

func (c *Client) UninstallPackage(executionID, pkg string) error {
	return c.packageCommand(protocol.CmdUninstallPackage, executionID, pkg)
}

func (c *Client) InstallLocalPackage(executionID, packagePath string) error {
	return c.sendCommand(&protocol.Command{
		Command:     protocol.CmdInstallLocalPackage,
		ExecutionID: executionID,
		PackagePath: packagePath,
	})
}

func (c *Client) UpdateLocalPackage(executionID, packagePath string) error {
	return c.sendCommand(&protocol.Command{
		Command:     protocol.CmdUpdateLocalPackage,
		ExecutionID: executionID,
		PackagePath: packagePath,
	})
}

func (c *Client) UpgradeAllPackages(executionID string) error {
	return c.sendCommand(&protocol.Command{
		Command:     protocol.CmdUpgradeAllPackages,
		ExecutionID: executionID,
	})
}

func (c *Client) SearchPackage(executionID, query string) error {
	return c.sendCommand(&protocol.Command{
		Command:     protocol.CmdSearchPackage,
		ExecutionID: executionID,
		Query:       query,
	})
}

func (c *Client) GetPackageInfo(executionID, pkg string) error {
	return c.packageCommand(protocol.CmdGetPackageInfo, executionID, pkg)
}

func (c *Client) ListInstalledPackages(executionID string) error {
	return c.sendCommand(&protocol.Command{
		Command:     protocol.CmdListInstalled,
		ExecutionID: executionID,
	})
}

func (c *Client) IsPackageInstalled(executionID, pkg string) error {
	return c.packageCommand(protocol.CmdIsPackageInstalled, executionID, pkg)
}

func (c *Client) GetPackageVersion(executionID, pkg string) error {
	return c.packageCommand(protocol.CmdGetPackageVersion, executionID, pkg)
}
