// Package broker owns the local listening endpoint, the command
// dispatcher, and the execution registry. All responses travel through
// the framed encrypted transport in internal/wire.
package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/XERGER/EmbedPython/internal/logx"
	"github.com/XERGER/EmbedPython/internal/protocol"
	"github.com/XERGER/EmbedPython/internal/runner"
	"github.com/XERGER/EmbedPython/internal/wire"
)

// Recorder persists terminal outcomes; the history store implements
// it.
type Recorder interface {
	Record(executionID, kind, status string, exitCode int, duration time.Duration, stdout, stderr string)
}

// EventSink receives every broadcast response; the monitor endpoint
// implements it.
type EventSink interface {
	Publish(resp *protocol.Response)
}

// Server is the broker: one listener, the active connection set, the
// execution registry, and the operations surface.
type Server struct {
	socketPath string
	key        []byte
	ops        Operations
	log        *slog.Logger

	recorder Recorder  // optional
	events   EventSink // optional

	handlers map[string]func(*conn, *protocol.Command)
	registry *registry

	mu       sync.Mutex
	conns    map[*conn]struct{}
	listener net.Listener
	closing  bool

	wg sync.WaitGroup
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithRecorder attaches a history recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithEventSink attaches a monitor event sink.
func WithEventSink(e EventSink) Option {
	return func(s *Server) { s.events = e }
}

// New builds a broker listening on socketPath with the derived
// transport key.
func New(socketPath string, key []byte, ops Operations, opts ...Option) *Server {
	s := &Server{
		socketPath: socketPath,
		key:        key,
		ops:        ops,
		log:        logx.WithComponent("broker"),
		registry:   newRegistry(),
		conns:      make(map[*conn]struct{}),
	}
	s.initHandlers()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ActiveExecutions reports the number of live registry records.
func (s *Server) ActiveExecutions() int { return s.registry.count() }

// Listen removes any stale endpoint with the same name and starts
// listening. Failure to listen is fatal to the caller.
func (s *Server) Listen() error {
	// A previous broker that crashed leaves the socket file behind.
	// The pid lock taken by the caller guarantees no live owner.
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale endpoint: %w", err)
	}

	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("unable to start the server: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		l.Close()
		return fmt.Errorf("restrict endpoint permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.log.Debug("server started", "endpoint", s.socketPath)
	return nil
}

// Serve accepts connections until Shutdown. Listen must have been
// called.
func (s *Server) Serve() error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("server is not listening")
	}

	for {
		c, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		s.addConn(c)
	}
}

func (s *Server) addConn(raw net.Conn) {
	cn := newConn(raw, s.key, s.log)

	s.mu.Lock()
	s.conns[cn] = struct{}{}
	s.mu.Unlock()

	s.log.Debug("new client connected")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(cn)
	}()
}

// readLoop drives the framing decoder for one connection.
func (s *Server) readLoop(cn *conn) {
	defer s.dropConn(cn)

	buf := make([]byte, 64*1024)
	for {
		n, err := cn.c.Read(buf)
		if n > 0 {
			cn.dec.Feed(buf[:n])
			if !s.drainDecoder(cn) {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// drainDecoder extracts every complete message currently buffered.
// Returns false when the connection must be dropped.
func (s *Server) drainDecoder(cn *conn) bool {
	for {
		step := cn.dec.Next()
		switch step.Kind {
		case wire.NeedMore:
			return true
		case wire.Message:
			s.handleMessage(cn, step.Payload)
		case wire.BadMessage:
			s.log.Warn("undecodable message", "reason", step.Reason)
			s.sendError(cn, badMessageText(step.Reason), "")
		case wire.Fatal:
			s.log.Warn("fatal framing error, disconnecting client", "reason", step.Reason)
			return false
		}
	}
}

func badMessageText(reason string) string {
	switch reason {
	case "decryption failed":
		return "Decryption failed."
	case "encrypted data too short":
		return "Encrypted data is too short."
	default:
		return reason
	}
}

func (s *Server) dropConn(cn *conn) {
	cn.close()

	s.mu.Lock()
	delete(s.conns, cn)
	s.mu.Unlock()

	s.log.Debug("client disconnected")
}

// broadcast delivers a response to every connected client; each client
// filters by the executionIds it owns. The monitor sink sees the same
// stream.
func (s *Server) broadcast(resp *protocol.Response) {
	if s.events != nil {
		s.events.Publish(resp)
	}

	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for cn := range s.conns {
		conns = append(conns, cn)
	}
	s.mu.Unlock()

	for _, cn := range conns {
		if !cn.closed() {
			cn.send(resp)
		}
	}
}

// record forwards a terminal outcome to the history store.
func (s *Server) record(op protocol.OperationType, res runner.Result, status string) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(res.ExecutionID, op.String(), status, res.ExitCode, res.Duration, res.Stdout, res.Stderr)
}

// spawn runs an execution goroutine tracked for shutdown.
func (s *Server) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Shutdown disconnects all clients, closes the endpoint, and waits for
// in-flight goroutines.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closing = true
	l := s.listener
	conns := make([]*conn, 0, len(s.conns))
	for cn := range s.conns {
		conns = append(conns, cn)
	}
	s.mu.Unlock()

	if l != nil {
		l.Close()
	}
	for _, cn := range conns {
		cn.close()
	}

	s.wg.Wait()
	os.Remove(s.socketPath)
	s.log.Debug("server shut down")
}
