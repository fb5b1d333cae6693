// Package monitor serves an optional loopback-only debug endpoint:
// /v1/health for liveness and /v1/events for a websocket stream of the
// broker's progress and terminal events.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/XERGER/EmbedPython/internal/logx"
	"github.com/XERGER/EmbedPython/internal/protocol"
)

// Monitor fans broker events out to connected websocket viewers.
type Monitor struct {
	addr    string
	log     *slog.Logger
	started time.Time

	activeFn func() int

	upgrader websocket.Upgrader

	mu      sync.Mutex
	viewers map[*viewer]struct{}
	srv     *http.Server
}

type viewer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (v *viewer) writeJSON(payload any) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conn.WriteJSON(payload)
}

// New builds a monitor for addr. activeFn reports the number of live
// executions for the health payload.
func New(addr string, activeFn func() int) *Monitor {
	return &Monitor{
		addr:     addr,
		log:      logx.WithComponent("monitor"),
		started:  time.Now(),
		activeFn: activeFn,
		viewers:  make(map[*viewer]struct{}),
	}
}

// SetActiveCount installs the live-execution counter after the broker
// exists; monitor and broker reference each other.
func (m *Monitor) SetActiveCount(fn func() int) {
	m.activeFn = fn
}

// ValidateLoopback rejects listen addresses that are not host-local;
// the monitor must never widen the service beyond the machine.
func ValidateLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid monitor address %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("monitor address %q is not loopback", addr)
	}
	return nil
}

// Start begins serving. Listen failure is returned, not fatal; the
// broker runs fine without its monitor.
func (m *Monitor) Start() error {
	if err := ValidateLoopback(m.addr); err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Get("/v1/health", m.healthHandler)
	r.Get("/v1/events", m.eventsHandler)

	l, err := net.Listen("tcp", m.addr)
	if err != nil {
		return fmt.Errorf("monitor listen: %w", err)
	}

	m.srv = &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := m.srv.Serve(l); err != nil && err != http.ErrServerClosed {
			m.log.Warn("monitor server stopped", "error", err)
		}
	}()

	m.log.Debug("monitor listening", "addr", m.addr)
	return nil
}

// Stop closes the endpoint and all viewer connections.
func (m *Monitor) Stop() {
	m.mu.Lock()
	viewers := make([]*viewer, 0, len(m.viewers))
	for v := range m.viewers {
		viewers = append(viewers, v)
	}
	m.viewers = make(map[*viewer]struct{})
	srv := m.srv
	m.mu.Unlock()

	for _, v := range viewers {
		v.conn.Close()
	}
	if srv != nil {
		srv.Close()
	}
}

func (m *Monitor) healthHandler(w http.ResponseWriter, _ *http.Request) {
	active := 0
	if m.activeFn != nil {
		active = m.activeFn()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":           "ok",
		"uptimeSec":        int(time.Since(m.started).Seconds()),
		"activeExecutions": active,
	})
}

func (m *Monitor) eventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	v := &viewer{conn: conn}
	m.mu.Lock()
	m.viewers[v] = struct{}{}
	m.mu.Unlock()

	// Drain (and discard) client frames to notice disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				m.drop(v)
				return
			}
		}
	}()
}

func (m *Monitor) drop(v *viewer) {
	m.mu.Lock()
	delete(m.viewers, v)
	m.mu.Unlock()
	v.conn.Close()
}

// Publish implements the broker's EventSink: every broadcast response
// is mirrored to all viewers.
func (m *Monitor) Publish(resp *protocol.Response) {
	m.mu.Lock()
	viewers := make([]*viewer, 0, len(m.viewers))
	for v := range m.viewers {
		viewers = append(viewers, v)
	}
	m.mu.Unlock()

	for _, v := range viewers {
		if err := v.writeJSON(resp); err != nil {
			m.drop(v)
		}
	}
}
