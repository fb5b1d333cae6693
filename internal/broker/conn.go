package broker

import (
	"encoding/json"
	"log/slog"
	"net"
	"sync"

	"github.com/XERGER/EmbedPython/internal/protocol"
	"github.com/XERGER/EmbedPython/internal/wire"
)

// outboxSize is the high-water mark for queued frames per client. A
// peer that stops reading is disconnected once its outbox fills.
const outboxSize = 256

// conn is one accepted client: the socket plus its receive buffer and
// a writer goroutine draining the outbox.
type conn struct {
	c   net.Conn
	dec *wire.Decoder
	key []byte
	log *slog.Logger

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(c net.Conn, key []byte, log *slog.Logger) *conn {
	cn := &conn{
		c:    c,
		dec:  wire.NewDecoder(key),
		key:  key,
		log:  log,
		out:  make(chan []byte, outboxSize),
		done: make(chan struct{}),
	}
	go cn.writeLoop()
	return cn
}

func (cn *conn) writeLoop() {
	for {
		select {
		case frame := <-cn.out:
			if _, err := cn.c.Write(frame); err != nil {
				cn.log.Debug("write failed, closing connection", "error", err)
				cn.close()
				return
			}
		case <-cn.done:
			return
		}
	}
}

// send encrypts and queues one response. A full outbox closes the
// connection rather than buffering without bound.
func (cn *conn) send(resp *protocol.Response) {
	plain, err := json.Marshal(resp)
	if err != nil {
		cn.log.Error("failed to marshal response", "error", err)
		return
	}
	frame, err := wire.Encode(cn.key, plain)
	if err != nil {
		cn.log.Error("failed to encode response", "error", err)
		return
	}

	select {
	case cn.out <- frame:
	case <-cn.done:
	default:
		cn.log.Warn("client not draining responses, disconnecting")
		cn.close()
	}
}

func (cn *conn) close() {
	cn.closeOnce.Do(func() {
		close(cn.done)
		cn.c.Close()
		cn.dec.Reset()
	})
}

func (cn *conn) closed() bool {
	select {
	case <-cn.done:
		return true
	default:
		return false
	}
}
