// internal/mockserver/hub.go
package mockserver

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// pushConn is one open push channel.
type pushConn struct {
	user   string
	out    chan []byte
	cancel context.CancelFunc
	conn   *websocket.Conn
}

// pushHub fans frames out to every open push channel.
type pushHub struct {
	mu    sync.Mutex
	conns map[*pushConn]struct{}
}

func newPushHub() *pushHub {
	return &pushHub{conns: make(map[*pushConn]struct{})}
}

func (h *pushHub) add(c *pushConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *pushHub) remove(c *pushConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

// broadcast queues frame for every connection. A connection whose queue is
// full is dropped.
func (h *pushHub) broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		select {
		case c.out <- frame:
		default:
			c.cancel()
		}
	}
}

// close closes the connections selected by match with code and returns how
// many were closed.
func (h *pushHub) close(match func(*pushConn) bool, code websocket.StatusCode, reason string) int {
	h.mu.Lock()
	var conns []*pushConn
	for c := range h.conns {
		if match(c) {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.conn.Close(code, reason)
		c.cancel()
	}
	return len(conns)
}

func (h *pushHub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// writePump sends queued frames and periodic pings until ctx is done.
func writePump(ctx context.Context, c *pushConn, logger logrus.FieldLogger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.out:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				logger.Warnf("push: failed to write to websocket for user %s: %v", c.user, err)
				c.cancel()
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		}
	}
}
