// internal/mockserver/push.go
package mockserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/jason-s-yu/sionline/internal/events"
	"github.com/jason-s-yu/sionline/internal/gameserver"
	"github.com/jason-s-yu/sionline/internal/middleware"
)

// handlePush serves the push channel. An open push channel is what makes a
// user present in the lobby.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if name == "" {
		c.Close(InvalidUserNameError, "missing user name")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	conn := &pushConn{user: name, out: make(chan []byte, 64), cancel: cancel, conn: c}

	s.hub.add(conn)
	middleware.LogWebSocketConnect(s.logger, r.RemoteAddr, r.URL.Path, name)
	if s.store.Connect(name) {
		s.publish(gameserver.Envelope{Type: events.UserJoined, UserName: name})
	}

	go writePump(ctx, conn, s.logger)

	// Clients never send on the push channel; reading only surfaces the close.
	var readErr error
	for {
		if _, _, readErr = c.Read(ctx); readErr != nil {
			break
		}
	}

	s.hub.remove(conn)
	cancel()
	middleware.LogWebSocketDisconnect(s.logger, r.RemoteAddr, r.URL.Path, name, readErr)
	if s.store.Disconnect(name) {
		s.publish(gameserver.Envelope{Type: events.UserLeft, UserName: name})
	}
}
