// internal/hostclient/conn.go
//
// Package hostclient connects to the host of a single game session over a
// websocket and performs the join handshake.
package hostclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/models"
)

// Message types on the host connection.
const (
	TypeJoin    = "join"
	TypeMessage = "message"
)

// Message is one frame exchanged with the session host after the handshake.
type Message struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type joinFrame struct {
	Type string `json:"type"`
	models.JoinGameRequest
}

// Conn is a connection to a session host.
//
// Gorilla/websocket supports one concurrent reader and one concurrent writer,
// so writes are serialized through mu.
type Conn struct {
	ws     *websocket.Conn
	logger log.FieldLogger

	mu     sync.Mutex
	gameID int
}

// Dial connects to the host at uri.
func Dial(ctx context.Context, uri string, logger log.FieldLogger) (*Conn, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, uri, http.Header{})
	if err != nil {
		return nil, errs.Network("dial session host", err)
	}
	return &Conn{ws: ws, logger: logger.WithFields(log.Fields{"component": "hostclient", "host": uri})}, nil
}

// Protocol names the transport.
func (c *Conn) Protocol() string { return "host" }

// GameID returns the game the connection joined.
func (c *Conn) GameID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameID
}

// Join sends the join request and waits for the host's verdict. A refusal is
// returned as a response with IsSuccess false, not as an error.
func (c *Conn) Join(ctx context.Context, req models.JoinGameRequest) (models.JoinGameResponse, error) {
	var resp models.JoinGameResponse

	stop := c.watch(ctx)
	defer stop()

	c.mu.Lock()
	err := c.ws.WriteJSON(joinFrame{Type: TypeJoin, JoinGameRequest: req})
	c.mu.Unlock()
	if err != nil {
		return resp, c.wrap(ctx, "send join", err)
	}
	if err := c.ws.ReadJSON(&resp); err != nil {
		return resp, c.wrap(ctx, "read join response", err)
	}

	logger := c.logger.WithFields(log.Fields{"game_id": req.GameID, "role": req.Role})
	if !resp.IsSuccess {
		logger.WithField("error_type", resp.ErrorType).Warn("join refused by host")
		return resp, nil
	}
	c.mu.Lock()
	c.gameID = req.GameID
	c.mu.Unlock()
	logger.Info("joined game")
	return resp, nil
}

// Send writes a message to the host.
func (c *Conn) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(msg); err != nil {
		return errs.Network("send to host", err)
	}
	return nil
}

// Receive reads the next message from the host.
func (c *Conn) Receive(ctx context.Context) (Message, error) {
	stop := c.watch(ctx)
	defer stop()

	var msg Message
	if err := c.ws.ReadJSON(&msg); err != nil {
		return msg, c.wrap(ctx, "receive from host", err)
	}
	return msg, nil
}

// Close sends a close frame and closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving"),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.ws.Close()
}

// watch unblocks pending reads when ctx is done by expiring the read deadline.
func (c *Conn) watch(ctx context.Context) (stop func()) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(deadline)
	}
	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = c.ws.SetReadDeadline(time.Now())
		case <-stopped:
		}
	}()
	return func() {
		close(stopped)
		_ = c.ws.SetReadDeadline(time.Time{})
	}
}

func (c *Conn) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errs.FromContext(fmt.Errorf("%s: %w", op, ctxErr))
	}
	return errs.Network(op, err)
}
