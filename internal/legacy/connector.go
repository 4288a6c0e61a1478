// internal/legacy/connector.go
//
// Package legacy implements the direct-socket join path used by older game
// servers: a line protocol over TCP.
package legacy

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/models"
)

// Protocol keywords.
const (
	CmdGameID   = "GAMEID"
	CmdJoin     = "JOIN"
	CmdSay      = "SAY"
	RespOK      = "OK"
	RespNotFind = "NOTFOUND"
	RespDenied  = "DENIED"
)

// Connector is a line-oriented connection to a legacy game server. Requests
// are strictly sequential: one command, one reply.
type Connector struct {
	mu     sync.Mutex
	conn   net.Conn
	r      *bufio.Reader
	gameID int
	logger log.FieldLogger
}

// Dial connects to addr ("host:port").
func Dial(ctx context.Context, addr string, logger log.FieldLogger) (*Connector, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errs.Network("dial legacy server", err)
	}
	return &Connector{
		conn:   conn,
		r:      bufio.NewReader(conn),
		logger: logger.WithFields(log.Fields{"component": "legacy", "addr": addr}),
	}, nil
}

// Protocol names the transport.
func (c *Connector) Protocol() string { return "legacy" }

// GameID returns the id set by SetGameID.
func (c *Connector) GameID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameID
}

// SetGameID tells the server which game the following commands refer to.
func (c *Connector) SetGameID(ctx context.Context, id int) error {
	reply, err := c.roundTrip(ctx, CmdGameID+" "+strconv.Itoa(id))
	if err != nil {
		return err
	}
	switch reply {
	case RespOK:
		c.mu.Lock()
		c.gameID = id
		c.mu.Unlock()
		return nil
	case RespNotFind:
		return fmt.Errorf("game %d: %w", id, errs.ErrCreatedGameNotFound)
	default:
		return errs.Network("set game id", fmt.Errorf("unexpected reply %q", reply))
	}
}

// Join takes a seat in the current game.
func (c *Connector) Join(ctx context.Context, name string, role models.Role, sex models.Sex, password string) error {
	sexField := "m"
	if sex == models.SexFemale {
		sexField = "f"
	}
	line := strings.Join([]string{
		CmdJoin,
		url.QueryEscape(name),
		role.String(),
		sexField,
		url.QueryEscape(password),
	}, " ")

	reply, err := c.roundTrip(ctx, line)
	if err != nil {
		return err
	}
	if reply == RespOK {
		c.logger.WithFields(log.Fields{"game_id": c.GameID(), "role": role}).Info("joined game")
		return nil
	}
	if reason, ok := strings.CutPrefix(reply, RespDenied); ok {
		return &errs.JoinRejectedError{Code: models.JoinCommonError, Message: strings.TrimSpace(reason)}
	}
	return errs.Network("join", fmt.Errorf("unexpected reply %q", reply))
}

// Say sends a chat line to the game.
func (c *Connector) Say(ctx context.Context, text string) error {
	_, err := c.roundTrip(ctx, CmdSay+" "+url.QueryEscape(text))
	return err
}

// Close closes the socket.
func (c *Connector) Close() error {
	return c.conn.Close()
}

func (c *Connector) roundTrip(ctx context.Context, line string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(time.Now()) })
	defer stop()

	cmd, _, _ := strings.Cut(line, " ")
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return "", c.wrap(ctx, cmd, err)
	}
	reply, err := c.r.ReadString('\n')
	if err != nil {
		return "", c.wrap(ctx, cmd, err)
	}
	reply = strings.TrimRight(reply, "\r\n")
	c.logger.WithFields(log.Fields{"cmd": cmd, "reply": reply}).Debug("legacy round trip")
	return reply, nil
}

func (c *Connector) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errs.FromContext(fmt.Errorf("%s: %w", op, ctxErr))
	}
	return errs.Network(op, err)
}
