// internal/session/strategy.go
package session

import (
	"context"
	"fmt"
	"net"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/hostclient"
	"github.com/jason-s-yu/sionline/internal/legacy"
	"github.com/jason-s-yu/sionline/internal/models"
)

// Target describes the game to join.
type Target struct {
	GameID  int
	HostURI string
	Request models.JoinGameRequest
}

// JoinStrategy establishes the transport to a game session.
type JoinStrategy interface {
	Name() string
	Join(ctx context.Context, t Target) (Transport, error)
}

// HostStrategy joins through the session host's websocket and its join
// handshake.
type HostStrategy struct {
	Logger log.FieldLogger
}

func (HostStrategy) Name() string { return "host" }

func (s HostStrategy) Join(ctx context.Context, t Target) (Transport, error) {
	if t.HostURI == "" {
		return nil, &errs.InvariantError{What: "session host uri missing"}
	}
	conn, err := hostclient.Dial(ctx, t.HostURI, s.Logger)
	if err != nil {
		return nil, err
	}
	resp, err := conn.Join(ctx, t.Request)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if !resp.IsSuccess {
		conn.Close()
		return nil, &errs.JoinRejectedError{Code: resp.ErrorType, Message: resp.Message}
	}
	return conn, nil
}

// LegacyStrategy joins through the direct socket: the game id is set first,
// then the generic join sequence runs.
type LegacyStrategy struct {
	Host   string
	Port   int
	Logger log.FieldLogger
}

func (LegacyStrategy) Name() string { return "legacy" }

func (s LegacyStrategy) Join(ctx context.Context, t Target) (Transport, error) {
	if s.Host == "" || s.Port == 0 {
		return nil, &errs.InvariantError{What: "legacy server address missing"}
	}
	c, err := legacy.Dial(ctx, net.JoinHostPort(s.Host, strconv.Itoa(s.Port)), s.Logger)
	if err != nil {
		return nil, err
	}
	if err := c.SetGameID(ctx, t.GameID); err != nil {
		c.Close()
		return nil, err
	}
	r := t.Request
	if err := c.Join(ctx, r.UserName, r.Role, r.Sex, r.Password); err != nil {
		c.Close()
		return nil, fmt.Errorf("legacy join: %w", err)
	}
	return c, nil
}
