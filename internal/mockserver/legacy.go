// internal/mockserver/legacy.go
package mockserver

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sionline/internal/legacy"
	"github.com/jason-s-yu/sionline/internal/models"
)

// ServeLegacy accepts legacy line-protocol connections on ln until it is
// closed. The listener address is advertised in the host info.
func (s *Server) ServeLegacy(ln net.Listener) error {
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.mu.Lock()
		s.legacyHost = addr.IP.String()
		s.legacyPort = addr.Port
		s.mu.Unlock()
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.serveLegacyConn(conn)
	}
}

func (s *Server) serveLegacyConn(conn net.Conn) {
	defer conn.Close()
	logger := s.logger.WithFields(logrus.Fields{"protocol": "legacy", "remote": conn.RemoteAddr().String()})

	var (
		gameID int
		joined string
	)
	defer func() {
		if joined != "" {
			s.leave(gameID, joined)
		}
	}()

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		var reply string
		switch fields[0] {
		case legacy.CmdGameID:
			reply = s.legacyGameID(fields, &gameID)
		case legacy.CmdJoin:
			reply = s.legacyJoin(fields, gameID, &joined)
		case legacy.CmdSay:
			reply = legacy.RespOK
		default:
			reply = "ERROR unknown command"
		}
		logger.WithFields(logrus.Fields{"cmd": fields[0], "reply": reply}).Debug("legacy command")
		if _, err := fmt.Fprintf(conn, "%s\n", reply); err != nil {
			return
		}
	}
}

func (s *Server) legacyGameID(fields []string, gameID *int) string {
	if len(fields) != 2 {
		return "ERROR usage"
	}
	id, err := strconv.Atoi(fields[1])
	if err != nil {
		return "ERROR bad id"
	}
	if _, ok := s.store.Get(id); !ok {
		return legacy.RespNotFind
	}
	*gameID = id
	return legacy.RespOK
}

func (s *Server) legacyJoin(fields []string, gameID int, joined *string) string {
	if gameID == 0 {
		return legacy.RespDenied + " no game selected"
	}
	if len(fields) < 4 {
		return "ERROR usage"
	}
	name, err := url.QueryUnescape(fields[1])
	if err != nil || name == "" {
		return legacy.RespDenied + " bad name"
	}
	var password string
	if len(fields) > 4 {
		password, _ = url.QueryUnescape(fields[4])
	}
	sex := models.SexMale
	if fields[3] == "f" {
		sex = models.SexFemale
	}

	resp := s.join(gameID, models.JoinGameRequest{
		GameID:   gameID,
		UserName: name,
		Role:     parseRole(fields[2]),
		Sex:      sex,
		Password: password,
	})
	if !resp.IsSuccess {
		return legacy.RespDenied + " " + resp.Message
	}
	*joined = name
	return legacy.RespOK
}

func parseRole(s string) models.Role {
	for _, r := range []models.Role{models.RolePlayer, models.RoleShowman} {
		if r.String() == s {
			return r
		}
	}
	return models.RoleViewer
}
