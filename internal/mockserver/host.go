// internal/mockserver/host.go
package mockserver

import (
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sionline/internal/hostclient"
	"github.com/jason-s-yu/sionline/internal/middleware"
	"github.com/jason-s-yu/sionline/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type joinFrame struct {
	Type string `json:"type"`
	models.JoinGameRequest
}

// handleHost is the session host of one game: a join handshake followed by
// message relay until the client leaves.
func (s *Server) handleHost(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("host upgrade error: %v", err)
		return
	}
	defer ws.Close()

	gameID, err := strconv.Atoi(chi.URLParam(r, "gameID"))
	if err != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(InvalidGameIDError, "invalid game id"),
			time.Now().Add(time.Second))
		return
	}

	var req joinFrame
	if err := ws.ReadJSON(&req); err != nil || req.Type != hostclient.TypeJoin {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected join"),
			time.Now().Add(time.Second))
		return
	}

	logger := s.logger.WithFields(logrus.Fields{"game_id": gameID, "user": req.UserName, "role": req.Role})
	resp := s.join(gameID, req.JoinGameRequest)
	if err := ws.WriteJSON(resp); err != nil || !resp.IsSuccess {
		logger.WithField("error_type", resp.ErrorType).Info("join refused")
		return
	}

	middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path, req.UserName)
	var readErr error
	for {
		var msg hostclient.Message
		if readErr = ws.ReadJSON(&msg); readErr != nil {
			break
		}
		if msg.Type == hostclient.TypeMessage {
			msg.From = req.UserName
			if readErr = ws.WriteJSON(msg); readErr != nil {
				break
			}
		}
	}
	if websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		readErr = nil
	}
	middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, req.UserName, readErr)
	s.leave(gameID, req.UserName)
}

func (s *Server) join(gameID int, req models.JoinGameRequest) models.JoinGameResponse {
	g, ok := s.store.Get(gameID)
	if !ok || req.GameID != gameID {
		return models.JoinGameResponse{ErrorType: models.JoinGameNotFound, Message: "game not found"}
	}
	if pw := s.password(gameID); pw != "" && pw != req.Password {
		return models.JoinGameResponse{ErrorType: models.JoinForbidden, Message: "wrong password"}
	}
	if req.Role == models.RoleShowman && slices.ContainsFunc(g.Participants, func(p models.PersonSlot) bool {
		return p.Role == models.RoleShowman && p.IsHuman && p.IsOnline && p.Name != req.UserName
	}) {
		return models.JoinGameResponse{ErrorType: models.JoinInvalidRole, Message: "showman seat taken"}
	}

	s.seat(gameID, req.UserName, req.Role)
	return models.JoinGameResponse{IsSuccess: true}
}

// seat marks name online in role, taking a matching reserved seat if there is one.
func (s *Server) seat(gameID int, name string, role models.Role) {
	s.UpdateGame(gameID, func(g *models.GameRecord) {
		i := slices.IndexFunc(g.Participants, func(p models.PersonSlot) bool { return p.Name == name })
		if i < 0 {
			g.Participants = append(g.Participants, models.PersonSlot{Name: name, Role: role, IsHuman: true})
			i = len(g.Participants) - 1
		}
		g.Participants[i].Role = role
		g.Participants[i].IsHuman = true
		g.Participants[i].IsOnline = true
	})
}

func (s *Server) leave(gameID int, name string) {
	s.UpdateGame(gameID, func(g *models.GameRecord) {
		for i := range g.Participants {
			if g.Participants[i].Name == name {
				g.Participants[i].IsOnline = false
			}
		}
	})
}
