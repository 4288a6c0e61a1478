// internal/mockserver/api.go
package mockserver

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jason-s-yu/sionline/internal/events"
	"github.com/jason-s-yu/sionline/internal/gameserver"
	"github.com/jason-s-yu/sionline/internal/models"
)

func (s *Server) handleHostInfo(w http.ResponseWriter, r *http.Request) {
	base := s.base()
	s.mu.Lock()
	info := models.HostInfo{
		Name:                  s.opts.Name,
		License:               s.opts.License,
		MaxPackageSizeMb:      s.opts.MaxPackageSizeMb,
		ContentInfos:          []models.ContentInfo{{ServiceURI: base.String() + "/"}},
		ContentPublicBaseURLs: []string{base.JoinPath("blobs").String() + "/"},
		Host:                  s.legacyHost,
		Port:                  s.legacyPort,
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, info)
}

type joinLobbyRequest struct {
	UserName string     `json:"userName"`
	Sex      models.Sex `json:"sex"`
	Culture  string     `json:"culture"`
}

func (s *Server) handleJoinLobby(w http.ResponseWriter, r *http.Request) {
	var req joinLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad join request payload", http.StatusBadRequest)
		return
	}
	req.UserName = strings.TrimSpace(req.UserName)
	if req.UserName == "" {
		http.Error(w, "missing userName", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.lobbyUsers[req.UserName] = req.Sex
	s.mu.Unlock()
	s.logger.WithField("user", req.UserName).Info("user entered lobby")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGamesPage(w http.ResponseWriter, r *http.Request) {
	from := 0
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
		from = n
	}
	writeJSON(w, http.StatusOK, s.store.Page(from, s.opts.PageSize))
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	users := s.store.Users()
	slices.Sort(users)
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"news": s.opts.News})
}

type chatRequest struct {
	From string `json:"from"`
	Text string `json:"text"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad chat payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "empty message", http.StatusBadRequest)
		return
	}
	s.publish(gameserver.Envelope{Type: events.MessageReceived, From: req.From, Text: req.Text})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunGame(w http.ResponseWriter, r *http.Request) {
	var req models.RunGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad run game payload", http.StatusBadRequest)
		return
	}

	if code := s.validateRunGame(req); code != models.CreationOk {
		s.logger.WithField("code", code).Info("run game refused")
		writeJSON(w, http.StatusOK, models.RunGameResponse{ErrorType: code})
		return
	}

	owner := r.Header.Get(gameserver.UserNameHeader)
	g := models.GameRecord{
		Name:        req.Settings.Name,
		Mode:        req.Settings.Mode,
		Rules:       req.Settings.Rules,
		Owner:       owner,
		PackageName: packageName(req.Package),
		StageName:   "created",
		StartTime:   time.Now().UTC(),
	}
	for _, p := range req.Settings.Players {
		g.Participants = append(g.Participants, models.PersonSlot{Name: p.Name, Role: models.RolePlayer, IsHuman: p.IsHuman})
	}
	if req.Settings.Showman.Name != "" {
		g.Participants = append(g.Participants, models.PersonSlot{
			Name: req.Settings.Showman.Name, Role: models.RoleShowman, IsHuman: req.Settings.Showman.IsHuman,
		})
	}
	g = s.CreateGame(g, req.Settings.Password)

	writeJSON(w, http.StatusOK, models.RunGameResponse{
		IsSuccess: true,
		GameID:    g.ID,
		HostURI:   g.HostURI,
		IsHost:    true,
	})
}

func (s *Server) validateRunGame(req models.RunGameRequest) models.CreationResultCode {
	s.mu.Lock()
	forced := s.creationErr
	s.mu.Unlock()
	if forced != models.CreationOk {
		return forced
	}

	switch {
	case strings.TrimSpace(req.Settings.Name) == "":
		return models.CreationWrongGameSettings
	case s.store.NameTaken(req.Settings.Name):
		return models.CreationGameNameCollision
	case req.Package.URI == "":
		return models.CreationNoPackage
	case req.Package.Type == models.PackageTypeContent && req.Package.ContentServiceURI == "":
		return models.CreationBadPackage
	}
	return models.CreationOk
}

func packageName(p models.PackageInfo) string {
	name := p.URI
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
