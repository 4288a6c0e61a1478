// internal/mockserver/server.go
//
// Package mockserver is an in-memory game server speaking the lobby's REST,
// push, session-host, content and legacy protocols. It backs the integration
// tests and the local development binary.
package mockserver

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sionline/internal/events"
	"github.com/jason-s-yu/sionline/internal/gameserver"
	"github.com/jason-s-yu/sionline/internal/middleware"
	"github.com/jason-s-yu/sionline/internal/models"
)

// DefaultPageSize is the number of games per snapshot page.
const DefaultPageSize = 20

// Options configure a Server.
type Options struct {
	Name             string
	License          string
	News             string
	MaxPackageSizeMb int
	// ContentSecret, when set, is required to sign content service requests.
	ContentSecret string
	PageSize      int
	Logger        logrus.FieldLogger
}

// Server is the mock game server.
type Server struct {
	opts   Options
	logger logrus.FieldLogger
	store  *GameStore
	hub    *pushHub
	blobs  *blobStore
	router chi.Router

	mu          sync.Mutex
	baseURL     *url.URL
	legacyHost  string
	legacyPort  int
	passwords   map[int]string
	creationErr models.CreationResultCode
	lobbyUsers  map[string]models.Sex
}

// New creates a server. SetBaseURL must be called once its address is known.
func New(opts Options) *Server {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Name == "" {
		opts.Name = "mock"
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	s := &Server{
		opts:       opts,
		logger:     opts.Logger.WithField("component", "mockserver"),
		store:      NewGameStore(),
		hub:        newPushHub(),
		blobs:      newBlobStore(),
		passwords:  make(map[int]string),
		lobbyUsers: make(map[string]models.Sex),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.LogMiddleware(s.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/host", s.handleHostInfo)
		r.Post("/lobby/join", s.handleJoinLobby)
		r.Get("/games", s.handleGamesPage)
		r.Post("/games", s.handleRunGame)
		r.Get("/users", s.handleUsers)
		r.Get("/news", s.handleNews)
		r.Post("/chat", s.handleChat)
	})
	r.Get("/ws", s.handlePush)
	r.Get("/host/{gameID}", s.handleHost)

	r.With(s.requireContentToken).Get("/content/{kind}/{name}", s.handleResolveContent)
	r.With(s.requireContentToken).Put("/content/{kind}/{name}", s.handleUploadContent)
	r.Get("/blobs/{kind}/{hash}/{name}", s.handleBlob)
	return r
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.router }

// SetBaseURL records the externally visible address, e.g. an httptest URL.
func (s *Server) SetBaseURL(raw string) error {
	u, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.baseURL = u
	s.mu.Unlock()
	return nil
}

// Store exposes the game store.
func (s *Server) Store() *GameStore { return s.store }

// SetCreationResult makes every following run-game request fail with code.
// CreationOk restores normal behavior.
func (s *Server) SetCreationResult(code models.CreationResultCode) {
	s.mu.Lock()
	s.creationErr = code
	s.mu.Unlock()
}

// CreateGame adds a game as if another client created it. A non-empty
// password protects the game.
func (s *Server) CreateGame(g models.GameRecord, password string) models.GameRecord {
	g.PasswordRequired = password != ""
	g = s.store.Add(g)
	s.mu.Lock()
	if password != "" {
		s.passwords[g.ID] = password
	}
	s.mu.Unlock()
	g = s.withHostURI(g)
	s.store.Update(g.ID, func(r *models.GameRecord) { r.HostURI = g.HostURI })
	s.publish(gameserver.Envelope{Type: events.SessionCreated, Game: &g})
	return g
}

// UpdateGame applies fn to a game and broadcasts the result.
func (s *Server) UpdateGame(id int, fn func(*models.GameRecord)) (models.GameRecord, bool) {
	g, ok := s.store.Update(id, fn)
	if ok {
		s.publish(gameserver.Envelope{Type: events.SessionUpdated, Game: &g})
	}
	return g, ok
}

// DeleteGame removes a game and broadcasts the deletion.
func (s *Server) DeleteGame(id int) bool {
	if !s.store.Delete(id) {
		return false
	}
	s.mu.Lock()
	delete(s.passwords, id)
	s.mu.Unlock()
	s.publish(gameserver.Envelope{Type: events.SessionDeleted, GameID: id})
	return true
}

// PushRaw sends an arbitrary frame to every push channel.
func (s *Server) PushRaw(frame []byte) {
	s.hub.broadcast(frame)
}

// DropPushConnections closes every push channel with a code that allows
// clients to reconnect.
func (s *Server) DropPushConnections() int {
	return s.hub.close(func(*pushConn) bool { return true }, ServerRestartError, "server restarting")
}

// KickUser closes the push channels of name with a policy violation.
func (s *Server) KickUser(name string) int {
	return s.hub.close(func(c *pushConn) bool { return c.user == name }, websocket.StatusPolicyViolation, "kicked")
}

// PushConnections returns the number of open push channels.
func (s *Server) PushConnections() int { return s.hub.len() }

// Uploads returns the number of blobs stored through the content endpoint.
func (s *Server) Uploads() int { return s.blobs.uploads() }

func (s *Server) publish(env gameserver.Envelope) {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	frame, err := json.Marshal(env)
	if err != nil {
		s.logger.WithError(err).Error("failed to encode push envelope")
		return
	}
	s.hub.broadcast(frame)
}

func (s *Server) base() url.URL {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseURL == nil {
		return url.URL{Scheme: "http", Host: "localhost"}
	}
	return *s.baseURL
}

func (s *Server) withHostURI(g models.GameRecord) models.GameRecord {
	u := s.base()
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	g.HostURI = u.JoinPath("host", strconv.Itoa(g.ID)).String()
	return g
}

func (s *Server) password(id int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passwords[id]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
