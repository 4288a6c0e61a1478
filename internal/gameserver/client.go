// internal/gameserver/client.go
//
// Package gameserver is the client of the central game server: REST calls for
// snapshots and game creation, and the push channel for live events.
package gameserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/models"
)

// UserNameHeader carries the lobby user name on requests made after JoinLobby.
const UserNameHeader = "X-User-Name"

// Client talks to one game server.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  log.FieldLogger

	mu       sync.Mutex
	userName string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit caps outgoing REST requests per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the server at serverURL.
func NewClient(serverURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(serverURL, "/"))
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("invalid game server url %q", serverURL)
	}
	c := &Client{
		base:    base,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(20, 10),
		logger:  log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithField("server", base.Host)
	return c, nil
}

// ServiceURI returns the server address.
func (c *Client) ServiceURI() string { return c.base.String() }

// UserName returns the name given to JoinLobby.
func (c *Client) UserName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userName
}

// GetHostInfo fetches server metadata.
func (c *Client) GetHostInfo(ctx context.Context) (models.HostInfo, error) {
	var info models.HostInfo
	err := c.do(ctx, http.MethodGet, "/api/host", nil, nil, &info)
	return info, err
}

// JoinLobby registers the user in the lobby.
func (c *Client) JoinLobby(ctx context.Context, userName string, sex models.Sex, culture string) error {
	req := joinLobbyRequest{UserName: userName, Sex: sex, Culture: culture}
	if err := c.do(ctx, http.MethodPost, "/api/lobby/join", nil, req, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.userName = userName
	c.mu.Unlock()
	return nil
}

// GetGamesPage returns the page of the game snapshot that starts at fromID.
func (c *Client) GetGamesPage(ctx context.Context, fromID int) (models.GamesPage, error) {
	var page models.GamesPage
	q := url.Values{"from": {strconv.Itoa(fromID)}}
	if err := c.do(ctx, http.MethodGet, "/api/games", q, nil, &page); err != nil {
		return page, err
	}
	for i := range page.Games {
		page.Games[i] = Localize(page.Games[i])
	}
	return page, nil
}

// GetUsers returns the users connected to the lobby.
func (c *Client) GetUsers(ctx context.Context) ([]string, error) {
	var users []string
	err := c.do(ctx, http.MethodGet, "/api/users", nil, nil, &users)
	return users, err
}

// GetNews returns the server's news text, possibly empty.
func (c *Client) GetNews(ctx context.Context) (string, error) {
	var news newsResponse
	err := c.do(ctx, http.MethodGet, "/api/news", nil, nil, &news)
	return news.News, err
}

// RunGame asks the server to create a game. A refusal is a successful call
// with IsSuccess false.
func (c *Client) RunGame(ctx context.Context, req models.RunGameRequest) (models.RunGameResponse, error) {
	var resp models.RunGameResponse
	err := c.do(ctx, http.MethodPost, "/api/games", nil, req, &resp)
	return resp, err
}

// Say sends a chat message to the lobby.
func (c *Client) Say(ctx context.Context, text string) error {
	return c.do(ctx, http.MethodPost, "/api/chat", nil, chatRequest{From: c.UserName(), Text: text}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	op := method + " " + path
	if err := c.limiter.Wait(ctx); err != nil {
		return errs.FromContext(err)
	}

	u := c.base.JoinPath(path)
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)
	if name := c.UserName(); name != "" {
		req.Header.Set(UserNameHeader, name)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Network(op, err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(log.Fields{
		"op":         op,
		"status":     resp.StatusCode,
		"request_id": reqID,
		"duration":   time.Since(start),
	}).Debug("game server request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errs.Network(op, fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(msg))))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Network(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
