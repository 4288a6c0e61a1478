// internal/session/coordinator.go
//
// Package session establishes game sessions: it resolves the package and
// participant assets, asks the game server for a session and joins it through
// the configured transport.
package session

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sionline/internal/content"
	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/models"
	"github.com/jason-s-yu/sionline/internal/observe"
)

// SupportedProtocolVersion is the newest game protocol this client speaks.
const SupportedProtocolVersion = 1

// Runner asks the game server to create a game.
type Runner interface {
	RunGame(ctx context.Context, req models.RunGameRequest) (models.RunGameResponse, error)
}

// Config wires a Coordinator.
type Config struct {
	Server Runner
	// Content is nil when no content service is reachable; custom packages
	// and avatars are then unavailable.
	Content *content.Ensurer
	// ContentSecret is forwarded to the game server with content packages.
	ContentSecret string
	Strategy      JoinStrategy
	Logger        log.FieldLogger
}

// CreateRequest describes a game to create and join.
type CreateRequest struct {
	Settings models.GameSettings
	Package  models.PackageKey
	// PackageData reads a custom package. Unused for library packages.
	PackageData     *content.Blob
	MaxPackageBytes int64
	UserName        string
	Sex             models.Sex
}

// JoinRequest describes an existing game to join.
type JoinRequest struct {
	Game     models.GameRecord
	Role     models.Role
	Password string
	UserName string
	Sex      models.Sex
	IsHost   bool
}

// Coordinator runs one establishment attempt at a time. Starting a new
// attempt cancels the previous one.
type Coordinator struct {
	server   Runner
	content  *content.Ensurer
	secret   string
	strategy JoinStrategy
	logger   log.FieldLogger

	state        observe.Value[State]
	progress     observe.Value[int]
	showProgress observe.Value[bool]

	mu     sync.Mutex
	cancel context.CancelFunc
	seq    uint64

	// writeMu orders the observable writes of attempts.
	writeMu sync.Mutex
}

// attempt tags the observable writes of one establishment attempt. Writes
// from an attempt that a newer one has replaced are dropped.
type attempt struct {
	c   *Coordinator
	seq uint64
}

func (a attempt) write(fn func()) {
	a.c.writeMu.Lock()
	defer a.c.writeMu.Unlock()
	a.c.mu.Lock()
	current := a.c.seq == a.seq
	a.c.mu.Unlock()
	if current {
		fn()
	}
}

func (a attempt) setState(s State) { a.write(func() { a.c.state.Set(s) }) }

func (a attempt) setProgress(p int) { a.write(func() { a.c.progress.Set(p) }) }

func (a attempt) setShowProgress(show bool) { a.write(func() { a.c.showProgress.Set(show) }) }

// NewCoordinator creates an idle coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	return &Coordinator{
		server:   cfg.Server,
		content:  cfg.Content,
		secret:   cfg.ContentSecret,
		strategy: cfg.Strategy,
		logger:   cfg.Logger.WithField("component", "session"),
	}
}

// State returns the phase of the current attempt.
func (c *Coordinator) State() State { return c.state.Get() }

// SubscribeState registers fn for phase changes.
func (c *Coordinator) SubscribeState(fn func(State)) func() { return c.state.Subscribe(fn) }

// Progress returns the upload progress of the current package, 0 to 100.
func (c *Coordinator) Progress() int { return c.progress.Get() }

// SubscribeProgress registers fn for progress changes.
func (c *Coordinator) SubscribeProgress(fn func(int)) func() { return c.progress.Subscribe(fn) }

// ShowProgress reports whether a package upload is running.
func (c *Coordinator) ShowProgress() bool { return c.showProgress.Get() }

// SubscribeShowProgress registers fn for changes of ShowProgress.
func (c *Coordinator) SubscribeShowProgress(fn func(bool)) func() {
	return c.showProgress.Subscribe(fn)
}

// Cancel aborts the running attempt, if any.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Coordinator) begin(ctx context.Context) (context.Context, attempt, func()) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.seq++
	seq := c.seq
	c.cancel = cancel
	c.mu.Unlock()

	a := attempt{c: c, seq: seq}
	a.setShowProgress(false)
	return ctx, a, func() {
		c.mu.Lock()
		if c.seq == seq {
			c.cancel = nil
		}
		c.mu.Unlock()
		cancel()
	}
}

// Create resolves the package and participants, asks the server to create
// the game and joins it. On any error the coordinator returns to Idle and
// no session exists.
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	ctx, a, done := c.begin(ctx)
	defer done()

	logger := c.logger.WithFields(log.Fields{"attempt": uuid.NewString(), "game_name": req.Settings.Name})
	sess, err := c.create(ctx, a, req, logger)
	return c.finish(ctx, a, sess, err, logger)
}

// Join joins an existing game.
func (c *Coordinator) Join(ctx context.Context, req JoinRequest) (*Session, error) {
	if req.Game.MinClientProtocolVersion > SupportedProtocolVersion {
		return nil, errs.ErrProtocolVersionUnsupported
	}
	if req.Game.PasswordRequired && req.Password == "" && !req.IsHost {
		return nil, errs.ErrPasswordRequired
	}

	ctx, a, done := c.begin(ctx)
	defer done()

	logger := c.logger.WithFields(log.Fields{"attempt": uuid.NewString(), "game_id": req.Game.ID})
	jr := models.JoinGameRequest{
		GameID:   req.Game.ID,
		UserName: req.UserName,
		Role:     req.Role,
		Sex:      req.Sex,
		Password: req.Password,
	}
	sess, err := c.connect(ctx, a, req.Game.HostURI, jr, req.IsHost, logger)
	return c.finish(ctx, a, sess, err, logger)
}

func (c *Coordinator) finish(ctx context.Context, a attempt, sess *Session, err error, logger log.FieldLogger) (*Session, error) {
	if err == nil && ctx.Err() != nil {
		sess.Close()
		sess, err = nil, ctx.Err()
	}
	if err != nil {
		a.setState(Idle)
		err = errs.FromContext(err)
		if errs.IsCancelled(err) {
			logger.Info("session establishment cancelled")
		} else {
			logger.WithError(err).Warn("session establishment failed")
		}
		return nil, err
	}
	a.setState(Ready)
	logger.WithFields(log.Fields{"game_id": sess.GameID, "transport": sess.Node.Transport.Protocol()}).Info("session established")
	return sess, nil
}

func (c *Coordinator) create(ctx context.Context, a attempt, req CreateRequest, logger log.FieldLogger) (*Session, error) {
	a.setState(ResolvingPackage)
	pkg, err := c.resolvePackage(ctx, a, req, logger)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.setState(ResolvingParticipantAssets)
	accounts, err := c.resolveParticipants(ctx, a, req.Settings, logger)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.setState(RequestingSession)
	if c.server == nil {
		return nil, &errs.InvariantError{What: "no game server"}
	}
	resp, err := c.server.RunGame(ctx, models.RunGameRequest{
		Settings:         req.Settings,
		Package:          pkg,
		ComputerAccounts: accounts,
	})
	if err != nil {
		return nil, errs.Network("run game", err)
	}
	if !resp.IsSuccess {
		return nil, &errs.SessionRejectedError{Code: resp.ErrorType}
	}
	logger.WithFields(log.Fields{"game_id": resp.GameID, "is_host": resp.IsHost}).Info("game created")

	jr := models.JoinGameRequest{
		GameID:   resp.GameID,
		UserName: req.UserName,
		Role:     req.Settings.Role,
		Sex:      req.Sex,
		Password: req.Settings.Password,
	}
	return c.connect(ctx, a, resp.HostURI, jr, resp.IsHost, logger)
}

func (c *Coordinator) resolvePackage(ctx context.Context, a attempt, req CreateRequest, logger log.FieldLogger) (models.PackageInfo, error) {
	key := req.Package
	switch key.Kind() {
	case models.PackageRandom:
		return models.PackageInfo{}, errs.ErrRandomPackage
	case models.PackageLibrary:
		return models.PackageInfo{Type: models.PackageTypeLibraryItem, URI: key.URI}, nil
	}

	if c.content == nil {
		return models.PackageInfo{}, &errs.InvariantError{What: "no content service for custom package"}
	}
	if req.PackageData == nil {
		return models.PackageInfo{}, &errs.PackageResolutionError{Reason: "package data unavailable"}
	}
	blob := *req.PackageData
	blob.Key = models.BlobKey{Name: key.Name, Hash: key.Hash}

	a.setState(UploadingContent)
	a.setProgress(0)
	a.setShowProgress(true)
	defer a.setShowProgress(false)

	uri, err := c.content.Ensure(ctx, content.Packages, blob, req.MaxPackageBytes, a.setProgress)
	if err != nil {
		return models.PackageInfo{}, err
	}
	logger.WithField("uri", uri).Debug("package resolved")
	return models.PackageInfo{
		Type:              models.PackageTypeContent,
		URI:               uri,
		ContentServiceURI: c.content.Store().ServiceURI(),
		Secret:            c.secret,
	}, nil
}

// resolveParticipants uploads the avatars of custom computer accounts. A
// failed avatar leaves the participant without a picture.
func (c *Coordinator) resolveParticipants(ctx context.Context, a attempt, settings models.GameSettings, logger log.FieldLogger) ([]models.ComputerAccountInfo, error) {
	var out []models.ComputerAccountInfo
	for _, acc := range slices.Concat(settings.Players, []models.Account{settings.Showman}) {
		if !acc.NeedsUpload() {
			continue
		}
		a.setState(UploadingContent)
		uri, _, err := content.UploadAvatar(ctx, c.content, acc.Picture)
		a.setState(ResolvingParticipantAssets)
		if err != nil {
			var inv *errs.InvariantError
			if errs.IsCancelled(err) || ctx.Err() != nil || errors.As(err, &inv) {
				return nil, err
			}
			logger.WithError(err).WithField("account", acc.Name).Warn("avatar upload failed, participant sent without picture")
			uri = ""
		}
		acc.Picture = uri
		out = append(out, models.ComputerAccountInfo{Account: acc})
	}
	return out, nil
}

func (c *Coordinator) connect(ctx context.Context, a attempt, hostURI string, jr models.JoinGameRequest, isHost bool, logger log.FieldLogger) (*Session, error) {
	a.setState(SelectingTransport)
	if c.strategy == nil {
		return nil, &errs.InvariantError{What: "no join strategy"}
	}
	logger.WithField("strategy", c.strategy.Name()).Debug("transport selected")

	a.setState(JoiningSession)
	t, err := c.strategy.Join(ctx, Target{GameID: jr.GameID, HostURI: hostURI, Request: jr})
	if err != nil {
		return nil, err
	}

	node := NewNode(jr.GameID, t)
	client := NewClient(jr.UserName, jr.Role, isHost)
	client.ConnectTo(node)
	return &Session{GameID: jr.GameID, IsHost: isHost, Node: node, Client: client}, nil
}
