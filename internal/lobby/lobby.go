// internal/lobby/lobby.go
//
// Package lobby wires the directory, presence, content, session and
// supervisor components to one game server and exposes the observable state
// and commands of the lobby screen.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"

	"github.com/jason-s-yu/sionline/internal/cache"
	"github.com/jason-s-yu/sionline/internal/config"
	"github.com/jason-s-yu/sionline/internal/content"
	"github.com/jason-s-yu/sionline/internal/directory"
	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/events"
	"github.com/jason-s-yu/sionline/internal/gameserver"
	"github.com/jason-s-yu/sionline/internal/messages"
	"github.com/jason-s-yu/sionline/internal/models"
	"github.com/jason-s-yu/sionline/internal/observe"
	"github.com/jason-s-yu/sionline/internal/presence"
	"github.com/jason-s-yu/sionline/internal/session"
	"github.com/jason-s-yu/sionline/internal/supervisor"
)

// Message is one line of the lobby message stream.
type Message struct {
	From string
	Text string
	Time time.Time
	// System marks lines produced by the client: news, connection notices.
	System bool
}

// Option customizes Enter.
type Option func(*options)

type options struct {
	logger log.FieldLogger
	memo   content.Memo
}

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithMemo replaces the Redis URI memo configured by RedisAddr.
func WithMemo(m content.Memo) Option {
	return func(o *options) { o.memo = m }
}

// Lobby is an entered game server lobby. All methods are safe for concurrent
// use. Subscribers must not call Close from inside a notification.
type Lobby struct {
	cfg    config.Config
	sex    models.Sex
	logger log.FieldLogger

	server  *gameserver.Client
	host    models.HostInfo
	push    *gameserver.PushChannel
	bus     *events.Bus
	dir     *directory.Directory
	users   *presence.Tracker
	sup     *supervisor.Supervisor
	coord   *session.Coordinator
	ensurer *content.Ensurer
	redis   *cache.URIMemo

	busy     observe.Value[bool]
	errText  observe.Value[string]
	canJoin  observe.Value[bool]
	messages observe.Hub[Message]

	mu        sync.Mutex
	password  string
	avatarURI string
	history   []Message

	// busyMu and joinMu keep recomputation and publication of the derived
	// values in one step.
	busyMu    sync.Mutex
	busyCount int
	joinMu    sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	unsubs    []func()
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// Enter connects to the game server of cfg and runs the lobby init sequence:
// host metadata, lobby registration, push channel, directory and presence
// snapshots, background avatar upload and news. If any step other than the
// avatar upload and news fails the lobby is closed and the error returned.
func Enter(ctx context.Context, cfg config.Config, opts ...Option) (*Lobby, error) {
	o := options{logger: log.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	sex, err := cfg.SexValue()
	if err != nil {
		return nil, err
	}
	tag, err := language.Parse(cfg.Language)
	if err != nil {
		tag = language.Und
	}

	server, err := gameserver.NewClient(cfg.ServerURL,
		gameserver.WithLogger(o.logger),
		gameserver.WithRateLimit(cfg.RequestsPerSecond, cfg.RequestBurst))
	if err != nil {
		return nil, err
	}

	lctx, cancel := context.WithCancel(context.Background())
	l := &Lobby{
		cfg:    cfg,
		sex:    sex,
		logger: o.logger.WithFields(log.Fields{"component": "lobby", "user": cfg.UserName}),
		server: server,
		bus:    events.NewBus(o.logger.WithField("component", "bus")),
		dir: directory.New(directory.Options{
			Language:        tag,
			JoinURLPrefixes: cfg.JoinURLPrefixes(),
			MaxPages:        cfg.MaxResyncPages,
			Logger:          o.logger,
		}),
		users:  presence.NewTracker(o.logger),
		ctx:    lctx,
		cancel: cancel,
		closed: make(chan struct{}),
	}

	release := l.hold()
	defer release()

	if err := l.init(ctx, o); err != nil {
		err = errs.FromContext(err)
		if !errs.IsCancelled(err) {
			l.report(err)
		}
		l.Close()
		return nil, err
	}
	return l, nil
}

func (l *Lobby) init(ctx context.Context, o options) error {
	host, err := l.server.GetHostInfo(ctx)
	if err != nil {
		return err
	}
	l.host = host
	l.logger.WithFields(log.Fields{
		"server":          host.Name,
		"max_package_mib": host.MaxPackageBytes() >> 20,
	}).Info("connected to game server")

	if err := l.setupContent(ctx, o); err != nil {
		return err
	}
	l.setupSession()
	l.setupSupervisor()
	l.subscribe()

	if err := l.server.JoinLobby(ctx, l.cfg.UserName, l.sex, l.cfg.Culture); err != nil {
		return fmt.Errorf("join lobby: %w", err)
	}

	push, err := l.server.OpenPush(ctx, l.cfg.UserName, gameserver.PushOptions{
		MaxAttempts: l.cfg.ReconnectAttempts,
		MinBackoff:  l.cfg.ReconnectBackoff,
	})
	if err != nil {
		return err
	}
	l.push = push
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.bus.Pump(l.ctx, push.Events())
	}()

	if _, err := l.dir.ReplaceAll(ctx, l.server.GetGamesPage); err != nil {
		return fmt.Errorf("load games: %w", err)
	}
	if err := l.users.ReplaceAll(ctx, l.server.GetUsers); err != nil {
		return fmt.Errorf("load users: %w", err)
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.uploadAvatar(l.ctx)
	}()

	news, err := l.server.GetNews(ctx)
	switch {
	case err != nil && errs.IsCancelled(err):
		return err
	case err != nil:
		l.logger.WithError(err).Warn("news unavailable")
	case news != "":
		l.post(Message{From: messages.News, Text: news, System: true})
	}
	return nil
}

// setupContent picks the content service: the configured one, otherwise a
// random one of those the server advertises. Without either, custom
// packages and avatars are unavailable.
func (l *Lobby) setupContent(ctx context.Context, o options) error {
	uri := l.cfg.ContentServiceURI
	if uri == "" && len(l.host.ContentInfos) > 0 {
		uri = l.host.ContentInfos[rand.IntN(len(l.host.ContentInfos))].ServiceURI
	}
	if uri == "" {
		l.logger.Warn("no content service available")
		return nil
	}
	store, err := content.NewClient(uri, l.cfg.ContentSecret, content.WithLogger(l.logger))
	if err != nil {
		return &errs.InvariantError{What: err.Error()}
	}

	memo := o.memo
	if memo == nil && l.cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, l.cfg.RedisAddr)
		if err != nil {
			l.logger.WithError(err).Warn("content memo disabled")
		} else {
			l.redis = cache.NewURIMemo(rdb, l.cfg.MemoTTL)
			memo = l.redis
		}
	}
	l.ensurer = content.NewEnsurer(store, memo, l.logger)
	return nil
}

func (l *Lobby) setupSession() {
	var strategy session.JoinStrategy = session.HostStrategy{Logger: l.logger}
	if !l.cfg.UseHostTransport {
		strategy = session.LegacyStrategy{Host: l.host.Host, Port: l.host.Port, Logger: l.logger}
	}
	l.coord = session.NewCoordinator(session.Config{
		Server:        l.server,
		Content:       l.ensurer,
		ContentSecret: l.cfg.ContentSecret,
		Strategy:      strategy,
		Logger:        l.logger,
	})
}

func (l *Lobby) setupSupervisor() {
	l.sup = supervisor.New(supervisor.Config{
		ResyncDirectory: func(ctx context.Context) error {
			_, err := l.dir.ReplaceAll(ctx, l.server.GetGamesPage)
			return err
		},
		ResyncPresence: func(ctx context.Context) error {
			return l.users.ReplaceAll(ctx, l.server.GetUsers)
		},
		Notify: func(text string) { l.post(Message{Text: text, System: true}) },
		Report: l.report,
		// Closed arrives on the pump goroutine, which Close waits for.
		Terminate: func(error) { go l.Close() },
		Busy: func(b bool) {
			if b {
				l.addBusy(1)
			} else {
				l.addBusy(-1)
			}
		},
		Logger: l.logger,
	})
}

// subscribe registers the event consumers and the derived CanJoin state.
func (l *Lobby) subscribe() {
	l.unsubs = append(l.unsubs,
		l.bus.Subscribe(events.SessionCreated, func(e events.Event) error {
			if e.Game == nil {
				return errors.New("game_created without game")
			}
			l.dir.ApplyCreate(*e.Game)
			return nil
		}),
		l.bus.Subscribe(events.SessionUpdated, func(e events.Event) error {
			if e.Game == nil {
				return errors.New("game_changed without game")
			}
			l.dir.ApplyUpdate(*e.Game)
			return nil
		}),
		l.bus.Subscribe(events.SessionDeleted, func(e events.Event) error {
			l.dir.ApplyDelete(e.GameID)
			return nil
		}),
		l.bus.Subscribe(events.UserJoined, func(e events.Event) error {
			l.users.Join(e.UserName)
			return nil
		}),
		l.bus.Subscribe(events.UserLeft, func(e events.Event) error {
			l.users.Leave(e.UserName)
			return nil
		}),
		l.bus.Subscribe(events.MessageReceived, func(e events.Event) error {
			l.post(Message{From: e.From, Text: e.Text, Time: e.Timestamp})
			return nil
		}),
		l.sup.Attach(l.bus),
		l.dir.SubscribeSelection(func(*models.GameRecord) { l.updateCanJoin() }),
		l.dir.Subscribe(func(c directory.Change) {
			if c.Kind == directory.Replaced {
				l.updateCanJoin()
			}
		}),
	)
}

func (l *Lobby) uploadAvatar(ctx context.Context) {
	if l.cfg.AvatarPath == "" || l.ensurer == nil {
		return
	}
	uri, _, err := content.UploadAvatar(ctx, l.ensurer, l.cfg.AvatarPath)
	switch {
	case err != nil && errs.IsCancelled(err):
	case err != nil:
		l.logger.WithError(err).Warn("avatar upload failed")
	case uri == "":
		l.logger.WithField("avatar", l.cfg.AvatarPath).Warn("avatar is not an uploadable local file")
	default:
		l.mu.Lock()
		l.avatarURI = uri
		l.mu.Unlock()
		l.logger.WithField("uri", uri).Info("avatar uploaded")
	}
}

// Close leaves the lobby: the push channel is closed, running resyncs and
// session attempts are cancelled and every event consumer is deregistered.
func (l *Lobby) Close() {
	l.closeOnce.Do(func() {
		if l.sup != nil {
			l.sup.Stop()
		}
		if l.coord != nil {
			l.coord.Cancel()
		}
		if l.push != nil {
			_ = l.push.Close()
		}
		l.cancel()
		l.wg.Wait()
		for _, u := range l.unsubs {
			u()
		}
		if l.redis != nil {
			_ = l.redis.Close()
		}
		l.logger.Info("left lobby")
		close(l.closed)
	})
}

// Done is closed once the lobby has been closed, by Close or because the
// connection was lost for good.
func (l *Lobby) Done() <-chan struct{} { return l.closed }

// historySize bounds the message lines kept for late subscribers.
const historySize = 200

func (l *Lobby) post(m Message) {
	if m.Time.IsZero() {
		m.Time = time.Now()
	}
	l.mu.Lock()
	l.history = append(l.history, m)
	if len(l.history) > historySize {
		l.history = l.history[len(l.history)-historySize:]
	}
	l.mu.Unlock()
	l.messages.Publish(m)
}

// report surfaces err as the current error text. Cancellation is not shown.
func (l *Lobby) report(err error) {
	text := messages.ForError(err)
	if text == "" {
		return
	}
	l.logger.WithField("detail", messages.Detail(err)).Warn(text)
	l.errText.Set(text)
}

// hold raises Busy until the returned function is called.
func (l *Lobby) hold() func() {
	l.addBusy(1)
	var once sync.Once
	return func() { once.Do(func() { l.addBusy(-1) }) }
}

func (l *Lobby) addBusy(delta int) {
	l.busyMu.Lock()
	defer l.busyMu.Unlock()
	l.busyCount += delta
	l.busy.Set(l.busyCount > 0)
}

func (l *Lobby) updateCanJoin() {
	l.joinMu.Lock()
	defer l.joinMu.Unlock()
	g, ok := l.dir.Selected()
	l.mu.Lock()
	can := ok && g != nil && (!g.PasswordRequired || l.password != "")
	l.mu.Unlock()
	l.canJoin.Set(can)
}
