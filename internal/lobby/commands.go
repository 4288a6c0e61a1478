// internal/lobby/commands.go
package lobby

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/jason-s-yu/sionline/internal/content"
	"github.com/jason-s-yu/sionline/internal/directory"
	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/models"
	"github.com/jason-s-yu/sionline/internal/presence"
	"github.com/jason-s-yu/sionline/internal/session"
	"github.com/jason-s-yu/sionline/internal/supervisor"
)

// Host returns the server metadata fetched on entry.
func (l *Lobby) Host() models.HostInfo { return l.host }

// UserName returns the name the lobby was entered with.
func (l *Lobby) UserName() string { return l.cfg.UserName }

// Games returns the visible games in display order.
func (l *Lobby) Games() []*models.GameRecord { return l.dir.View() }

// SubscribeGames registers fn for edits of the visible games.
func (l *Lobby) SubscribeGames(fn func(directory.Change)) func() { return l.dir.Subscribe(fn) }

// Selected returns the current game.
func (l *Lobby) Selected() (*models.GameRecord, bool) { return l.dir.Selected() }

// SubscribeSelection registers fn for selection changes.
func (l *Lobby) SubscribeSelection(fn func(*models.GameRecord)) func() {
	return l.dir.SubscribeSelection(fn)
}

// Users returns the users present in the lobby, sorted.
func (l *Lobby) Users() []string { return l.users.Names() }

// SubscribeUsers registers fn for presence changes.
func (l *Lobby) SubscribeUsers(fn func(presence.Change)) func() { return l.users.Subscribe(fn) }

// Messages returns the most recent message lines, oldest first.
func (l *Lobby) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.history)
}

// SubscribeMessages registers fn for chat lines, news and connection notices.
func (l *Lobby) SubscribeMessages(fn func(Message)) func() { return l.messages.Subscribe(fn) }

// Busy reports whether a lobby-level operation is running.
func (l *Lobby) Busy() bool { return l.busy.Get() }

// SubscribeBusy registers fn for changes of Busy.
func (l *Lobby) SubscribeBusy(fn func(bool)) func() { return l.busy.Subscribe(fn) }

// Error returns the message of the last failure, or "".
func (l *Lobby) Error() string { return l.errText.Get() }

// SubscribeError registers fn for changes of Error.
func (l *Lobby) SubscribeError(fn func(string)) func() { return l.errText.Subscribe(fn) }

// ClearError dismisses the current error text.
func (l *Lobby) ClearError() { l.errText.Set("") }

// Progress returns the package upload progress, 0 to 100.
func (l *Lobby) Progress() int { return l.coord.Progress() }

// SubscribeProgress registers fn for upload progress.
func (l *Lobby) SubscribeProgress(fn func(int)) func() { return l.coord.SubscribeProgress(fn) }

// ShowProgress reports whether a package upload is running.
func (l *Lobby) ShowProgress() bool { return l.coord.ShowProgress() }

// SubscribeShowProgress registers fn for changes of ShowProgress.
func (l *Lobby) SubscribeShowProgress(fn func(bool)) func() {
	return l.coord.SubscribeShowProgress(fn)
}

// SessionState returns the phase of the running create or join attempt.
func (l *Lobby) SessionState() session.State { return l.coord.State() }

// Connection returns the push channel state.
func (l *Lobby) Connection() supervisor.State { return l.sup.State() }

// SubscribeConnection registers fn for push channel state changes.
func (l *Lobby) SubscribeConnection(fn func(supervisor.State)) func() {
	return l.sup.SubscribeState(fn)
}

// CanJoin reports whether the selected game can be joined with the current
// password.
func (l *Lobby) CanJoin() bool { return l.canJoin.Get() }

// SubscribeCanJoin registers fn for changes of CanJoin.
func (l *Lobby) SubscribeCanJoin(fn func(bool)) func() { return l.canJoin.Subscribe(fn) }

// AvatarURI returns the uploaded avatar of the local user, or "".
func (l *Lobby) AvatarURI() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.avatarURI
}

// SetFilter replaces the filter flags.
func (l *Lobby) SetFilter(f models.Filter) { l.dir.SetFilter(f) }

// Filter returns the filter flags.
func (l *Lobby) Filter() models.Filter { return l.dir.Filter() }

// SetSearch replaces the search text. A join link selects its game.
func (l *Lobby) SetSearch(text string) { l.dir.SetSearchText(text) }

// Select makes the visible game with the given id current.
func (l *Lobby) Select(id int) bool { return l.dir.Select(id) }

// SetPassword sets the password used to join protected games.
func (l *Lobby) SetPassword(pw string) {
	l.mu.Lock()
	l.password = pw
	l.mu.Unlock()
	l.updateCanJoin()
}

// ShareLink returns the join link of the selected game.
func (l *Lobby) ShareLink() (string, bool) {
	g, ok := l.dir.Selected()
	if !ok || l.cfg.OnlineGameURL == "" {
		return "", false
	}
	return l.cfg.OnlineGameURL + strconv.Itoa(g.ID), true
}

// Say sends a chat line to the lobby.
func (l *Lobby) Say(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if err := l.server.Say(ctx, text); err != nil {
		l.report(err)
		return err
	}
	return nil
}

// CreateGame creates a game with settings and package and joins it. data
// supplies the bytes of a custom package. Failures are also published as
// the lobby error; cancellation is returned but not shown.
func (l *Lobby) CreateGame(ctx context.Context, settings models.GameSettings, pkg models.PackageKey, data *content.Blob) (*session.Session, error) {
	release := l.hold()
	defer release()
	l.ClearError()

	if settings.Culture == "" {
		settings.Culture = l.cfg.Culture
	}
	l.applyAvatar(&settings)

	ctx, done := l.scope(ctx)
	defer done()
	sess, err := l.coord.Create(ctx, session.CreateRequest{
		Settings:        settings,
		Package:         pkg,
		PackageData:     data,
		MaxPackageBytes: l.host.MaxPackageBytes(),
		UserName:        l.cfg.UserName,
		Sex:             l.sex,
	})
	if err != nil {
		l.report(err)
		return nil, err
	}
	return sess, nil
}

// JoinGame joins the game with the given id in role, using the password set
// by SetPassword.
func (l *Lobby) JoinGame(ctx context.Context, id int, role models.Role) (*session.Session, error) {
	release := l.hold()
	defer release()
	l.ClearError()

	g, ok := l.dir.Get(id)
	if !ok {
		err := &errs.JoinRejectedError{Code: models.JoinGameNotFound}
		l.report(err)
		return nil, err
	}
	l.mu.Lock()
	pw := l.password
	l.mu.Unlock()

	ctx, done := l.scope(ctx)
	defer done()
	sess, err := l.coord.Join(ctx, session.JoinRequest{
		Game:     *g,
		Role:     role,
		Password: pw,
		UserName: l.cfg.UserName,
		Sex:      l.sex,
		IsHost:   g.Owner != "" && g.Owner == l.cfg.UserName,
	})
	if err != nil {
		l.report(err)
		return nil, err
	}
	return sess, nil
}

// Cancel aborts the running create or join attempt.
func (l *Lobby) Cancel() { l.coord.Cancel() }

// applyAvatar gives the local user's seat the uploaded avatar.
func (l *Lobby) applyAvatar(s *models.GameSettings) {
	uri := l.AvatarURI()
	if uri == "" {
		return
	}
	if s.Showman.IsHuman && s.Showman.Name == l.cfg.UserName && s.Showman.Picture == "" {
		s.Showman.Picture = uri
	}
	for i := range s.Players {
		p := &s.Players[i]
		if p.IsHuman && p.Name == l.cfg.UserName && p.Picture == "" {
			p.Picture = uri
		}
	}
}

// scope derives a context that is also cancelled when the lobby closes.
func (l *Lobby) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(l.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
