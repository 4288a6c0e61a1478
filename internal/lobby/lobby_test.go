package lobby_test

import (
	"context"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/sionline/internal/config"
	"github.com/jason-s-yu/sionline/internal/content"
	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/lobby"
	"github.com/jason-s-yu/sionline/internal/messages"
	"github.com/jason-s-yu/sionline/internal/mockserver"
	"github.com/jason-s-yu/sionline/internal/models"
	"github.com/jason-s-yu/sionline/internal/supervisor"
)

const (
	testSecret   = "lobby-secret"
	waitFor      = 5 * time.Second
	pollInterval = 10 * time.Millisecond
)

type fixture struct {
	srv *mockserver.Server
	url string
}

func newFixture(t *testing.T, opts mockserver.Options) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	opts.Logger = logger
	if opts.ContentSecret == "" {
		opts.ContentSecret = testSecret
	}
	srv := mockserver.New(opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	require.NoError(t, srv.SetBaseURL(ts.URL))
	return &fixture{srv: srv, url: ts.URL}
}

func (f *fixture) config(user string) config.Config {
	cfg := config.Default()
	cfg.ServerURL = f.url
	cfg.UserName = user
	cfg.ContentSecret = testSecret
	cfg.ReconnectBackoff = 10 * time.Millisecond
	cfg.RequestsPerSecond = 1000
	cfg.RequestBurst = 100
	cfg.OnlineGameURL = "https://quiz.example/join?id="
	return cfg
}

func (f *fixture) enter(t *testing.T, cfg config.Config) *lobby.Lobby {
	t.Helper()
	logger, _ := test.NewNullLogger()
	l, err := lobby.Enter(context.Background(), cfg, lobby.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func gameNames(l *lobby.Lobby) []string {
	var out []string
	for _, g := range l.Games() {
		out = append(out, g.Name)
	}
	return out
}

func hasMessage(l *lobby.Lobby, text string) bool {
	return slices.ContainsFunc(l.Messages(), func(m lobby.Message) bool { return m.Text == text })
}

func TestEnterLoadsSnapshots(t *testing.T) {
	f := newFixture(t, mockserver.Options{News: "Season starts today", PageSize: 2})
	for _, name := range []string{"Gamma", "Alpha", "Beta"} {
		f.srv.CreateGame(models.GameRecord{Name: name}, "")
	}

	l := f.enter(t, f.config("ann"))

	assert.Equal(t, []string{"Alpha", "Beta", "Gamma"}, gameNames(l))
	require.Eventually(t, func() bool { return slices.Contains(l.Users(), "ann") }, waitFor, pollInterval)
	assert.False(t, l.Busy())
	assert.Equal(t, supervisor.Connected, l.Connection())

	sel, ok := l.Selected()
	require.True(t, ok)
	assert.Equal(t, "Alpha", sel.Name)

	require.True(t, hasMessage(l, "Season starts today"))
	news := l.Messages()[0]
	assert.True(t, news.System)
	assert.Equal(t, messages.News, news.From)
}

func TestEnterFailsWithoutServer(t *testing.T) {
	cfg := config.Default()
	cfg.ServerURL = "http://127.0.0.1:1"
	cfg.UserName = "ann"
	logger, _ := test.NewNullLogger()

	_, err := lobby.Enter(context.Background(), cfg, lobby.WithLogger(logger))
	var tne *errs.TransientNetworkError
	assert.ErrorAs(t, err, &tne)
}

func TestEnterCancelled(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	logger, _ := test.NewNullLogger()

	_, err := lobby.Enter(ctx, f.config("ann"), lobby.WithLogger(logger))
	assert.True(t, errs.IsCancelled(err))
}

func TestPushEventsReachCollections(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	ann := f.enter(t, f.config("ann"))

	g := f.srv.CreateGame(models.GameRecord{Name: "Live"}, "")
	require.Eventually(t, func() bool { return slices.Contains(gameNames(ann), "Live") }, waitFor, pollInterval)

	f.srv.UpdateGame(g.ID, func(r *models.GameRecord) { r.Name = "Renamed" })
	require.Eventually(t, func() bool { return slices.Equal(gameNames(ann), []string{"Renamed"}) }, waitFor, pollInterval)

	f.srv.DeleteGame(g.ID)
	require.Eventually(t, func() bool { return len(ann.Games()) == 0 }, waitFor, pollInterval)
	_, ok := ann.Selected()
	assert.False(t, ok)

	bob := f.enter(t, f.config("bob"))
	require.Eventually(t, func() bool { return slices.Contains(ann.Users(), "bob") }, waitFor, pollInterval)
	bob.Close()
	require.Eventually(t, func() bool { return !slices.Contains(ann.Users(), "bob") }, waitFor, pollInterval)
}

func TestChat(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	ann := f.enter(t, f.config("ann"))
	bob := f.enter(t, f.config("bob"))

	got := make(chan lobby.Message, 8)
	unsub := ann.SubscribeMessages(func(m lobby.Message) { got <- m })
	defer unsub()

	require.NoError(t, bob.Say(context.Background(), "  hello  "))
	select {
	case m := <-got:
		assert.Equal(t, "bob", m.From)
		assert.Equal(t, "hello", m.Text)
		assert.False(t, m.System)
	case <-time.After(waitFor):
		t.Fatal("chat message not delivered")
	}
}

func TestReconnectResyncs(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	l := f.enter(t, f.config("ann"))

	// Added without a broadcast: only a resync can reveal it.
	f.srv.Store().Add(models.GameRecord{Name: "Hidden"})
	require.Eventually(t, func() bool { return f.srv.DropPushConnections() > 0 }, waitFor, pollInterval)

	require.Eventually(t, func() bool { return slices.Contains(gameNames(l), "Hidden") }, waitFor, pollInterval)
	assert.True(t, hasMessage(l, messages.Reconnected))
	assert.Equal(t, supervisor.Connected, l.Connection())
	assert.Empty(t, l.Error())
}

func TestLostConnectionClosesLobby(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	l := f.enter(t, f.config("ann"))

	require.Eventually(t, func() bool { return f.srv.KickUser("ann") > 0 }, waitFor, pollInterval)
	select {
	case <-l.Done():
	case <-time.After(waitFor):
		t.Fatal("lobby still open")
	}
	assert.Equal(t, supervisor.Disconnected, l.Connection())
}

func TestCreateGameWithLibraryPackage(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	l := f.enter(t, f.config("ann"))

	sess, err := l.CreateGame(context.Background(), models.GameSettings{Name: "Mine", Role: models.RoleShowman},
		models.PackageKey{URI: "library/quiz.siq"}, nil)
	require.NoError(t, err)
	defer sess.Close()

	assert.True(t, sess.IsHost)
	assert.Equal(t, "host", sess.Node.Transport.Protocol())
	require.Eventually(t, func() bool { return slices.Contains(gameNames(l), "Mine") }, waitFor, pollInterval)

	g, ok := f.srv.Store().Get(sess.GameID)
	require.True(t, ok)
	assert.Equal(t, "ann", g.Owner)
	assert.Equal(t, "quiz.siq", g.PackageName)
}

func TestCreateGameUploadsCustomPackageOnce(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	l := f.enter(t, f.config("ann"))

	blob := content.BytesBlob("quiz.siq", []byte("custom package bytes"))
	key := models.PackageKey{Name: blob.Key.Name, Hash: blob.Key.Hash}

	var shown []bool
	unsub := l.SubscribeShowProgress(func(b bool) { shown = append(shown, b) })
	defer unsub()

	sess, err := l.CreateGame(context.Background(), models.GameSettings{Name: "First"}, key, &blob)
	require.NoError(t, err)
	sess.Close()
	assert.Equal(t, []bool{true, false}, shown)
	assert.Equal(t, 100, l.Progress())

	sess, err = l.CreateGame(context.Background(), models.GameSettings{Name: "Second"}, key, &blob)
	require.NoError(t, err)
	sess.Close()

	assert.Equal(t, 1, f.srv.Uploads())
}

func TestCreateGameRefused(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	l := f.enter(t, f.config("ann"))
	f.srv.SetCreationResult(models.CreationTooManyGamesByAddress)

	_, err := l.CreateGame(context.Background(), models.GameSettings{Name: "Nope"}, models.PackageKey{URI: "library/1"}, nil)
	var rejected *errs.SessionRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, messages.ForCreation(models.CreationTooManyGamesByAddress), l.Error())
	assert.NotEqual(t, messages.UnknownError, l.Error())
	assert.False(t, l.Busy())
}

func TestCreateRandomPackageIsRefused(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	l := f.enter(t, f.config("ann"))

	_, err := l.CreateGame(context.Background(), models.GameSettings{Name: "Random"}, models.PackageKey{}, nil)
	assert.ErrorIs(t, err, errs.ErrRandomPackage)
	assert.Equal(t, 0, f.srv.Store().Len())
}

func TestJoinProtectedGame(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	g := f.srv.CreateGame(models.GameRecord{Name: "Locked", Owner: "zed"}, "pw")
	l := f.enter(t, f.config("ann"))

	require.True(t, l.Select(g.ID))
	assert.False(t, l.CanJoin())

	_, err := l.JoinGame(context.Background(), g.ID, models.RolePlayer)
	assert.ErrorIs(t, err, errs.ErrPasswordRequired)
	assert.Equal(t, messages.PasswordRequired, l.Error())

	l.SetPassword("wrong")
	assert.True(t, l.CanJoin())
	_, err = l.JoinGame(context.Background(), g.ID, models.RolePlayer)
	var rejected *errs.JoinRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, models.JoinForbidden, rejected.Code)

	l.SetPassword("pw")
	sess, err := l.JoinGame(context.Background(), g.ID, models.RolePlayer)
	require.NoError(t, err)
	defer sess.Close()
	assert.False(t, sess.IsHost)
	assert.Empty(t, l.Error())

	require.Eventually(t, func() bool {
		cur, ok := f.srv.Store().Get(g.ID)
		return ok && len(cur.Participants) == 1 && cur.Participants[0].IsOnline
	}, waitFor, pollInterval)
}

func TestJoinUnknownGame(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	l := f.enter(t, f.config("ann"))

	_, err := l.JoinGame(context.Background(), 404, models.RoleViewer)
	var rejected *errs.JoinRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, models.JoinGameNotFound, rejected.Code)
}

func TestJoinThroughLegacySocket(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go f.srv.ServeLegacy(ln)

	g := f.srv.CreateGame(models.GameRecord{Name: "Old"}, "")

	cfg := f.config("ann")
	cfg.UseHostTransport = false
	var l *lobby.Lobby
	// The legacy port is published once ServeLegacy has started.
	require.Eventually(t, func() bool {
		logger, _ := test.NewNullLogger()
		cand, err := lobby.Enter(context.Background(), cfg, lobby.WithLogger(logger))
		if err != nil {
			return false
		}
		if cand.Host().Port == 0 {
			cand.Close()
			return false
		}
		l = cand
		return true
	}, waitFor, pollInterval)
	t.Cleanup(l.Close)

	sess, err := l.JoinGame(context.Background(), g.ID, models.RoleViewer)
	require.NoError(t, err)
	defer sess.Close()
	assert.Equal(t, "legacy", sess.Node.Transport.Protocol())
}

func TestShareLinkAndSearchByLink(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	a := f.srv.CreateGame(models.GameRecord{Name: "Alpha"}, "")
	b := f.srv.CreateGame(models.GameRecord{Name: "Beta"}, "")
	l := f.enter(t, f.config("ann"))

	require.True(t, l.Select(b.ID))
	link, ok := l.ShareLink()
	require.True(t, ok)
	assert.Equal(t, "https://quiz.example/join?id="+strconv.Itoa(b.ID), link)

	l.SetSearch("https://quiz.example/join?id=" + strconv.Itoa(a.ID))
	assert.Equal(t, []string{"Alpha"}, gameNames(l))
	sel, ok := l.Selected()
	require.True(t, ok)
	assert.Equal(t, a.ID, sel.ID)

	l.SetSearch("")
	l.SetFilter(models.FilterNoPassword)
	assert.Equal(t, models.FilterNoPassword, l.Filter())
	assert.Equal(t, []string{"Alpha", "Beta"}, gameNames(l))
}

func TestAvatarUploadedInBackground(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	path := filepath.Join(t.TempDir(), "me.png")
	require.NoError(t, os.WriteFile(path, []byte("png bytes"), 0o600))

	cfg := f.config("ann")
	cfg.AvatarPath = path
	l := f.enter(t, cfg)

	require.Eventually(t, func() bool { return l.AvatarURI() != "" }, waitFor, pollInterval)
	assert.Contains(t, l.AvatarURI(), f.url+"/blobs/avatars/")
	assert.Equal(t, 1, f.srv.Uploads())
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t, mockserver.Options{})
	l := f.enter(t, f.config("ann"))

	l.Close()
	l.Close()
	select {
	case <-l.Done():
	default:
		t.Fatal("Done not closed")
	}
	require.Eventually(t, func() bool { return f.srv.PushConnections() == 0 }, waitFor, pollInterval)
}
