package mockserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/sionline/internal/content"
	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/gameserver"
	"github.com/jason-s-yu/sionline/internal/hostclient"
	"github.com/jason-s-yu/sionline/internal/legacy"
	"github.com/jason-s-yu/sionline/internal/models"
)

const testSecret = "mock-secret"

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	if opts.Logger == nil {
		logger, _ := test.NewNullLogger()
		logger.SetLevel(logrus.DebugLevel)
		opts.Logger = logger
	}
	s := New(opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	require.NoError(t, s.SetBaseURL(ts.URL))
	return s, ts
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func postJSON(t *testing.T, url string, in, out any) int {
	t.Helper()
	data, err := json.Marshal(in)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestGameStorePaging(t *testing.T) {
	st := NewGameStore()
	for i := 0; i < 5; i++ {
		st.Add(models.GameRecord{Name: string(rune('a' + i))})
	}

	p := st.Page(0, 2)
	require.Len(t, p.Games, 2)
	assert.False(t, p.IsLastPage)
	assert.Equal(t, 1, p.Games[0].ID)
	assert.Equal(t, 2, p.Games[1].ID)

	p = st.Page(5, 2)
	require.Len(t, p.Games, 1)
	assert.True(t, p.IsLastPage)

	p = st.Page(6, 2)
	assert.Empty(t, p.Games)
	assert.True(t, p.IsLastPage)

	assert.True(t, st.Delete(3))
	assert.False(t, st.Delete(3))
	assert.Equal(t, 4, st.Len())
	assert.True(t, st.NameTaken("a"))
	assert.False(t, st.NameTaken("c"))
}

func TestGameStoreUsersRefcount(t *testing.T) {
	st := NewGameStore()
	assert.True(t, st.Connect("ann"))
	assert.False(t, st.Connect("ann"))
	assert.False(t, st.Disconnect("ann"))
	assert.Equal(t, []string{"ann"}, st.Users())
	assert.True(t, st.Disconnect("ann"))
	assert.False(t, st.Disconnect("ann"))
	assert.Empty(t, st.Users())
}

func TestHostInfoAdvertisesContentAndLegacy(t *testing.T) {
	s, ts := newTestServer(t, Options{Name: "quiz", MaxPackageSizeMb: 5})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go s.ServeLegacy(ln)

	require.Eventually(t, func() bool {
		var info models.HostInfo
		getJSON(t, ts.URL+"/api/host", &info)
		return info.Port != 0
	}, 2*time.Second, 10*time.Millisecond)

	var info models.HostInfo
	getJSON(t, ts.URL+"/api/host", &info)
	assert.Equal(t, "quiz", info.Name)
	assert.Equal(t, 5, info.MaxPackageSizeMb)
	require.Len(t, info.ContentInfos, 1)
	assert.Equal(t, ts.URL+"/", info.ContentInfos[0].ServiceURI)
	assert.Equal(t, ln.Addr().(*net.TCPAddr).Port, info.Port)
}

func TestRunGameValidation(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	pkg := models.PackageInfo{Type: models.PackageTypeLibraryItem, URI: "library/quiz.siq"}

	cases := []struct {
		name string
		req  models.RunGameRequest
		want models.CreationResultCode
	}{
		{"empty name", models.RunGameRequest{Package: pkg}, models.CreationWrongGameSettings},
		{"no package", models.RunGameRequest{Settings: models.GameSettings{Name: "g"}}, models.CreationNoPackage},
		{"content without service", models.RunGameRequest{
			Settings: models.GameSettings{Name: "g"},
			Package:  models.PackageInfo{Type: models.PackageTypeContent, URI: "blobs/x"},
		}, models.CreationBadPackage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var resp models.RunGameResponse
			assert.Equal(t, http.StatusOK, postJSON(t, ts.URL+"/api/games", tc.req, &resp))
			assert.False(t, resp.IsSuccess)
			assert.Equal(t, tc.want, resp.ErrorType)
		})
	}

	var resp models.RunGameResponse
	postJSON(t, ts.URL+"/api/games", models.RunGameRequest{Settings: models.GameSettings{Name: "g"}, Package: pkg}, &resp)
	require.True(t, resp.IsSuccess)
	assert.True(t, resp.IsHost)
	assert.True(t, strings.HasPrefix(resp.HostURI, "ws://"))

	g, ok := s.Store().Get(resp.GameID)
	require.True(t, ok)
	assert.Equal(t, "quiz.siq", g.PackageName)
	assert.Equal(t, resp.HostURI, g.HostURI)

	postJSON(t, ts.URL+"/api/games", models.RunGameRequest{Settings: models.GameSettings{Name: "g"}, Package: pkg}, &resp)
	assert.Equal(t, models.CreationGameNameCollision, resp.ErrorType)

	s.SetCreationResult(models.CreationServerUnderMaintenance)
	postJSON(t, ts.URL+"/api/games", models.RunGameRequest{Settings: models.GameSettings{Name: "h"}, Package: pkg}, &resp)
	assert.Equal(t, models.CreationServerUnderMaintenance, resp.ErrorType)
}

func TestJoinLobbyRequiresName(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	assert.Equal(t, http.StatusBadRequest, postJSON(t, ts.URL+"/api/lobby/join", map[string]string{"userName": " "}, nil))
	assert.Equal(t, http.StatusNoContent, postJSON(t, ts.URL+"/api/lobby/join", map[string]string{"userName": "ann"}, nil))
}

func TestPushPresenceAndBroadcast(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?name=ann"
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer c.CloseNow()

	read := func() gameserver.Envelope {
		_, data, err := c.Read(ctx)
		require.NoError(t, err)
		var env gameserver.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	}

	env := read()
	assert.EqualValues(t, "user_joined", env.Type)
	assert.Equal(t, "ann", env.UserName)

	var users []string
	getJSON(t, ts.URL+"/api/users", &users)
	assert.Equal(t, []string{"ann"}, users)

	g := s.CreateGame(models.GameRecord{Name: "live"}, "")
	env = read()
	assert.EqualValues(t, "game_created", env.Type)
	require.NotNil(t, env.Game)
	assert.Equal(t, g.ID, env.Game.ID)
	assert.Equal(t, g.HostURI, env.Game.HostURI)

	s.DeleteGame(g.ID)
	env = read()
	assert.EqualValues(t, "game_deleted", env.Type)
	assert.Equal(t, g.ID, env.GameID)
}

func TestPushWithoutNameIsRejected(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	_, _, err = c.Read(ctx)
	assert.Equal(t, InvalidUserNameError, websocket.CloseStatus(err))
}

func TestContentRoundTrip(t *testing.T) {
	s, ts := newTestServer(t, Options{ContentSecret: testSecret, MaxPackageSizeMb: 1})
	c, err := content.NewClient(ts.URL, testSecret)
	require.NoError(t, err)
	ctx := context.Background()

	b := content.BytesBlob("quiz.siq", []byte("package bytes"))
	_, found, err := c.TryResolve(ctx, content.Packages, b.Key)
	require.NoError(t, err)
	assert.False(t, found)

	rc, err := b.Open()
	require.NoError(t, err)
	uri, err := c.Upload(ctx, content.Packages, b.Key, rc, b.Size, 1<<20, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Uploads())

	got, found, err := c.TryResolve(ctx, content.Packages, b.Key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uri, got)

	abs, err := content.ResolveURI(c.ServiceURI(), uri)
	require.NoError(t, err)
	resp, err := http.Get(abs)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestContentRejectsBadToken(t *testing.T) {
	_, ts := newTestServer(t, Options{ContentSecret: testSecret})
	c, err := content.NewClient(ts.URL, "wrong")
	require.NoError(t, err)

	_, _, err = c.TryResolve(context.Background(), content.Avatars, models.BlobKey{Name: "a.png", Hash: []byte{1}})
	var tne *errs.TransientNetworkError
	assert.ErrorAs(t, err, &tne)
}

func TestContentServerSizeLimit(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	c, err := content.NewClient(ts.URL, "")
	require.NoError(t, err)

	data := bytes.Repeat([]byte{7}, int(content.AvatarSizeLimit)+1)
	b := content.BytesBlob("big.png", data)
	rc, _ := b.Open()
	// The client-side limit is disabled so the server has to refuse.
	_, err = c.Upload(context.Background(), content.Avatars, b.Key, rc, b.Size, 0, nil)
	var tooLarge *errs.ContentTooLargeError
	assert.ErrorAs(t, err, &tooLarge)
}

func TestHostJoinHandshake(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	g := s.CreateGame(models.GameRecord{Name: "locked"}, "pw")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := hostclient.Dial(ctx, g.HostURI, nil)
	require.NoError(t, err)
	resp, err := conn.Join(ctx, models.JoinGameRequest{GameID: g.ID, UserName: "ann", Role: models.RolePlayer, Password: "nope"})
	require.NoError(t, err)
	assert.False(t, resp.IsSuccess)
	assert.Equal(t, models.JoinForbidden, resp.ErrorType)
	conn.Close()

	conn, err = hostclient.Dial(ctx, g.HostURI, nil)
	require.NoError(t, err)
	defer conn.Close()
	resp, err = conn.Join(ctx, models.JoinGameRequest{GameID: g.ID, UserName: "ann", Role: models.RolePlayer, Password: "pw"})
	require.NoError(t, err)
	require.True(t, resp.IsSuccess)
	assert.Equal(t, g.ID, conn.GameID())

	got, _ := s.Store().Get(g.ID)
	require.Len(t, got.Participants, 1)
	assert.Equal(t, "ann", got.Participants[0].Name)
	assert.True(t, got.Participants[0].IsOnline)

	require.NoError(t, conn.Send(hostclient.Message{Type: hostclient.TypeMessage, Payload: json.RawMessage(`"hi"`)}))
	msg, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ann", msg.From)
}

func TestHostJoinUnknownGame(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	g := s.CreateGame(models.GameRecord{Name: "gone"}, "")
	s.DeleteGame(g.ID)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := hostclient.Dial(ctx, g.HostURI, nil)
	require.NoError(t, err)
	defer conn.Close()
	resp, err := conn.Join(ctx, models.JoinGameRequest{GameID: g.ID, UserName: "ann"})
	require.NoError(t, err)
	assert.Equal(t, models.JoinGameNotFound, resp.ErrorType)
}

func TestLegacyProtocol(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	g := s.CreateGame(models.GameRecord{Name: "old"}, "secret word")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go s.ServeLegacy(ln)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := legacy.Dial(ctx, ln.Addr().String(), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.ErrorIs(t, conn.SetGameID(ctx, g.ID+100), errs.ErrCreatedGameNotFound)
	require.NoError(t, conn.SetGameID(ctx, g.ID))

	err = conn.Join(ctx, "bob", models.RoleViewer, models.SexMale, "wrong")
	var rejected *errs.JoinRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "wrong password", rejected.Message)

	require.NoError(t, conn.Join(ctx, "bob", models.RoleShowman, models.SexFemale, "secret word"))
	got, _ := s.Store().Get(g.ID)
	require.Len(t, got.Participants, 1)
	assert.Equal(t, models.RoleShowman, got.Participants[0].Role)
	require.NoError(t, conn.Say(ctx, "hello"))
}
