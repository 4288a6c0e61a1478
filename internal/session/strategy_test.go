package session

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/models"
)

const (
	testTimeout  = 2 * time.Second
	pollInterval = 10 * time.Millisecond
)

// hostServer accepts one join per connection and answers with resp.
func hostServer(t *testing.T, resp models.JoinGameResponse) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil || frame["type"] != "join" {
			return
		}
		_ = conn.WriteJSON(resp)
		// keep the connection open until the client leaves
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHostStrategyJoins(t *testing.T) {
	uri := hostServer(t, models.JoinGameResponse{IsSuccess: true})
	tr, err := HostStrategy{}.Join(context.Background(), Target{
		GameID:  3,
		HostURI: uri,
		Request: models.JoinGameRequest{GameID: 3, UserName: "ann", Role: models.RolePlayer},
	})
	require.NoError(t, err)
	assert.Equal(t, "host", tr.Protocol())
	assert.NoError(t, tr.Close())
}

func TestHostStrategyRejection(t *testing.T) {
	uri := hostServer(t, models.JoinGameResponse{ErrorType: models.JoinInvalidRole, Message: "seat taken"})
	_, err := HostStrategy{}.Join(context.Background(), Target{GameID: 3, HostURI: uri})

	var rejected *errs.JoinRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, models.JoinInvalidRole, rejected.Code)
	assert.Equal(t, "seat taken", rejected.Message)
}

func TestHostStrategyNeedsURI(t *testing.T) {
	_, err := HostStrategy{}.Join(context.Background(), Target{GameID: 3})
	var inv *errs.InvariantError
	assert.ErrorAs(t, err, &inv)
}

func TestLegacyStrategy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	known := 9
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			line := sc.Text()
			reply := "OK"
			if id, ok := strings.CutPrefix(line, "GAMEID "); ok && id != strconv.Itoa(known) {
				reply = "NOTFOUND"
			}
			if _, err := conn.Write([]byte(reply + "\n")); err != nil {
				return
			}
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	s := LegacyStrategy{Host: host, Port: port}

	tr, err := s.Join(context.Background(), Target{GameID: known, Request: models.JoinGameRequest{GameID: known, UserName: "bob"}})
	require.NoError(t, err)
	assert.Equal(t, "legacy", tr.Protocol())
	tr.Close()
}

func TestLegacyStrategyNeedsAddress(t *testing.T) {
	_, err := LegacyStrategy{}.Join(context.Background(), Target{GameID: 1})
	var inv *errs.InvariantError
	assert.ErrorAs(t, err, &inv)
}
