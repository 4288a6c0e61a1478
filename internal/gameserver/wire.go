// internal/gameserver/wire.go
package gameserver

import (
	"fmt"
	"time"

	"github.com/jason-s-yu/sionline/internal/events"
	"github.com/jason-s-yu/sionline/internal/models"
)

// Envelope is the JSON frame of the push channel.
type Envelope struct {
	Type      events.Kind        `json:"type"`
	Game      *models.GameRecord `json:"game,omitempty"`
	GameID    int                `json:"gameId,omitempty"`
	UserName  string             `json:"userName,omitempty"`
	From      string             `json:"from,omitempty"`
	Text      string             `json:"text,omitempty"`
	Timestamp time.Time          `json:"timestamp,omitempty"`
}

// ToEvent validates the envelope and converts it to an event. Game times are
// converted to local time.
func (e Envelope) ToEvent() (events.Event, error) {
	ev := events.Event{Kind: e.Type, Timestamp: e.Timestamp}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	switch e.Type {
	case events.SessionCreated, events.SessionUpdated:
		if e.Game == nil {
			return ev, fmt.Errorf("%s without game", e.Type)
		}
		g := Localize(*e.Game)
		ev.Game = &g
	case events.SessionDeleted:
		ev.GameID = e.GameID
	case events.UserJoined, events.UserLeft:
		if e.UserName == "" {
			return ev, fmt.Errorf("%s without user name", e.Type)
		}
		ev.UserName = e.UserName
	case events.MessageReceived:
		ev.From, ev.Text = e.From, e.Text
	default:
		return ev, fmt.Errorf("unknown push event type %q", e.Type)
	}
	return ev, nil
}

// Localize converts the server's times to local time. Absent times stay zero.
func Localize(g models.GameRecord) models.GameRecord {
	if !g.StartTime.IsZero() {
		g.StartTime = g.StartTime.Local()
	}
	if !g.RealStartTime.IsZero() {
		g.RealStartTime = g.RealStartTime.Local()
	}
	return g
}

type joinLobbyRequest struct {
	UserName string     `json:"userName"`
	Sex      models.Sex `json:"sex"`
	Culture  string     `json:"culture,omitempty"`
}

type newsResponse struct {
	News string `json:"news"`
}

type chatRequest struct {
	From string `json:"from"`
	Text string `json:"text"`
}
