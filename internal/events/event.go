// internal/events/event.go
package events

import (
	"time"

	"github.com/jason-s-yu/sionline/internal/models"
)

// Kind identifies a push-channel event.
type Kind string

const (
	// Directory collection
	SessionCreated Kind = "game_created"
	SessionUpdated Kind = "game_changed"
	SessionDeleted Kind = "game_deleted"
	// Presence collection
	UserJoined Kind = "user_joined"
	UserLeft   Kind = "user_left"
	// Chat
	MessageReceived Kind = "message"
	// Channel lifecycle
	Reconnecting Kind = "reconnecting"
	Reconnected  Kind = "reconnected"
	Closed       Kind = "closed"
)

// Event is the envelope delivered by the push channel. Only the fields that
// belong to Kind are set.
type Event struct {
	Kind      Kind
	Timestamp time.Time

	Game   *models.GameRecord // SessionCreated, SessionUpdated
	GameID int                // SessionDeleted

	UserName string // UserJoined, UserLeft

	From string // MessageReceived
	Text string

	Err error // Reconnecting, Closed
}
