// internal/models/game.go
package models

import "time"

// GameMode is the answering mode of a game.
type GameMode int

const (
	ModeSport GameMode = iota // every player may press the button
	ModeTv                    // classic television rules
)

func (m GameMode) String() string {
	if m == ModeTv {
		return "tv"
	}
	return "sport"
}

// GameStage is the coarse progress of a running game.
type GameStage int

const (
	StageCreated GameStage = iota
	StageStarted
	StageRound
	StageFinal
	StageFinished
)

// GameRules is a bitset of optional game rules.
type GameRules uint

const (
	RuleFalseStart GameRules = 1 << iota
	RuleOral
	RuleIgnoreWrong
	RulePingPenalty
)

// Has reports whether every bit of r is set.
func (g GameRules) Has(r GameRules) bool { return g&r == r }

// Role is a seat kind inside a game.
type Role int

const (
	RoleViewer Role = iota
	RolePlayer
	RoleShowman
)

func (r Role) String() string {
	switch r {
	case RolePlayer:
		return "player"
	case RoleShowman:
		return "showman"
	default:
		return "viewer"
	}
}

// PersonSlot is one seat of a game as advertised by the server.
type PersonSlot struct {
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	IsHuman  bool   `json:"isHuman"`
	IsOnline bool   `json:"isOnline"`
}

// GameRecord is one remote game session. ID is stable; every other field may
// change through update events.
type GameRecord struct {
	ID               int          `json:"gameId"`
	Name             string       `json:"gameName"`
	Mode             GameMode     `json:"mode"`
	Owner            string       `json:"owner"`
	PackageName      string       `json:"packageName"`
	PasswordRequired bool         `json:"passwordRequired"`
	Participants     []PersonSlot `json:"persons"`

	Stage           GameStage `json:"stage"`
	StageName       string    `json:"stageName"`
	ProgressCurrent int       `json:"progressCurrent"`
	ProgressTotal   int       `json:"progressTotal"`
	Started         bool      `json:"started"`

	Rules     GameRules `json:"rules"`
	StartTime time.Time `json:"startTime"`
	// RealStartTime is the zero time until the game actually starts.
	RealStartTime time.Time `json:"realStartTime"`

	MinClientProtocolVersion int    `json:"minimumClientProtocolVersion"`
	HostURI                  string `json:"hostUri"`
}

// HasStarted reports whether the game has a recorded actual start time.
func (g *GameRecord) HasStarted() bool {
	return !g.RealStartTime.IsZero()
}

// GamesPage is one slice of the paginated directory snapshot.
type GamesPage struct {
	Games      []GameRecord `json:"data"`
	IsLastPage bool         `json:"isLastSlice"`
}
