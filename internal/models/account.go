// internal/models/account.go
package models

// Sex of an account, used by the host to pick phrasing.
type Sex int

const (
	SexMale Sex = iota
	SexFemale
)

// Account is a human or computer participant configured locally.
type Account struct {
	Name    string `json:"name"`
	IsMale  bool   `json:"isMale"`
	Picture string `json:"picture"`

	// IsHuman is false for computer players.
	IsHuman bool `json:"-"`
	// CanBeDeleted marks user-created accounts the server does not know about.
	CanBeDeleted bool `json:"-"`

	Style    string `json:"style,omitempty"`
	Specials string `json:"specials,omitempty"`
}

// NeedsUpload reports whether the account must be sent to the server with the
// run-game request.
func (a Account) NeedsUpload() bool {
	return !a.IsHuman && a.CanBeDeleted
}

// GameSettings are the parameters of a game to create.
type GameSettings struct {
	Name     string    `json:"name"`
	Mode     GameMode  `json:"mode"`
	Rules    GameRules `json:"rules"`
	Password string    `json:"password,omitempty"`
	Culture  string    `json:"culture,omitempty"`

	// Role the local user takes in the created game.
	Role    Role      `json:"role"`
	Players []Account `json:"players"`
	Showman Account   `json:"showman"`
}
