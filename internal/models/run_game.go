// internal/models/run_game.go
package models

// CreationResultCode is the server's reason for refusing to create a game.
type CreationResultCode int

const (
	CreationOk CreationResultCode = iota
	CreationNoPackage
	CreationTooMuchGames
	CreationServerUnderMaintenance
	CreationBadPackage
	CreationGameNameCollision
	CreationInternalServerError
	CreationServerNotReady
	CreationYourClientIsObsolete
	CreationUnknownError
	CreationJoinError
	CreationWrongGameSettings
	CreationTooManyGamesByAddress
)

// JoinErrorType is the session host's reason for refusing a join.
type JoinErrorType int

const (
	JoinGameNotFound JoinErrorType = iota + 1
	JoinCommonError
	JoinInvalidRole
	JoinInternalServerError
	JoinForbidden
)

// ComputerAccountInfo carries a custom computer participant to the server.
type ComputerAccountInfo struct {
	Account Account `json:"account"`
}

// RunGameRequest asks the game server to create a game.
type RunGameRequest struct {
	Settings         GameSettings          `json:"settings"`
	Package          PackageInfo           `json:"package"`
	ComputerAccounts []ComputerAccountInfo `json:"computerAccounts"`
}

// RunGameResponse is the tagged outcome of a run-game request.
type RunGameResponse struct {
	IsSuccess bool               `json:"isSuccess"`
	ErrorType CreationResultCode `json:"errorType"`
	HostURI   string             `json:"hostUri"`
	GameID    int                `json:"gameId"`
	IsHost    bool               `json:"isHost"`
}

// JoinGameRequest is sent to a session host to take a seat.
type JoinGameRequest struct {
	GameID   int    `json:"gameId"`
	UserName string `json:"userName"`
	Role     Role   `json:"role"`
	Sex      Sex    `json:"sex"`
	Password string `json:"password,omitempty"`
}

// JoinGameResponse is the session host's answer to a join request.
type JoinGameResponse struct {
	IsSuccess bool          `json:"isSuccess"`
	ErrorType JoinErrorType `json:"errorType"`
	Message   string        `json:"message"`
}
