// internal/mockserver/codes.go
package mockserver

import (
	"github.com/coder/websocket"

	"github.com/jason-s-yu/sionline/internal/gameserver"
)

// Custom WebSocket close codes.
const (
	InvalidUserNameError = gameserver.StatusUserNameRejected // push channel opened without a usable name
	InvalidGameIDError   = 3003                              // host endpoint addressed with a malformed game id
	ServerRestartError   = websocket.StatusGoingAway         // server dropped the connection, clients may redial
)
