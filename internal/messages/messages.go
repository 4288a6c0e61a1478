// internal/messages/messages.go
//
// Package messages holds the user-facing strings of the lobby client.
package messages

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/models"
)

const (
	AppName = "SIGame"
	News    = "News"

	Reconnecting   = "Connection lost. Reconnecting..."
	Reconnected    = "Connection restored"
	LostConnection = "Connection to the server is lost"

	PackageCheck           = "Checking package..."
	SendingPackageToServer = "Sending package to server..."
	Preparing              = "Preparing..."
	Creating               = "Creating game..."
	GameEntering           = "Entering game..."

	BadPackage        = "Package is damaged or cannot be read"
	FileTooLarge      = "File is too large"
	RandomServerTheme = "Random server themes"

	UpgradeRequired       = "You need to upgrade the client to join this game"
	PasswordRequired      = "This game requires a password"
	CreatedGameNotFound   = "Created game was not found on the server"
	GameConnectionTimeout = "Game connection timed out"
	UnknownError          = "Unknown error"
	InternalInvariant     = "Internal client error"
)

var creationMessages = map[models.CreationResultCode]string{
	models.CreationNoPackage:              "Package not found on the server",
	models.CreationTooMuchGames:           "Too many games are running on the server. Try again later",
	models.CreationServerUnderMaintenance: "Server is under maintenance. Try again later",
	models.CreationBadPackage:             "Package is malformed",
	models.CreationGameNameCollision:      "A game with this name already exists",
	models.CreationInternalServerError:    "Internal server error",
	models.CreationServerNotReady:         "Server is not ready yet",
	models.CreationYourClientIsObsolete:   "Your client is obsolete. Please update it",
	models.CreationUnknownError:           "Game creation failed for an unknown reason",
	models.CreationJoinError:              "Could not join the created game",
	models.CreationWrongGameSettings:      "Invalid game settings",
	models.CreationTooManyGamesByAddress:  "Too many games have been created from this address",
}

var joinMessages = map[models.JoinErrorType]string{
	models.JoinGameNotFound:        "Game not found",
	models.JoinCommonError:         "Could not join the game",
	models.JoinInvalidRole:         "The requested role is not available",
	models.JoinInternalServerError: "Internal server error",
	models.JoinForbidden:           "You are not allowed to join this game",
}

// ForCreation maps a game-creation reason code to its message. Unknown codes
// map to the generic unknown-reason message.
func ForCreation(code models.CreationResultCode) string {
	if msg, ok := creationMessages[code]; ok {
		return msg
	}
	return creationMessages[models.CreationUnknownError]
}

// ForJoin maps a join rejection reason to its message.
func ForJoin(code models.JoinErrorType) string {
	if msg, ok := joinMessages[code]; ok {
		return msg
	}
	return UnknownError
}

// ForError renders err as the single line shown to the user. Cancellation
// renders as the empty string.
func ForError(err error) string {
	if err == nil || errs.IsCancelled(err) {
		return ""
	}

	var (
		rejected *errs.SessionRejectedError
		joinErr  *errs.JoinRejectedError
		tooLarge *errs.ContentTooLargeError
		resErr   *errs.PackageResolutionError
		invErr   *errs.InvariantError
	)
	switch {
	case errors.As(err, &rejected):
		return ForCreation(rejected.Code)
	case errors.As(err, &joinErr):
		return strings.TrimSpace(ForJoin(joinErr.Code) + " " + joinErr.Message)
	case errors.As(err, &tooLarge):
		return fmt.Sprintf("%s. Maximum file size: %s", FileTooLarge, humanize.IBytes(uint64(tooLarge.Limit)))
	case errors.Is(err, errs.ErrProtocolVersionUnsupported):
		return UpgradeRequired
	case errors.Is(err, errs.ErrPasswordRequired):
		return PasswordRequired
	case errors.Is(err, errs.ErrCreatedGameNotFound):
		return CreatedGameNotFound
	case errors.As(err, &resErr):
		if resErr.Err == nil {
			return BadPackage
		}
		return BadPackage + ": " + resErr.Err.Error()
	case errors.As(err, &invErr):
		return InternalInvariant
	}
	return err.Error()
}

// Detail renders the full diagnostic text of err.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%+v", err)
}
