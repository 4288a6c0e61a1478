// internal/errs/errs.go
package errs

import (
	"context"
	"errors"
	"fmt"

	"github.com/jason-s-yu/sionline/internal/models"
)

var (
	// ErrCancelled marks an operation unwound by its cancellation token. It is
	// never shown to the user.
	ErrCancelled = errors.New("operation cancelled")

	// ErrProtocolVersionUnsupported is returned before any network call when a
	// game requires a newer client.
	ErrProtocolVersionUnsupported = errors.New("client protocol version unsupported")

	// ErrPasswordRequired is returned when joining a protected game without a password.
	ErrPasswordRequired = errors.New("password required")

	// ErrRandomPackage is returned when a random package reaches session creation
	// without being resolved to a library entry.
	ErrRandomPackage = &PackageResolutionError{Reason: "random package must be resolved to a library entry"}

	// ErrCreatedGameNotFound is returned by the legacy connector when the
	// server does not know the game id.
	ErrCreatedGameNotFound = errors.New("created game not found")

	// ErrSuperseded is returned by a resync whose results were discarded because
	// a newer resync started.
	ErrSuperseded = errors.New("resync superseded")
)

// TransientNetworkError wraps a failed network round-trip. It is only retried
// through a reconnect-driven resync.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransientNetworkError) Unwrap() error { return e.Err }

// ContentTooLargeError is returned when a blob exceeds its upload limit.
type ContentTooLargeError struct {
	Size  int64
	Limit int64
}

func (e *ContentTooLargeError) Error() string {
	return fmt.Sprintf("content too large: %d bytes exceeds limit of %d bytes", e.Size, e.Limit)
}

// PackageResolutionError is returned when the package of a new game cannot be resolved.
type PackageResolutionError struct {
	Reason string
	Err    error
}

func (e *PackageResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("package resolution failed: %s: %v", e.Reason, e.Err)
	}
	return "package resolution failed: " + e.Reason
}

func (e *PackageResolutionError) Unwrap() error { return e.Err }

// SessionRejectedError carries the game server's refusal to create a game.
type SessionRejectedError struct {
	Code models.CreationResultCode
}

func (e *SessionRejectedError) Error() string {
	return fmt.Sprintf("session rejected by server (code %d)", e.Code)
}

// JoinRejectedError carries the session host's refusal of a join.
type JoinRejectedError struct {
	Code    models.JoinErrorType
	Message string
}

func (e *JoinRejectedError) Error() string {
	return fmt.Sprintf("join rejected by host (code %d): %s", e.Code, e.Message)
}

// InvariantError is fatal to the current operation and never retried.
type InvariantError struct {
	What string
}

func (e *InvariantError) Error() string { return "invariant violated: " + e.What }

// FromContext normalizes context cancellation to ErrCancelled and leaves
// every other error untouched.
func FromContext(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) && !errors.Is(err, ErrCancelled) {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return err
}

// IsCancelled reports whether err is a cancellation rather than a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Network wraps err as a TransientNetworkError unless it is a cancellation.
func Network(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsCancelled(err) {
		return FromContext(err)
	}
	var tne *TransientNetworkError
	if errors.As(err, &tne) {
		return err
	}
	return &TransientNetworkError{Op: op, Err: err}
}
