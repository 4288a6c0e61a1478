// internal/session/state.go
package session

// State is the phase of one session-establishment attempt.
type State int

const (
	Idle State = iota
	ResolvingPackage
	UploadingContent
	ResolvingParticipantAssets
	RequestingSession
	SelectingTransport
	JoiningSession
	Ready
)

func (s State) String() string {
	switch s {
	case ResolvingPackage:
		return "resolving_package"
	case UploadingContent:
		return "uploading_content"
	case ResolvingParticipantAssets:
		return "resolving_participant_assets"
	case RequestingSession:
		return "requesting_session"
	case SelectingTransport:
		return "selecting_transport"
	case JoiningSession:
		return "joining_session"
	case Ready:
		return "ready"
	default:
		return "idle"
	}
}
