package playback

import (
	"errors"
	"fmt"
)

// State describes the lifecycle of the controller's bound audio resource.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateEnded   State = "ended"
	StateErrored State = "errored"
)

// ErrorKind classifies a playback failure for caller-facing handling.
type ErrorKind string

const (
	ErrorKindPermissionDenied  ErrorKind = "permission_denied"
	ErrorKindFormatUnsupported ErrorKind = "format_unsupported"
	ErrorKindGeneric           ErrorKind = "generic"
)

// Sentinel errors capability implementations wrap so failures classify
// via errors.Is.
var (
	ErrPermission        = errors.New("audio output permission denied")
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrResourceFailed marks failures a resource reported asynchronously
	// through an error event.
	ErrResourceFailed = errors.New("audio resource failed")

	// ErrClosed is returned by Play after the controller has been torn down.
	ErrClosed = errors.New("playback controller is closed")
)

// Error is a classified playback failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("playback %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify maps an underlying failure to an ErrorKind.
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrPermission):
		return ErrorKindPermissionDenied
	case errors.Is(err, ErrUnsupportedFormat):
		return ErrorKindFormatUnsupported
	default:
		return ErrorKindGeneric
	}
}

// EventKind identifies a transport event emitted by a resource.
type EventKind int

const (
	EventLoadedMetadata EventKind = iota
	EventTimeUpdate
	EventStarted
	EventPaused
	EventEnded
	EventError
)

// ErrorCode classifies an asynchronous resource error event.
type ErrorCode int

const (
	CodeGeneric ErrorCode = iota
	CodePermission
	CodeFormat
)

func kindFromCode(code ErrorCode) ErrorKind {
	switch code {
	case CodePermission:
		return ErrorKindPermissionDenied
	case CodeFormat:
		return ErrorKindFormatUnsupported
	default:
		return ErrorKindGeneric
	}
}

// Event is a transport-level notification from an audio resource.
// Duration accompanies EventLoadedMetadata, Position accompanies
// EventTimeUpdate, Code accompanies EventError. Times are seconds.
type Event struct {
	Kind     EventKind
	Duration float64
	Position float64
	Code     ErrorCode
}

// Resource is one playable piece of audio. Implementations must tolerate
// method calls after Release (returning an error or doing nothing), must
// stop emitting events once Release returns, and must make Release safe
// to call more than once.
type Resource interface {
	Play() error
	Pause() error
	Seek(seconds float64) error
	Release()
}

// Capability constructs audio resources. The onEvent handler is bound to
// the created resource for its whole life; implementations may invoke it
// synchronously from inside Create, Play or Pause.
type Capability interface {
	Create(locator string, onEvent func(Event)) (Resource, error)
}

// Snapshot is the externally observable playback state. Position and
// Duration are seconds; Duration is 0 while unknown. Err is non-nil only
// in StateErrored.
type Snapshot struct {
	State    State
	Locator  string
	Position float64
	Duration float64
	Err      *Error
}

// Observer receives a snapshot copy on every observable change, in
// transition order. It runs under the controller's internal lock and must
// not call back into the controller.
type Observer func(Snapshot)
