// Package fault defines the error taxonomy shared by the capture orchestration
// packages. Every external call site converts its underlying failure into a
// *Error carrying one Kind, so nothing reaches the command surface unclassified.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// KindUnknown is reported for errors that were never classified.
	KindUnknown Kind = iota
	// NotFound indicates no capture executable exists at any known location.
	NotFound
	// AlreadyRunning indicates a capture process is already running.
	AlreadyRunning
	// NotRunning indicates there is no tracked capture process to stop.
	NotRunning
	// SpawnFailed indicates the executable exists but could not be launched.
	SpawnFailed
	// ConnectFailed indicates the control connection could not be opened.
	ConnectFailed
	// NotConnected indicates an RPC was attempted without a session.
	NotConnected
	// RPCFailed covers transport errors, timeouts and rejected or malformed responses.
	RPCFailed
	// NoneFound indicates the artifact locator found no matching file.
	NoneFound
	// UploadFailed indicates the upload sink did not confirm the upload.
	UploadFailed
	// AuthFailed indicates no valid credential could be obtained.
	AuthFailed
	// InvalidInput indicates a command argument was rejected before any side effect.
	InvalidInput
)

// String returns a stable, human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case AlreadyRunning:
		return "already_running"
	case NotRunning:
		return "not_running"
	case SpawnFailed:
		return "spawn_failed"
	case ConnectFailed:
		return "connect_failed"
	case NotConnected:
		return "not_connected"
	case RPCFailed:
		return "rpc_failed"
	case NoneFound:
		return "none_found"
	case UploadFailed:
		return "upload_failed"
	case AuthFailed:
		return "auth_failed"
	case InvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the operation that failed
// (e.g. "obsws.call SaveReplayBuffer"); Err is the underlying cause, if any.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf returns a classified error whose cause is a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Cause returns the innermost message worth showing to a user: the cause of
// the outermost *Error when present, otherwise err itself.
func Cause(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Err != nil {
		return fe.Err.Error()
	}
	return err.Error()
}
