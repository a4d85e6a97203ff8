package session

import (
	"errors"
	"fmt"

	"github.com/MrWong99/pushtalk/pkg/ptt/correlator"
	"github.com/MrWong99/pushtalk/pkg/ptt/transport"
)

var (
	// ErrTimeout is wrapped by command errors when no reply arrived in time.
	// The session stays usable, except during logon.
	ErrTimeout = correlator.ErrTimeout

	// ErrSessionClosed is returned by every operation once the session is
	// closing or closed, and delivered to commands still waiting at that time.
	ErrSessionClosed = errors.New("session: closed")

	// ErrStreamBusy is returned by StartTalking while an outgoing stream
	// already exists or is being opened.
	ErrStreamBusy = errors.New("session: outgoing stream busy")

	// ErrInvalidState is matched by [*StateError].
	ErrInvalidState = errors.New("session: invalid state")

	// ErrNotTalking is returned by StopTalking without an outgoing stream.
	ErrNotTalking = errors.New("session: not talking")
)

// StateError reports an operation attempted in a state that does not allow it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("session: %s: not allowed while %s", e.Op, e.State)
}

// Is matches [ErrInvalidState].
func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

// AuthError is a rejected logon. It is always fatal.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "session: logon rejected"
	}
	return "session: logon rejected: " + e.Message
}

// CommandError is a reply with success=false to a command other than logon.
type CommandError struct {
	Command string
	Seq     uint32
	Message string
}

func (e *CommandError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Sprintf("session: %s seq %d failed: %s", e.Command, e.Seq, msg)
}

// IsFatal reports whether err means the session is closed. Transport
// failures and rejected logons are fatal; command timeouts, rejected commands
// and stream errors are not.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionClosed) {
		return true
	}
	var terr *transport.Error
	if errors.As(err, &terr) {
		return true
	}
	var aerr *AuthError
	return errors.As(err, &aerr)
}
