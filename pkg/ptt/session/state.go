package session

import (
	"fmt"
	"slices"
)

// State is the lifecycle state of a [Session].
type State int32

const (
	// Disconnected is the initial state; no transport exists yet.
	Disconnected State = iota

	// Connecting means the transport is being dialled.
	Connecting

	// Authenticating means the logon command is outstanding.
	Authenticating

	// LoggedOn is the idle steady state: no outgoing stream.
	LoggedOn

	// Active means this session owns the outgoing stream. Inbound streams
	// may exist in both LoggedOn and Active.
	Active

	// Closing means shutdown is in progress.
	Closing

	// Closed is terminal.
	Closed
)

var stateNames = [...]string{
	Disconnected:   "disconnected",
	Connecting:     "connecting",
	Authenticating: "authenticating",
	LoggedOn:       "logged_on",
	Active:         "active",
	Closing:        "closing",
	Closed:         "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// transitions lists every legal edge. Fatal failures in any state go
// through Closing.
var transitions = map[State][]State{
	Disconnected:   {Connecting, Closing},
	Connecting:     {Authenticating, Closing},
	Authenticating: {LoggedOn, Closing},
	LoggedOn:       {Active, Closing},
	Active:         {LoggedOn, Closing},
	Closing:        {Closed},
	Closed:         nil,
}

// CanTransition reports whether to is reachable from s in one step.
func (s State) CanTransition(to State) bool {
	return slices.Contains(transitions[s], to)
}

// LoggedIn reports whether commands other than logon may be issued.
func (s State) LoggedIn() bool { return s == LoggedOn || s == Active }

// Ending reports whether the session is shutting down or gone.
func (s State) Ending() bool { return s == Closing || s == Closed }
