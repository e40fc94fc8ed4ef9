package debug

import (
	"github.com/dshills/probectl/internal/integration/debug/agent"
)

// State represents the lifecycle state of the debug session.
type State int

const (
	// StateDisconnected means no session exists.
	StateDisconnected State = iota
	// StateStarting is after debug.start was requested and before the agent
	// confirmed the session.
	StateStarting
	// StatePaused is when the target is halted.
	StatePaused
	// StateRunning is when the target executes.
	StateRunning
	// StateStopping is after debug.stop was sent and before its ack.
	StateStopping
)

// States lists every state in declaration order.
var States = []State{StateDisconnected, StateStarting, StatePaused, StateRunning, StateStopping}

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateStarting:
		return "starting"
	case StatePaused:
		return "paused"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Active reports whether a backend session exists (paused or running).
func (s State) Active() bool {
	return s == StatePaused || s == StateRunning
}

func stateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = s.String()
	}
	return names
}

// Session is a snapshot of the current debug session.
type Session struct {
	// ID is the backend-assigned session id; empty until debug.started.
	ID string `json:"id,omitempty"`

	// ClientID is generated locally when the session is requested.
	ClientID string `json:"clientId,omitempty"`

	State    State  `json:"state"`
	DeviceID string `json:"deviceId,omitempty"`

	CurrentFile string `json:"currentFile,omitempty"`
	CurrentLine int    `json:"currentLine,omitempty"`
	CurrentPC   string `json:"currentPc,omitempty"`
}

// HasLocation reports whether a file and line are known.
func (s Session) HasLocation() bool {
	return s.CurrentFile != "" && s.CurrentLine > 0
}

// mergeLocation copies the fields loc carries and keeps the rest.
// It reports whether anything changed.
func (s *Session) mergeLocation(loc agent.Location) bool {
	changed := false
	if loc.File != nil && *loc.File != s.CurrentFile {
		s.CurrentFile = *loc.File
		changed = true
	}
	if loc.Line != nil && *loc.Line != s.CurrentLine {
		s.CurrentLine = *loc.Line
		changed = true
	}
	if loc.PC != nil && string(*loc.PC) != s.CurrentPC {
		s.CurrentPC = string(*loc.PC)
		changed = true
	}
	return changed
}

// Affordances reports which execution controls are currently usable.
type Affordances struct {
	CanContinue bool `json:"canContinue"`
	CanPause    bool `json:"canPause"`
	CanStepOver bool `json:"canStepOver"`
	CanStepInto bool `json:"canStepInto"`
	CanStepOut  bool `json:"canStepOut"`
}
