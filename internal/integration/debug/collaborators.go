package debug

import "context"

// BuildService compiles the program before a session starts.
type BuildService interface {
	// EnsureCompiled builds the target if needed and reports success.
	EnsureCompiled(ctx context.Context) bool
}

// DeviceService reports the hardware target to debug.
type DeviceService interface {
	// ConnectedDeviceID returns the connected device, if any.
	ConnectedDeviceID() (string, bool)
}

// NavigationIntent asks the editor to open a file and reveal a line.
type NavigationIntent struct {
	FilePath string `json:"filePath"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`

	// IsDebugInduced marks navigation caused by a halt rather than the user.
	IsDebugInduced bool `json:"isDebugInduced"`
}

// NavigationSink receives navigation intents.
type NavigationSink interface {
	Navigate(intent NavigationIntent)
}

// NavigationFunc adapts a function to NavigationSink.
type NavigationFunc func(NavigationIntent)

// Navigate calls f(intent).
func (f NavigationFunc) Navigate(intent NavigationIntent) { f(intent) }

// NotificationLevel is the severity of a Notification.
type NotificationLevel int

const (
	NotifyInfo NotificationLevel = iota
	NotifyWarning
	NotifyError
)

// String returns the level name.
func (l NotificationLevel) String() string {
	switch l {
	case NotifyInfo:
		return "info"
	case NotifyWarning:
		return "warning"
	case NotifyError:
		return "error"
	default:
		return "unknown"
	}
}

// Notification is a user-visible message raised by the engine.
type Notification struct {
	Level   NotificationLevel
	Message string
	Err     error

	// Persistent notifications should stay until dismissed by the user.
	// Only raised when the agent is considered down.
	Persistent bool
}

// Handlers contains observer callbacks for engine events.
//
// Callbacks run after the engine has released its lock, so they may call
// back into the engine. They run on whichever goroutine caused the event
// (the transport read loop, a timer or a command caller) and should not
// block for long.
type Handlers struct {
	// OnStateChanged is called after every session state transition.
	OnStateChanged func(old, new State)

	// OnBreakpointsChanged is called with the full sorted breakpoint list
	// whenever any breakpoint changes. Persistence layers hook in here.
	OnBreakpointsChanged func(all []Breakpoint)

	// OnSnapshot is called for every accepted halt snapshot.
	OnSnapshot func(snap Snapshot)

	// OnNotification is called for user-visible errors and warnings.
	OnNotification func(n Notification)
}
