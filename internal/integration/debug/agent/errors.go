package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors for the agent package.
var (
	// ErrNotConnected is returned by Transmit while the link is down.
	ErrNotConnected = errors.New("agent not connected")

	// ErrClosed is returned when operations are attempted on a closed client.
	ErrClosed = errors.New("agent client is closed")

	// ErrConnectTimeout is returned when the agent did not accept the
	// connection in time.
	ErrConnectTimeout = errors.New("agent connect timed out")

	// ErrGaveUp is reported once every reconnect attempt has failed.
	// It usually means the remote agent is down rather than a network blip.
	ErrGaveUp = errors.New("remote debug agent unreachable")
)

// TransportError describes a dial or write failure.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("agent %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError describes an inbound message that could not be used.
type ProtocolError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return "protocol: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// maxRawLen bounds the message excerpt kept in a ProtocolError.
const maxRawLen = 256

func excerpt(data []byte) string {
	if len(data) > maxRawLen {
		return string(data[:maxRawLen]) + "..."
	}
	return string(data)
}
