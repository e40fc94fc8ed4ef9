package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Outbound message types.
const (
	TypeStart            = "debug.start"
	TypeStop             = "debug.stop"
	TypeContinue         = "debug.continue"
	TypePause            = "debug.pause"
	TypeStep             = "debug.step"
	TypeBreakpointSet    = "debug.breakpoint.set"
	TypeBreakpointDelete = "debug.breakpoint.delete"
	// TypeBreakpointRemove is the older spelling of TypeBreakpointDelete.
	// Some agents still acknowledge deletes with it.
	TypeBreakpointRemove = "debug.breakpoint.remove"
)

// Inbound message types.
const (
	TypeStarted        = "debug.started"
	TypeSessionStopped = "debug.stopped"
	TypeError          = "debug.error"
	TypeSnapshot       = "debug.snapshot"
	TypeStopped        = "stopped"
	TypeContinued      = "continued"

	// TypeDeviceList is never sent with a type; Classify assigns it to bare
	// device enumeration payloads.
	TypeDeviceList = "device.list"
)

// StepKind selects the granularity of a debug.step command.
type StepKind string

const (
	StepOver StepKind = "step_over"
	StepInto StepKind = "step_into"
	StepOut  StepKind = "step_out"
)

// Stop reasons carried by the stopped event.
const (
	ReasonBreakpoint = "breakpoint"
	ReasonStep       = "step"
	ReasonPause      = "pause"
)

// Envelope is the wire form of every message.
type Envelope struct {
	Type      string          `json:"type,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Message is a decoded inbound envelope.
type Message struct {
	// Type is the envelope type, or the classified type when Inferred.
	Type string

	// Payload is the raw payload object.
	Payload json.RawMessage

	// Timestamp is the sender's timestamp; zero when absent or malformed.
	Timestamp time.Time

	// Inferred is true when Type came from Classify rather than the wire.
	Inferred bool
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return &ProtocolError{Reason: m.Type + ": empty payload"}
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return &ProtocolError{Reason: m.Type + ": bad payload", Raw: excerpt(m.Payload), Err: err}
	}
	return nil
}

// Encode builds the wire form of an outbound message.
func Encode(msgType string, payload any, ts time.Time) ([]byte, error) {
	env := Envelope{
		Type:      msgType,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
	}
	if payload == nil {
		env.Payload = json.RawMessage("{}")
	} else {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// DecodeMessage parses an inbound frame. A frame without "type" and
// without "payload" is treated as a bare payload; its Type stays empty
// until classified.
func DecodeMessage(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, &ProtocolError{Reason: "unparseable message", Raw: excerpt(data), Err: err}
	}

	msg := Message{Type: env.Type, Payload: env.Payload}
	if env.Type == "" && len(env.Payload) == 0 {
		msg.Payload = json.RawMessage(data)
	}
	if env.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, env.Timestamp); err == nil {
			msg.Timestamp = ts
		}
	}
	return msg, nil
}

// Scalar holds any JSON scalar in its textual form. Agents disagree on
// whether register and variable values are strings or numbers.
type Scalar string

// UnmarshalJSON accepts strings, numbers, booleans and null.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Scalar(str)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && (data[0] == '{' || data[0] == '[') {
		return fmt.Errorf("scalar expected, got %s", excerpt(data))
	}
	*s = Scalar(data)
	return nil
}

// Address is a program counter or code address, normalized to 0x-prefixed
// hex when the agent sends a number.
type Address string

// UnmarshalJSON accepts "0x..." strings and unsigned integers.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s Scalar
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if len(data) > 0 && data[0] != '"' && s != "" {
		n, err := strconv.ParseUint(string(s), 10, 64)
		if err != nil {
			return fmt.Errorf("address %s: %w", s, err)
		}
		*a = Address(fmt.Sprintf("0x%08x", n))
		return nil
	}
	*a = Address(s)
	return nil
}

// Location is the partial location carried by halt-related events.
// Nil fields were omitted by the sender and must not overwrite known state.
type Location struct {
	File *string  `json:"file,omitempty"`
	Line *int     `json:"line,omitempty"`
	PC   *Address `json:"pc,omitempty"`
}

// StartPayload is sent with debug.start.
type StartPayload struct {
	DeviceID        string `json:"device_id"`
	ClientSessionID string `json:"client_session_id"`
}

// SessionPayload identifies the session for stop, continue and pause.
type SessionPayload struct {
	SessionID string `json:"session_id,omitempty"`
}

// StepPayload is sent with debug.step.
type StepPayload struct {
	SessionID string   `json:"session_id,omitempty"`
	Type      StepKind `json:"type"`
}

// StartedPayload is received with debug.started.
type StartedPayload struct {
	SessionID string `json:"session_id"`
	Location
}

// StoppedPayload is received with the stopped event.
type StoppedPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
	Location
}

// ErrorPayload is received with debug.error.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// BreakpointPayload is sent with debug.breakpoint.set/delete and echoed
// back by the agent as the acknowledgement.
type BreakpointPayload struct {
	ID        string `json:"id"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Enabled   bool   `json:"enabled"`
	Condition string `json:"condition"`
	SessionID string `json:"session_id,omitempty"`
	Verified  *bool  `json:"verified,omitempty"`
	Message   string `json:"message,omitempty"`
}

// SnapshotPayload is received with debug.snapshot.
type SnapshotPayload struct {
	PC        Address             `json:"pc"`
	File      string              `json:"file"`
	Line      int                 `json:"line"`
	Variables []VariablePayload   `json:"variables"`
	Registers map[string]Scalar   `json:"registers"`
	Callstack []StackFramePayload `json:"callstack"`
}

// VariablePayload is one variable within a snapshot.
type VariablePayload struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value Scalar `json:"value"`
	Scope string `json:"scope"`
}

// StackFramePayload is one callstack frame within a snapshot.
type StackFramePayload struct {
	Function string  `json:"function"`
	File     string  `json:"file"`
	Line     int     `json:"line"`
	Address  Address `json:"address"`
	Level    int     `json:"level"`
}

// DeviceListPayload is the bare device enumeration some agents push.
type DeviceListPayload struct {
	Devices []Device `json:"devices"`
}

// Device is one probe/target pair known to the agent.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
