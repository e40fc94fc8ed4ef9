package agent

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestEncode(t *testing.T) {
	ts := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	data, err := Encode(TypeStep, StepPayload{SessionID: "s1", Type: StepInto}, ts)
	require.NoError(t, err)

	assert.Equal(t, TypeStep, gjson.GetBytes(data, "type").String())
	assert.Equal(t, "step_into", gjson.GetBytes(data, "payload.type").String())
	assert.Equal(t, "s1", gjson.GetBytes(data, "payload.session_id").String())
	assert.Equal(t, "2026-01-02T15:04:05Z", gjson.GetBytes(data, "timestamp").String())
}

func TestEncode_NilPayloadIsEmptyObject(t *testing.T) {
	data, err := Encode(TypeContinue, nil, time.Now())
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, gjson.GetBytes(data, "payload").Raw)
}

func TestEncode_BreakpointCarriesEmptyCondition(t *testing.T) {
	data, err := Encode(TypeBreakpointSet, BreakpointPayload{ID: "bp-1", File: "main.c", Line: 7, Enabled: true}, time.Now())
	require.NoError(t, err)

	cond := gjson.GetBytes(data, "payload.condition")
	assert.True(t, cond.Exists())
	assert.Equal(t, "", cond.String())
	assert.False(t, gjson.GetBytes(data, "payload.verified").Exists())
}

func TestDecodeMessage(t *testing.T) {
	t.Run("envelope", func(t *testing.T) {
		msg, err := DecodeMessage([]byte(`{"type":"stopped","payload":{"reason":"step"},"timestamp":"2026-01-02T15:04:05.5Z"}`))
		require.NoError(t, err)
		assert.Equal(t, TypeStopped, msg.Type)
		assert.JSONEq(t, `{"reason":"step"}`, string(msg.Payload))
		assert.Equal(t, 500*time.Millisecond, time.Duration(msg.Timestamp.Nanosecond()))
	})

	t.Run("bare payload", func(t *testing.T) {
		raw := `{"pc":"0x10","variables":[]}`
		msg, err := DecodeMessage([]byte(raw))
		require.NoError(t, err)
		assert.Empty(t, msg.Type)
		assert.JSONEq(t, raw, string(msg.Payload))
	})

	t.Run("untyped envelope keeps payload", func(t *testing.T) {
		msg, err := DecodeMessage([]byte(`{"payload":{"session_id":"x"}}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"session_id":"x"}`, string(msg.Payload))
	})

	t.Run("bad timestamp is ignored", func(t *testing.T) {
		msg, err := DecodeMessage([]byte(`{"type":"continued","timestamp":"yesterday"}`))
		require.NoError(t, err)
		assert.True(t, msg.Timestamp.IsZero())
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := DecodeMessage([]byte(`{{{`))
		var perr *ProtocolError
		assert.True(t, errors.As(err, &perr))
	})
}

func TestMessage_DecodeEmptyPayload(t *testing.T) {
	var p StoppedPayload
	err := Message{Type: TypeStopped}.Decode(&p)
	var perr *ProtocolError
	assert.True(t, errors.As(err, &perr))
}

func TestLocation_OmittedFieldsStayNil(t *testing.T) {
	var p StoppedPayload
	require.NoError(t, json.Unmarshal([]byte(`{"reason":"step","line":42}`), &p))

	assert.Equal(t, ReasonStep, p.Reason)
	require.NotNil(t, p.Line)
	assert.Equal(t, 42, *p.Line)
	assert.Nil(t, p.File)
	assert.Nil(t, p.PC)
}

func TestScalar(t *testing.T) {
	tests := []struct {
		in   string
		want Scalar
	}{
		{`"0x20001000"`, "0x20001000"},
		{`42`, "42"},
		{`-1.5`, "-1.5"},
		{`true`, "true"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var s Scalar
		require.NoError(t, json.Unmarshal([]byte(tt.in), &s), tt.in)
		assert.Equal(t, tt.want, s, tt.in)
	}

	var s Scalar
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &s))
}

func TestAddress(t *testing.T) {
	var a Address
	require.NoError(t, json.Unmarshal([]byte(`134217744`), &a))
	assert.Equal(t, Address("0x08000010"), a)

	require.NoError(t, json.Unmarshal([]byte(`"0xdeadbeef"`), &a))
	assert.Equal(t, Address("0xdeadbeef"), a)

	assert.Error(t, json.Unmarshal([]byte(`-4`), &a))
}

func TestSnapshotPayload_MixedScalars(t *testing.T) {
	raw := `{"pc":16,"file":"main.c","line":3,
		"variables":[{"name":"n","type":"int","value":7,"scope":"local"}],
		"registers":{"r0":0,"sp":"0x20004ff0"},
		"callstack":[{"function":"main","file":"main.c","line":3,"address":16,"level":0}]}`

	var p SnapshotPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	assert.Equal(t, Address("0x00000010"), p.PC)
	assert.Equal(t, Scalar("7"), p.Variables[0].Value)
	assert.Equal(t, Scalar("0"), p.Registers["r0"])
	assert.Equal(t, Address("0x00000010"), p.Callstack[0].Address)
}
