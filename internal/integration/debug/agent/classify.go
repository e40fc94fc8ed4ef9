package agent

import (
	"github.com/tidwall/gjson"
)

// Classify infers the message type of an untyped payload from its shape.
//
// Shapes are tested in a fixed priority order, first match wins:
//
//  1. snapshot:    "pc" plus any of "variables", "registers", "callstack"
//  2. stopped:     "reason", or "file" and "line" without "session_id"
//  3. started:     "session_id"
//  4. device list: "devices" array
//
// Anything else returns "" and is ignored by the dispatcher. Shape inference
// is fragile by nature; agents that always set "type" never reach this.
func Classify(payload []byte) string {
	if !gjson.ValidBytes(payload) {
		return ""
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return ""
	}
	has := func(key string) bool { return root.Get(key).Exists() }

	switch {
	case has("pc") && (has("variables") || has("registers") || has("callstack")):
		return TypeSnapshot
	case has("reason") || (has("file") && has("line") && !has("session_id")):
		return TypeStopped
	case has("session_id"):
		return TypeStarted
	case root.Get("devices").IsArray():
		return TypeDeviceList
	}
	return ""
}
