package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"snapshot with variables", `{"pc":"0x08000010","variables":[]}`, TypeSnapshot},
		{"snapshot with registers", `{"pc":16,"registers":{"r0":"0x1"}}`, TypeSnapshot},
		{"snapshot with callstack", `{"pc":"0x1","callstack":[]}`, TypeSnapshot},
		{"snapshot beats stopped", `{"pc":"0x1","variables":[],"reason":"step","file":"a.c","line":3}`, TypeSnapshot},
		{"pc alone is not a snapshot", `{"pc":"0x1","reason":"pause"}`, TypeStopped},
		{"stopped by reason", `{"reason":"breakpoint"}`, TypeStopped},
		{"stopped by location", `{"file":"main.c","line":12}`, TypeStopped},
		{"location with session is started", `{"file":"main.c","line":12,"session_id":"s1"}`, TypeStarted},
		{"reason beats session", `{"reason":"step","session_id":"s1"}`, TypeStopped},
		{"started", `{"session_id":"abc"}`, TypeStarted},
		{"device list", `{"devices":[{"id":"stlink-0"}]}`, TypeDeviceList},
		{"devices not an array", `{"devices":"none"}`, ""},
		{"file without line", `{"file":"main.c"}`, ""},
		{"unknown", `{"weather":"sunny"}`, ""},
		{"array", `[1,2,3]`, ""},
		{"invalid", `{"pc":`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify([]byte(tt.payload)))
		})
	}
}
