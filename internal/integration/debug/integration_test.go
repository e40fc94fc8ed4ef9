package debug

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/probectl/internal/integration/debug/agent"
	"github.com/dshills/probectl/internal/integration/debug/agenttest"
	"github.com/dshills/probectl/internal/metrics"
)

func TestEngine_AgainstSimulator(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping websocket round trip in short mode")
	}

	sim := agenttest.NewSimulator("blink.c", 12)
	sim.RunDelay = 20 * time.Millisecond
	srv := agenttest.New(sim.Respond)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	m := metrics.New()
	client := agent.NewClient(agent.Config{
		URL:            "ws" + strings.TrimPrefix(ts.URL, "http"),
		ConnectTimeout: time.Second,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		MaxAttempts:    3,
		Metrics:        m,
	})
	defer client.Close()

	rec := &recorder{}
	e := NewEngine(client, Config{
		DeviceID:   "sim-0",
		Navigation: rec,
		Handlers:   rec.handlers(),
		Metrics:    m,
	})
	defer e.Shutdown()

	wait := func(msg string, cond func() bool) {
		t.Helper()
		require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
	}

	require.True(t, e.Start(context.Background()).Success)
	wait("session paused at entry", func() bool { return e.State() == StatePaused })
	assert.Equal(t, "blink.c", e.Session().CurrentFile)
	assert.NotEmpty(t, e.Session().ID)

	require.True(t, e.SetBreakpoint("blink.c", 5, "").Success)
	require.True(t, e.SetBreakpoint("blink.c", 40, "").Success)
	wait("breakpoints acknowledged", func() bool {
		return !e.BreakpointInFlight("blink.c:5") && !e.BreakpointInFlight("blink.c:40")
	})
	good, _ := e.Breakpoints().Get("blink.c", 5)
	bad, _ := e.Breakpoints().Get("blink.c", 40)
	assert.Equal(t, StatusConfirmed, good.Status.Kind)
	assert.Equal(t, StatusRejected, bad.Status.Kind)
	assert.Contains(t, bad.Message, "no code")

	require.True(t, e.Continue().Success)
	wait("halted at breakpoint", func() bool {
		s := e.Session()
		return s.State == StatePaused && s.CurrentLine == 5
	})
	hit, _ := e.Breakpoints().Get("blink.c", 5)
	assert.Equal(t, 1, hit.HitCount)

	require.True(t, e.StepOver().Success)
	wait("stepped to next line", func() bool {
		return e.Session().CurrentLine == 6 && e.CanStepOver()
	})
	wait("snapshot for new line", func() bool {
		snap, ok := e.Snapshots().Current()
		return ok && snap.Line == 6
	})

	require.True(t, e.Stop().Success)
	wait("session stopped", func() bool { return e.State() == StateDisconnected })
	assert.True(t, client.Connected(), "stopping a session keeps the agent link")
}
