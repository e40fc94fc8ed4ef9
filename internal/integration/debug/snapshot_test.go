package debug

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/probectl/internal/integration/debug/agent"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestProcessor() (*SnapshotProcessor, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	p := NewSnapshotProcessor(100 * time.Millisecond)
	p.SetClock(clock.Now)
	p.Start()
	return p, clock
}

func rawSnapshot(pc string, vars ...agent.VariablePayload) agent.SnapshotPayload {
	return agent.SnapshotPayload{
		PC:        agent.Address(pc),
		File:      "main.c",
		Line:      10,
		Variables: vars,
		Registers: map[string]agent.Scalar{"pc": agent.Scalar(pc)},
		Callstack: []agent.StackFramePayload{{Function: "main", File: "main.c", Line: 10, Address: agent.Address(pc)}},
	}
}

func local(name, value string) agent.VariablePayload {
	return agent.VariablePayload{Name: name, Type: "int", Value: agent.Scalar(value), Scope: "local"}
}

func global(name, value string) agent.VariablePayload {
	return agent.VariablePayload{Name: name, Type: "int", Value: agent.Scalar(value), Scope: "global"}
}

func TestSnapshotProcessor_RequiresStart(t *testing.T) {
	p := NewSnapshotProcessor(0)

	_, outcome := p.Process(rawSnapshot("0x1"))

	assert.Equal(t, OutcomeInactive, outcome)
	_, ok := p.Current()
	assert.False(t, ok)
	assert.False(t, p.Active())
}

func TestSnapshotProcessor_DebounceSamePC(t *testing.T) {
	p, clock := newTestProcessor()

	_, first := p.Process(rawSnapshot("0x08000010"))
	clock.Advance(50 * time.Millisecond)
	_, second := p.Process(rawSnapshot("0x08000010"))

	assert.Equal(t, OutcomeAccepted, first)
	assert.Equal(t, OutcomeDuplicate, second)
}

func TestSnapshotProcessor_DifferentPCWithinWindow(t *testing.T) {
	p, clock := newTestProcessor()

	_, first := p.Process(rawSnapshot("0x08000010"))
	clock.Advance(10 * time.Millisecond)
	snap, second := p.Process(rawSnapshot("0x08000014"))

	assert.Equal(t, OutcomeAccepted, first)
	assert.Equal(t, OutcomeAccepted, second)
	assert.Equal(t, "0x08000014", snap.PC)
}

func TestSnapshotProcessor_SamePCAfterWindow(t *testing.T) {
	p, clock := newTestProcessor()

	p.Process(rawSnapshot("0x08000010"))
	clock.Advance(100 * time.Millisecond)
	_, outcome := p.Process(rawSnapshot("0x08000010"))

	assert.Equal(t, OutcomeAccepted, outcome)
}

func TestSnapshotProcessor_WindowMeasuredFromLastAccepted(t *testing.T) {
	p, clock := newTestProcessor()

	p.Process(rawSnapshot("0x10"))
	for i := 0; i < 2; i++ {
		clock.Advance(40 * time.Millisecond)
		_, outcome := p.Process(rawSnapshot("0x10"))
		require.Equal(t, OutcomeDuplicate, outcome)
	}
	// 120ms after the accepted one; the dropped echoes do not extend the window.
	clock.Advance(40 * time.Millisecond)
	_, outcome := p.Process(rawSnapshot("0x10"))
	assert.Equal(t, OutcomeAccepted, outcome)
}

func TestSnapshotProcessor_VariableDiff(t *testing.T) {
	p, clock := newTestProcessor()

	s1, _ := p.Process(rawSnapshot("0x10", local("x", "1")))
	require.Len(t, s1.Variables, 1)
	assert.False(t, s1.Variables[0].HasChanged, "first-seen variables are never changed")

	clock.Advance(time.Second)
	s2, _ := p.Process(rawSnapshot("0x14", local("x", "2")))
	require.Len(t, s2.Variables, 1)
	assert.True(t, s2.Variables[0].HasChanged)

	clock.Advance(time.Second)
	s3, _ := p.Process(rawSnapshot("0x18", local("x", "2"), local("y", "5")))
	require.Len(t, s3.Variables, 2)
	for _, v := range s3.Variables {
		assert.False(t, v.HasChanged, v.Name)
	}
}

func TestSnapshotProcessor_DiffIgnoresDroppedSnapshots(t *testing.T) {
	p, clock := newTestProcessor()

	p.Process(rawSnapshot("0x10", local("x", "1")))
	clock.Advance(10 * time.Millisecond)
	_, outcome := p.Process(rawSnapshot("0x10", local("x", "9")))
	require.Equal(t, OutcomeDuplicate, outcome)

	clock.Advance(time.Second)
	snap, _ := p.Process(rawSnapshot("0x14", local("x", "1")))
	assert.False(t, snap.Variables[0].HasChanged)
}

func TestSnapshotProcessor_Ordering(t *testing.T) {
	p, clock := newTestProcessor()

	p.Process(rawSnapshot("0x10",
		local("b", "1"), local("a", "1"), global("G2", "1"), global("G1", "1"),
	))
	clock.Advance(time.Second)
	snap, _ := p.Process(rawSnapshot("0x14",
		local("b", "1"), local("a", "2"), local("c", "2"),
		global("G2", "2"), global("G1", "1"), global("G0", "3"),
		local("z", "0"),
	))

	var names []string
	for _, v := range snap.Variables {
		names = append(names, v.Name)
	}
	// changed locals, changed globals, unchanged locals, unchanged globals
	assert.Equal(t, []string{"a", "G2", "b", "c", "z", "G0", "G1"}, names)
}

func TestSnapshotProcessor_RegistersAndCallstackReplaced(t *testing.T) {
	p, clock := newTestProcessor()

	first := rawSnapshot("0x10")
	first.Registers["r7"] = "0x1"
	p.Process(first)

	clock.Advance(time.Second)
	second := rawSnapshot("0x14")
	second.Callstack = nil
	snap, _ := p.Process(second)

	assert.Equal(t, map[string]string{"pc": "0x14"}, snap.Registers)
	assert.Empty(t, snap.Callstack)
	assert.Equal(t, clock.Now(), snap.Timestamp)
}

func TestSnapshotProcessor_StopClears(t *testing.T) {
	p, clock := newTestProcessor()
	p.Process(rawSnapshot("0x10", local("x", "1")))

	p.Stop()

	_, ok := p.Current()
	assert.False(t, ok)
	_, outcome := p.Process(rawSnapshot("0x14"))
	assert.Equal(t, OutcomeInactive, outcome)

	// History is gone too: a restarted processor sees x as new.
	p.Start()
	clock.Advance(time.Second)
	snap, _ := p.Process(rawSnapshot("0x10", local("x", "2")))
	assert.False(t, snap.Variables[0].HasChanged)
}
