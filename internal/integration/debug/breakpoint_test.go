package debug

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakpointRegistry_AddDedupes(t *testing.T) {
	r := NewBreakpointRegistry(nil)

	bp, added := r.Add("main.c", 42, "")
	require.True(t, added)
	assert.Equal(t, "main.c:42", bp.ID)
	assert.True(t, bp.Enabled)
	assert.Equal(t, StatusPending, bp.Status.Kind)
	assert.False(t, bp.Verified)

	again, added := r.Add("main.c", 42, "x > 1")
	assert.False(t, added)
	assert.Equal(t, "", again.Condition, "existing entry must be untouched")
	assert.Equal(t, 1, r.Len())
}

func TestBreakpointRegistry_UniqueIDsUnderRandomEdits(t *testing.T) {
	r := NewBreakpointRegistry(nil)
	rng := rand.New(rand.NewSource(7))
	files := []string{"main.c", "uart.c", "isr.c"}

	for i := 0; i < 2000; i++ {
		file := files[rng.Intn(len(files))]
		line := rng.Intn(20) + 1
		switch rng.Intn(3) {
		case 0:
			r.Add(file, line, "")
		case 1:
			r.Remove(file, line)
		default:
			r.Toggle(file, line)
		}
	}

	seen := make(map[string]bool)
	for _, bp := range r.All() {
		assert.False(t, seen[bp.ID], "duplicate id %s", bp.ID)
		seen[bp.ID] = true
	}
	for _, file := range files {
		bps := r.FileBreakpoints(file)
		assert.True(t, sort.SliceIsSorted(bps, func(i, j int) bool { return bps[i].Line < bps[j].Line }))
		for _, bp := range bps {
			assert.Equal(t, file, bp.FilePath)
		}
	}
}

func TestBreakpointRegistry_Sorting(t *testing.T) {
	r := NewBreakpointRegistry(nil)
	r.Add("main.c", 30, "")
	r.Add("isr.c", 5, "")
	r.Add("main.c", 3, "")
	r.Add("main.c", 12, "")

	var lines []int
	for _, bp := range r.FileBreakpoints("main.c") {
		lines = append(lines, bp.Line)
	}
	assert.Equal(t, []int{3, 12, 30}, lines)

	var ids []string
	for _, bp := range r.All() {
		ids = append(ids, bp.ID)
	}
	assert.Equal(t, []string{"isr.c:5", "main.c:3", "main.c:12", "main.c:30"}, ids)
	assert.Empty(t, r.FileBreakpoints("none.c"))
}

func TestBreakpointRegistry_Toggle(t *testing.T) {
	r := NewBreakpointRegistry(nil)

	_, exists := r.Toggle("main.c", 7)
	assert.True(t, exists)
	_, exists = r.Toggle("main.c", 7)
	assert.False(t, exists)
	assert.Equal(t, 0, r.Len())
}

func TestBreakpointRegistry_Clear(t *testing.T) {
	r := NewBreakpointRegistry(nil)
	r.Add("a.c", 1, "")
	r.Add("a.c", 2, "")
	r.Add("b.c", 1, "")

	removed := r.ClearFile("a.c")
	assert.Len(t, removed, 2)
	assert.Equal(t, "a.c:1", removed[0].ID)
	assert.Equal(t, 1, r.Len())

	removed = r.Clear()
	assert.Len(t, removed, 1)
	assert.Equal(t, 0, r.Len())
}

func TestBreakpointRegistry_Acknowledge(t *testing.T) {
	r := NewBreakpointRegistry(nil)
	r.Add("main.c", 10, "")
	r.Add("main.c", 99, "")

	assert.True(t, r.Acknowledge("main.c:10", true, ""))
	assert.True(t, r.Acknowledge("main.c:99", false, "no code at main.c:99"))
	assert.False(t, r.Acknowledge("gone.c:1", true, ""))

	ok, _ := r.Get("main.c", 10)
	assert.Equal(t, Confirmed(), ok.Status)
	assert.True(t, ok.Verified)
	assert.Empty(t, ok.Message)

	bad, _ := r.Get("main.c", 99)
	assert.Equal(t, Rejected("no code at main.c:99"), bad.Status)
	assert.False(t, bad.Verified)
	assert.Equal(t, "no code at main.c:99", bad.Message)
}

func TestBreakpointRegistry_RejectedWithoutReason(t *testing.T) {
	assert.NotEmpty(t, Rejected("").Reason)
}

func TestBreakpointRegistry_DerivedVerification(t *testing.T) {
	r := NewBreakpointRegistry(nil)
	r.Add("main.c", 1, "") // pending
	r.Add("main.c", 2, "")
	r.Add("main.c", 3, "")
	r.Acknowledge("main.c:2", true, "")
	r.Acknowledge("main.c:3", false, "bad line")

	verified := func() []bool {
		var out []bool
		for _, bp := range r.All() {
			out = append(out, bp.Verified)
		}
		return out
	}

	tests := []struct {
		halt HaltState
		want []bool
	}{
		{HaltDetached, []bool{false, true, false}},
		{HaltHalted, []bool{true, true, false}},
		{HaltRunning, []bool{false, false, false}},
	}
	for _, tt := range tests {
		t.Run(tt.halt.String(), func(t *testing.T) {
			r.SetHaltState(tt.halt)
			assert.Equal(t, tt.want, verified())
		})
	}
}

func TestBreakpointRegistry_ForceConfirmed(t *testing.T) {
	r := NewBreakpointRegistry(nil)
	r.Add("main.c", 1, "")
	r.Add("main.c", 2, "")
	r.Acknowledge("main.c:2", false, "bad line")

	r.ForceConfirmed()
	r.SetHaltState(HaltDetached)

	for _, bp := range r.All() {
		assert.True(t, bp.Verified, bp.ID)
		assert.Equal(t, StatusConfirmed, bp.Status.Kind)
		assert.Empty(t, bp.Message)
	}
}

func TestBreakpointRegistry_ResyncMarksPending(t *testing.T) {
	r := NewBreakpointRegistry(nil)
	r.Add("main.c", 1, "")
	r.Add("main.c", 2, "")
	r.Acknowledge("main.c:1", true, "")
	r.Acknowledge("main.c:2", false, "bad")

	out := r.Resync()

	require.Len(t, out, 2)
	for _, bp := range out {
		assert.Equal(t, StatusPending, bp.Status.Kind)
	}
	for _, bp := range r.All() {
		assert.Equal(t, StatusPending, bp.Status.Kind)
	}
}

func TestBreakpointRegistry_EditsResetStatus(t *testing.T) {
	r := NewBreakpointRegistry(nil)
	r.Add("main.c", 1, "")
	r.Acknowledge("main.c:1", true, "")

	bp, ok := r.SetCondition("main.c", 1, "i == 3")
	require.True(t, ok)
	assert.Equal(t, "i == 3", bp.Condition)
	assert.Equal(t, StatusPending, bp.Status.Kind)

	bp, ok = r.SetEnabled("main.c", 1, false)
	require.True(t, ok)
	assert.False(t, bp.Enabled)

	_, ok = r.SetEnabled("main.c", 2, false)
	assert.False(t, ok)
}

func TestBreakpointRegistry_Hit(t *testing.T) {
	var intents []NavigationIntent
	r := NewBreakpointRegistry(func(i NavigationIntent) { intents = append(intents, i) })
	r.Add("main.c", 42, "")

	assert.True(t, r.Hit("main.c", 42, "hit #1"))
	assert.True(t, r.Hit("main.c", 42, "hit #2"))
	assert.False(t, r.Hit("main.c", 43, "nothing here"))

	bp, _ := r.Get("main.c", 42)
	assert.Equal(t, 2, bp.HitCount)
	assert.Equal(t, "hit #2", bp.Message)

	require.Len(t, intents, 2)
	assert.Equal(t, NavigationIntent{FilePath: "main.c", Line: 42, Column: 1, IsDebugInduced: true}, intents[0])
}
