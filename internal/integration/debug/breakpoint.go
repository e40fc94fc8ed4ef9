package debug

import (
	"fmt"
	"sort"
	"sync"
)

// StatusKind is the backend verification state of a breakpoint.
type StatusKind int

const (
	// StatusPending means the agent has not acknowledged the breakpoint.
	StatusPending StatusKind = iota
	// StatusConfirmed means the agent set it at a valid address.
	StatusConfirmed
	// StatusRejected means the agent refused it.
	StatusRejected
)

// String returns a string representation of the status kind.
func (k StatusKind) String() string {
	switch k {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k StatusKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Status is Pending, Confirmed or Rejected(reason). Only a rejected status
// carries a reason.
type Status struct {
	Kind   StatusKind `json:"kind"`
	Reason string     `json:"reason,omitempty"`
}

// Pending returns the pending status.
func Pending() Status { return Status{Kind: StatusPending} }

// Confirmed returns the confirmed status.
func Confirmed() Status { return Status{Kind: StatusConfirmed} }

// Rejected returns a rejected status with the agent's reason.
func Rejected(reason string) Status {
	if reason == "" {
		reason = "rejected by debug agent"
	}
	return Status{Kind: StatusRejected, Reason: reason}
}

// HaltState is the registry's view of target execution, used to derive
// rendered verification.
type HaltState int

const (
	// HaltDetached means no session is active.
	HaltDetached HaltState = iota
	// HaltHalted means the target is paused.
	HaltHalted
	// HaltRunning means the target executes.
	HaltRunning
)

// String returns a string representation of the halt state.
func (h HaltState) String() string {
	switch h {
	case HaltDetached:
		return "detached"
	case HaltHalted:
		return "halted"
	case HaltRunning:
		return "running"
	default:
		return "unknown"
	}
}

// BreakpointID returns the id of the breakpoint at file:line.
func BreakpointID(file string, line int) string {
	return fmt.Sprintf("%s:%d", file, line)
}

// Breakpoint is a rendered copy of a registry entry.
type Breakpoint struct {
	ID        string `json:"id"`
	FilePath  string `json:"filePath"`
	Line      int    `json:"line"`
	Enabled   bool   `json:"enabled"`
	Condition string `json:"condition,omitempty"`
	HitCount  int    `json:"hitCount"`
	Status    Status `json:"status"`

	// Verified and Message are derived. A rejected breakpoint is never
	// verified and its Message is the reason. Otherwise Verified is true
	// while halted, false while running, and follows Status when no
	// session is active. Message is then the last hit message.
	Verified bool   `json:"verified"`
	Message  string `json:"message,omitempty"`
}

type entry struct {
	id        string
	file      string
	line      int
	enabled   bool
	condition string
	hitCount  int
	hitMsg    string
	status    Status
}

// BreakpointRegistry is the source of truth for breakpoint intent and
// backend verification status. Local edits and backend acks go through
// the same methods.
//
// The registry never talks to the agent itself; the Engine sends the
// requests that Add, Remove and Resync call for.
//
// Thread Safety: BreakpointRegistry is safe for concurrent use.
type BreakpointRegistry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	halt    HaltState
	onHit   func(NavigationIntent)
}

// NewBreakpointRegistry creates an empty registry. onHit, if non-nil,
// receives a navigation intent for every breakpoint hit.
func NewBreakpointRegistry(onHit func(NavigationIntent)) *BreakpointRegistry {
	return &BreakpointRegistry{
		entries: make(map[string]*entry),
		onHit:   onHit,
	}
}

// render derives the visible state of e. Must be called with mu held.
func (r *BreakpointRegistry) render(e *entry) Breakpoint {
	bp := Breakpoint{
		ID:        e.id,
		FilePath:  e.file,
		Line:      e.line,
		Enabled:   e.enabled,
		Condition: e.condition,
		HitCount:  e.hitCount,
		Status:    e.status,
		Message:   e.hitMsg,
	}
	switch {
	case e.status.Kind == StatusRejected:
		bp.Verified = false
		bp.Message = e.status.Reason
	case r.halt == HaltHalted:
		bp.Verified = true
	case r.halt == HaltRunning:
		bp.Verified = false
	default:
		bp.Verified = e.status.Kind == StatusConfirmed
	}
	return bp
}

// Add stores a new pending breakpoint. It reports false and returns the
// existing entry when one is already at file:line.
func (r *BreakpointRegistry) Add(file string, line int, condition string) (Breakpoint, bool) {
	id := BreakpointID(file, line)

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		return r.render(e), false
	}
	e := &entry{
		id:        id,
		file:      file,
		line:      line,
		enabled:   true,
		condition: condition,
		status:    Pending(),
	}
	r.entries[id] = e
	return r.render(e), true
}

// Remove deletes the breakpoint at file:line.
func (r *BreakpointRegistry) Remove(file string, line int) (Breakpoint, bool) {
	id := BreakpointID(file, line)

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Breakpoint{}, false
	}
	delete(r.entries, id)
	return r.render(e), true
}

// Toggle removes the breakpoint at file:line if present and adds it
// otherwise. It reports whether the breakpoint now exists.
func (r *BreakpointRegistry) Toggle(file string, line int) (Breakpoint, bool) {
	if bp, ok := r.Remove(file, line); ok {
		return bp, false
	}
	bp, _ := r.Add(file, line, "")
	return bp, true
}

// Clear removes every breakpoint and returns what was removed.
func (r *BreakpointRegistry) Clear() []Breakpoint {
	return r.removeWhere(func(*entry) bool { return true })
}

// ClearFile removes every breakpoint in file and returns what was removed.
func (r *BreakpointRegistry) ClearFile(file string) []Breakpoint {
	return r.removeWhere(func(e *entry) bool { return e.file == file })
}

func (r *BreakpointRegistry) removeWhere(match func(*entry) bool) []Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Breakpoint
	for id, e := range r.entries {
		if match(e) {
			removed = append(removed, r.render(e))
			delete(r.entries, id)
		}
	}
	sortBreakpoints(removed)
	return removed
}

// Get returns the breakpoint at file:line.
func (r *BreakpointRegistry) Get(file string, line int) (Breakpoint, bool) {
	return r.Lookup(BreakpointID(file, line))
}

// Lookup returns the breakpoint with the given id.
func (r *BreakpointRegistry) Lookup(id string) (Breakpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Breakpoint{}, false
	}
	return r.render(e), true
}

// Len returns the number of breakpoints.
func (r *BreakpointRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// FileBreakpoints returns the breakpoints in file sorted by line.
func (r *BreakpointRegistry) FileBreakpoints(file string) []Breakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Breakpoint
	for _, e := range r.entries {
		if e.file == file {
			out = append(out, r.render(e))
		}
	}
	sortBreakpoints(out)
	return out
}

// All returns every breakpoint sorted by file, then line.
func (r *BreakpointRegistry) All() []Breakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Breakpoint, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, r.render(e))
	}
	sortBreakpoints(out)
	return out
}

// Resync marks every breakpoint pending again and returns all of them so
// the caller can re-send each one to a new session.
func (r *BreakpointRegistry) Resync() []Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Breakpoint, 0, len(r.entries))
	for _, e := range r.entries {
		e.status = Pending()
		out = append(out, r.render(e))
	}
	sortBreakpoints(out)
	return out
}

// Acknowledge applies a backend verification result. It reports false if
// the breakpoint was removed in the meantime.
func (r *BreakpointRegistry) Acknowledge(id string, verified bool, message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}
	if verified {
		e.status = Confirmed()
	} else {
		e.status = Rejected(message)
	}
	return true
}

// SetEnabled changes whether the breakpoint at file:line is enabled.
func (r *BreakpointRegistry) SetEnabled(file string, line int, enabled bool) (Breakpoint, bool) {
	return r.update(file, line, func(e *entry) { e.enabled = enabled })
}

// SetCondition changes the condition of the breakpoint at file:line.
func (r *BreakpointRegistry) SetCondition(file string, line int, condition string) (Breakpoint, bool) {
	return r.update(file, line, func(e *entry) { e.condition = condition })
}

func (r *BreakpointRegistry) update(file string, line int, fn func(*entry)) (Breakpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[BreakpointID(file, line)]
	if !ok {
		return Breakpoint{}, false
	}
	fn(e)
	e.status = Pending()
	return r.render(e), true
}

// Hit records a halt at file:line, increments the hit count, stores
// message and emits a navigation intent. It reports false when no
// breakpoint exists there; no intent is emitted in that case.
func (r *BreakpointRegistry) Hit(file string, line int, message string) bool {
	r.mu.Lock()
	e, ok := r.entries[BreakpointID(file, line)]
	if ok {
		e.hitCount++
		e.hitMsg = message
	}
	onHit := r.onHit
	r.mu.Unlock()

	if ok && onHit != nil {
		onHit(NavigationIntent{FilePath: file, Line: line, Column: 1, IsDebugInduced: true})
	}
	return ok
}

// ForceConfirmed marks every breakpoint confirmed. Used when the session
// is torn down by a transport loss so rendering reverts to a stable state.
func (r *BreakpointRegistry) ForceConfirmed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.status = Confirmed()
	}
}

// SetHaltState records whether the target is halted, running or detached.
func (r *BreakpointRegistry) SetHaltState(h HaltState) {
	r.mu.Lock()
	r.halt = h
	r.mu.Unlock()
}

// HaltState returns the recorded halt state.
func (r *BreakpointRegistry) HaltState() HaltState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.halt
}

// BreakpointView is a read-only handle on a BreakpointRegistry.
type BreakpointView struct {
	r *BreakpointRegistry
}

// Get returns the breakpoint at file:line.
func (v BreakpointView) Get(file string, line int) (Breakpoint, bool) { return v.r.Get(file, line) }

// Lookup returns the breakpoint with the given id.
func (v BreakpointView) Lookup(id string) (Breakpoint, bool) { return v.r.Lookup(id) }

// Len returns the number of breakpoints.
func (v BreakpointView) Len() int { return v.r.Len() }

// FileBreakpoints returns the breakpoints in file sorted by line.
func (v BreakpointView) FileBreakpoints(file string) []Breakpoint { return v.r.FileBreakpoints(file) }

// All returns every breakpoint sorted by file, then line.
func (v BreakpointView) All() []Breakpoint { return v.r.All() }

// HaltState returns the recorded halt state.
func (v BreakpointView) HaltState() HaltState { return v.r.HaltState() }

func sortBreakpoints(bps []Breakpoint) {
	sort.Slice(bps, func(i, j int) bool {
		if bps[i].FilePath != bps[j].FilePath {
			return bps[i].FilePath < bps[j].FilePath
		}
		return bps[i].Line < bps[j].Line
	})
}
