package debug

import (
	"sort"
	"sync"
	"time"

	"github.com/dshills/probectl/internal/integration/debug/agent"
)

// DefaultDebounceWindow is the window within which a same-PC snapshot is
// treated as a duplicate echo.
const DefaultDebounceWindow = 100 * time.Millisecond

// Scope is the visibility of a variable.
type Scope string

const (
	ScopeLocal  Scope = "local"
	ScopeGlobal Scope = "global"
)

// Variable is one variable of a processed snapshot.
type Variable struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
	Scope Scope  `json:"scope"`

	// HasChanged is true only when the previous accepted snapshot had a
	// different value for the same name.
	HasChanged bool `json:"hasChanged"`
}

// StackFrame is one callstack frame; level 0 is innermost.
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Address  string `json:"address"`
	Level    int    `json:"level"`
}

// Snapshot is the processed state captured at a halt.
type Snapshot struct {
	PC        string            `json:"pc"`
	File      string            `json:"file"`
	Line      int               `json:"line"`
	Variables []Variable        `json:"variables"`
	Registers map[string]string `json:"registers"`
	Callstack []StackFrame      `json:"callstack"`
	Timestamp time.Time         `json:"timestamp"`
}

// Outcome is the result of SnapshotProcessor.Process.
type Outcome int

const (
	// OutcomeAccepted means the snapshot replaced the current one.
	OutcomeAccepted Outcome = iota
	// OutcomeDuplicate means a same-PC snapshot arrived within the window.
	OutcomeDuplicate
	// OutcomeInactive means the processor was not started.
	OutcomeInactive
)

// String returns a string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// SnapshotProcessor turns raw halt payloads into debounced, diffed
// snapshots. It must be started before it accepts anything and is fully
// cleared by Stop.
//
// Thread Safety: SnapshotProcessor is safe for concurrent use.
type SnapshotProcessor struct {
	window time.Duration
	now    func() time.Time

	mu         sync.RWMutex
	active     bool
	current    *Snapshot
	acceptedAt time.Time
	values     map[string]string // previous value by variable name
}

// NewSnapshotProcessor creates a stopped processor. A non-positive window
// uses DefaultDebounceWindow.
func NewSnapshotProcessor(window time.Duration) *SnapshotProcessor {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &SnapshotProcessor{
		window: window,
		now:    time.Now,
	}
}

// SetClock replaces the clock used for debouncing and timestamps.
func (p *SnapshotProcessor) SetClock(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

// Start enables processing.
func (p *SnapshotProcessor) Start() {
	p.mu.Lock()
	p.active = true
	p.mu.Unlock()
}

// Stop disables processing and clears variables, registers, callstack and
// location along with the diff history.
func (p *SnapshotProcessor) Stop() {
	p.mu.Lock()
	p.active = false
	p.current = nil
	p.acceptedAt = time.Time{}
	p.values = nil
	p.mu.Unlock()
}

// Active reports whether the processor accepts snapshots.
func (p *SnapshotProcessor) Active() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// Current returns the last accepted snapshot.
func (p *SnapshotProcessor) Current() (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return Snapshot{}, false
	}
	return *p.current, true
}

// Process applies a raw snapshot. Only OutcomeAccepted returns a
// meaningful Snapshot.
func (p *SnapshotProcessor) Process(raw agent.SnapshotPayload) (Snapshot, Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return Snapshot{}, OutcomeInactive
	}

	now := p.now()
	pc := string(raw.PC)
	if p.current != nil && p.current.PC == pc && now.Sub(p.acceptedAt) < p.window {
		return Snapshot{}, OutcomeDuplicate
	}

	vars := make([]Variable, 0, len(raw.Variables))
	values := make(map[string]string, len(raw.Variables))
	for _, v := range raw.Variables {
		value := string(v.Value)
		prev, seen := p.values[v.Name]
		vars = append(vars, Variable{
			Name:       v.Name,
			Type:       v.Type,
			Value:      value,
			Scope:      normalizeScope(v.Scope),
			HasChanged: seen && prev != value,
		})
		values[v.Name] = value
	}
	sortVariables(vars)

	regs := make(map[string]string, len(raw.Registers))
	for name, v := range raw.Registers {
		regs[name] = string(v)
	}

	stack := make([]StackFrame, len(raw.Callstack))
	for i, f := range raw.Callstack {
		stack[i] = StackFrame{
			Function: f.Function,
			File:     f.File,
			Line:     f.Line,
			Address:  string(f.Address),
			Level:    f.Level,
		}
	}

	snap := &Snapshot{
		PC:        pc,
		File:      raw.File,
		Line:      raw.Line,
		Variables: vars,
		Registers: regs,
		Callstack: stack,
		Timestamp: now,
	}
	p.current = snap
	p.acceptedAt = now
	p.values = values
	return *snap, OutcomeAccepted
}

func normalizeScope(s string) Scope {
	if Scope(s) == ScopeGlobal {
		return ScopeGlobal
	}
	return ScopeLocal
}

// variableRank orders changed locals, changed globals, unchanged locals,
// then unchanged globals.
func variableRank(v Variable) int {
	rank := 0
	if !v.HasChanged {
		rank += 2
	}
	if v.Scope == ScopeGlobal {
		rank++
	}
	return rank
}

func sortVariables(vars []Variable) {
	sort.SliceStable(vars, func(i, j int) bool {
		ri, rj := variableRank(vars[i]), variableRank(vars[j])
		if ri != rj {
			return ri < rj
		}
		return vars[i].Name < vars[j].Name
	})
}
