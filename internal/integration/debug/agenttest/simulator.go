package agenttest

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Simulator plays a tiny target program so the client can be exercised
// without hardware. Execution walks the lines of one source file; stepping
// advances one line, continuing runs to the next enabled breakpoint (or
// wraps to the entry line) after RunDelay.
type Simulator struct {
	// File is the single source file of the simulated program.
	File string

	// EntryLine and LastLine bound the simulated program.
	EntryLine int
	LastLine  int

	// RunDelay is how long a continue runs before halting.
	RunDelay time.Duration

	mu          sync.Mutex
	sessionID   string
	line        int
	running     bool
	breakpoints map[int]bool
	counter     int
	runGen      int
}

// NewSimulator returns a simulator for a program of the given length.
func NewSimulator(file string, lines int) *Simulator {
	return &Simulator{
		File:        file,
		EntryLine:   1,
		LastLine:    lines,
		RunDelay:    200 * time.Millisecond,
		breakpoints: make(map[int]bool),
	}
}

// Respond implements Responder.
func (sim *Simulator) Respond(s *Server, msg Received) {
	switch msg.Type {
	case "debug.start":
		sim.mu.Lock()
		sim.sessionID = uuid.NewString()
		sim.line = sim.EntryLine
		sim.running = false
		sim.counter = 0
		id, line := sim.sessionID, sim.line
		sim.mu.Unlock()
		s.Push("debug.started", "session_id", id, "file", sim.File, "line", line, "pc", sim.pc(line))
		sim.pushSnapshot(s)

	case "debug.stop":
		sim.mu.Lock()
		sim.sessionID = ""
		sim.running = false
		sim.runGen++
		sim.mu.Unlock()
		s.Push("debug.stopped", "reason", "user")

	case "debug.step":
		sim.mu.Lock()
		if sim.sessionID == "" || sim.running {
			sim.mu.Unlock()
			s.Push("debug.error", "message", "target not halted")
			return
		}
		switch msg.Get("payload.type").String() {
		case "step_out":
			sim.line = sim.LastLine
		default:
			sim.line = sim.next(sim.line)
		}
		sim.counter++
		line := sim.line
		sim.mu.Unlock()
		s.Push("stopped", "reason", "step", "file", sim.File, "line", line, "pc", sim.pc(line))
		sim.pushSnapshot(s)

	case "debug.continue":
		sim.mu.Lock()
		if sim.sessionID == "" || sim.running {
			sim.mu.Unlock()
			return
		}
		sim.running = true
		sim.runGen++
		gen := sim.runGen
		sim.mu.Unlock()
		s.Push("continued")
		time.AfterFunc(sim.RunDelay, func() { sim.haltAtBreakpoint(s, gen) })

	case "debug.pause":
		sim.mu.Lock()
		if !sim.running {
			sim.mu.Unlock()
			return
		}
		sim.running = false
		sim.runGen++
		line := sim.line
		sim.mu.Unlock()
		s.Push("stopped", "reason", "pause", "file", sim.File, "line", line)
		sim.pushSnapshot(s)

	case "debug.breakpoint.set":
		line := int(msg.Get("payload.line").Int())
		file := msg.Get("payload.file").String()
		verified := file == sim.File && line >= sim.EntryLine && line <= sim.LastLine
		sim.mu.Lock()
		if verified {
			sim.breakpoints[line] = msg.Get("payload.enabled").Bool()
		}
		sim.mu.Unlock()
		kv := []any{"id", msg.Get("payload.id").String(), "file", file, "line", line, "verified", verified}
		if !verified {
			kv = append(kv, "message", fmt.Sprintf("no code at %s:%d", file, line))
		}
		s.Push("debug.breakpoint.set", kv...)

	case "debug.breakpoint.delete", "debug.breakpoint.remove":
		sim.mu.Lock()
		delete(sim.breakpoints, int(msg.Get("payload.line").Int()))
		sim.mu.Unlock()
		s.Push(msg.Type, "id", msg.Get("payload.id").String())
	}
}

// haltAtBreakpoint ends a continue started in generation gen.
func (sim *Simulator) haltAtBreakpoint(s *Server, gen int) {
	sim.mu.Lock()
	if !sim.running || sim.runGen != gen {
		sim.mu.Unlock()
		return
	}
	sim.running = false
	lines := make([]int, 0, len(sim.breakpoints))
	for l, enabled := range sim.breakpoints {
		if enabled {
			lines = append(lines, l)
		}
	}
	sort.Ints(lines)
	target, reason := sim.EntryLine, "pause"
	for _, l := range lines {
		if l > sim.line {
			target, reason = l, "breakpoint"
			break
		}
	}
	if reason == "pause" && len(lines) > 0 {
		target, reason = lines[0], "breakpoint"
	}
	sim.line = target
	sim.counter += 10
	sim.mu.Unlock()

	s.Push("stopped", "reason", reason, "file", sim.File, "line", target, "pc", sim.pc(target))
	sim.pushSnapshot(s)
}

func (sim *Simulator) next(line int) int {
	if line >= sim.LastLine {
		return sim.EntryLine
	}
	return line + 1
}

func (sim *Simulator) pc(line int) string {
	return fmt.Sprintf("0x%08x", 0x08000000+line*4)
}

// pushSnapshot emits a snapshot for the current halt location.
func (sim *Simulator) pushSnapshot(s *Server) {
	sim.mu.Lock()
	line, counter := sim.line, sim.counter
	sim.mu.Unlock()

	s.Push("debug.snapshot",
		"pc", sim.pc(line),
		"file", sim.File,
		"line", line,
		"variables", []map[string]any{
			{"name": "counter", "type": "uint32_t", "value": fmt.Sprint(counter), "scope": "local"},
			{"name": "line", "type": "int", "value": fmt.Sprint(line), "scope": "local"},
			{"name": "SystemCoreClock", "type": "uint32_t", "value": "72000000", "scope": "global"},
		},
		"registers", map[string]string{
			"pc": sim.pc(line),
			"sp": "0x20004ff0",
			"r0": fmt.Sprintf("0x%08x", counter),
		},
		"callstack", []map[string]any{
			{"function": "loop", "file": sim.File, "line": line, "address": sim.pc(line), "level": 0},
			{"function": "main", "file": sim.File, "line": sim.EntryLine, "address": sim.pc(sim.EntryLine), "level": 1},
		},
	)
}
