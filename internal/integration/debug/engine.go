package debug

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dshills/probectl/internal/integration/debug/agent"
	"github.com/dshills/probectl/internal/logging"
	"github.com/dshills/probectl/internal/metrics"
)

// Transport is the subset of *agent.Client the engine drives.
type Transport interface {
	Connect(ctx context.Context) error
	Connected() bool
	Transmit(msgType string, payload any) error
	On(msgType string, h agent.Handler)
	SetHooks(h agent.Hooks)
}

// Config configures an Engine.
type Config struct {
	// StartTimeout bounds the wait for debug.started. Default: 30 seconds
	StartTimeout time.Duration

	// CommandTimeout bounds the wait for the event that completes an
	// in-flight command. Default: 30 seconds
	CommandTimeout time.Duration

	// DebounceWindow is passed to the snapshot processor. Default: 100ms
	DebounceWindow time.Duration

	// DeviceID is used when Devices is nil or reports no device.
	DeviceID string

	Build      BuildService
	Devices    DeviceService
	Navigation NavigationSink
	Handlers   Handlers

	// Logger receives engine diagnostics. Default: discard
	Logger *slog.Logger

	// Metrics receives engine counters. Optional.
	Metrics *metrics.Metrics
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		StartTimeout:   30 * time.Second,
		CommandTimeout: 30 * time.Second,
		DebounceWindow: DefaultDebounceWindow,
	}
}

// Engine is the debug session context: it owns the session state machine,
// the command guards, the breakpoint registry and the snapshot processor
// for one transport. Construct one per process or per test.
//
// Thread Safety: Engine is safe for concurrent use. A single mutex guards
// all session state; inbound messages, timers and commands each hold it
// for the whole check-and-set. Observer callbacks run after it is released.
type Engine struct {
	transport Transport
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics

	breakpoints *BreakpointRegistry
	snapshots   *SnapshotProcessor

	mu       sync.Mutex
	session  Session
	inflight map[Op]bool
	bpSet    map[string]bool // set requests awaiting ack, by breakpoint id
	bpDelete map[string]bool // delete requests awaiting ack, by breakpoint id
	startGen uint64
	timers   map[string]*deadline
	timerSeq uint64 // engine-wide, so a disarmed key never reuses a gen

	// events queued under mu and delivered by unlock.
	events []func()
}

type deadline struct {
	timer *time.Timer
	gen   uint64
}

// NewEngine creates an engine and registers its handlers and hooks on t.
// The engine replaces any hooks previously set on t.
func NewEngine(t Transport, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = def.StartTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = def.DebounceWindow
	}

	e := &Engine{
		transport: t,
		cfg:       cfg,
		logger:    logging.Component(cfg.Logger, "debug"),
		metrics:   cfg.Metrics,
		snapshots: NewSnapshotProcessor(cfg.DebounceWindow),
		inflight:  make(map[Op]bool),
		bpSet:     make(map[string]bool),
		bpDelete:  make(map[string]bool),
		timers:    make(map[string]*deadline),
	}
	// Hits are delivered while mu is held, so the intent is queued.
	e.breakpoints = NewBreakpointRegistry(func(intent NavigationIntent) {
		e.queueNavigate(intent)
	})
	e.metrics.SessionState(StateDisconnected.String(), stateNames())

	t.On(agent.TypeStarted, e.handleStarted)
	t.On(agent.TypeSessionStopped, e.handleSessionStopped)
	t.On(agent.TypeError, e.handleError)
	t.On(agent.TypeStopped, e.handleStopped)
	t.On(agent.TypeContinued, e.handleContinued)
	t.On(agent.TypeSnapshot, e.handleSnapshot)
	t.On(agent.TypeBreakpointSet, e.handleBreakpointAck)
	t.On(agent.TypeBreakpointDelete, e.handleBreakpointDeleted)
	t.On(agent.TypeBreakpointRemove, e.handleBreakpointDeleted)
	t.On(agent.TypeDeviceList, e.handleDeviceList)
	t.SetHooks(agent.Hooks{
		OnDisconnected: e.handleTransportLoss,
		OnReconnected:  e.handleReconnected,
		OnGiveUp:       e.handleGiveUp,
	})
	return e
}

// Breakpoints returns a read-only view of the registry. Breakpoints are
// changed through the engine so requests reach the agent and hits are
// delivered under its lock.
func (e *Engine) Breakpoints() BreakpointView {
	return BreakpointView{r: e.breakpoints}
}

// Snapshots returns the snapshot processor.
func (e *Engine) Snapshots() *SnapshotProcessor {
	return e.snapshots
}

// Session returns a copy of the current session.
func (e *Engine) Session() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// State returns the current session state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.State
}

// Affordances reports which execution controls are usable now.
func (e *Engine) Affordances() Affordances {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.affordances()
}

func (e *Engine) affordances() Affordances {
	canExec := e.session.State == StatePaused && !e.execInFlight()
	return Affordances{
		CanContinue: canExec,
		CanPause:    e.session.State == StateRunning && !e.inflight[OpPause],
		CanStepOver: canExec,
		CanStepInto: canExec,
		CanStepOut:  canExec,
	}
}

// CanContinue reports whether Continue would be accepted.
func (e *Engine) CanContinue() bool { return e.Affordances().CanContinue }

// CanPause reports whether Pause would be accepted.
func (e *Engine) CanPause() bool { return e.Affordances().CanPause }

// CanStepOver reports whether StepOver would be accepted.
func (e *Engine) CanStepOver() bool { return e.Affordances().CanStepOver }

// CanStepInto reports whether StepInto would be accepted.
func (e *Engine) CanStepInto() bool { return e.Affordances().CanStepInto }

// CanStepOut reports whether StepOut would be accepted.
func (e *Engine) CanStepOut() bool { return e.Affordances().CanStepOut }

// InFlight reports whether op is awaiting its completing event.
func (e *Engine) InFlight(op Op) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight[op]
}

// BreakpointInFlight reports whether a set or delete request for the
// breakpoint id awaits an ack.
func (e *Engine) BreakpointInFlight(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bpSet[id] || e.bpDelete[id]
}

// Shutdown stops all timers. The engine must not be used afterwards.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for key := range e.timers {
		e.disarm(key)
	}
	e.mu.Unlock()
}

func (e *Engine) execInFlight() bool {
	return e.inflight[OpContinue] || e.inflight[OpStepOver] || e.inflight[OpStepInto] || e.inflight[OpStepOut]
}

// lock and unlock bracket every state mutation. unlock delivers the
// observer events queued while the lock was held.
func (e *Engine) lock() {
	e.mu.Lock()
}

func (e *Engine) unlock() {
	events := e.events
	e.events = nil
	e.mu.Unlock()
	for _, fn := range events {
		fn()
	}
}

func (e *Engine) queue(fn func()) {
	e.events = append(e.events, fn)
}

// setState transitions the session and queues the change notification.
// Must be called with mu held.
func (e *Engine) setState(s State) {
	old := e.session.State
	if old == s {
		return
	}
	e.session.State = s
	e.logger.Debug("session state changed", "from", old, "to", s)
	e.metrics.SessionState(s.String(), stateNames())
	if h := e.cfg.Handlers.OnStateChanged; h != nil {
		e.queue(func() { h(old, s) })
	}
}

func (e *Engine) queueBreakpointsChanged() {
	if h := e.cfg.Handlers.OnBreakpointsChanged; h != nil {
		all := e.breakpoints.All()
		e.queue(func() { h(all) })
	}
}

func (e *Engine) queueNavigate(intent NavigationIntent) {
	if nav := e.cfg.Navigation; nav != nil {
		e.queue(func() { nav.Navigate(intent) })
	}
}

func (e *Engine) queueNotify(n Notification) {
	switch n.Level {
	case NotifyError:
		e.logger.Error(n.Message, "error", n.Err, "persistent", n.Persistent)
	case NotifyWarning:
		e.logger.Warn(n.Message, "error", n.Err)
	default:
		e.logger.Info(n.Message)
	}
	if h := e.cfg.Handlers.OnNotification; h != nil {
		e.queue(func() { h(n) })
	}
}

// arm starts or restarts the timer for key. fire runs with mu held unless
// the timer was disarmed or re-armed in the meantime.
func (e *Engine) arm(key string, d time.Duration, fire func()) {
	d0, ok := e.timers[key]
	if !ok {
		d0 = &deadline{}
		e.timers[key] = d0
	} else if d0.timer != nil {
		d0.timer.Stop()
	}
	e.timerSeq++
	gen := e.timerSeq
	d0.gen = gen
	d0.timer = time.AfterFunc(d, func() {
		e.lock()
		defer e.unlock()
		cur, ok := e.timers[key]
		if !ok || cur.gen != gen {
			return
		}
		delete(e.timers, key)
		fire()
	})
}

func (e *Engine) disarm(key string) {
	if d, ok := e.timers[key]; ok {
		d.timer.Stop()
		delete(e.timers, key)
	}
}

func opTimerKey(op Op) string { return "op:" + string(op) }

func bpTimerKey(kind, id string) string { return "bp:" + kind + ":" + id }

// setGuard marks op in flight and arms its command timeout.
func (e *Engine) setGuard(op Op) {
	e.inflight[op] = true
	e.arm(opTimerKey(op), e.cfg.CommandTimeout, func() { e.commandTimedOut(op) })
}

func (e *Engine) clearGuard(op Op) {
	delete(e.inflight, op)
	e.disarm(opTimerKey(op))
}

func (e *Engine) clearExecGuards() {
	for _, op := range []Op{OpContinue, OpStepOver, OpStepInto, OpStepOut} {
		e.clearGuard(op)
	}
}

func (e *Engine) setBreakpointGuard(guards map[string]bool, kind, id string) {
	guards[id] = true
	e.arm(bpTimerKey(kind, id), e.cfg.CommandTimeout, func() {
		delete(guards, id)
		e.logger.Warn("breakpoint request timed out", "kind", kind, "id", id)
	})
}

func (e *Engine) clearBreakpointGuard(guards map[string]bool, kind, id string) {
	delete(guards, id)
	e.disarm(bpTimerKey(kind, id))
}

// clearAllGuards resets every in-flight flag. Must be called with mu held.
func (e *Engine) clearAllGuards() {
	for op := range e.inflight {
		e.clearGuard(op)
	}
	for id := range e.bpSet {
		e.clearBreakpointGuard(e.bpSet, "set", id)
	}
	for id := range e.bpDelete {
		e.clearBreakpointGuard(e.bpDelete, "delete", id)
	}
}

// commandTimedOut resets guards after op got no completing event.
func (e *Engine) commandTimedOut(op Op) {
	delete(e.inflight, op)
	if op.execution() || op == OpPause {
		// The target state is unknown; allow the user to retry.
		for o := range e.inflight {
			if o.execution() || o == OpPause {
				e.clearGuard(o)
			}
		}
	}
	e.metrics.CommandRejected(string(op), "timeout")
	e.queueNotify(Notification{
		Level:   NotifyError,
		Message: string(op) + " did not complete; the target may be unresponsive",
		Err:     &TimeoutError{Op: op},
	})
}

// teardown ends the session locally. Must be called with mu held.
func (e *Engine) teardown() {
	e.clearAllGuards()
	e.disarm("start")
	e.disarm("stop")
	e.startGen++
	e.session = Session{State: e.session.State}
	e.setState(StateDisconnected)
	e.snapshots.Stop()
	e.breakpoints.SetHaltState(HaltDetached)
	e.queueBreakpointsChanged()
}
