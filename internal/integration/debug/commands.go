package debug

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dshills/probectl/internal/integration/debug/agent"
)

// Start requests a new session. It connects the transport, ensures the
// program is built, resolves the target device and sends debug.start.
// The session becomes paused when the agent confirms it.
//
// Start may block on the connection and the build; ctx bounds both.
func (e *Engine) Start(ctx context.Context) Result {
	e.lock()
	switch e.session.State {
	case StateDisconnected:
	case StateStarting:
		e.unlock()
		return e.reject(OpStart, "busy", ErrBusy)
	default:
		e.unlock()
		return e.reject(OpStart, "state", ErrSessionActive)
	}
	e.startGen++
	gen := e.startGen
	e.session = Session{ClientID: uuid.NewString()}
	e.inflight[OpStart] = true
	e.setState(StateStarting)
	e.unlock()

	// abort reverts to disconnected unless the attempt was superseded.
	abort := func(reason string, res Result) Result {
		e.lock()
		if e.startGen == gen && e.session.State == StateStarting {
			delete(e.inflight, OpStart)
			e.session = Session{State: StateStarting}
			e.setState(StateDisconnected)
		}
		e.unlock()
		e.metrics.CommandRejected(string(OpStart), reason)
		e.logger.Info("session start failed", "reason", res.Message)
		return res
	}

	if err := e.transport.Connect(ctx); err != nil {
		return abort("transport", failed("connect to debug agent", err))
	}
	if b := e.cfg.Build; b != nil && !b.EnsureCompiled(ctx) {
		return abort("build", rejected(ErrBuildFailed))
	}
	device, ok := e.deviceID()
	if !ok {
		return abort("device", rejected(ErrNoDevice))
	}

	e.lock()
	defer e.unlock()

	// The session may have been stopped or lost while we were suspended.
	if e.startGen != gen || e.session.State != StateStarting {
		e.metrics.CommandRejected(string(OpStart), "aborted")
		return rejected(ErrStartAborted)
	}
	// Never queued: a start replayed after a reconnect would open a
	// session the engine no longer tracks.
	err := e.transport.Transmit(agent.TypeStart, agent.StartPayload{
		DeviceID:        device,
		ClientSessionID: e.session.ClientID,
	})
	if err != nil {
		delete(e.inflight, OpStart)
		e.session = Session{State: StateStarting}
		e.setState(StateDisconnected)
		e.metrics.CommandRejected(string(OpStart), "transport")
		e.logger.Info("session start failed", "error", err)
		return failed("send debug.start", err)
	}
	e.session.DeviceID = device
	e.arm("start", e.cfg.StartTimeout, e.startTimedOut)
	e.metrics.CommandSent(string(OpStart))
	e.logger.Info("starting debug session", "device", device, "client_session", e.session.ClientID)
	return accepted("starting debug session on " + device)
}

func (e *Engine) deviceID() (string, bool) {
	if d := e.cfg.Devices; d != nil {
		if id, ok := d.ConnectedDeviceID(); ok && id != "" {
			return id, true
		}
	}
	if e.cfg.DeviceID != "" {
		return e.cfg.DeviceID, true
	}
	return "", false
}

// startTimedOut aborts a start the agent never confirmed.
func (e *Engine) startTimedOut() {
	if e.session.State != StateStarting {
		return
	}
	e.teardown()
	e.metrics.CommandRejected(string(OpStart), "timeout")
	e.queueNotify(Notification{
		Level:   NotifyError,
		Message: "debug agent did not confirm the session",
		Err:     &TimeoutError{Op: OpStart},
	})
}

// Stop ends the session. Every guard is cleared immediately; the session
// becomes disconnected on the agent's debug.stopped ack, or at once when
// the stop cannot be delivered.
func (e *Engine) Stop() Result {
	e.lock()
	defer e.unlock()

	switch e.session.State {
	case StateDisconnected:
		return e.reject(OpStop, "no_session", ErrNoSession)
	case StateStopping:
		return e.reject(OpStop, "busy", ErrBusy)
	}

	id := e.wireSessionID()
	e.clearAllGuards()
	e.disarm("start")
	e.startGen++
	e.snapshots.Stop()
	e.setState(StateStopping)

	if err := e.transport.Transmit(agent.TypeStop, agent.SessionPayload{SessionID: id}); err != nil {
		e.logger.Warn("stop not delivered; ending session locally", "error", err)
		e.teardown()
		return Result{Success: true, Message: "session ended locally; agent unreachable", Err: err}
	}
	e.metrics.CommandSent(string(OpStop))
	e.arm("stop", e.cfg.CommandTimeout, func() {
		e.teardown()
		e.queueNotify(Notification{
			Level:   NotifyWarning,
			Message: "debug agent did not acknowledge stop; session ended locally",
			Err:     &TimeoutError{Op: OpStop},
		})
	})
	return accepted("stopping debug session")
}

// wireSessionID returns the id the agent knows the session by.
func (e *Engine) wireSessionID() string {
	if e.session.ID != "" {
		return e.session.ID
	}
	return e.session.ClientID
}

// Continue resumes the target. Requires a paused session.
func (e *Engine) Continue() Result { return e.execute(OpContinue) }

// Pause halts the running target.
func (e *Engine) Pause() Result { return e.execute(OpPause) }

// StepOver executes one source line, stepping over calls.
func (e *Engine) StepOver() Result { return e.execute(OpStepOver) }

// StepInto executes one source line, entering calls.
func (e *Engine) StepInto() Result { return e.execute(OpStepInto) }

// StepOut runs until the current function returns.
func (e *Engine) StepOut() Result { return e.execute(OpStepOut) }

// execute runs the guard contract for an execution command:
//
//  1. the same operation, or any execution command, in flight: busy
//  2. wrong state: rejected
//  3. set the guard and send; the completing event clears it
//  4. delivery failure: clear the guard and report the error
//
// Execution commands are never queued; a replay after reconnect would hit
// a different session.
func (e *Engine) execute(op Op) Result {
	e.lock()
	defer e.unlock()

	if e.inflight[op] || (op.execution() && e.execInFlight()) {
		return e.reject(op, "busy", ErrBusy)
	}
	want := StatePaused
	if op == OpPause {
		want = StateRunning
	}
	switch st := e.session.State; {
	case !st.Active():
		return e.reject(op, "no_session", ErrNoSession)
	case st != want:
		return e.reject(op, "state", fmt.Errorf("%w: cannot %s while %s", ErrInvalidState, op, st))
	}

	msgType, payload := e.wireCommand(op)
	e.setGuard(op)
	if err := e.transport.Transmit(msgType, payload); err != nil {
		e.clearGuard(op)
		e.metrics.CommandRejected(string(op), "transport")
		e.logger.Warn("command not delivered", "op", op, "error", err)
		return failed(string(op)+" not delivered", err)
	}
	e.metrics.CommandSent(string(op))
	e.logger.Debug("command sent", "op", op)

	if op == OpContinue {
		e.setState(StateRunning)
		e.breakpoints.SetHaltState(HaltRunning)
		e.queueBreakpointsChanged()
	}
	return accepted(string(op) + " sent")
}

func (e *Engine) wireCommand(op Op) (string, any) {
	sp := agent.SessionPayload{SessionID: e.wireSessionID()}
	switch op {
	case OpContinue:
		return agent.TypeContinue, sp
	case OpPause:
		return agent.TypePause, sp
	case OpStepOver:
		return agent.TypeStep, agent.StepPayload{SessionID: sp.SessionID, Type: agent.StepOver}
	case OpStepInto:
		return agent.TypeStep, agent.StepPayload{SessionID: sp.SessionID, Type: agent.StepInto}
	case OpStepOut:
		return agent.TypeStep, agent.StepPayload{SessionID: sp.SessionID, Type: agent.StepOut}
	}
	panic("debug: no wire command for " + string(op))
}

func (e *Engine) reject(op Op, reason string, err error) Result {
	e.metrics.CommandRejected(string(op), reason)
	e.logger.Debug("command rejected", "op", op, "reason", reason)
	return rejected(err)
}

// SetBreakpoint adds a breakpoint. With an active session the agent is
// asked to verify it at once; otherwise it stays pending until the next
// session starts. Adding an existing breakpoint is a no-op.
func (e *Engine) SetBreakpoint(file string, line int, condition string) Result {
	e.lock()
	defer e.unlock()

	id := BreakpointID(file, line)
	if e.bpSet[id] {
		return e.reject(OpSetBreakpoint, "busy", ErrBusy)
	}
	bp, added := e.breakpoints.Add(file, line, condition)
	if !added {
		return accepted("breakpoint already set at " + id)
	}
	e.queueBreakpointsChanged()
	return e.verify(bp)
}

// verify sends bp to the active session, if any. Must be called with mu held.
func (e *Engine) verify(bp Breakpoint) Result {
	if !e.session.State.Active() {
		return accepted("breakpoint at " + bp.ID + " pending until a session starts")
	}
	if err := e.requestSet(bp); err != nil {
		return failed("breakpoint at "+bp.ID+" stored but not sent", err)
	}
	return accepted("breakpoint at " + bp.ID + " sent for verification")
}

// RemoveBreakpoint deletes a breakpoint locally and, best effort, from the
// active session. The local removal is never rolled back.
func (e *Engine) RemoveBreakpoint(file string, line int) Result {
	e.lock()
	defer e.unlock()

	id := BreakpointID(file, line)
	if e.bpDelete[id] {
		return e.reject(OpRemoveBreakpoint, "busy", ErrBusy)
	}
	bp, ok := e.breakpoints.Remove(file, line)
	if !ok {
		return e.reject(OpRemoveBreakpoint, "missing", fmt.Errorf("%w: %s", ErrNoBreakpoint, id))
	}
	e.clearBreakpointGuard(e.bpSet, "set", id)
	e.queueBreakpointsChanged()
	return e.unverify(bp)
}

// unverify asks the active session to delete bp. Must be called with mu held.
func (e *Engine) unverify(bp Breakpoint) Result {
	if !e.session.State.Active() {
		return accepted("breakpoint at " + bp.ID + " removed")
	}
	if err := e.requestDelete(bp); err != nil {
		return Result{Success: true, Message: "breakpoint at " + bp.ID + " removed locally; agent delete failed", Err: err}
	}
	return accepted("breakpoint at " + bp.ID + " removed")
}

// ToggleBreakpoint removes the breakpoint at file:line or adds one.
func (e *Engine) ToggleBreakpoint(file string, line int) Result {
	if _, ok := e.breakpoints.Get(file, line); ok {
		return e.RemoveBreakpoint(file, line)
	}
	return e.SetBreakpoint(file, line, "")
}

// SetBreakpointEnabled enables or disables a breakpoint and re-sends it.
func (e *Engine) SetBreakpointEnabled(file string, line int, enabled bool) Result {
	return e.modify(file, line, func() (Breakpoint, bool) {
		return e.breakpoints.SetEnabled(file, line, enabled)
	})
}

// SetBreakpointCondition changes a breakpoint's condition and re-sends it.
func (e *Engine) SetBreakpointCondition(file string, line int, condition string) Result {
	return e.modify(file, line, func() (Breakpoint, bool) {
		return e.breakpoints.SetCondition(file, line, condition)
	})
}

func (e *Engine) modify(file string, line int, apply func() (Breakpoint, bool)) Result {
	e.lock()
	defer e.unlock()

	id := BreakpointID(file, line)
	if e.bpSet[id] {
		return e.reject(OpSetBreakpoint, "busy", ErrBusy)
	}
	bp, ok := apply()
	if !ok {
		return e.reject(OpSetBreakpoint, "missing", fmt.Errorf("%w: %s", ErrNoBreakpoint, id))
	}
	e.queueBreakpointsChanged()
	return e.verify(bp)
}

// ClearBreakpoints removes every breakpoint in file, or all breakpoints
// when file is empty.
func (e *Engine) ClearBreakpoints(file string) Result {
	e.lock()
	defer e.unlock()

	var removed []Breakpoint
	if file == "" {
		removed = e.breakpoints.Clear()
	} else {
		removed = e.breakpoints.ClearFile(file)
	}
	for _, bp := range removed {
		e.clearBreakpointGuard(e.bpSet, "set", bp.ID)
		if e.session.State.Active() && !e.bpDelete[bp.ID] {
			_ = e.requestDelete(bp)
		}
	}
	if len(removed) > 0 {
		e.queueBreakpointsChanged()
	}
	return accepted(fmt.Sprintf("removed %d breakpoints", len(removed)))
}

// requestSet sends debug.breakpoint.set and guards bp until its ack.
func (e *Engine) requestSet(bp Breakpoint) error {
	e.setBreakpointGuard(e.bpSet, "set", bp.ID)
	err := e.transport.Transmit(agent.TypeBreakpointSet, agent.BreakpointPayload{
		ID:        bp.ID,
		File:      bp.FilePath,
		Line:      bp.Line,
		Enabled:   bp.Enabled,
		Condition: bp.Condition,
		SessionID: e.wireSessionID(),
	})
	if err != nil {
		e.clearBreakpointGuard(e.bpSet, "set", bp.ID)
		e.metrics.CommandRejected(string(OpSetBreakpoint), "transport")
		e.logger.Warn("breakpoint set not delivered", "id", bp.ID, "error", err)
		return err
	}
	e.metrics.CommandSent(string(OpSetBreakpoint))
	return nil
}

// requestDelete sends debug.breakpoint.delete and guards bp until its ack.
func (e *Engine) requestDelete(bp Breakpoint) error {
	e.setBreakpointGuard(e.bpDelete, "delete", bp.ID)
	err := e.transport.Transmit(agent.TypeBreakpointDelete, agent.BreakpointPayload{
		ID:        bp.ID,
		File:      bp.FilePath,
		Line:      bp.Line,
		Enabled:   bp.Enabled,
		Condition: bp.Condition,
		SessionID: e.wireSessionID(),
	})
	if err != nil {
		e.clearBreakpointGuard(e.bpDelete, "delete", bp.ID)
		e.metrics.CommandRejected(string(OpRemoveBreakpoint), "transport")
		e.logger.Warn("breakpoint delete not delivered", "id", bp.ID, "error", err)
		return err
	}
	e.metrics.CommandSent(string(OpRemoveBreakpoint))
	return nil
}
