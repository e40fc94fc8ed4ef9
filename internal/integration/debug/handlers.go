package debug

import (
	"errors"

	"github.com/dshills/probectl/internal/integration/debug/agent"
)

// decode unmarshals msg into v, logging and counting failures.
func (e *Engine) decode(msg agent.Message, v any) bool {
	if err := msg.Decode(v); err != nil {
		e.metrics.ProtocolError()
		e.logger.Warn("dropping malformed event", "type", msg.Type, "error", err)
		return false
	}
	return true
}

// handleStarted confirms a session: starting -> paused.
func (e *Engine) handleStarted(msg agent.Message) {
	var p agent.StartedPayload
	if !e.decode(msg, &p) {
		return
	}

	e.lock()
	defer e.unlock()

	switch e.session.State {
	case StateStarting:
		if p.SessionID != "" {
			e.session.ID = p.SessionID
		}
		e.session.mergeLocation(p.Location)
		e.begin()
		e.logger.Info("debug session started", "session", e.session.ID, "device", e.session.DeviceID)
	case StatePaused, StateRunning:
		// Duplicate confirmation; only the location is news.
		if e.session.mergeLocation(p.Location) {
			e.navigateToCurrent()
		}
	default:
		e.logger.Debug("ignoring debug.started", "state", e.session.State)
	}
}

// begin completes a start. Must be called with mu held and state starting.
func (e *Engine) begin() {
	e.disarm("start")
	e.clearGuard(OpStart)
	e.setState(StatePaused)
	e.snapshots.Start()
	e.breakpoints.SetHaltState(HaltHalted)
	e.resync()
	e.navigateToCurrent()
}

// resync re-sends every stored breakpoint to the new session.
func (e *Engine) resync() {
	bps := e.breakpoints.Resync()
	for _, bp := range bps {
		e.requestSet(bp)
	}
	if len(bps) > 0 {
		e.logger.Debug("resynced breakpoints", "count", len(bps))
	}
	e.queueBreakpointsChanged()
}

func (e *Engine) navigateToCurrent() {
	if e.session.HasLocation() {
		e.queueNavigate(NavigationIntent{
			FilePath:       e.session.CurrentFile,
			Line:           e.session.CurrentLine,
			Column:         1,
			IsDebugInduced: true,
		})
	}
}

// handleSessionStopped acknowledges debug.stop or reports that the agent
// ended the session on its own.
func (e *Engine) handleSessionStopped(msg agent.Message) {
	e.lock()
	defer e.unlock()

	if e.session.State == StateDisconnected {
		return
	}
	if e.session.State != StateStopping {
		e.queueNotify(Notification{Level: NotifyInfo, Message: "debug session ended by agent"})
	}
	e.teardown()
	e.logger.Info("debug session stopped")
}

// handleError surfaces a backend error. During start it aborts the session;
// otherwise the state is kept and execution guards are released.
func (e *Engine) handleError(msg agent.Message) {
	var p agent.ErrorPayload
	if err := msg.Decode(&p); err != nil || p.Message == "" {
		p.Message = "unspecified agent error"
	}

	e.lock()
	defer e.unlock()

	berr := &BackendError{Message: p.Message, Code: p.Code, During: e.session.State}
	switch e.session.State {
	case StateStarting:
		e.teardown()
		e.queueNotify(Notification{Level: NotifyError, Message: "failed to start debug session", Err: berr})
	default:
		for op := range e.inflight {
			if op.execution() || op == OpPause {
				e.clearGuard(op)
			}
		}
		e.queueNotify(Notification{Level: NotifyError, Message: "debug agent reported an error", Err: berr})
	}
}

// handleStopped records a halt: running or paused -> paused.
func (e *Engine) handleStopped(msg agent.Message) {
	var p agent.StoppedPayload
	if !e.decode(msg, &p) {
		return
	}

	e.lock()
	defer e.unlock()

	switch e.session.State {
	case StateStarting:
		// Some agents confirm a start with the first halt.
		e.session.mergeLocation(p.Location)
		e.begin()
		return
	case StatePaused, StateRunning:
	default:
		e.logger.Debug("ignoring stopped event", "state", e.session.State)
		return
	}

	e.session.mergeLocation(p.Location)
	e.clearExecGuards()
	e.clearGuard(OpPause)
	e.setState(StatePaused)
	e.breakpoints.SetHaltState(HaltHalted)

	hit := false
	if p.Reason == agent.ReasonBreakpoint && e.session.HasLocation() {
		hit = e.breakpoints.Hit(e.session.CurrentFile, e.session.CurrentLine, p.Message)
	}
	if !hit {
		e.navigateToCurrent()
	}
	e.queueBreakpointsChanged()
	e.logger.Debug("target halted", "reason", p.Reason, "file", e.session.CurrentFile, "line", e.session.CurrentLine)
}

// handleContinued records that the target runs: paused -> running.
func (e *Engine) handleContinued(msg agent.Message) {
	e.lock()
	defer e.unlock()

	if !e.session.State.Active() {
		e.logger.Debug("ignoring continued event", "state", e.session.State)
		return
	}
	e.clearExecGuards()
	e.setState(StateRunning)
	e.breakpoints.SetHaltState(HaltRunning)
	e.queueBreakpointsChanged()
}

// handleSnapshot feeds the snapshot processor and merges its location.
func (e *Engine) handleSnapshot(msg agent.Message) {
	var p agent.SnapshotPayload
	if !e.decode(msg, &p) {
		return
	}

	e.lock()
	defer e.unlock()

	snap, outcome := e.snapshots.Process(p)
	e.metrics.Snapshot(outcome.String())
	if outcome != OutcomeAccepted {
		e.logger.Debug("snapshot dropped", "outcome", outcome, "pc", p.PC)
		return
	}

	var loc agent.Location
	if p.PC != "" {
		loc.PC = &p.PC
	}
	if p.File != "" {
		loc.File = &p.File
	}
	if p.Line > 0 {
		loc.Line = &p.Line
	}
	if e.session.mergeLocation(loc) {
		e.logger.Debug("location updated from snapshot", "file", e.session.CurrentFile, "line", e.session.CurrentLine, "pc", e.session.CurrentPC)
	}

	if h := e.cfg.Handlers.OnSnapshot; h != nil {
		e.queue(func() { h(snap) })
	}
}

// handleBreakpointAck applies the agent's verification of a set request.
func (e *Engine) handleBreakpointAck(msg agent.Message) {
	var p agent.BreakpointPayload
	if !e.decode(msg, &p) {
		return
	}
	id := p.ID
	if id == "" {
		id = BreakpointID(p.File, p.Line)
	}

	e.lock()
	defer e.unlock()

	e.clearBreakpointGuard(e.bpSet, "set", id)
	verified := p.Verified == nil || *p.Verified
	if !e.breakpoints.Acknowledge(id, verified, p.Message) {
		e.logger.Debug("ack for unknown breakpoint", "id", id)
		return
	}
	if !verified {
		e.logger.Info("breakpoint rejected", "id", id, "reason", p.Message)
	}
	e.queueBreakpointsChanged()
}

// handleBreakpointDeleted releases the delete guard.
func (e *Engine) handleBreakpointDeleted(msg agent.Message) {
	var p agent.BreakpointPayload
	if !e.decode(msg, &p) {
		return
	}
	id := p.ID
	if id == "" {
		id = BreakpointID(p.File, p.Line)
	}

	e.lock()
	defer e.unlock()
	e.clearBreakpointGuard(e.bpDelete, "delete", id)
	e.logger.Debug("breakpoint delete acknowledged", "id", id)
}

func (e *Engine) handleDeviceList(msg agent.Message) {
	var p agent.DeviceListPayload
	if !e.decode(msg, &p) {
		return
	}
	ids := make([]string, len(p.Devices))
	for i, d := range p.Devices {
		ids[i] = d.ID
	}
	e.logger.Debug("agent reported devices", "devices", ids)
}

// handleTransportLoss forces the session down. Local Disconnect reports a
// nil error and is treated the same way.
func (e *Engine) handleTransportLoss(err error) {
	e.lock()
	defer e.unlock()

	if e.session.State == StateDisconnected {
		return
	}
	was := e.session.State
	e.breakpoints.ForceConfirmed()
	e.teardown()

	if err == nil {
		return
	}
	e.queueNotify(Notification{
		Level:   NotifyWarning,
		Message: "debug session ended: connection to agent lost while " + was.String(),
		Err:     errors.Join(ErrConnectionLost, err),
	})
}

func (e *Engine) handleReconnected() {
	e.logger.Info("agent connection restored")
}

// handleGiveUp raises the persistent "agent down" notification.
func (e *Engine) handleGiveUp(err error) {
	e.lock()
	defer e.unlock()
	e.queueNotify(Notification{
		Level:      NotifyError,
		Message:    "remote debug agent appears to be down; reconnecting stopped",
		Err:        err,
		Persistent: true,
	})
}
