package debug

// Op identifies an engine operation for guards, logs and metrics.
type Op string

const (
	OpStart            Op = "start"
	OpStop             Op = "stop"
	OpContinue         Op = "continue"
	OpPause            Op = "pause"
	OpStepOver         Op = "step_over"
	OpStepInto         Op = "step_into"
	OpStepOut          Op = "step_out"
	OpSetBreakpoint    Op = "set_breakpoint"
	OpRemoveBreakpoint Op = "remove_breakpoint"
)

// execution reports whether op moves the target. Execution operations
// exclude each other while one is in flight.
func (op Op) execution() bool {
	switch op {
	case OpContinue, OpStepOver, OpStepInto, OpStepOut:
		return true
	}
	return false
}

// Result is the outcome of a user-facing operation. Expected failures such
// as a busy guard or a wrong state are reported here, never as panics.
// Success means the request was accepted and sent; completion is observed
// later through state changes.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func accepted(msg string) Result {
	return Result{Success: true, Message: msg}
}

func rejected(err error) Result {
	return Result{Message: err.Error(), Err: err}
}

func failed(msg string, err error) Result {
	return Result{Message: msg + ": " + err.Error(), Err: err}
}
