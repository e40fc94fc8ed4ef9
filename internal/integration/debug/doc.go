// Package debug drives a remote hardware debug session.
//
// A remote debug agent runs next to the probe and the target chip. This
// package talks to it through the agent package and enforces the
// client-side rules about when operations are valid.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                         Engine                               │
//	│  - session state machine and current location               │
//	│  - command guards (one in-flight command per operation)     │
//	│  - BreakpointRegistry: intent + backend verification        │
//	│  - SnapshotProcessor: debounced, diffed halt snapshots      │
//	└──────────────────────────────────────────────────────────────┘
//	                              │
//	                              ▼
//	┌──────────────────────────────────────────────────────────────┐
//	│                      agent.Client                            │
//	│  - websocket, reconnect with backoff, outbound queue        │
//	│  - type routing and shape classification                    │
//	└──────────────────────────────────────────────────────────────┘
//
// # Session States
//
//	disconnected -> starting -> paused <-> running
//	      ^            |          |           |
//	      +------------+----- stopping <------+
//
//   - Start moves disconnected to starting; debug.started (or a first
//     halt) moves starting to paused.
//   - debug.error during starting returns to disconnected.
//   - continued moves paused to running; stopped moves running to paused.
//   - Stop moves any state to stopping; debug.stopped finishes it.
//   - Transport loss forces disconnected from any state.
//
// # Commands
//
// Continue, Pause, the step commands and the breakpoint commands return a
// Result instead of an error. A command whose previous request is still
// awaiting its completing event is rejected with "busy" and nothing is
// sent. Completion is observed later through Handlers, never through the
// call itself.
//
// # Breakpoints
//
// Each breakpoint carries a Status (Pending, Confirmed or Rejected). The
// rendered Verified flag is derived from the status and from whether the
// target is halted, running or detached; see Breakpoint.
package debug
