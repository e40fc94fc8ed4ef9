// Package agent implements the client side of the remote debug agent
// protocol.
//
// The agent runs next to the probe hardware and speaks JSON envelopes over
// a websocket:
//
//	{"type": "debug.step", "payload": {"type": "step_over"}, "timestamp": "2026-01-02T15:04:05Z"}
//
// # Transport
//
// Client owns the websocket. It connects on demand, reconnects with
// exponential backoff after a loss, and queues messages sent while the link
// is down so they are flushed in their original order once it is back.
// Exhausting the reconnect budget raises a terminal give-up hook, distinct
// from the silent transient retries.
//
// # Dispatch
//
// Inbound envelopes are routed by type to handlers registered with On.
// Some agents emit bare payloads without a type; Classify infers one from
// the payload shape (see its documentation for the priority order).
// Unparseable or unclassifiable messages are logged and dropped. Handlers
// run sequentially on the read goroutine, in arrival order, each under its
// own recover.
package agent
