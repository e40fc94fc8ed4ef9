// Package agenttest provides an in-process fake of the remote debug agent.
//
// Server speaks the agent websocket protocol, records everything it
// receives and lets callers push arbitrary frames, drop connections and
// refuse new ones. Simulator scripts plausible agent behavior on top of it.
package agenttest

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Received is one frame received from the client.
type Received struct {
	Type string
	Raw  []byte
}

// Get returns the value at a gjson path, e.g. "payload.type".
func (r Received) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Raw, path)
}

// Responder reacts to a received frame, typically by pushing replies.
type Responder func(s *Server, msg Received)

// Server is a fake agent endpoint. It implements http.Handler.
type Server struct {
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     map[*websocket.Conn]*sync.Mutex
	received  []Received
	notify    chan struct{}
	refuse    bool
	responder Responder
}

// New creates a server with an optional responder.
func New(responder Responder) *Server {
	return &Server{
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:     make(map[*websocket.Conn]*sync.Mutex),
		notify:    make(chan struct{}),
		responder: responder,
	}
}

// ServeHTTP upgrades the request and reads frames until the peer leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	refuse := s.refuse
	s.mu.Unlock()
	if refuse {
		http.Error(w, "agent unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns[conn] = &sync.Mutex{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg := Received{Type: gjson.GetBytes(data, "type").String(), Raw: data}

		s.mu.Lock()
		s.received = append(s.received, msg)
		close(s.notify)
		s.notify = make(chan struct{})
		responder := s.responder
		s.mu.Unlock()

		if responder != nil {
			responder(s, msg)
		}
	}
}

// SetRefuse makes the server reject (true) or accept (false) new
// websocket handshakes.
func (s *Server) SetRefuse(refuse bool) {
	s.mu.Lock()
	s.refuse = refuse
	s.mu.Unlock()
}

// DropConnections closes every open connection without a close frame.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.UnderlyingConn().Close()
	}
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Received returns a copy of every frame received so far.
func (s *Server) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received{}, s.received...)
}

// ReceivedOfType returns the received frames with the given type.
func (s *Server) ReceivedOfType(msgType string) []Received {
	var out []Received
	for _, m := range s.Received() {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

// WaitFor blocks until n frames of msgType have been received or the
// timeout elapses. It reports whether the count was reached.
func (s *Server) WaitFor(msgType string, n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		count := 0
		for _, m := range s.received {
			if m.Type == msgType {
				count++
			}
		}
		ch := s.notify
		s.mu.Unlock()

		if count >= n {
			return true
		}
		select {
		case <-ch:
		case <-deadline.C:
			return false
		}
	}
}

// WaitForConnections blocks until n connections are open.
func (s *Server) WaitForConnections(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.ConnectionCount() >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return s.ConnectionCount() >= n
}

// ErrNoConnection is returned by Push when no client is connected.
var ErrNoConnection = errors.New("agenttest: no client connected")

// PushRaw writes data to every open connection.
func (s *Server) PushRaw(data []byte) error {
	s.mu.Lock()
	type target struct {
		conn *websocket.Conn
		mu   *sync.Mutex
	}
	targets := make([]target, 0, len(s.conns))
	for c, mu := range s.conns {
		targets = append(targets, target{c, mu})
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		return ErrNoConnection
	}
	var firstErr error
	for _, t := range targets {
		t.mu.Lock()
		err := t.conn.WriteMessage(websocket.TextMessage, data)
		t.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Push writes a typed envelope built from key/value pairs (see Frame).
func (s *Server) Push(msgType string, kv ...any) error {
	return s.PushRaw(Frame(msgType, kv...))
}

// Frame builds an envelope. kv holds alternating payload paths and values;
// paths use sjson syntax, so "variables.-1" appends to an array. An empty
// msgType produces a bare, untyped payload object instead of an envelope.
func Frame(msgType string, kv ...any) []byte {
	data := []byte(`{}`)
	prefix := ""
	if msgType != "" {
		data, _ = sjson.SetBytes(data, "type", msgType)
		data, _ = sjson.SetBytes(data, "timestamp", time.Now().UTC().Format(time.RFC3339Nano))
		data, _ = sjson.SetRawBytes(data, "payload", []byte(`{}`))
		prefix = "payload."
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		data, _ = sjson.SetBytes(data, prefix+key, kv[i+1])
	}
	return data
}
