package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dshills/probectl/internal/logging"
	"github.com/dshills/probectl/internal/metrics"
)

// Config configures a Client.
type Config struct {
	// URL is the agent's websocket endpoint.
	URL string

	// Header is sent with the websocket handshake.
	Header http.Header

	// ConnectTimeout bounds one dial. Default: 10 seconds
	ConnectTimeout time.Duration

	// WriteTimeout bounds one frame write. A peer that stops reading
	// fails the write instead of blocking the caller. Default: 5 seconds
	WriteTimeout time.Duration

	// InitialBackoff is the delay before the first reconnect attempt.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff caps the doubling reconnect delay. Default: 10 seconds
	MaxBackoff time.Duration

	// MaxAttempts is the number of reconnect dials before giving up.
	// Default: 5
	MaxAttempts int

	// Logger receives transport diagnostics. Default: discard
	Logger *slog.Logger

	// Metrics receives transport counters. Optional.
	Metrics *metrics.Metrics
}

// DefaultConfig returns the default configuration for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   5 * time.Second,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		MaxAttempts:    5,
	}
}

// Handler receives one dispatched inbound message.
type Handler func(Message)

// Hooks contains callbacks for connection lifecycle events.
// They run on transport goroutines and must not block.
type Hooks struct {
	// OnConnected is called after an explicit Connect succeeds.
	OnConnected func()

	// OnDisconnected is called when an open link goes away. err is nil
	// for a local Disconnect.
	OnDisconnected func(err error)

	// OnReconnected is called after an automatic reconnect succeeded and
	// the outbound queue was flushed.
	OnReconnected func()

	// OnGiveUp is called once reconnect attempts are exhausted. The error
	// wraps ErrGaveUp.
	OnGiveUp func(err error)

	// OnProtocolError is called for every dropped inbound message.
	OnProtocolError func(err error)
}

// Client is a websocket client for the remote debug agent.
//
// Thread Safety: Client is safe for concurrent use. Inbound dispatch runs
// on a single read goroutine per connection.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
	now    func() time.Time

	// connectMu serializes dials so Connect stays idempotent.
	connectMu sync.Mutex

	// writeMu serializes frame writes; gorilla allows one writer.
	writeMu sync.Mutex

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	disconnected bool // set by Disconnect; suppresses auto reconnect
	reconnecting bool
	queue        [][]byte

	handlersMu  sync.RWMutex
	handlers    map[string][]Handler
	anyHandlers []Handler
	hooks       Hooks

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client. It does not dial until Connect or Send.
func NewClient(cfg Config) *Client {
	def := DefaultConfig(cfg.URL)
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.InitialBackoff)
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	return &Client{
		cfg:      cfg,
		dialer:   &websocket.Dialer{Proxy: http.ProxyFromEnvironment}, // handshake bounded by dial's context
		logger:   logging.Component(cfg.Logger, "agent"),
		now:      time.Now,
		handlers: make(map[string][]Handler),
		done:     make(chan struct{}),
	}
}

// SetHooks replaces the lifecycle hooks.
func (c *Client) SetHooks(h Hooks) {
	c.handlersMu.Lock()
	c.hooks = h
	c.handlersMu.Unlock()
}

func (c *Client) getHooks() Hooks {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	return c.hooks
}

// On registers a handler for a message type. Handlers for the same type run
// in registration order.
func (c *Client) On(msgType string, h Handler) {
	c.handlersMu.Lock()
	c.handlers[msgType] = append(c.handlers[msgType], h)
	c.handlersMu.Unlock()
}

// OnAny registers a handler that receives every dispatched message after the
// type-specific handlers.
func (c *Client) OnAny(h Handler) {
	c.handlersMu.Lock()
	c.anyHandlers = append(c.anyHandlers, h)
	c.handlersMu.Unlock()
}

// Connected reports whether the link is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// QueueLen returns the number of messages waiting for a reconnect.
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Connect opens the link if it is not already open. It returns once the
// websocket handshake completes, or fails with ErrConnectTimeout or a
// *TransportError.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.disconnected = false
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.attach(conn)

	if h := c.getHooks().OnConnected; h != nil {
		h()
	}
	return nil
}

// dial performs one websocket handshake within the connect timeout.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrConnectTimeout, c.cfg.URL, c.cfg.ConnectTimeout)
		}
		return nil, &TransportError{Op: "dial", URL: c.cfg.URL, Err: err}
	}
	return conn, nil
}

// attach installs conn, flushes the queue in FIFO order and starts reading.
// Sends racing with the flush wait on writeMu, so they land after it.
func (c *Client) attach(conn *websocket.Conn) {
	c.writeMu.Lock()

	c.mu.Lock()
	prev := c.conn
	c.conn = conn
	c.connected = true
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	if prev != nil && prev != conn {
		// Its readLoop sees the replacement in handleLoss and exits quietly.
		prev.Close()
	}

	for i, data := range pending {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.logger.Warn("flush failed; requeueing", "remaining", len(pending)-i, "error", err)
			c.mu.Lock()
			c.queue = append(append([][]byte{}, pending[i:]...), c.queue...)
			c.mu.Unlock()
			break
		}
	}
	c.writeMu.Unlock()

	if len(pending) > 0 {
		c.logger.Debug("flushed outbound queue", "count", len(pending))
	}
	c.cfg.Metrics.QueueLength(c.QueueLen())

	go c.readLoop(conn)
}

// readLoop dispatches frames from conn until it fails.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleLoss(conn, err)
			return
		}
		c.Dispatch(data)
	}
}

// handleLoss tears down conn after a read failure and schedules a
// reconnect unless the loss was caused by Disconnect.
func (c *Client) handleLoss(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// Already replaced or torn down locally.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	local := c.disconnected
	c.mu.Unlock()

	conn.Close()
	if local {
		return
	}

	c.logger.Info("agent connection lost", "error", err)
	if h := c.getHooks().OnDisconnected; h != nil {
		h(err)
	}
	c.startReconnect()
}

// startReconnect launches the backoff loop if one is not already running.
func (c *Client) startReconnect() {
	c.mu.Lock()
	if c.reconnecting || c.connected || c.disconnected {
		c.mu.Unlock()
		return
	}
	select {
	case <-c.done:
		c.mu.Unlock()
		return
	default:
	}
	c.reconnecting = true
	c.mu.Unlock()

	go c.reconnectLoop()
}

// reconnectLoop dials with exponential backoff up to MaxAttempts times.
// Individual failures are only logged at debug level.
func (c *Client) reconnectLoop() {
	delay := c.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-c.done:
			timer.Stop()
			c.setReconnecting(false)
			return
		case <-timer.C:
		}

		c.mu.Lock()
		abandon := c.disconnected || c.connected
		c.mu.Unlock()
		if abandon {
			c.setReconnecting(false)
			return
		}

		c.connectMu.Lock()
		c.mu.Lock()
		abandon = c.disconnected || c.connected
		c.mu.Unlock()
		if abandon {
			// An explicit Connect won the race for connectMu.
			c.connectMu.Unlock()
			c.setReconnecting(false)
			return
		}

		c.cfg.Metrics.ReconnectAttempt()
		conn, err := c.dial(context.Background())
		if err == nil {
			c.mu.Lock()
			abandon = c.disconnected
			c.mu.Unlock()
			if abandon {
				conn.Close()
				c.connectMu.Unlock()
				c.setReconnecting(false)
				return
			}
			c.attach(conn)
			c.connectMu.Unlock()
			c.setReconnecting(false)
			c.logger.Info("agent connection restored", "attempt", attempt)
			if h := c.getHooks().OnReconnected; h != nil {
				h()
			}
			return
		}
		c.connectMu.Unlock()

		lastErr = err
		c.logger.Debug("reconnect attempt failed", "attempt", attempt, "next_delay", delay, "error", err)
		delay = min(delay*2, c.cfg.MaxBackoff)
	}

	c.setReconnecting(false)
	c.cfg.Metrics.GaveUp()
	err := fmt.Errorf("%w: %d reconnect attempts to %s failed", ErrGaveUp, c.cfg.MaxAttempts, c.cfg.URL)
	if lastErr != nil {
		err = fmt.Errorf("%w (last error: %v)", err, lastErr)
	}
	c.logger.Warn("giving up on agent", "error", err)
	if h := c.getHooks().OnGiveUp; h != nil {
		h(err)
	}
}

func (c *Client) setReconnecting(v bool) {
	c.mu.Lock()
	c.reconnecting = v
	c.mu.Unlock()
}

// Send transmits a message if the link is open and reports true. Otherwise
// it queues the message, triggers a reconnect and reports false. A true
// result means the frame was written, not that the agent acted on it.
func (c *Client) Send(msgType string, payload any) bool {
	data, err := Encode(msgType, payload, c.now())
	if err != nil {
		c.logger.Error("dropping unencodable message", "type", msgType, "error", err)
		return false
	}

	if err := c.write(data); err != nil {
		c.enqueue(data)
		c.logger.Debug("queued message", "type", msgType, "reason", err)
		c.startReconnect()
		return false
	}
	return true
}

// Transmit writes a message or fails; it never queues. Use it for commands
// that must not be replayed after a reconnect.
func (c *Client) Transmit(msgType string, payload any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	data, err := Encode(msgType, payload, c.now())
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *Client) write(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	ok := c.connected
	c.mu.Unlock()
	if !ok || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err := conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return &TransportError{Op: "write", URL: c.cfg.URL, Err: err}
	}
	return nil
}

func (c *Client) enqueue(data []byte) {
	c.mu.Lock()
	c.queue = append(c.queue, data)
	n := len(c.queue)
	c.mu.Unlock()
	c.cfg.Metrics.QueueLength(n)
}

// Disconnect closes the link gracefully and disables automatic reconnects
// until the next Connect. Queued messages are kept.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.disconnected = true
	conn := c.conn
	wasConnected := c.connected
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	conn.Close()

	if wasConnected {
		if h := c.getHooks().OnDisconnected; h != nil {
			h(nil)
		}
	}
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return &TransportError{Op: "close", URL: c.cfg.URL, Err: err}
	}
	return nil
}

// Close disconnects and stops any reconnect loop permanently.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return c.Disconnect()
}

// Dispatch decodes one inbound frame and runs its handlers. It is exported
// for agents that deliver frames over another channel.
func (c *Client) Dispatch(data []byte) {
	msg, err := DecodeMessage(data)
	if err != nil {
		c.protocolError(err)
		return
	}
	if msg.Type == "" {
		msg.Type = Classify(msg.Payload)
		if msg.Type == "" {
			c.protocolError(&ProtocolError{Reason: "unclassifiable message", Raw: excerpt(data)})
			return
		}
		msg.Inferred = true
	}
	c.cfg.Metrics.Inbound(msg.Type)

	c.handlersMu.RLock()
	handlers := append([]Handler{}, c.handlers[msg.Type]...)
	handlers = append(handlers, c.anyHandlers...)
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		c.invoke(h, msg)
	}
}

// invoke runs one handler, containing any panic to that handler.
func (c *Client) invoke(h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panicked", "type", msg.Type, "panic", r)
		}
	}()
	h(msg)
}

func (c *Client) protocolError(err error) {
	c.cfg.Metrics.ProtocolError()
	c.logger.Warn("dropping inbound message", "error", err)
	if h := c.getHooks().OnProtocolError; h != nil {
		h(err)
	}
}
