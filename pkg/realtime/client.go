package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Status describes the client connection lifecycle.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Signal names observable through On.
const (
	SignalConnected       = "connected"
	SignalDisconnected    = "disconnected"
	SignalError           = "error"
	SignalReconnectFailed = "reconnect_failed"
	SignalMessage         = "message"
)

const (
	defaultReconnectDelay   = 3 * time.Second
	defaultMaxReconnects    = 5
	defaultHandshakeTimeout = 10 * time.Second
)

// ErrNotConnected is returned by Send when no channel is open.
var ErrNotConnected = errors.New("realtime: not connected")

// ErrClientClosed is returned after Close.
var ErrClientClosed = errors.New("realtime: client closed")

// Handler receives signal payloads. SignalMessage delivers an Envelope,
// SignalError and SignalReconnectFailed deliver an error, the connection
// signals deliver nil.
type Handler func(payload any)

// Config tunes the websocket client.
type Config struct {
	// URL of the dashboard websocket endpoint.
	URL string
	// Token is appended as a query parameter because browser-compatible
	// websocket handshakes cannot carry headers.
	Token string
	// ReconnectDelay is the backoff unit. Attempt n waits n times this long.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts bounds automatic recovery before giving up.
	MaxReconnectAttempts int
	// HandshakeTimeout bounds each dial.
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Client maintains a persistent dashboard channel with automatic linear
// backoff reconnection. All methods are safe for concurrent use.
type Client struct {
	url    string
	token  string
	dialer *websocket.Dialer
	logger *slog.Logger

	reconnectDelay time.Duration
	maxReconnects  int

	mu               sync.Mutex
	conn             *websocket.Conn
	status           Status
	attempts         int
	closed           bool
	manualDisconnect bool
	reconnectFailed  bool
	reconnectTimer   *time.Timer
	waiters          []chan error
	listeners        map[string]map[int]Handler
	nextListenerID   int
}

// NewClient builds a client. Connect must be called to open the channel.
func NewClient(cfg Config) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnects
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:            cfg.URL,
		token:          cfg.Token,
		logger:         logger.With("component", "realtime_client"),
		reconnectDelay: cfg.ReconnectDelay,
		maxReconnects:  cfg.MaxReconnectAttempts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		status:    StatusDisconnected,
		listeners: make(map[string]map[int]Handler),
	}
}

// On registers a handler for a signal and returns an id for Off.
func (c *Client) On(signal string, fn Handler) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listeners[signal] == nil {
		c.listeners[signal] = make(map[int]Handler)
	}
	c.nextListenerID++
	id := c.nextListenerID
	c.listeners[signal][id] = fn
	return id
}

// Off removes a previously registered handler.
func (c *Client) Off(signal string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listeners[signal], id)
}

// Connect opens the channel. Concurrent calls while a dial is in flight wait
// for that dial instead of opening a second connection; calling on an open
// client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	switch c.status {
	case StatusConnected:
		c.mu.Unlock()
		return nil
	case StatusConnecting:
		wait := make(chan error, 1)
		c.waiters = append(c.waiters, wait)
		c.mu.Unlock()
		select {
		case err := <-wait:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.status = StatusConnecting
	// A manual connect supersedes any armed reconnect attempt; only one
	// dial may be in flight at a time.
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()

	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	url := c.url
	if c.token != "" {
		url += "?token=" + c.token
	}
	conn, _, err := c.dialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		c.mu.Lock()
		c.status = StatusError
		c.notifyWaiters(err)
		c.mu.Unlock()
		c.emit(SignalError, err)
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClientClosed
	}
	c.conn = conn
	c.status = StatusConnected
	c.attempts = 0
	c.reconnectFailed = false
	c.manualDisconnect = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.notifyWaiters(nil)
	c.mu.Unlock()

	c.emit(SignalConnected, nil)
	go c.readLoop(conn)
	return nil
}

// notifyWaiters must be called with the mutex held.
func (c *Client) notifyWaiters(err error) {
	for _, wait := range c.waiters {
		wait <- err
	}
	c.waiters = nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(err)
			return
		}
		env, err := ParseEnvelope(raw)
		if err != nil {
			c.logger.Warn("discarding malformed frame", "error", err)
			continue
		}
		c.emit(SignalMessage, env)
	}
}

func (c *Client) handleDisconnect(cause error) {
	c.mu.Lock()
	c.conn = nil
	terminal := c.closed
	manual := c.manualDisconnect
	c.status = StatusDisconnected
	c.mu.Unlock()

	c.emit(SignalDisconnected, nil)
	if terminal || manual {
		return
	}
	c.logger.Warn("channel lost", "error", cause)
	c.scheduleReconnect()
}

// scheduleReconnect arms the next attempt with linear backoff. After the
// attempt budget is exhausted, reconnect_failed fires exactly once; a manual
// Reconnect resets the budget.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closed || c.manualDisconnect {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.maxReconnects {
		alreadyFailed := c.reconnectFailed
		c.reconnectFailed = true
		c.status = StatusError
		c.mu.Unlock()
		if !alreadyFailed {
			c.logger.Error("reconnect attempts exhausted", "attempts", c.maxReconnects)
			c.emit(SignalReconnectFailed, errors.New("realtime: reconnect attempts exhausted"))
		}
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := c.reconnectDelay * time.Duration(attempt)
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		// StatusConnecting means another dial is already in flight; this
		// attempt must not open a second connection.
		if c.closed || c.manualDisconnect || c.status == StatusConnected || c.status == StatusConnecting {
			c.mu.Unlock()
			return
		}
		c.status = StatusConnecting
		c.mu.Unlock()
		_ = c.dial(context.Background())
	})
	c.mu.Unlock()
	c.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

// Reconnect resets the attempt budget and dials immediately. Use after
// reconnect_failed to resume automatic recovery.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.attempts = 0
	c.reconnectFailed = false
	c.manualDisconnect = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()
	return c.Connect(ctx)
}

// Send marshals v and writes it to the channel. Returns ErrNotConnected when
// the channel is down; callers treat that as a droppable condition.
func (c *Client) Send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		c.logger.Warn("send skipped, channel not connected")
		return ErrNotConnected
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Disconnect closes the channel without scheduling reconnection. The client
// can be reopened with Connect or Reconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manualDisconnect = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Close shuts the client down permanently.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.notifyWaiters(ErrClientClosed)
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Status reports the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsConnected reports whether the channel is open.
func (c *Client) IsConnected() bool {
	return c.Status() == StatusConnected
}

func (c *Client) emit(signal string, payload any) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.listeners[signal]))
	for _, fn := range c.listeners[signal] {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(payload)
	}
}
