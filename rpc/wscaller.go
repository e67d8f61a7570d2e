package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// ErrSocketClosed is returned when a call is made on (or outlives) a
// closed WebSocketCaller.
var ErrSocketClosed = errors.New("rpc: socket is closed")

// wsEnvelope frames a (model, method, args) call over the duplex
// connection, mirroring rpcRequest/rpcResponse from httpcaller.go.
type wsEnvelope struct {
	ID     int64         `json:"id"`
	Model  string        `json:"model,omitempty"`
	Method string        `json:"method,omitempty"`
	Args   []any         `json:"args,omitempty"`
	Result any           `json:"result,omitempty"`
	Error  *rpcErrorBody `json:"error,omitempty"`
}

// WebSocketCallerConfig configures a WebSocketCaller.
type WebSocketCallerConfig struct {
	// Dialer overrides the *websocket.Dialer used to connect.
	Dialer *websocket.Dialer
	// ReconnectDelay is the pause between reconnect attempts after the
	// connection drops.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts bounds how many times the caller tries to
	// re-establish the connection after it drops. Calls pending at the
	// moment of the drop fail with a connection-lost error and are not
	// retried.
	MaxReconnectAttempts int
}

// DefaultWebSocketCallerConfig returns five reconnect attempts with a
// two second delay between them.
func DefaultWebSocketCallerConfig() WebSocketCallerConfig {
	return WebSocketCallerConfig{
		Dialer:               websocket.DefaultDialer,
		ReconnectDelay:       2 * time.Second,
		MaxReconnectAttempts: 5,
	}
}

type pendingCall struct {
	resultCh chan any
	errCh    chan error
}

// WebSocketCaller is a duplex-connection rpc.Caller: it keeps one
// persistent connection open and correlates requests to responses by
// id, instead of paying per-call HTTP connection setup on every Call.
// It has no subscription handling, since this domain has no use for
// it, and reconnects automatically after the connection drops.
type WebSocketCaller struct {
	url   string
	cfg   WebSocketCallerConfig
	idGen int64

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	pending map[int64]*pendingCall
	closeCh chan struct{}
}

// NewWebSocketCaller dials url and starts its read loop.
func NewWebSocketCaller(url string, cfg ...WebSocketCallerConfig) (*WebSocketCaller, error) {
	conf := DefaultWebSocketCallerConfig()
	if len(cfg) > 0 {
		conf = cfg[0]
	}
	if conf.Dialer == nil {
		conf.Dialer = websocket.DefaultDialer
	}

	c := &WebSocketCaller{
		url:     url,
		cfg:     conf,
		pending: make(map[int64]*pendingCall),
		closeCh: make(chan struct{}),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *WebSocketCaller) connect() error {
	conn, resp, err := c.cfg.Dialer.Dial(c.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("rpc: dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	go c.readLoop()
	return nil
}

func (c *WebSocketCaller) readLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()
		if closed || conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(err)
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			continue
		}
		c.deliver(env)
	}
}

func (c *WebSocketCaller) deliver(env wsEnvelope) {
	c.mu.Lock()
	call, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if env.Error != nil {
		call.errCh <- env.Error
		return
	}
	call.resultCh <- env.Result
}

func (c *WebSocketCaller) handleDisconnect(err error) {
	c.mu.Lock()
	c.closed = true
	stranded := c.pending
	c.pending = make(map[int64]*pendingCall)
	c.mu.Unlock()

	for _, call := range stranded {
		call.errCh <- fmt.Errorf("rpc: connection lost: %w", err)
	}

	go c.reconnect()
}

func (c *WebSocketCaller) reconnect() {
	for attempt := 0; attempt < c.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-c.closeCh:
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
		if err := c.connect(); err == nil {
			return
		}
	}
}

// Call implements rpc.Caller over the persistent connection.
func (c *WebSocketCaller) Call(ctx context.Context, model, method string, args []any) (any, error) {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return nil, ErrSocketClosed
	}
	conn := c.conn

	id := atomic.AddInt64(&c.idGen, 1)
	call := &pendingCall{resultCh: make(chan any, 1), errCh: make(chan error, 1)}
	c.pending[id] = call
	c.mu.Unlock()

	env := wsEnvelope{ID: id, Model: model, Method: method, Args: args}
	data, err := json.Marshal(env)
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("rpc: failed to marshal request: %w", err)
	}

	c.mu.Lock()
	writeErr := conn.WriteMessage(websocket.TextMessage, data)
	c.mu.Unlock()
	if writeErr != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("rpc: write to %s failed: %w", c.url, writeErr)
	}

	select {
	case result := <-call.resultCh:
		return result, nil
	case err := <-call.errCh:
		return nil, err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Close stops the read loop and any in-flight reconnect attempts.
func (c *WebSocketCaller) Close() error {
	c.mu.Lock()
	select {
	case <-c.closeCh:
		c.mu.Unlock()
		return nil
	default:
	}
	// closed may already be set by a dropped connection; closeCh still
	// has to close so that the reconnect goroutine stops.
	close(c.closeCh)
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

var _ Caller = (*WebSocketCaller)(nil)
