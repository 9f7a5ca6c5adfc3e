package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// rpcMessage is a DevTools protocol frame: a call, a call response, or an
// event. Responses carry ID; events carry Method.
type rpcMessage struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *rpcError       `json:"error,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("devtools: %s (code %d)", e.Message, e.Code)
}

// EventFunc handles a protocol event. Handlers run on a single event
// goroutine, so ordering is preserved; they may issue Calls.
type EventFunc func(sessionID string, params json.RawMessage)

// Conn is a DevTools protocol connection over a websocket.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	nextID   int64
	pending  map[int64]chan rpcMessage
	handlers map[string]EventFunc

	events    chan rpcMessage
	closed    chan struct{}
	closeOnce sync.Once
}

// eventBuffer bounds the queue between the read loop and event handlers.
const eventBuffer = 256

// Dial connects to a DevTools websocket endpoint and starts the read and
// event loops.
func Dial(ctx context.Context, wsURL string, logger *slog.Logger) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial devtools %s: %w", wsURL, err)
	}

	c := &Conn{
		ws:       ws,
		logger:   logger.With("component", "devtools_conn"),
		pending:  make(map[int64]chan rpcMessage),
		handlers: make(map[string]EventFunc),
		events:   make(chan rpcMessage, eventBuffer),
		closed:   make(chan struct{}),
	}
	go c.readLoop()
	go c.eventLoop()
	return c, nil
}

// On registers fn for a protocol event method. Must be called before the
// first event of that method is expected; later registrations replace
// earlier ones.
func (c *Conn) On(method string, fn EventFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = fn
}

// Call issues a protocol method call and decodes the result into result
// (which may be nil). sessionID may be empty for browser-level calls.
func (c *Conn) Call(ctx context.Context, sessionID, method string, params, result any) error {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("%s: marshal params: %w", method, err)
		}
		raw = data
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan rpcMessage, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	msg := rpcMessage{ID: id, Method: method, Params: raw, SessionID: sessionID}
	c.writeMu.Lock()
	err := c.ws.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%s: write: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case <-c.closed:
		return fmt.Errorf("%s: connection closed", method)
	case resp := <-ch:
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("%s: decode result: %w", method, err)
			}
		}
		return nil
	}
}

// Close shuts the connection down. Pending calls fail, the event loop stops.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer func() { _ = c.Close() }()

	for {
		var msg rpcMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Error("read", "err", err)
			}
			return
		}

		if msg.Method == "" && msg.ID != 0 {
			c.mu.Lock()
			ch := c.pending[msg.ID]
			c.mu.Unlock()
			if ch != nil {
				ch <- msg
			}
			continue
		}

		select {
		case c.events <- msg:
		default:
			c.logger.Warn("event queue full, dropping event", "method", msg.Method)
		}
	}
}

func (c *Conn) eventLoop() {
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.events:
			c.mu.Lock()
			fn := c.handlers[msg.Method]
			c.mu.Unlock()
			if fn != nil {
				fn(msg.SessionID, msg.Params)
			}
		}
	}
}
