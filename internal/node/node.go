// Package node bridges the bot to the headless wallet node over the hub
// websocket.
//
// The node owns keys, validates units, and verifies signed messages; the
// bot drives it through a small request/response protocol and receives
// pushed events (pairing, chat text, transaction notifications) which are
// republished on the event dispatcher. One Client implements every
// collaborator interface in internal/ledger.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mbd888/stakebot/internal/events"
	"github.com/mbd888/stakebot/internal/ledger"
	"github.com/mbd888/stakebot/internal/metrics"
	"github.com/mbd888/stakebot/internal/retry"
)

const (
	writeTimeout   = 10 * time.Second
	callTimeout    = 30 * time.Second
	reconnectBase  = time.Second
	reconnectTries = 5
)

// RequestError wraps a failed node call with its method and request id.
type RequestError struct {
	Method string
	ID     string
	Err    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("node: %s failed (id %s): %v", e.Method, e.ID, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Wire frames. A frame with a method is a request, with an id and no method
// a response, with an event name a push from the node.
type frame struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type wireError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Node-side error codes with bot-side meaning.
const codeMalformedSignedMessage = "malformed_signed_message"

// Client is a websocket session to the wallet node.
type Client struct {
	url        string
	dispatcher *events.Dispatcher
	logger     *slog.Logger

	conn      *websocket.Conn
	writeMu   sync.Mutex
	connected atomic.Bool

	pending   map[string]chan frame
	pendingMu sync.Mutex

	stop chan struct{}
	done chan struct{}
}

// New creates a node client. Run must be called before any request.
func New(url string, dispatcher *events.Dispatcher, logger *slog.Logger) *Client {
	return &Client{
		url:        url,
		dispatcher: dispatcher,
		logger:     logger,
		pending:    make(map[string]chan frame),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Connected reports whether the websocket session is up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run maintains the websocket session until ctx is cancelled, reconnecting
// with backoff after connection loss. Call in a goroutine.
func (c *Client) Run(ctx context.Context) {
	defer close(c.done)

	// Stop must also interrupt a dial or backoff sleep in progress, not
	// just the top of the loop.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		default:
		}

		if err := c.connect(ctx); err != nil {
			c.logger.Error("node connection failed", "url", c.url, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectBase):
			}
			continue
		}

		c.readLoop(ctx)

		c.connected.Store(false)
		metrics.NodeConnected.Set(0)
		c.failPending(ledger.ErrNotConnected)
		c.logger.Warn("node connection lost, reconnecting", "url", c.url)
	}
}

// Stop tears down the session.
func (c *Client) Stop() {
	close(c.stop)
	c.writeMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.writeMu.Unlock()
	<-c.done
}

func (c *Client) connect(ctx context.Context) error {
	return retry.Do(ctx, reconnectTries, reconnectBase, func() error {
		dialCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()

		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", c.url, err)
		}

		c.writeMu.Lock()
		c.conn = conn
		c.writeMu.Unlock()
		c.connected.Store(true)
		metrics.NodeConnected.Set(1)
		c.logger.Info("connected to wallet node", "url", c.url)
		return nil
	})
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Error("node read error", "error", err)
			}
			return
		}

		switch {
		case f.Event != "":
			c.publishEvent(f)
		case f.ID != "":
			c.resolve(f)
		default:
			c.logger.Warn("dropping unroutable node frame")
		}
	}
}

func (c *Client) resolve(f frame) {
	c.pendingMu.Lock()
	ch, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Warn("response for unknown request", "id", f.ID)
		return
	}
	ch <- f
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for id, ch := range c.pending {
		ch <- frame{ID: id, Error: &wireError{Message: err.Error()}}
		delete(c.pending, id)
	}
}

// call performs one request/response round trip.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	if !c.connected.Load() {
		return &RequestError{Method: method, Err: ledger.ErrNotConnected}
	}

	id := uuid.NewString()
	req := frame{ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return &RequestError{Method: method, ID: id, Err: err}
		}
		req.Params = raw
	}

	ch := make(chan frame, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.write(req); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return &RequestError{Method: method, ID: id, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return &RequestError{Method: method, ID: id, Err: ctx.Err()}
	case resp := <-ch:
		if resp.Error != nil {
			return &RequestError{Method: method, ID: id, Err: wireErrorToErr(resp.Error)}
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return &RequestError{Method: method, ID: id, Err: err}
			}
		}
		return nil
	}
}

func wireErrorToErr(we *wireError) error {
	if we.Code == codeMalformedSignedMessage {
		return fmt.Errorf("%w: %s", ledger.ErrMalformedProof, we.Message)
	}
	return errors.New(we.Message)
}

func (c *Client) write(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil {
		return ledger.ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(f)
}
