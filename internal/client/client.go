// Package client is a small signaling client used by relayctl and tests.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"babel/relay/internal/signaling"
)

var ErrClosed = errors.New("client closed")

// Conn is one signaling session seen from the client side.
type Conn struct {
	ws     *websocket.Conn
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	// Incoming frames after the greeting; closed when the read loop exits.
	in chan signaling.Envelope

	mu  sync.Mutex
	err error
}

// Dial connects to url and waits for the connected greeting.
func Dial(ctx context.Context, url string) (*Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(dctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	ws.SetReadLimit(1 << 20)

	var hello signaling.Envelope
	if err := wsjson.Read(dctx, ws, &hello); err != nil {
		_ = ws.Close(websocket.StatusProtocolError, "no greeting")
		return nil, fmt.Errorf("read greeting: %w", err)
	}
	var c signaling.Connected
	if hello.Type != signaling.KindConnected || json.Unmarshal(hello.Payload, &c) != nil || c.UserID == "" {
		_ = ws.Close(websocket.StatusProtocolError, "bad greeting")
		return nil, fmt.Errorf("unexpected greeting %q", hello.Type)
	}

	rctx, rcancel := context.WithCancel(context.Background())
	conn := &Conn{
		ws:     ws,
		id:     c.UserID,
		ctx:    rctx,
		cancel: rcancel,
		in:     make(chan signaling.Envelope, 64),
	}
	go conn.readLoop()
	return conn, nil
}

// ID is the session id the server assigned.
func (c *Conn) ID() string { return c.id }

// Incoming yields server frames in arrival order.
func (c *Conn) Incoming() <-chan signaling.Envelope { return c.in }

// Err reports why the read loop stopped, if it has.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send writes one frame. payload is marshalled as-is; a json.RawMessage is
// sent verbatim.
func (c *Conn) Send(ctx context.Context, kind signaling.Kind, payload any) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	env := signaling.Envelope{Type: kind}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", kind, err)
		}
		env.Payload = raw
	}
	return wsjson.Write(ctx, c.ws, env)
}

// Close ends the session.
func (c *Conn) Close() error {
	defer c.cancel()
	return c.ws.Close(websocket.StatusNormalClosure, "bye")
}

func (c *Conn) readLoop() {
	defer close(c.in)
	for {
		var env signaling.Envelope
		if err := wsjson.Read(c.ctx, c.ws, &env); err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}
		select {
		case c.in <- env:
		case <-c.ctx.Done():
			return
		}
	}
}
