// Package memory provides an in-process transport used for demo mode and
// tests. Connections are scripted: the owner pushes events through the
// returned connection and records what was sent.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/darckarchie/whalix-server/internal/transport"
)

// ErrClosed is returned by Send after the connection is closed.
var ErrClosed = errors.New("memory transport: connection closed")

// Transport hands out Conn instances keyed by tenant and keeps them
// reachable for scripting.
type Transport struct {
	mu    sync.Mutex
	conns map[string]*Conn

	// DialErr, when set, is returned by every Dial call.
	DialErr error
	// SendErr, when set, is returned by every Send on new connections.
	SendErr error
	// AutoQR, when non-empty, is emitted as a QREvent right after Dial.
	AutoQR string
}

// New constructs an empty in-memory transport.
func New() *Transport {
	return &Transport{conns: make(map[string]*Conn)}
}

// Dial creates (or replaces) the tenant's scripted connection.
func (t *Transport) Dial(ctx context.Context, tenantID string) (transport.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.DialErr != nil {
		return nil, t.DialErr
	}
	c := &Conn{
		events:  make(chan transport.Event, 32),
		sendErr: t.SendErr,
	}
	t.conns[tenantID] = c
	if t.AutoQR != "" {
		c.events <- transport.QREvent{Code: t.AutoQR}
	}
	return c, nil
}

// Conn returns the live scripted connection for a tenant, or nil.
func (t *Transport) Conn(tenantID string) *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[tenantID]
}

// Conn is a scripted in-memory connection.
type Conn struct {
	mu      sync.Mutex
	events  chan transport.Event
	closed  bool
	sendErr error

	// Sent records every successful Send as "to|text".
	Sent []string
	// LoggedOut is set when Logout was called.
	LoggedOut bool
}

// Events implements transport.Conn.
func (c *Conn) Events() <-chan transport.Event { return c.events }

// Send implements transport.Conn.
func (c *Conn) Send(ctx context.Context, to, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.Sent = append(c.Sent, to+"|"+text)
	return nil
}

// Logout implements transport.Conn.
func (c *Conn) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.LoggedOut = true
	c.mu.Unlock()
	return c.Close()
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// Push emits an event on the connection; it is a no-op after Close.
func (c *Conn) Push(ev transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

// SetSendErr makes subsequent Send calls fail with err.
func (c *Conn) SetSendErr(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
