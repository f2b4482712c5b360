// Package transport abstracts the external WhatsApp connection.
//
// The session core depends only on the Transport and Conn interfaces and
// on the typed events below, never on a concrete protocol library. This
// replaces the callback-registration pattern of the reference server with
// an event channel, so the whatsmeow adapter, an in-memory double, or a
// future cloud gateway can all back the same state machine.
package transport

import (
	"context"
	"time"
)

// Transport opens per-tenant connections. Implementations must never
// share or reuse a connection across tenants.
type Transport interface {
	// Dial starts (or resumes) the pairing for a tenant and returns its
	// connection. Dial itself does not block until connected; progress is
	// reported on the connection's event channel.
	Dial(ctx context.Context, tenantID string) (Conn, error)
}

// Conn is one tenant's logical WhatsApp connection.
type Conn interface {
	// Events returns the connection's event stream. The channel is closed
	// when the connection is closed; callers own draining it.
	Events() <-chan Event

	// Send delivers a text message to the destination address.
	Send(ctx context.Context, to, text string) error

	// Logout unpairs the device on the remote end and disconnects.
	Logout(ctx context.Context) error

	// Close releases the connection without unpairing.
	Close() error
}

// Event is a marker for transport events. The concrete types below are
// the full set a Conn may emit.
type Event interface{ isTransportEvent() }

// QREvent carries a fresh pairing QR payload.
type QREvent struct {
	Code string
}

// ConnectedEvent reports a successfully authorized session.
type ConnectedEvent struct {
	PhoneNumber string
	DeviceID    string
}

// DisconnectedEvent reports a closed connection. Recoverable indicates
// the drop was not an explicit logout and a redial may succeed; un-mapped
// close reasons must be reported as non-recoverable.
type DisconnectedEvent struct {
	Reason      string
	Recoverable bool
}

// MessageEvent is one inbound customer text message, normalized to the
// canonical record the ingestion pipeline consumes.
type MessageEvent struct {
	ID        string
	FromPhone string
	PushName  string
	Body      string
	Timestamp time.Time
}

func (QREvent) isTransportEvent()           {}
func (ConnectedEvent) isTransportEvent()    {}
func (DisconnectedEvent) isTransportEvent() {}
func (MessageEvent) isTransportEvent()      {}
