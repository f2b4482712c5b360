// Package wmeow backs the transport abstraction with whatsmeow, the Go
// multi-device WhatsApp library. Device credentials live in a sqlstore
// container that shares the application's database handle, so pairings
// survive restarts without a second data file.
//
// One whatsmeow client is created per tenant connection and never shared:
// the tenant's stored device JID selects the persisted device, otherwise a
// fresh device is provisioned and the pairing QR flow starts.
package wmeow

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/darckarchie/whalix-server/internal/transport"
)

// DeviceResolver reports the stored device JID for a tenant, if any.
// The session layer persists it on wa_device_id after the first pairing.
type DeviceResolver func(tenantID string) string

// Transport implements transport.Transport over a shared sqlstore
// container.
type Transport struct {
	container *sqlstore.Container
	resolve   DeviceResolver
}

// New wraps an existing database handle in a whatsmeow sqlstore container
// and runs its schema upgrade. driver is "sqlite3" or "postgres".
func New(ctx context.Context, sqlDB *sql.DB, driver string, resolve DeviceResolver) (*Transport, error) {
	container := sqlstore.NewWithDB(sqlDB, driver, nil)
	if err := container.Upgrade(ctx); err != nil {
		return nil, err
	}
	if resolve == nil {
		resolve = func(string) string { return "" }
	}
	return &Transport{container: container, resolve: resolve}, nil
}

// Dial implements transport.Transport. It resumes the tenant's stored
// device when one exists, otherwise provisions a new one and emits QR
// events until the pairing is authorized.
func (t *Transport) Dial(ctx context.Context, tenantID string) (transport.Conn, error) {
	device, err := t.deviceFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	client := whatsmeow.NewClient(device, nil)
	conn := &conn{
		client: client,
		events: make(chan transport.Event, 64),
	}
	client.AddEventHandler(conn.handleEvent)

	// A device without a stored JID has never been paired: the QR channel
	// must be requested before Connect.
	if client.Store.ID == nil {
		qrCh, err := client.GetQRChannel(ctx)
		if err != nil {
			return nil, err
		}
		go conn.pumpQR(qrCh)
	}

	if err := client.Connect(); err != nil {
		return nil, err
	}
	return conn, nil
}

// deviceFor loads the tenant's persisted device by JID or provisions a
// fresh one.
func (t *Transport) deviceFor(ctx context.Context, tenantID string) (*store.Device, error) {
	if jid := t.resolve(tenantID); jid != "" {
		devices, err := t.container.GetAllDevices(ctx)
		if err != nil {
			return nil, err
		}
		for _, d := range devices {
			if d.ID != nil && d.ID.String() == jid {
				return d, nil
			}
		}
		log.Warn().Str("tenant_id", tenantID).Str("jid", jid).
			Msg("stored whatsapp device not found, provisioning a new one")
	}
	return t.container.NewDevice(), nil
}

// conn adapts one whatsmeow client to transport.Conn.
type conn struct {
	client *whatsmeow.Client

	mu     sync.Mutex
	events chan transport.Event
	closed bool
}

func (c *conn) Events() <-chan transport.Event { return c.events }

// Send delivers a plain text message. Bare phone numbers are addressed to
// the default user server.
func (c *conn) Send(ctx context.Context, to, text string) error {
	jid, err := parseRecipient(to)
	if err != nil {
		return err
	}
	_, err = c.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	return err
}

// Logout unpairs the device remotely and closes the connection.
func (c *conn) Logout(ctx context.Context) error {
	err := c.client.Logout(ctx)
	c.Close()
	return err
}

// Close disconnects without unpairing.
func (c *conn) Close() error {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	if already {
		return nil
	}
	c.client.Disconnect()

	c.mu.Lock()
	close(c.events)
	c.mu.Unlock()
	return nil
}

// emit pushes an event unless the connection is already closed.
func (c *conn) emit(ev transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		// A stalled consumer must not wedge the whatsmeow event loop.
		log.Warn().Msg("whatsmeow transport: event buffer full, dropping event")
	}
}

// pumpQR forwards QR channel items as transport events. Success is left
// to the Connected event; a timeout surfaces as a non-recoverable drop.
func (c *conn) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			c.emit(transport.QREvent{Code: item.Code})
		case "timeout":
			c.emit(transport.DisconnectedEvent{Reason: "pairing timed out", Recoverable: false})
		}
	}
}

// handleEvent translates whatsmeow events into transport events.
// Un-mapped close reasons are reported non-recoverable (fail safe).
func (c *conn) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		phone, device := "", ""
		if id := c.client.Store.ID; id != nil {
			phone = "+" + id.User
			device = id.String()
		}
		c.emit(transport.ConnectedEvent{PhoneNumber: phone, DeviceID: device})

	case *events.Disconnected:
		c.emit(transport.DisconnectedEvent{Reason: "connection closed", Recoverable: true})

	case *events.LoggedOut:
		c.emit(transport.DisconnectedEvent{Reason: "logged out from phone", Recoverable: false})

	case *events.StreamReplaced:
		c.emit(transport.DisconnectedEvent{Reason: "stream replaced by another client", Recoverable: false})

	case *events.Message:
		if e.Info.IsFromMe {
			return
		}
		body := extractText(e.Message)
		if body == "" {
			return
		}
		c.emit(transport.MessageEvent{
			ID:        e.Info.ID,
			FromPhone: "+" + e.Info.Sender.User,
			PushName:  e.Info.PushName,
			Body:      body,
			Timestamp: e.Info.Timestamp,
		})
	}
}

// extractText pulls the plain text out of the message payload variants.
func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if t := msg.GetConversation(); t != "" {
		return t
	}
	return msg.GetExtendedTextMessage().GetText()
}

// parseRecipient turns "+2250102030405" or a full JID string into a
// types.JID.
func parseRecipient(to string) (waTypes.JID, error) {
	if strings.ContainsRune(to, '@') {
		return waTypes.ParseJID(to)
	}
	user := strings.TrimPrefix(strings.TrimSpace(to), "+")
	return waTypes.NewJID(user, waTypes.DefaultUserServer), nil
}
