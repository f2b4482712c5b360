// Package domain defines the persistence models for tenants, WhatsApp
// sessions, conversations, messages, knowledge-base items, and the
// append-only event log. These types are mapped with GORM and form the
// core data layer of the Whalix session server.
package domain

import (
	"time"
)

// SessionStatus enumerates the lifecycle states of a WhatsApp pairing.
type SessionStatus string

// Session lifecycle states. A session enters Connecting on an explicit
// connect request and can re-enter it from Disconnected or Error.
const (
	StatusIdle         SessionStatus = "idle"
	StatusConnecting   SessionStatus = "connecting"
	StatusQRPending    SessionStatus = "qr_pending"
	StatusConnected    SessionStatus = "connected"
	StatusDisconnected SessionStatus = "disconnected"
	StatusError        SessionStatus = "error"
)

// Terminal reports whether the status is one an operator must explicitly
// reconnect from.
func (s SessionStatus) Terminal() bool {
	return s == StatusDisconnected || s == StatusError
}

// Message direction values.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message resolution states. Inbound messages start as waiting and advance
// to ai_replied only after the reply is actually dispatched; a failed send
// leaves the message waiting for a human operator.
const (
	MessageWaiting      = "waiting"
	MessageAIReplied    = "ai_replied"
	MessageHumanReplied = "human_replied"
)

// EventType labels rows in the append-only event log.
type EventType string

// Event log types.
const (
	EventQRGenerated      EventType = "qr_generated"
	EventQRScanned        EventType = "qr_scanned"
	EventSessionCreated   EventType = "session_created"
	EventConnectionOpen   EventType = "connection_open"
	EventConnectionClosed EventType = "connection_closed"
	EventMessageReceived  EventType = "message_received"
	EventMessageSent      EventType = "message_sent"
	EventMessageFailed    EventType = "message_failed"
	EventIntentDetected   EventType = "intent_detected"
	EventUserLogin        EventType = "user_login"
	EventUserLogout       EventType = "user_logout"
)

// Tenant represents one subscribing business. It is the unit of session
// and data isolation: every session, conversation, message, KB item, and
// event is scoped to a tenant.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Name: display name of the business.
//   - Sector: coarse business sector (restaurant, commerce, services, hospitality).
//   - Phone: E.164 WhatsApp number (+225XXXXXXXXX), unique.
//   - Currency: currency code used in replies (reference data uses FCFA).
type Tenant struct {
	ID        string    `json:"id"       gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"     gorm:"type:varchar(255);not null"`
	Sector    string    `json:"sector"   gorm:"type:varchar(32);not null;default:'restaurant'"`
	Phone     string    `json:"phone"    gorm:"type:varchar(16);not null;uniqueIndex:ux_tenant_phone"`
	Currency  string    `json:"currency" gorm:"type:varchar(8);not null;default:'FCFA'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Tenant.
func (Tenant) TableName() string { return "tenants" }

// Session is the durable record of one WhatsApp pairing, one row per
// tenant (enforced by unique index). Sessions are never hard-deleted;
// teardown marks them disconnected.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - TenantID: owning tenant; unique, at most one session per tenant.
//   - Status: lifecycle state, see SessionStatus.
//   - QRCode: opaque pairing payload; non-empty only while qr_pending.
//   - PhoneNumber: connected WhatsApp number; set once connected.
//   - WaDeviceID: transport device identifier (JID) for resuming pairings.
//   - LastError: message of the most recent failure, kept for display.
//   - MessageCount: inbound messages handled over the session lifetime.
//   - LastSeenAt: refreshed on every state transition (write-through).
//   - LastConnectedAt: set when the pairing last reached connected.
type Session struct {
	ID              string        `json:"id"           gorm:"type:char(36);primaryKey"`
	TenantID        string        `json:"tenant_id"    gorm:"type:char(36);not null;uniqueIndex:ux_session_tenant"`
	Status          SessionStatus `json:"status"       gorm:"type:varchar(16);not null;default:'idle'"`
	QRCode          string        `json:"qr_code,omitempty"      gorm:"type:text"`
	PhoneNumber     string        `json:"phone_number,omitempty" gorm:"type:varchar(32)"`
	WaDeviceID      string        `json:"wa_device_id,omitempty" gorm:"type:varchar(64)"`
	LastError       string        `json:"last_error,omitempty"   gorm:"type:text"`
	MessageCount    int64         `json:"message_count" gorm:"not null;default:0"`
	LastSeenAt      time.Time     `json:"last_seen_at"`
	LastConnectedAt *time.Time    `json:"last_connected_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "whatsapp_sessions" }

// Conversation groups the messages exchanged with one customer phone
// number per tenant.
type Conversation struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	TenantID      string    `json:"tenant_id"      gorm:"type:char(36);not null;uniqueIndex:ux_conv_tenant_phone,priority:1"`
	CustomerPhone string    `json:"customer_phone" gorm:"type:varchar(32);not null;uniqueIndex:ux_conv_tenant_phone,priority:2"`
	CustomerName  string    `json:"customer_name"  gorm:"type:varchar(128)"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message represents a single inbound or outbound WhatsApp message.
//
// Idempotent ingestion is enforced at the schema level: the external
// message identifier is unique per tenant, so replaying the same
// transport event cannot double-count or double-reply.
//
// Fields:
//   - WaMsgID: external message identifier (unique per tenant).
//   - Direction: inbound or outbound.
//   - Intent: HIGH/MEDIUM/LOW urgency bucket, nil until classified.
//   - Topic: topical bucket used to select the reply template.
//   - AIGenerated / AIConfidence: set on auto-generated outbound replies.
//   - Status: waiting | ai_replied | human_replied (inbound resolution).
type Message struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	TenantID       string    `json:"tenant_id"       gorm:"type:char(36);not null;uniqueIndex:ux_msg_tenant_waid,priority:1"`
	ConversationID string    `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conv_msgs,priority:1"`
	WaMsgID        string    `json:"wa_msg_id"       gorm:"type:varchar(128);not null;uniqueIndex:ux_msg_tenant_waid,priority:2"`
	Direction      string    `json:"direction"       gorm:"type:varchar(16);not null;check:direction IN ('inbound','outbound')"`
	FromPhone      string    `json:"from_phone"      gorm:"type:varchar(32);not null"`
	ToPhone        string    `json:"to_phone"        gorm:"type:varchar(32)"`
	Body           string    `json:"body"            gorm:"type:text;not null"`
	Intent         *string   `json:"intent,omitempty" gorm:"type:varchar(16)"`
	Topic          *string   `json:"topic,omitempty"  gorm:"type:varchar(16)"`
	AIGenerated    bool      `json:"ai_generated"    gorm:"not null;default:false"`
	AIConfidence   *float64  `json:"ai_confidence,omitempty"`
	Status         string    `json:"status"          gorm:"type:varchar(16);not null;default:'waiting'"`
	CreatedAt      time.Time `json:"created_at"      gorm:"index:idx_conv_msgs,priority:2"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// KBItem is a priced, named catalog entry (dish, product, service, offer)
// a tenant manages for the assistant to reference. The response generator
// treats the list as read-only input.
type KBItem struct {
	ID           string    `json:"id"           gorm:"type:char(36);primaryKey"`
	TenantID     string    `json:"tenant_id"    gorm:"type:char(36);not null;index:idx_kb_tenant"`
	Type         string    `json:"type"         gorm:"type:varchar(16);not null;default:'product'"`
	Name         string    `json:"name"         gorm:"type:varchar(255);not null"`
	Price        int64     `json:"price"        gorm:"not null"`
	Currency     string    `json:"currency"     gorm:"type:varchar(8);not null;default:'FCFA'"`
	Availability bool      `json:"availability" gorm:"not null;default:true"`
	Stock        *int      `json:"stock,omitempty"`
	Tags         []string  `json:"tags"         gorm:"serializer:json"`
	Description  string    `json:"description"  gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for KBItem.
func (KBItem) TableName() string { return "kb_items" }

// Event is one append-only audit/analytics log row. Events are never
// mutated or deleted.
type Event struct {
	ID             string         `json:"id"        gorm:"type:char(36);primaryKey"`
	TenantID       string         `json:"tenant_id" gorm:"type:char(36);not null;index:idx_events_tenant,priority:1"`
	UserID         *string        `json:"user_id,omitempty"         gorm:"type:char(36)"`
	ConversationID *string        `json:"conversation_id,omitempty" gorm:"type:char(36)"`
	Type           EventType      `json:"type"      gorm:"type:varchar(32);not null"`
	Payload        map[string]any `json:"payload"   gorm:"serializer:json"`
	CreatedAt      time.Time      `json:"created_at" gorm:"index:idx_events_tenant,priority:2"`
}

// TableName returns the database table name for Event.
func (Event) TableName() string { return "events" }
