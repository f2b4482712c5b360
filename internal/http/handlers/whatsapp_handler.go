// WhatsApp session HTTP handlers.
//
// This file exposes the session lifecycle endpoints:
//   - POST /whatsapp/connect/{tenant_id}     (start or resume pairing)
//   - POST /whatsapp/disconnect/{tenant_id}  (logout and tear down)
//   - GET  /whatsapp/status/{tenant_id}      (current pairing state)
//   - POST /whatsapp/send/{tenant_id}        (manual operator send)
//
// Handlers are transport-thin: they validate input, call the session
// registry and dispatcher, and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/darckarchie/whalix-server/internal/dispatch"
	"github.com/darckarchie/whalix-server/internal/domain"
	"github.com/darckarchie/whalix-server/internal/http/middleware"
	"github.com/darckarchie/whalix-server/internal/phone"
	"github.com/darckarchie/whalix-server/internal/repo"
	"github.com/darckarchie/whalix-server/internal/session"
	"github.com/darckarchie/whalix-server/internal/transport"
)

//
// Service contracts (context-aware)
//

// SessionManager defines the session lifecycle operations consumed by the
// HTTP handlers. Implemented by session.Registry.
type SessionManager interface {
	// Connect starts (or resumes) the tenant's pairing.
	Connect(ctx context.Context, tenantID string) (*domain.Session, error)
	// Disconnect logs out and tears down the tenant's session.
	Disconnect(ctx context.Context, tenantID string) error
	// Status returns the tenant's durable session row.
	Status(ctx context.Context, tenantID string) (*domain.Session, error)
	// Conn returns the live connection for manual sends.
	Conn(tenantID string) (transport.Conn, error)
}

// MessageSender delivers outbound messages. Implemented by
// dispatch.Dispatcher.
type MessageSender interface {
	Dispatch(ctx context.Context, conn transport.Conn, req dispatch.Request) (*domain.Message, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for sessions, messaging, the
// knowledge base, conversations, and the activity feed.
type Handlers struct {
	sessions SessionManager
	sender   MessageSender
	db       *gorm.DB
	idemTTL  time.Duration
}

// New constructs a Handlers instance bound to the given collaborators.
func New(sessions SessionManager, sender MessageSender, db *gorm.DB, idemTTL time.Duration) *Handlers {
	return &Handlers{sessions: sessions, sender: sender, db: db, idemTTL: idemTTL}
}

//
// DTOs
//

// ConnectRequest is the optional JSON payload for the connect endpoint.
type ConnectRequest struct {
	// WebhookURL is accepted for forward compatibility; delivery webhooks
	// are not dispatched yet.
	WebhookURL string `json:"webhookUrl"`
}

// ConnectResponse reports the pairing state right after a connect call.
type ConnectResponse struct {
	Status      string `json:"status"`
	QR          string `json:"qr,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// StatusResponse is the session status payload.
type StatusResponse struct {
	Status        string     `json:"status"`
	HasQR         bool       `json:"hasQR"`
	QR            string     `json:"qr,omitempty"`
	PhoneNumber   string     `json:"phoneNumber,omitempty"`
	LastConnected *time.Time `json:"lastConnected,omitempty"`
	MessageCount  int64      `json:"messageCount"`
	LastError     string     `json:"lastError,omitempty"`
}

// SendRequest is the JSON payload for the manual send endpoint.
type SendRequest struct {
	// To is the destination phone, local 10-digit or E.164 +225 form.
	To string `json:"to" binding:"required"`
	// Message is the text to deliver.
	Message string `json:"message" binding:"required"`
}

//
// Handlers
//

// Connect godoc
// @Summary  Start or resume the WhatsApp pairing for a tenant
// @Tags     WhatsApp
// @Produce  json
// @Param    tenant_id  path  string  true  "Tenant ID"
// @Success  200  {object}  handlers.ConnectResponse
// @Router   /whatsapp/connect/{tenant_id} [post]
func (h *Handlers) Connect(c *gin.Context) {
	tenantID := c.Param("tenant_id")

	// Body is optional; a webhook URL is accepted but not yet used.
	var req ConnectRequest
	_ = c.ShouldBindJSON(&req)

	sess, err := h.sessions.Connect(c.Request.Context(), tenantID)
	if err != nil {
		fail(c, http.StatusBadGateway, ErrCodeConnectFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ConnectResponse{
		Status:      string(sess.Status),
		QR:          sess.QRCode,
		PhoneNumber: sess.PhoneNumber,
	})
}

// Disconnect godoc
// @Summary  Log out and tear down the tenant's session
// @Tags     WhatsApp
// @Produce  json
// @Param    tenant_id  path  string  true  "Tenant ID"
// @Success  200  {object}  map[string]string
// @Router   /whatsapp/disconnect/{tenant_id} [post]
func (h *Handlers) Disconnect(c *gin.Context) {
	tenantID := c.Param("tenant_id")

	err := h.sessions.Disconnect(c.Request.Context(), tenantID)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"status": "disconnected"})
}

// Status godoc
// @Summary  Current pairing state for a tenant
// @Tags     WhatsApp
// @Produce  json
// @Param    tenant_id  path  string  true  "Tenant ID"
// @Success  200  {object}  handlers.StatusResponse
// @Router   /whatsapp/status/{tenant_id} [get]
func (h *Handlers) Status(c *gin.Context) {
	tenantID := c.Param("tenant_id")

	sess, err := h.sessions.Status(c.Request.Context(), tenantID)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, StatusResponse{
		Status:        string(sess.Status),
		HasQR:         sess.QRCode != "",
		QR:            sess.QRCode,
		PhoneNumber:   sess.PhoneNumber,
		LastConnected: sess.LastConnectedAt,
		MessageCount:  sess.MessageCount,
		LastError:     sess.LastError,
	})
}

// Send godoc
// @Summary  Send a text message through the tenant's session
// @Tags     WhatsApp
// @Accept   json
// @Produce  json
// @Param    tenant_id        path    string  true   "Tenant ID"
// @Param    Idempotency-Key  header  string  false  "Safe-retry key"
// @Param    body             body    handlers.SendRequest  true  "Send payload"
// @Success  200  {object}  map[string]string
// @Router   /whatsapp/send/{tenant_id} [post]
func (h *Handlers) Send(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := c.Param("tenant_id")

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message must not be empty")
		return
	}

	to := strings.TrimSpace(req.To)
	if !phone.IsE164CI(to) {
		normalized, err := phone.NormalizeCI(to)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeInvalidPhone, err.Error())
			return
		}
		to = normalized
	}

	// Replay of an already-completed send: acknowledge without dispatching
	// a second message.
	if middleware.IsReplay(c) {
		ok(c, http.StatusOK, gin.H{"status": "sent", "replay": "true"})
		return
	}

	conn, err := h.sessions.Conn(tenantID)
	if err != nil {
		fail(c, http.StatusConflict, ErrCodeNotConnected, "whatsapp session not connected")
		return
	}

	conv, err := repo.GetOrCreateConversation(ctx, h.db, tenantID, to, "")
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	sess, _ := h.sessions.Status(ctx, tenantID)
	fromPhone := ""
	if sess != nil {
		fromPhone = sess.PhoneNumber
	}

	out, err := h.sender.Dispatch(ctx, conn, dispatch.Request{
		TenantID:       tenantID,
		ConversationID: conv.ID,
		FromPhone:      fromPhone,
		To:             to,
		Text:           text,
		Immediate:      true,
	})
	if err != nil {
		fail(c, http.StatusBadGateway, ErrCodeSendFailed, err.Error())
		return
	}

	if key, present := middleware.GetIdempotencyKey(c); present {
		if _, err := repo.CreateIdempotency(ctx, h.db, tenantID, key, out.ID, http.StatusOK, h.idemTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record failed")
		}
	}

	ok(c, http.StatusOK, gin.H{"status": "sent"})
}
