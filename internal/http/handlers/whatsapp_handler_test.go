package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/darckarchie/whalix-server/internal/dispatch"
	"github.com/darckarchie/whalix-server/internal/domain"
	"github.com/darckarchie/whalix-server/internal/http/middleware"
	"github.com/darckarchie/whalix-server/internal/repo"
	"github.com/darckarchie/whalix-server/internal/session"
	"github.com/darckarchie/whalix-server/internal/transport"
	"github.com/darckarchie/whalix-server/internal/transport/memory"
)

// ---------- test DB ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// ---------- fakes ----------

type fakeSessions struct {
	connectSess   *domain.Session
	connectErr    error
	disconnectErr error
	statusSess    *domain.Session
	statusErr     error
	conn          transport.Conn
	connErr       error

	disconnected []string
}

func (f *fakeSessions) Connect(ctx context.Context, tenantID string) (*domain.Session, error) {
	return f.connectSess, f.connectErr
}

func (f *fakeSessions) Disconnect(ctx context.Context, tenantID string) error {
	if f.disconnectErr == nil {
		f.disconnected = append(f.disconnected, tenantID)
	}
	return f.disconnectErr
}

func (f *fakeSessions) Status(ctx context.Context, tenantID string) (*domain.Session, error) {
	return f.statusSess, f.statusErr
}

func (f *fakeSessions) Conn(tenantID string) (transport.Conn, error) {
	return f.conn, f.connErr
}

type fakeSender struct {
	reqs []dispatch.Request
	err  error
}

func (f *fakeSender) Dispatch(ctx context.Context, conn transport.Conn, req dispatch.Request) (*domain.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.reqs = append(f.reqs, req)
	return &domain.Message{ID: uuid.NewString(), Body: req.Text}, nil
}

// ---------- router setup ----------

func newTestRouter(t *testing.T, db *gorm.DB, sessions SessionManager, sender MessageSender, lookup middleware.IdempotencyLookup) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, lookup))

	h := New(sessions, sender, db, time.Hour)
	r.POST("/api/whatsapp/connect/:tenant_id", h.Connect)
	r.POST("/api/whatsapp/disconnect/:tenant_id", h.Disconnect)
	r.GET("/api/whatsapp/status/:tenant_id", h.Status)
	r.POST("/api/whatsapp/send/:tenant_id", h.Send)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func liveConn(t *testing.T) transport.Conn {
	t.Helper()
	tr := memory.New()
	conn, err := tr.Dial(context.Background(), "t1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

// ---------- Connect ----------

func TestConnect_ReturnsPairingState(t *testing.T) {
	fs := &fakeSessions{connectSess: &domain.Session{
		Status: domain.StatusQRPending,
		QRCode: "qr-payload",
	}}
	r := newTestRouter(t, newHandlerDB(t), fs, &fakeSender{}, nil)

	w := doJSON(t, r, http.MethodPost, "/api/whatsapp/connect/t1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", w.Code, w.Body.String())
	}
	var resp ConnectResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "qr_pending" || resp.QR != "qr-payload" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestConnect_TransportFailure(t *testing.T) {
	fs := &fakeSessions{connectErr: errors.New("socket refused")}
	r := newTestRouter(t, newHandlerDB(t), fs, &fakeSender{}, nil)

	w := doJSON(t, r, http.MethodPost, "/api/whatsapp/connect/t1", nil, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d; want 502", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != ErrCodeConnectFailed {
		t.Fatalf("code = %q", resp.Code)
	}
}

// ---------- Disconnect ----------

func TestDisconnect_OK(t *testing.T) {
	fs := &fakeSessions{}
	r := newTestRouter(t, newHandlerDB(t), fs, &fakeSender{}, nil)

	w := doJSON(t, r, http.MethodPost, "/api/whatsapp/disconnect/t1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(fs.disconnected) != 1 || fs.disconnected[0] != "t1" {
		t.Fatalf("disconnect calls: %v", fs.disconnected)
	}
}

func TestDisconnect_UnknownSession(t *testing.T) {
	fs := &fakeSessions{disconnectErr: session.ErrSessionNotFound}
	r := newTestRouter(t, newHandlerDB(t), fs, &fakeSender{}, nil)

	w := doJSON(t, r, http.MethodPost, "/api/whatsapp/disconnect/ghost", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d; want 404", w.Code)
	}
}

// ---------- Status ----------

func TestStatus_Payload(t *testing.T) {
	now := time.Now().UTC()
	fs := &fakeSessions{statusSess: &domain.Session{
		Status:          domain.StatusConnected,
		PhoneNumber:     "+225123456789",
		MessageCount:    7,
		LastConnectedAt: &now,
	}}
	r := newTestRouter(t, newHandlerDB(t), fs, &fakeSender{}, nil)

	w := doJSON(t, r, http.MethodGet, "/api/whatsapp/status/t1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "connected" || resp.HasQR || resp.PhoneNumber != "+225123456789" || resp.MessageCount != 7 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.LastConnected == nil {
		t.Fatalf("lastConnected missing")
	}
}

func TestStatus_QRPending(t *testing.T) {
	fs := &fakeSessions{statusSess: &domain.Session{
		Status: domain.StatusQRPending,
		QRCode: "qr-1",
	}}
	r := newTestRouter(t, newHandlerDB(t), fs, &fakeSender{}, nil)

	w := doJSON(t, r, http.MethodGet, "/api/whatsapp/status/t1", nil, nil)
	var resp StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.HasQR || resp.QR != "qr-1" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestStatus_UnknownSession(t *testing.T) {
	fs := &fakeSessions{statusErr: session.ErrSessionNotFound}
	r := newTestRouter(t, newHandlerDB(t), fs, &fakeSender{}, nil)

	w := doJSON(t, r, http.MethodGet, "/api/whatsapp/status/ghost", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d; want 404", w.Code)
	}
}

// ---------- Send ----------

func TestSend_NormalizesPhoneAndDispatches(t *testing.T) {
	db := newHandlerDB(t)
	fs := &fakeSessions{
		conn:       liveConn(t),
		statusSess: &domain.Session{PhoneNumber: "+225123456789"},
	}
	snd := &fakeSender{}
	r := newTestRouter(t, db, fs, snd, nil)

	w := doJSON(t, r, http.MethodPost, "/api/whatsapp/send/t1", gin.H{
		"to":      "07 00 00 00 01",
		"message": "  votre commande est prête  ",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", w.Code, w.Body.String())
	}

	if len(snd.reqs) != 1 {
		t.Fatalf("dispatches: %d", len(snd.reqs))
	}
	req := snd.reqs[0]
	if req.To != "+225700000001" {
		t.Fatalf("to = %q; want normalized E.164", req.To)
	}
	if req.Text != "votre commande est prête" {
		t.Fatalf("text = %q", req.Text)
	}
	if !req.Immediate || req.InboundID != "" {
		t.Fatalf("operator send flags: %+v", req)
	}
	if req.FromPhone != "+225123456789" {
		t.Fatalf("fromPhone = %q", req.FromPhone)
	}

	// The customer thread exists afterwards.
	convs, err := repo.ListConversationsPage(context.Background(), db, "t1", 0, 10)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].CustomerPhone != "+225700000001" {
		t.Fatalf("conversations = %+v", convs)
	}
	if req.ConversationID != convs[0].ID {
		t.Fatalf("conversationID = %q; want %q", req.ConversationID, convs[0].ID)
	}
}

func TestSend_InvalidBody(t *testing.T) {
	r := newTestRouter(t, newHandlerDB(t), &fakeSessions{}, &fakeSender{}, nil)

	// Missing required fields.
	w := doJSON(t, r, http.MethodPost, "/api/whatsapp/send/t1", gin.H{"to": "0700000001"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", w.Code)
	}

	// Whitespace-only message.
	w = doJSON(t, r, http.MethodPost, "/api/whatsapp/send/t1", gin.H{"to": "0700000001", "message": "  "}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", w.Code)
	}
}

func TestSend_InvalidPhone(t *testing.T) {
	r := newTestRouter(t, newHandlerDB(t), &fakeSessions{}, &fakeSender{}, nil)

	w := doJSON(t, r, http.MethodPost, "/api/whatsapp/send/t1", gin.H{
		"to":      "12345",
		"message": "bonjour",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != ErrCodeInvalidPhone {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestSend_NotConnected(t *testing.T) {
	fs := &fakeSessions{connErr: session.ErrNotConnected}
	snd := &fakeSender{}
	r := newTestRouter(t, newHandlerDB(t), fs, snd, nil)

	w := doJSON(t, r, http.MethodPost, "/api/whatsapp/send/t1", gin.H{
		"to":      "0700000001",
		"message": "bonjour",
	}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d; want 409", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != ErrCodeNotConnected {
		t.Fatalf("code = %q", resp.Code)
	}
	if len(snd.reqs) != 0 {
		t.Fatalf("dispatched without a connection")
	}
}

func TestSend_TransportFailure(t *testing.T) {
	fs := &fakeSessions{conn: liveConn(t), statusSess: &domain.Session{}}
	snd := &fakeSender{err: errors.New("socket reset")}
	r := newTestRouter(t, newHandlerDB(t), fs, snd, nil)

	w := doJSON(t, r, http.MethodPost, "/api/whatsapp/send/t1", gin.H{
		"to":      "0700000001",
		"message": "bonjour",
	}, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d; want 502", w.Code)
	}
}

func TestSend_IdempotentRetry(t *testing.T) {
	db := newHandlerDB(t)
	fs := &fakeSessions{conn: liveConn(t), statusSess: &domain.Session{PhoneNumber: "+225123456789"}}
	snd := &fakeSender{}

	lookup := func(ctx context.Context, tenantID, key string, now time.Time) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, tenantID, key, now)
		return err == nil && rec != nil, nil
	}
	r := newTestRouter(t, db, fs, snd, lookup)

	hdr := map[string]string{middleware.HeaderIdempotencyKey: "op-123"}
	body := gin.H{"to": "0700000001", "message": "bonjour"}

	w := doJSON(t, r, http.MethodPost, "/api/whatsapp/send/t1", body, hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("first send: %d; body = %s", w.Code, w.Body.String())
	}
	if len(snd.reqs) != 1 {
		t.Fatalf("first send dispatches: %d", len(snd.reqs))
	}

	// The retry acknowledges without reaching the transport again.
	w = doJSON(t, r, http.MethodPost, "/api/whatsapp/send/t1", body, hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("retry: %d", w.Code)
	}
	if len(snd.reqs) != 1 {
		t.Fatalf("retry dispatched a second message")
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["replay"] != "true" {
		t.Fatalf("replay marker missing: %v", resp)
	}
}
