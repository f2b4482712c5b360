package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/darckarchie/whalix-server/internal/domain"
	"github.com/darckarchie/whalix-server/internal/transport/memory"
)

// ----- Fake store -----

type outboundCall struct {
	tenantID       string
	conversationID string
	fromPhone      string
	toPhone        string
	body           string
	ai             bool
	confidence     float64
}

type eventCall struct {
	typ     domain.EventType
	payload map[string]any
}

type fakeStore struct {
	mu       sync.Mutex
	outbound []outboundCall
	replied  []string
	events   []eventCall

	outErr     error
	repliedErr error
}

func (s *fakeStore) CreateOutbound(ctx context.Context, db *gorm.DB, tenantID, conversationID, fromPhone, toPhone, body string, ai bool, confidence float64) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outErr != nil {
		return nil, s.outErr
	}
	s.outbound = append(s.outbound, outboundCall{tenantID, conversationID, fromPhone, toPhone, body, ai, confidence})
	return &domain.Message{ID: uuid.NewString(), TenantID: tenantID, Body: body}, nil
}

func (s *fakeStore) MarkReplied(ctx context.Context, db *gorm.DB, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replied = append(s.replied, messageID)
	return s.repliedErr
}

func (s *fakeStore) AppendConversationEvent(ctx context.Context, db *gorm.DB, tenantID, conversationID string, typ domain.EventType, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, eventCall{typ, payload})
	return nil
}

func (s *fakeStore) eventTypes() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.typ)
	}
	return out
}

// ----- helpers -----

func newTestDispatcher(st Store) *Dispatcher {
	// Zero delay bounds keep tests fast.
	return NewDispatcher(nil, st, 0, 0, zerolog.Nop())
}

func newConn(t *testing.T) (*memory.Transport, *memory.Conn) {
	t.Helper()
	tr := memory.New()
	if _, err := tr.Dial(context.Background(), "t1"); err != nil {
		t.Fatalf("dial: %v", err)
	}
	return tr, tr.Conn("t1")
}

func req() Request {
	return Request{
		TenantID:       "t1",
		ConversationID: "c1",
		InboundID:      "m-in",
		FromPhone:      "+225123456789",
		To:             "+225070000001",
		Text:           "voici le menu",
		Confidence:     0.90,
	}
}

// ----- Tests -----

func TestDispatch_AutoReplySuccess(t *testing.T) {
	st := &fakeStore{}
	d := newTestDispatcher(st)
	_, conn := newConn(t)

	out, err := d.Dispatch(context.Background(), conn, req())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out == nil || out.Body != "voici le menu" {
		t.Fatalf("unexpected outbound: %+v", out)
	}

	if len(conn.Sent) != 1 || !strings.HasPrefix(conn.Sent[0], "+225070000001|") {
		t.Fatalf("transport sends: %v", conn.Sent)
	}
	if len(st.outbound) != 1 {
		t.Fatalf("outbound rows: %d", len(st.outbound))
	}
	oc := st.outbound[0]
	if !oc.ai || oc.confidence != 0.90 {
		t.Fatalf("auto-reply not recorded as AI: %+v", oc)
	}
	if len(st.replied) != 1 || st.replied[0] != "m-in" {
		t.Fatalf("inbound not marked replied: %v", st.replied)
	}
	types := st.eventTypes()
	if len(types) != 1 || types[0] != domain.EventMessageSent {
		t.Fatalf("events: %v", types)
	}
}

func TestDispatch_ManualSend(t *testing.T) {
	st := &fakeStore{}
	d := newTestDispatcher(st)
	_, conn := newConn(t)

	r := req()
	r.InboundID = ""
	r.Confidence = 0
	r.Immediate = true

	if _, err := d.Dispatch(context.Background(), conn, r); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if st.outbound[0].ai {
		t.Fatalf("operator send recorded as AI")
	}
	if len(st.replied) != 0 {
		t.Fatalf("manual send must not resolve an inbound: %v", st.replied)
	}
}

func TestDispatch_SendFailureLeavesInboundWaiting(t *testing.T) {
	st := &fakeStore{}
	d := newTestDispatcher(st)
	_, conn := newConn(t)
	conn.SetSendErr(errors.New("socket reset"))

	if _, err := d.Dispatch(context.Background(), conn, req()); err == nil {
		t.Fatalf("expected send error")
	}
	if len(st.outbound) != 0 {
		t.Fatalf("failed send persisted an outbound row")
	}
	if len(st.replied) != 0 {
		t.Fatalf("failed send resolved the inbound: %v", st.replied)
	}
	types := st.eventTypes()
	if len(types) != 1 || types[0] != domain.EventMessageFailed {
		t.Fatalf("events: %v", types)
	}
}

func TestDispatch_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	st := &fakeStore{}
	d := newTestDispatcher(st)
	_, conn := newConn(t)
	conn.SetSendErr(errors.New("socket reset"))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := d.Dispatch(ctx, conn, req()); err == nil {
			t.Fatalf("attempt %d: expected error", i+1)
		}
	}

	// The circuit is now open: the transport must not be touched again.
	sentBefore := len(conn.Sent)
	_, err := d.Dispatch(ctx, conn, req())
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("err = %v; want ErrBreakerOpen", err)
	}
	if len(conn.Sent) != sentBefore {
		t.Fatalf("open circuit still reached the transport")
	}
}

func TestDispatch_NilBreakerSendsDirectly(t *testing.T) {
	st := &fakeStore{}
	d := newTestDispatcher(st)
	d.Breaker = nil
	_, conn := newConn(t)

	if _, err := d.Dispatch(context.Background(), conn, req()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(conn.Sent) != 1 {
		t.Fatalf("sends: %v", conn.Sent)
	}
}

func TestWait_CancelledContext(t *testing.T) {
	st := &fakeStore{}
	d := NewDispatcher(nil, st, time.Hour, time.Hour, zerolog.Nop())
	_, conn := newConn(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Dispatch(ctx, conn, req()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v; want context.Canceled", err)
	}
	if len(conn.Sent) != 0 {
		t.Fatalf("cancelled dispatch still sent")
	}
}
