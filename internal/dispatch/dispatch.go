// Package dispatch delivers outbound auto-replies and manual sends over a
// live transport connection.
//
// Sends are humanized with a uniform random delay and guarded by a circuit
// breaker so a flapping WhatsApp connection does not burn retries. Message
// resolution is only advanced after the transport accepted the send: a
// failed dispatch leaves the inbound message waiting for a human.
package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/darckarchie/whalix-server/internal/domain"
	"github.com/darckarchie/whalix-server/internal/transport"
)

// ErrBreakerOpen indicates the transport circuit is open and the send was
// not attempted.
var ErrBreakerOpen = errors.New("send circuit open")

// Store defines the persistence contract required by the Dispatcher.
type Store interface {
	// CreateOutbound records a sent reply.
	CreateOutbound(ctx context.Context, db *gorm.DB, tenantID, conversationID, fromPhone, toPhone, body string, ai bool, confidence float64) (*domain.Message, error)

	// MarkReplied advances a waiting inbound message to ai_replied.
	MarkReplied(ctx context.Context, db *gorm.DB, messageID string) error

	// AppendConversationEvent records one conversation-scoped event.
	AppendConversationEvent(ctx context.Context, db *gorm.DB, tenantID, conversationID string, typ domain.EventType, payload map[string]any) error
}

// Request carries one outbound text to deliver.
type Request struct {
	TenantID       string
	ConversationID string
	// InboundID is the waiting inbound message this send answers; empty
	// for operator-initiated sends.
	InboundID  string
	FromPhone  string
	To         string
	Text       string
	Confidence float64
	// Immediate skips the humanizing delay; used for operator sends.
	Immediate bool
}

// Dispatcher sends outbound messages and records the outcome.
type Dispatcher struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Store is the dispatch persistence contract.
	Store Store
	// DelayMin/DelayMax bound the humanizing delay before each send.
	DelayMin time.Duration
	DelayMax time.Duration
	// Breaker guards the transport send; nil disables the breaker.
	Breaker *gobreaker.CircuitBreaker

	log zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDispatcher constructs a Dispatcher with the given delay bounds.
func NewDispatcher(db *gorm.DB, st Store, delayMin, delayMax time.Duration, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		DB:       db,
		Store:    st,
		DelayMin: delayMin,
		DelayMax: delayMax,
		Breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "whatsapp-send",
			MaxRequests: 3,
			Timeout:     20 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		}),
		log: log.With().Str("component", "dispatch").Logger(),
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Dispatch waits the humanizing delay, sends the text over conn, and
// records the outcome. On success the outbound message is persisted and
// the answered inbound (if any) is marked ai_replied; on failure only a
// message_failed event is written and the error is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, conn transport.Conn, req Request) (*domain.Message, error) {
	tr := otel.Tracer("dispatch/Dispatcher")
	ctx, span := tr.Start(ctx, "Dispatch",
		trace.WithAttributes(
			attribute.String("tenant.id", req.TenantID),
			attribute.String("conversation.id", req.ConversationID),
		),
	)
	defer span.End()

	if !req.Immediate {
		if err := d.wait(ctx); err != nil {
			return nil, err
		}
	}

	err := d.send(ctx, conn, req.To, req.Text)
	if err != nil {
		d.appendEvent(ctx, req, domain.EventMessageFailed, map[string]any{"error": err.Error()})
		d.log.Warn().Err(err).Str("tenant_id", req.TenantID).Msg("send failed")
		return nil, err
	}

	out, err := d.Store.CreateOutbound(ctx, d.DB, req.TenantID, req.ConversationID, req.FromPhone, req.To, req.Text, req.InboundID != "", req.Confidence)
	if err != nil {
		return nil, err
	}
	if req.InboundID != "" {
		if err := d.Store.MarkReplied(ctx, d.DB, req.InboundID); err != nil {
			d.log.Error().Err(err).Str("message_id", req.InboundID).Msg("mark replied failed")
		}
	}
	d.appendEvent(ctx, req, domain.EventMessageSent, map[string]any{
		"message_id": out.ID,
		"confidence": req.Confidence,
	})
	return out, nil
}

// wait sleeps a uniform random duration in [DelayMin, DelayMax], honoring
// context cancellation.
func (d *Dispatcher) wait(ctx context.Context) error {
	delay := d.DelayMin
	if span := d.DelayMax - d.DelayMin; span > 0 {
		d.mu.Lock()
		delay += time.Duration(d.rng.Int63n(int64(span)))
		d.mu.Unlock()
	}
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *Dispatcher) send(ctx context.Context, conn transport.Conn, to, text string) error {
	if d.Breaker == nil {
		return conn.Send(ctx, to, text)
	}
	_, err := d.Breaker.Execute(func() (any, error) {
		return nil, conn.Send(ctx, to, text)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrBreakerOpen
	}
	return err
}

func (d *Dispatcher) appendEvent(ctx context.Context, req Request, typ domain.EventType, payload map[string]any) {
	if err := d.Store.AppendConversationEvent(ctx, d.DB, req.TenantID, req.ConversationID, typ, payload); err != nil {
		d.log.Error().Err(err).Str("tenant_id", req.TenantID).Str("type", string(typ)).Msg("event append failed")
	}
}
